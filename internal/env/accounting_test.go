package env

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"market_env/internal/core"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestConsumeStepProfit(t *testing.T) {
	a := newAccounting()

	a.AddFillProfit(d("1.5"))
	a.AddFillProfit(d("-0.25"))

	reward := a.ConsumeStepProfit()
	assert.True(t, reward.Equal(d("1.25")), "reward %s", reward)

	assert.True(t, a.ConsumeStepProfit().IsZero(), "accumulator must be zero after a read")
	assert.True(t, a.Snapshot().EpisodeProfit.Equal(d("1.25")), "episode total keeps the consumed amount")

	a.AddFillProfit(d("2"))
	a.ConsumeStepProfit()
	assert.True(t, a.Snapshot().EpisodeProfit.Equal(d("3.25")))
}

func TestObserveBarMarksLongAtBid(t *testing.T) {
	a := newAccounting()
	bar := core.Bar{Bid: 110, Ask: 111}

	gain := a.ObserveBar(bar, 2, d("1"), d("100"))
	assert.True(t, gain.Equal(d("20")), "2 x (110 - 100), got %s", gain)
}

func TestObserveBarMarksShortAtAsk(t *testing.T) {
	a := newAccounting()
	bar := core.Bar{Bid: 90, Ask: 91}

	gain := a.ObserveBar(bar, -3, d("1"), d("100"))
	assert.True(t, gain.Equal(d("27")), "-3 x (91 - 100), got %s", gain)
}

func TestObserveBarMissingCostBasisIsZero(t *testing.T) {
	a := newAccounting()
	bar := core.Bar{Bid: 50, Ask: 51}

	gain := a.ObserveBar(bar, 1, d("2"), decimal.Zero)
	assert.True(t, gain.Equal(d("100")), "1 x 2 x (50 - 0), got %s", gain)
}

func TestLatencyWindow(t *testing.T) {
	a := newAccounting()

	for i := 1; i <= 15; i++ {
		a.RecordLatency(float64(i))
	}

	info := a.Snapshot()
	assert.Equal(t, 15.0, info.AgentLatency)
	// Window keeps 6..15, mean 10.5.
	assert.InDelta(t, 10.5, info.MeanAgentLatency, 1e-9)
}

func TestResetEpisode(t *testing.T) {
	a := newAccounting()
	a.AddFillProfit(d("5"))
	a.ConsumeStepProfit()
	a.SetDesired(3)
	a.SetActual(2)
	a.IncStep()
	a.RecordLatency(0.1)

	a.ResetEpisode()

	info := a.Snapshot()
	assert.Equal(t, 0, info.Step)
	assert.True(t, info.EpisodeProfit.IsZero())
	assert.Equal(t, int64(0), info.PositionDesired)
	assert.Equal(t, int64(0), info.PositionActual)
	assert.Equal(t, 0.0, info.MeanAgentLatency)
}
