package env

import (
	"sync"

	"github.com/shopspring/decimal"

	"market_env/internal/core"
)

// latencyWindow caps the history of agent decision latencies kept for
// reporting.
const latencyWindow = 10

// Info is a read-only snapshot of accounting state returned from every step.
type Info struct {
	Step             int
	EpisodeProfit    decimal.Decimal
	PositionDesired  int64
	PositionActual   int64
	UnrealizedGain   decimal.Decimal
	AvgCost          decimal.Decimal
	LastAction       float64
	AgentLatency     float64
	MeanAgentLatency float64
}

// accounting tracks profit, position views, and decision latencies for one
// episode. It is mutated from both the gateway's event goroutine and the
// step caller, so every access goes through the mutex.
type accounting struct {
	mu sync.Mutex

	stepProfit    decimal.Decimal
	episodeProfit decimal.Decimal
	unrealized    decimal.Decimal
	avgCost       decimal.Decimal

	posDesired int64
	posActual  int64

	stepNum    int
	lastAction float64
	latencies  []float64

	lastBar    core.Bar
	haveBar    bool
}

func newAccounting() *accounting {
	return &accounting{}
}

// ResetEpisode clears everything that belongs to a single episode. Position
// views survive only as the flattened values the caller queried.
func (a *accounting) ResetEpisode() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stepProfit = decimal.Zero
	a.episodeProfit = decimal.Zero
	a.unrealized = decimal.Zero
	a.avgCost = decimal.Zero
	a.posDesired = 0
	a.posActual = 0
	a.stepNum = 0
	a.lastAction = 0
	a.latencies = a.latencies[:0]
}

// AddFillProfit accumulates a realized profit delta from a fill event.
func (a *accounting) AddFillProfit(p decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stepProfit = a.stepProfit.Add(p)
}

// ConsumeStepProfit returns the profit accumulated since the last call,
// zeroes the accumulator, and rolls the amount into the episode total.
func (a *accounting) ConsumeStepProfit() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	reward := a.stepProfit
	a.stepProfit = decimal.Zero
	a.episodeProfit = a.episodeProfit.Add(reward)
	return reward
}

// ObserveBar records the bar used for rendering and recomputes unrealized
// gain: position x leverage x (mark - avg cost), marked at the bid when
// long and the ask otherwise. A missing cost basis counts as zero. The new
// unrealized gain is returned.
func (a *accounting) ObserveBar(bar core.Bar, position int64, leverage, avgCost decimal.Decimal) decimal.Decimal {
	mark := bar.Ask
	if position > 0 {
		mark = bar.Bid
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastBar = bar
	a.haveBar = true
	a.posActual = position
	a.avgCost = avgCost
	a.unrealized = decimal.NewFromInt(position).
		Mul(leverage).
		Mul(decimal.NewFromFloat(mark).Sub(avgCost))
	return a.unrealized
}

// LastBar returns the most recent bar and whether one has been seen.
func (a *accounting) LastBar() (core.Bar, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastBar, a.haveBar
}

// SetDesired records the target position issued to the gateway.
func (a *accounting) SetDesired(target int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.posDesired = target
}

// SetActual records the live position queried from the gateway.
func (a *accounting) SetActual(position int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.posActual = position
}

// SetLastAction retains the raw, unclipped action for reporting.
func (a *accounting) SetLastAction(action float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastAction = action
}

// IncStep advances the step counter and returns the new value.
func (a *accounting) IncStep() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stepNum++
	return a.stepNum
}

// StepNum returns the current step counter.
func (a *accounting) StepNum() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stepNum
}

// RecordLatency appends an agent decision latency, keeping only the most
// recent latencyWindow entries.
func (a *accounting) RecordLatency(seconds float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.latencies = append(a.latencies, seconds)
	if len(a.latencies) > latencyWindow {
		a.latencies = a.latencies[len(a.latencies)-latencyWindow:]
	}
}

// Snapshot returns a consistent copy of the accounting state.
func (a *accounting) Snapshot() Info {
	a.mu.Lock()
	defer a.mu.Unlock()

	var last, mean float64
	if n := len(a.latencies); n > 0 {
		last = a.latencies[n-1]
		var sum float64
		for _, l := range a.latencies {
			sum += l
		}
		mean = sum / float64(n)
	}

	return Info{
		Step:             a.stepNum,
		EpisodeProfit:    a.episodeProfit,
		PositionDesired:  a.posDesired,
		PositionActual:   a.posActual,
		UnrealizedGain:   a.unrealized,
		AvgCost:          a.avgCost,
		LastAction:       a.lastAction,
		AgentLatency:     last,
		MeanAgentLatency: mean,
	}
}
