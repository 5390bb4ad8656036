package xform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market_env/internal/core"
)

func rawBar(ts time.Time, bid, ask, vwap float64) []float64 {
	raw := make([]float64, core.BarFieldCount)
	raw[idxTime] = float64(ts.Unix())
	raw[idxBid] = bid
	raw[idxAsk] = ask
	raw[idxVWAP] = vwap
	return raw
}

// A Monday inside the NYSE regular session, in UTC.
var sessionTime = time.Date(2026, 1, 5, 15, 0, 0, 0, time.UTC)

func TestIdentityPassesRawThrough(t *testing.T) {
	raw := rawBar(sessionTime, 100, 101, 100.5)
	obs := NewIdentity().Apply(raw, -5.0, 3, 10)
	assert.Equal(t, raw, obs)
}

func TestBinaryDeltaWarmup(t *testing.T) {
	tf := NewBinaryDelta(2)

	// First two quotes cannot have seen two bid changes yet.
	assert.Nil(t, tf.Apply(rawBar(sessionTime, 100, 101, 0), 0, 0, 10))
	assert.Nil(t, tf.Apply(rawBar(sessionTime, 101, 102, 100.2), 0, 0, 10))

	obs := tf.Apply(rawBar(sessionTime, 102, 103, 102.9), 0, 0, 10)
	require.NotNil(t, obs)
	assert.Len(t, obs, 3+2*2)
}

func TestBinaryDeltaEncoding(t *testing.T) {
	tf := NewBinaryDelta(2)

	tf.Apply(rawBar(sessionTime, 100, 101, 0), 0, 0, 10)
	tf.Apply(rawBar(sessionTime, 101, 102, 100.2), 0, 0, 10) // uptick, at bid
	obs := tf.Apply(rawBar(sessionTime, 99, 100, 99.9), 12.5, 5, 10)
	require.NotNil(t, obs)

	assert.Equal(t, 0.5, obs[0], "relative position = 5/10")
	assert.Equal(t, 1.0, obs[1], "positive unrealized gain")
	assert.Equal(t, 0.0, obs[2], "weekday in-session is not after hours")
	assert.Equal(t, 1.0, obs[3], "100 -> 101 uptick")
	assert.Equal(t, 0.0, obs[4], "101 -> 99 downtick")
	assert.Equal(t, 1.0, obs[5], "100.2 printed below the 101.5 mid")
	assert.Equal(t, 0.0, obs[6], "99.9 printed above the 99.5 mid")

	assert.True(t, tf.ObservationSpace().Contains(obs))
}

func TestBinaryDeltaNoChangeReturnsNil(t *testing.T) {
	tf := NewBinaryDelta(1)

	tf.Apply(rawBar(sessionTime, 100, 101, 0), 0, 0, 10)
	obs := tf.Apply(rawBar(sessionTime, 101, 102, 100.5), 0, 0, 10)
	require.NotNil(t, obs)

	// Same bid, same ask, no trade: nothing changed.
	assert.Nil(t, tf.Apply(rawBar(sessionTime, 101, 102, 0), 0, 0, 10))
}

func TestBinaryDeltaRelPositionClipped(t *testing.T) {
	tf := NewBinaryDelta(1)
	tf.Apply(rawBar(sessionTime, 100, 101, 0), 0, 0, 10)
	obs := tf.Apply(rawBar(sessionTime, 101, 102, 100.5), -3, 25, 10)
	require.NotNil(t, obs)
	assert.Equal(t, 1.0, obs[0], "25/10 clips to 1")
	assert.Equal(t, -1.0, obs[1], "negative unrealized gain")
}

func TestAfterHours(t *testing.T) {
	saturday := time.Date(2026, 1, 3, 15, 0, 0, 0, time.UTC)
	preOpen := time.Date(2026, 1, 5, 13, 0, 0, 0, time.UTC)

	assert.Equal(t, 0.0, afterHours(float64(sessionTime.Unix())))
	assert.Equal(t, 1.0, afterHours(float64(saturday.Unix())))
	assert.Equal(t, 1.0, afterHours(float64(preOpen.Unix())))
}

func TestObservationSpaceBounds(t *testing.T) {
	sp := NewBinaryDelta(3).ObservationSpace()
	require.Len(t, sp.Low, 9)
	require.Len(t, sp.High, 9)
	assert.Equal(t, -1.0, sp.Low[0])
	assert.Equal(t, -1.0, sp.Low[1])
	assert.Equal(t, 0.0, sp.Low[2])
	for _, h := range sp.High {
		assert.Equal(t, 1.0, h)
	}
}
