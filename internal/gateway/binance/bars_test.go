package binance

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarBuilderTimeMode(t *testing.T) {
	var emitted []snapshot
	b := newBarBuilder(false, func(s snapshot) { emitted = append(emitted, s) })

	b.OnQuote(100, 5, 101, 7)
	b.OnTrade(100.5, 2, time.UnixMilli(1000))
	b.OnTrade(101.5, 2, time.UnixMilli(2000))
	b.Flush()

	require.Len(t, emitted, 1)
	s := emitted[0]
	assert.Equal(t, 100.0, s.bid)
	assert.Equal(t, 101.0, s.ask)
	assert.Equal(t, 101.5, s.last)
	assert.Equal(t, 100.5, s.open)
	assert.Equal(t, 101.5, s.high)
	assert.Equal(t, 100.5, s.low)
	assert.Equal(t, 101.5, s.close)
	assert.Equal(t, 101.0, s.vwap, "equal-size trades average")
	assert.Equal(t, 4.0, s.volume)

	// Next bar: per-bar fields reset, quote and session volume carry over.
	b.Flush()
	require.Len(t, emitted, 2)
	s = emitted[1]
	assert.Equal(t, 100.0, s.bid)
	assert.True(t, math.IsNaN(s.open))
	assert.True(t, math.IsNaN(s.vwap))
	assert.Equal(t, 4.0, s.volume, "session volume is cumulative")
}

func TestBarBuilderTickMode(t *testing.T) {
	var emitted []snapshot
	b := newBarBuilder(true, func(s snapshot) { emitted = append(emitted, s) })

	b.OnQuote(100, 5, 101, 7)
	require.Len(t, emitted, 1)

	// Same touch: no bar.
	b.OnQuote(100, 9, 101, 2)
	assert.Len(t, emitted, 1)

	b.OnQuote(100, 9, 102, 2)
	require.Len(t, emitted, 2)
	assert.Equal(t, 102.0, emitted[1].ask)
}

func TestBarBuilderUntouchedFieldsAreNaN(t *testing.T) {
	var emitted []snapshot
	b := newBarBuilder(false, func(s snapshot) { emitted = append(emitted, s) })

	b.Flush()
	require.Len(t, emitted, 1)
	s := emitted[0]
	assert.True(t, math.IsNaN(s.bid))
	assert.True(t, math.IsNaN(s.last))
	assert.True(t, math.IsNaN(s.vwap))
	assert.Equal(t, 0.0, s.volume)
}
