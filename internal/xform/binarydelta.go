package xform

import (
	"math"
	"time"

	"market_env/internal/core"
)

// Raw bar vector indexes, in core.BarFieldNames order.
const (
	idxTime = 0
	idxBid  = 1
	idxAsk  = 3
	idxVWAP = 12
)

// NYSE regular session, expressed in UTC minutes from midnight.
const (
	nyseOpenMinute  = 14*60 + 30
	nyseCloseMinute = 21 * 60
)

// BinaryDelta reduces raw quotes to the sign of recent bid changes and
// whether recent trades printed closer to the bid or the ask, plus the
// relative position, the sign of unrealized gain, and an after-hours flag.
// It returns nil until it has seen lookback bid changes and lookback
// trades.
//
// Not safe for concurrent use; the environment applies it from a single
// goroutine.
type BinaryDelta struct {
	lookback int
	bids     []float64 // last lookback+1 distinct bids
	asks     []float64 // last lookback+1 distinct asks
	atbid    []bool    // last lookback trades: printed at or below mid
}

// NewBinaryDelta returns a transform computing deltas over the given
// number of previous quotes.
func NewBinaryDelta(lookback int) *BinaryDelta {
	return &BinaryDelta{lookback: lookback}
}

// Apply folds one raw bar into the lookback windows and emits the
// observation vector, or nil while warming up or when nothing changed.
func (t *BinaryDelta) Apply(raw []float64, unrealizedGain float64, positionActual int64, maxQuantity int64) []float64 {
	bid, ask, vwap := raw[idxBid], raw[idxAsk], raw[idxVWAP]

	change := false
	if !math.IsNaN(bid) && (len(t.bids) == 0 || bid != t.bids[len(t.bids)-1]) {
		t.bids = appendBounded(t.bids, bid, t.lookback+1)
		change = true
	}
	if !math.IsNaN(ask) && (len(t.asks) == 0 || ask != t.asks[len(t.asks)-1]) {
		t.asks = appendBounded(t.asks, ask, t.lookback+1)
		change = true
	}
	if !math.IsNaN(vwap) && vwap != 0 {
		t.atbid = appendBoundedBool(t.atbid, vwap <= (bid+ask)/2, t.lookback)
		change = true
	}

	if !change || len(t.bids) < t.lookback+1 || len(t.atbid) < t.lookback {
		return nil
	}

	relPosition := math.Max(-1, math.Min(1, float64(positionActual)/float64(maxQuantity)))

	obs := make([]float64, 0, 3+2*t.lookback)
	obs = append(obs, relPosition, sign(unrealizedGain), afterHours(raw[idxTime]))
	for i := 1; i < len(t.bids); i++ {
		obs = append(obs, boolToFloat(t.bids[i] > t.bids[i-1])) // 1 uptick, 0 downtick
	}
	for _, ab := range t.atbid {
		obs = append(obs, boolToFloat(ab))
	}
	return obs
}

// ObservationSpace declares the transform's output box:
// position x gain sign x afterhours x bid changes x at-bid flags.
func (t *BinaryDelta) ObservationSpace() core.Space {
	n := 3 + 2*t.lookback
	low := make([]float64, n)
	high := make([]float64, n)
	low[0], low[1] = -1, -1
	for i := range high {
		high[i] = 1
	}
	return core.Space{Low: low, High: high}
}

// IsAfterHours reports whether the epoch timestamp falls outside the NYSE
// regular session.
func IsAfterHours(epoch float64) bool {
	dt := time.Unix(int64(epoch), 0).UTC()
	wd := dt.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return true
	}
	minute := dt.Hour()*60 + dt.Minute()
	return minute < nyseOpenMinute || minute > nyseCloseMinute
}

func afterHours(epoch float64) float64 {
	return boolToFloat(IsAfterHours(epoch))
}

func appendBounded(s []float64, v float64, max int) []float64 {
	s = append(s, v)
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}

func appendBoundedBool(s []bool, v bool, max int) []bool {
	s = append(s, v)
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

var (
	_ core.ITransform     = (*BinaryDelta)(nil)
	_ core.ISpaceProvider = (*BinaryDelta)(nil)
)
