package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// ObsMode selects the cadence at which the gateway emits market data bars.
type ObsMode string

const (
	// ObsModeTime emits one bar per fixed wall-clock interval.
	ObsModeTime ObsMode = "time"
	// ObsModeTick emits a bar on every quote change.
	ObsModeTick ObsMode = "tick"
)

// BarFieldCount is the length of the raw observation vector.
const BarFieldCount = 15

// BarFieldNames lists the raw observation fields in vector order.
var BarFieldNames = [BarFieldCount]string{
	"time", "bid", "bidsize", "ask", "asksize",
	"last", "lastsize", "lasttime",
	"open", "high", "low", "close",
	"vwap", "volume", "open_interest",
}

// Bar is an immutable snapshot of market state at a point in time.
// Timestamps are epoch seconds so the whole record flattens into a
// homogeneous float vector. Fields the venue does not provide are NaN.
type Bar struct {
	Time         float64
	Bid          float64
	BidSize      float64
	Ask          float64
	AskSize      float64
	Last         float64
	LastSize     float64
	LastTime     float64
	Open         float64
	High         float64
	Low          float64
	Close        float64
	VWAP         float64
	Volume       float64
	OpenInterest float64
}

// Vector flattens the bar into the fixed-order observation vector.
func (b Bar) Vector() []float64 {
	return []float64{
		b.Time, b.Bid, b.BidSize, b.Ask, b.AskSize,
		b.Last, b.LastSize, b.LastTime,
		b.Open, b.High, b.Low, b.Close,
		b.VWAP, b.Volume, b.OpenInterest,
	}
}

// Instrument identifies the single tradable contract an environment drives.
type Instrument struct {
	Symbol   string
	SecType  string // "STK", "FUT", "CASH", "CRYPTO"
	Exchange string
	Currency string
	// Leverage is the currency value of a one-point price move per contract.
	Leverage decimal.Decimal
}

// Fill is a realized execution event delivered by the gateway.
// Quantity is signed: positive for buys, negative for sells.
// Profit is the realized profit this fill contributed, computed against
// the average cost basis at execution time.
type Fill struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Quantity      int64
	Price         decimal.Decimal
	Profit        decimal.Decimal
	Time          time.Time
}

// Space is a bounded box describing legal observation values.
// Bounds are descriptive only; observations are never clamped to them.
type Space struct {
	Low  []float64
	High []float64
}

// Contains reports whether every element of v lies inside the box.
func (s Space) Contains(v []float64) bool {
	if len(v) != len(s.Low) || len(v) != len(s.High) {
		return false
	}
	for i, x := range v {
		if x < s.Low[i] || x > s.High[i] {
			return false
		}
	}
	return true
}
