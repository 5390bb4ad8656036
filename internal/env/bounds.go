// Package env adapts a live broker gateway into a step/reset/reward
// interface for reinforcement learning agents.
package env

import (
	"time"

	"market_env/internal/core"
)

// Sentinel ceilings for the declared observation space. Descriptive only;
// observed values are never clamped to them.
const (
	// MaxInstrumentPrice bounds any price field.
	MaxInstrumentPrice = 1e6
	// MaxInstrumentVolume bounds cumulative session volume and open interest.
	MaxInstrumentVolume = 1e9
	// MaxInstrumentQuantity is the ceiling on a configured max order size.
	MaxInstrumentQuantity = 20000
	// MaxTradeSize bounds the size of a single quote or trade.
	MaxTradeSize = 1e6
)

// maxTime returns a timestamp bound comfortably past any bar this process
// will ever see.
func maxTime() float64 {
	return float64(time.Now().AddDate(10, 0, 0).Unix())
}

// DefaultObservationSpace returns the bounded box for the raw bar vector,
// field for field in core.BarFieldNames order.
func DefaultObservationSpace() core.Space {
	mt := maxTime()
	low := make([]float64, core.BarFieldCount)
	high := []float64{
		mt,                  // time
		MaxInstrumentPrice,  // bid
		MaxTradeSize,        // bidsize
		MaxInstrumentPrice,  // ask
		MaxTradeSize,        // asksize
		MaxInstrumentPrice,  // last
		MaxTradeSize,        // lastsize
		mt,                  // lasttime
		MaxInstrumentPrice,  // open
		MaxInstrumentPrice,  // high
		MaxInstrumentPrice,  // low
		MaxInstrumentPrice,  // close
		MaxInstrumentPrice,  // vwap
		MaxInstrumentVolume, // volume
		MaxInstrumentVolume, // open_interest
	}
	return core.Space{Low: low, High: high}
}

// ActionSpace returns the scalar action box: target position as a fraction
// of max quantity.
func ActionSpace() core.Space {
	return core.Space{Low: []float64{-1}, High: []float64{1}}
}
