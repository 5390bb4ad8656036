// Package core defines the domain types and interfaces shared across the
// environment, gateways, and transforms.
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// StreamHandlers carries the three narrow callbacks a gateway invokes from
// its event goroutine. Any handler may be nil.
type StreamHandlers struct {
	// OnBar is called once per market data event with a fully formed bar.
	OnBar func(inst *Instrument, bar Bar)
	// OnFill is called once per execution, carrying the realized profit delta.
	OnFill func(inst *Instrument, fill Fill)
	// OnAlert is called for non-fatal venue notices (disconnects, rejects).
	OnAlert func(inst *Instrument, msg string)
}

// IGateway abstracts broker connectivity: instrument registration, live
// position/cost queries, target-position order routing, and asynchronous
// delivery of bars and fills. Implementations own the network protocol,
// session management, and reconnection policy.
type IGateway interface {
	// GetInstrument resolves a symbol into a registered instrument.
	GetInstrument(ctx context.Context, symbol string) (*Instrument, error)

	// Register subscribes to market data for the instrument at the given
	// cadence and installs the event handlers. Must be called before any
	// bars or fills are delivered.
	Register(ctx context.Context, inst *Instrument, mode ObsMode, interval time.Duration, handlers StreamHandlers) error

	// Connected reports whether the market data session is live.
	Connected() bool

	// Position returns the signed contract count currently held.
	Position(inst *Instrument) int64

	// AvgCost returns the average cost basis of the held position, or zero
	// when flat or unknown.
	AvgCost(inst *Instrument) decimal.Decimal

	// OpenOrderCount returns the number of orders resting at the venue.
	OpenOrderCount(inst *Instrument) int

	// OrderTarget issues whatever market order moves the position to target.
	OrderTarget(ctx context.Context, inst *Instrument, target int64) error

	// CancelAll cancels every outstanding order for the instrument.
	CancelAll(ctx context.Context, inst *Instrument) error

	// Flatten cancels outstanding orders and closes the position at market.
	Flatten(ctx context.Context, inst *Instrument) error

	// Disconnect tears down the session. Safe to call more than once.
	Disconnect() error
}

// ITransform maps a raw bar vector into the observation handed to the agent.
// Apply returns nil while the transform is warming up ("not ready"); nil
// observations are never enqueued.
type ITransform interface {
	Apply(raw []float64, unrealizedGain float64, positionActual int64, maxQuantity int64) []float64
}

// ISpaceProvider is an optional capability of a transform: declaring the
// bounded space of its output. Transforms without it get the default
// bar-schema space.
type ISpaceProvider interface {
	ObservationSpace() Space
}

// IJournal records fills and episode summaries for offline analysis.
// Recording is write-only; nothing is ever restored from a journal.
type IJournal interface {
	RecordFill(ctx context.Context, episode int64, step int, fill Fill) error
	RecordEpisode(ctx context.Context, episode int64, steps int, profit decimal.Decimal) error
	Close() error
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
