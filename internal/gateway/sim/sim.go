// Package sim implements an in-process broker gateway with a random-walk
// price feed and immediate fills. It backs local development and the
// environment's tests without touching a live venue.
package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"market_env/internal/core"
	"market_env/internal/gateway"
	"market_env/pkg/concurrency"
	apperrors "market_env/pkg/errors"
)

// Gateway simulates a broker: one instrument, market orders filled
// immediately at the touch, bars emitted on a timer. Handlers are invoked
// from a single-worker pool so event order matches emission order.
type Gateway struct {
	logger core.ILogger
	inst   *core.Instrument
	cost   *gateway.CostTracker

	mu          sync.Mutex
	handlers    core.StreamHandlers
	mode        core.ObsMode
	interval    time.Duration
	openOrders  int
	bid, ask    float64
	volume      float64
	rng         *rand.Rand
	nextOrderID int64

	connected atomic.Bool
	events    *concurrency.WorkerPool
	stop      chan struct{}
	stopOnce  sync.Once
	streaming bool
}

// New creates a sim gateway for one instrument quoted around startPrice.
// eventBuffer caps the queued events awaiting dispatch; 0 uses a default.
func New(inst *core.Instrument, startPrice float64, eventBuffer int, logger core.ILogger) *Gateway {
	spread := startPrice * 0.0001
	if spread < 0.01 {
		spread = 0.01
	}
	if eventBuffer <= 0 {
		eventBuffer = 1024
	}
	return &Gateway{
		logger: logger.WithField("component", "sim_gateway"),
		inst:   inst,
		cost:   gateway.NewCostTracker(inst.Leverage),
		bid:    startPrice - spread/2,
		ask:    startPrice + spread/2,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		// One worker so bars and fills reach the handlers in order.
		events: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:        "sim_events",
			MaxWorkers:  1,
			MaxCapacity: eventBuffer,
		}, logger),
		stop:      make(chan struct{}),
		streaming: true,
	}
}

// DisableStreaming turns off the internal price feed. Tests drive the
// gateway through EmitBar instead. Must be called before Connect.
func (g *Gateway) DisableStreaming() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.streaming = false
}

// GetInstrument resolves the configured symbol.
func (g *Gateway) GetInstrument(_ context.Context, symbol string) (*core.Instrument, error) {
	if symbol != g.inst.Symbol {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrInstrumentNotFound, symbol)
	}
	return g.inst, nil
}

// Register installs the event handlers and the bar cadence.
func (g *Gateway) Register(_ context.Context, inst *core.Instrument, mode core.ObsMode, interval time.Duration, handlers core.StreamHandlers) error {
	if inst.Symbol != g.inst.Symbol {
		return fmt.Errorf("%w: %s", apperrors.ErrInstrumentNotFound, inst.Symbol)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mode = mode
	g.interval = interval
	g.handlers = handlers
	return nil
}

// Connect marks the session live and, unless streaming is disabled,
// starts the random-walk feed at the registered cadence.
func (g *Gateway) Connect(_ context.Context) error {
	g.connected.Store(true)

	g.mu.Lock()
	streaming := g.streaming && g.interval > 0
	g.mu.Unlock()

	if streaming {
		go g.marketLoop()
	}
	g.logger.Info("Sim gateway connected", "symbol", g.inst.Symbol, "streaming", streaming)
	return nil
}

// Connected reports whether Connect has been called and Disconnect has not.
func (g *Gateway) Connected() bool {
	return g.connected.Load()
}

// Position returns the current signed position.
func (g *Gateway) Position(_ *core.Instrument) int64 {
	return g.cost.Position()
}

// AvgCost returns the average cost basis of the position.
func (g *Gateway) AvgCost(_ *core.Instrument) decimal.Decimal {
	return g.cost.AvgCost()
}

// OpenOrderCount returns the number of resting orders. Fills are immediate
// here, so this is zero unless a test forces it.
func (g *Gateway) OpenOrderCount(_ *core.Instrument) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.openOrders
}

// SetOpenOrderCount forces the resting order count. Test hook.
func (g *Gateway) SetOpenOrderCount(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.openOrders = n
}

// SetQuote forces the current touch. Test hook.
func (g *Gateway) SetQuote(bid, ask float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bid, g.ask = bid, ask
}

// OrderTarget fills whatever delta moves the position to target, at the
// current touch, and delivers the fill event.
func (g *Gateway) OrderTarget(_ context.Context, _ *core.Instrument, target int64) error {
	if !g.connected.Load() {
		return apperrors.ErrNotConnected
	}

	delta := target - g.cost.Position()
	if delta == 0 {
		return nil
	}

	g.mu.Lock()
	price := g.ask
	if delta < 0 {
		price = g.bid
	}
	g.nextOrderID++
	orderID := g.nextOrderID
	g.mu.Unlock()

	fillPrice := decimal.NewFromFloat(price)
	profit := g.cost.ApplyFill(delta, fillPrice)

	fill := core.Fill{
		OrderID:       orderID,
		ClientOrderID: uuid.NewString(),
		Symbol:        g.inst.Symbol,
		Quantity:      delta,
		Price:         fillPrice,
		Profit:        profit,
		Time:          time.Now(),
	}
	g.dispatch(func(h core.StreamHandlers) {
		if h.OnFill != nil {
			h.OnFill(g.inst, fill)
		}
	})
	return nil
}

// CancelAll is a no-op beyond clearing any forced resting count.
func (g *Gateway) CancelAll(_ context.Context, _ *core.Instrument) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.openOrders = 0
	return nil
}

// Flatten cancels and closes the position at market.
func (g *Gateway) Flatten(ctx context.Context, inst *core.Instrument) error {
	if err := g.CancelAll(ctx, inst); err != nil {
		return err
	}
	if !g.connected.Load() {
		return nil
	}
	return g.OrderTarget(ctx, inst, 0)
}

// Disconnect stops the feed and drains the event pool.
func (g *Gateway) Disconnect() error {
	g.connected.Store(false)
	g.stopOnce.Do(func() {
		close(g.stop)
		g.events.Stop()
	})
	return nil
}

// EmitBar delivers a bar to the registered handler through the event pool.
// Exported so tests and demos can drive the feed by hand.
func (g *Gateway) EmitBar(bar core.Bar) {
	g.dispatch(func(h core.StreamHandlers) {
		if h.OnBar != nil {
			h.OnBar(g.inst, bar)
		}
	})
}

// EmitAlert delivers a venue notice. Test hook.
func (g *Gateway) EmitAlert(msg string) {
	g.dispatch(func(h core.StreamHandlers) {
		if h.OnAlert != nil {
			h.OnAlert(g.inst, msg)
		}
	})
}

func (g *Gateway) dispatch(fn func(core.StreamHandlers)) {
	g.mu.Lock()
	handlers := g.handlers
	g.mu.Unlock()
	_ = g.events.Submit(func() { fn(handlers) })
}

func (g *Gateway) marketLoop() {
	g.mu.Lock()
	interval := g.interval
	g.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			if !g.connected.Load() {
				return
			}
			g.EmitBar(g.nextBar())
		}
	}
}

// nextBar advances the random walk one tick and snapshots it.
func (g *Gateway) nextBar() core.Bar {
	g.mu.Lock()
	defer g.mu.Unlock()

	mid := (g.bid + g.ask) / 2
	spread := g.ask - g.bid
	mid += mid * 0.0001 * g.rng.NormFloat64()
	g.bid = mid - spread/2
	g.ask = mid + spread/2

	lastSize := float64(1 + g.rng.Intn(10))
	g.volume += lastSize

	now := float64(time.Now().UnixNano()) / float64(time.Second)
	return core.Bar{
		Time:     now,
		Bid:      g.bid,
		BidSize:  float64(1 + g.rng.Intn(50)),
		Ask:      g.ask,
		AskSize:  float64(1 + g.rng.Intn(50)),
		Last:     mid,
		LastSize: lastSize,
		LastTime: now,
		Open:     mid,
		High:     mid,
		Low:      mid,
		Close:    mid,
		VWAP:     mid,
		Volume:   g.volume,
		// No open interest in the sim.
		OpenInterest: math.NaN(),
	}
}

var _ core.IGateway = (*Gateway)(nil)
