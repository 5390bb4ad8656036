package env

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"market_env/internal/config"
	"market_env/internal/core"
	"market_env/internal/xform"
	"market_env/pkg/retry"
	"market_env/pkg/telemetry"
)

// MarketEnv drives a single live instrument through a step/reset/reward
// loop. The gateway's event goroutine feeds bars and fills in; the caller's
// goroutine consumes them one observation per step. The observation queue
// is the only synchronization point between the two.
type MarketEnv struct {
	inst         *core.Instrument
	maxQuantity  int64
	episodeSteps int
	cancelOnExit bool
	afterHours   bool
	settlePolicy retry.RetryPolicy

	gw      core.IGateway
	xform   core.ITransform
	journal core.IJournal
	logger  core.ILogger

	queue     atomic.Pointer[obsQueue]
	done      atomic.Bool
	finishReq atomic.Bool
	closed    atomic.Bool

	acct    *accounting
	episode atomic.Int64

	// actStart is touched only by the step caller's goroutine.
	actStart time.Time

	// renderedSteps is touched only by the render caller's goroutine.
	renderedSteps int

	stepCounter         metric.Int64Counter
	rewardHist          metric.Float64Histogram
	congestionCounter   metric.Int64Counter
	backpressureCounter metric.Int64Counter
}

// NewMarketEnv resolves the configured instrument, registers the market
// data and fill handlers with the gateway, and returns an environment in
// the uninitialized state. Reset must be called before the first Step.
// The journal may be nil to disable fill recording; a nil transform gets
// the identity transform.
func NewMarketEnv(ctx context.Context, cfg *config.Config, gw core.IGateway, tf core.ITransform, journal core.IJournal, logger core.ILogger) (*MarketEnv, error) {
	if tf == nil {
		tf = xform.NewIdentity()
	}

	inst, err := gw.GetInstrument(ctx, cfg.Env.Symbol)
	if err != nil {
		return nil, err
	}

	meter := telemetry.GetMeter("market_env")
	stepCounter, _ := meter.Int64Counter("env_steps_total",
		metric.WithDescription("Total number of environment steps taken"))
	rewardHist, _ := meter.Float64Histogram("env_step_reward",
		metric.WithDescription("Per-step realized profit"))
	congestionCounter, _ := meter.Int64Counter("env_order_congestion_total",
		metric.WithDescription("Steps that skipped order issuance due to congestion"))
	backpressureCounter, _ := meter.Int64Counter("env_queue_backpressure_total",
		metric.WithDescription("Enqueues that found the consumer falling behind"))

	e := &MarketEnv{
		inst:                inst,
		maxQuantity:         cfg.Env.MaxQuantity,
		episodeSteps:        cfg.Env.EpisodeSteps,
		cancelOnExit:        cfg.System.CancelOnExit,
		afterHours:          cfg.Env.AfterHours,
		settlePolicy:        settlePolicyFor(cfg.SettleWaitDuration()),
		gw:                  gw,
		xform:               tf,
		journal:             journal,
		logger:              logger.WithField("component", "market_env"),
		acct:                newAccounting(),
		stepCounter:         stepCounter,
		rewardHist:          rewardHist,
		congestionCounter:   congestionCounter,
		backpressureCounter: backpressureCounter,
	}
	// Uninitialized behaves as done: no enqueues, no steps, until Reset.
	e.done.Store(true)

	mode := core.ObsMode(cfg.Env.ObsMode)
	handlers := core.StreamHandlers{
		OnBar:   e.onBar,
		OnFill:  e.onFill,
		OnAlert: e.onAlert,
	}
	if err := gw.Register(ctx, inst, mode, cfg.ObsIntervalDuration(), handlers); err != nil {
		return nil, err
	}

	return e, nil
}

// settlePolicyFor scales the default settle polling schedule to the
// configured total budget.
func settlePolicyFor(budget time.Duration) retry.RetryPolicy {
	if budget <= 0 {
		return retry.SettlePolicy
	}
	p := retry.SettlePolicy
	p.InitialBackoff = budget / 20
	p.MaxBackoff = budget / 3
	return p
}

// onBar runs on the gateway's event goroutine for every market data event.
func (e *MarketEnv) onBar(_ *core.Instrument, bar core.Bar) {
	if !e.afterHours && xform.IsAfterHours(bar.Time) {
		return
	}

	pos := e.gw.Position(e.inst)
	unrealized := e.acct.ObserveBar(bar, pos, e.inst.Leverage, e.gw.AvgCost(e.inst))

	obs := e.xform.Apply(bar.Vector(), unrealized.InexactFloat64(), pos, e.maxQuantity)

	q := e.queue.Load()
	if obs == nil || q == nil || e.done.Load() || !e.gw.Connected() {
		return
	}

	if depth := q.Put(obs); depth > 1 {
		e.logger.Warn("Observation queue backing up, agent too slow", "depth", depth)
		e.backpressureCounter.Add(context.Background(), 1)
	}
}

// onFill runs on the gateway's event goroutine for every execution.
func (e *MarketEnv) onFill(_ *core.Instrument, fill core.Fill) {
	e.acct.AddFillProfit(fill.Profit)
	e.acct.SetActual(e.gw.Position(e.inst))

	e.logger.Debug("Fill received",
		"quantity", fill.Quantity,
		"price", fill.Price.String(),
		"profit", fill.Profit.String(),
	)

	if e.journal != nil {
		if err := e.journal.RecordFill(context.Background(), e.episode.Load(), e.acct.StepNum(), fill); err != nil {
			e.logger.Error("Failed to journal fill", "error", err)
		}
	}
}

func (e *MarketEnv) onAlert(_ *core.Instrument, msg string) {
	e.logger.Warn("Gateway alert", "message", msg)
}

// Reset flattens any residual position, clears episode accounting, and
// blocks until the first observation of the new episode arrives.
func (e *MarketEnv) Reset(ctx context.Context) ([]float64, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}

	// Gate enqueues while tearing the previous episode down.
	e.done.Store(true)
	e.finishReq.Store(false)

	if err := e.gw.Flatten(ctx, e.inst); err != nil {
		return nil, err
	}
	if !retry.WaitUntil(ctx, e.settlePolicy, func() bool { return e.gw.Position(e.inst) == 0 }) {
		e.logger.Warn("Position not flat after settle wait", "position", e.gw.Position(e.inst))
	}

	e.acct.ResetEpisode()
	e.episode.Add(1)

	q := newObsQueue()
	e.queue.Store(q)
	e.done.Store(false)

	e.logger.Info("Episode started", "episode", e.episode.Load(), "symbol", e.inst.Symbol)

	obs := q.Get()
	e.actStart = time.Now()
	return obs, nil
}

// Step issues the action as a target-position order and blocks until the
// next observation arrives.
//
// The action is a fraction of max quantity in [-1, 1]; out-of-range values
// are clipped, not rejected, though the raw value is kept for reporting.
// The target contract count is math.Round(clipped * maxQuantity), which
// rounds halves away from zero: action 0.25 with max quantity 10 targets 3.
//
// Reward is the exact sum of realized profit from fills since the previous
// step. On the terminal step the action is forced to 0, reported as 0, and
// done is true; the internal done gate flips only after the final dequeue
// so the producer keeps feeding the queue until then.
func (e *MarketEnv) Step(ctx context.Context, action float64) ([]float64, float64, bool, Info, error) {
	if e.closed.Load() {
		return nil, 0, false, Info{}, ErrClosed
	}
	if e.done.Load() {
		return nil, 0, false, Info{}, ErrEpisodeDone
	}

	e.acct.RecordLatency(time.Since(e.actStart).Seconds())
	step := e.acct.IncStep()

	terminal := e.finishReq.Load() || (e.episodeSteps > 0 && step >= e.episodeSteps)

	clipped := math.Max(-1, math.Min(1, action))
	if terminal {
		clipped, action = 0, 0
	}
	if math.IsNaN(clipped) || clipped < -1 || clipped > 1 {
		return nil, 0, false, Info{}, errActionOutOfRange
	}
	e.acct.SetLastAction(action)

	if err := e.gw.CancelAll(ctx, e.inst); err != nil {
		e.logger.Error("Cancel of outstanding orders failed", "error", err)
	}

	pos := e.gw.Position(e.inst)
	openOrders := e.gw.OpenOrderCount(e.inst)
	if abs64(pos) <= e.maxQuantity+1 && openOrders <= 2 {
		target := int64(math.Round(clipped * float64(e.maxQuantity)))
		e.acct.SetDesired(target)
		if err := e.gw.OrderTarget(ctx, e.inst, target); err != nil {
			e.logger.Error("Order issuance failed", "target", target, "error", err)
		}
	} else {
		e.logger.Warn("Order congestion, skipping issuance this step",
			"position", pos, "open_orders", openOrders)
		e.congestionCounter.Add(ctx, 1)
	}

	if terminal {
		if !retry.WaitUntil(ctx, e.settlePolicy, func() bool { return e.gw.Position(e.inst) == 0 }) {
			e.logger.Warn("Flatten did not settle within budget", "position", e.gw.Position(e.inst))
		}
	}

	reward := e.acct.ConsumeStepProfit()

	obs := e.queue.Load().Get()

	if terminal {
		e.done.Store(true)
		e.finishReq.Store(false)
	}

	e.acct.SetActual(e.gw.Position(e.inst))
	info := e.acct.Snapshot()

	e.stepCounter.Add(ctx, 1)
	e.rewardHist.Record(ctx, reward.InexactFloat64())

	if terminal {
		e.logger.Info("Episode finished",
			"episode", e.episode.Load(),
			"steps", step,
			"profit", info.EpisodeProfit.String(),
		)
		if e.journal != nil {
			if err := e.journal.RecordEpisode(ctx, e.episode.Load(), step, info.EpisodeProfit); err != nil {
				e.logger.Error("Failed to journal episode", "error", err)
			}
		}
	}

	e.actStart = time.Now()
	return obs, reward.InexactFloat64(), terminal, info, nil
}

// FinishOnNextStep requests graceful termination: the next Step call
// behaves as the episode's terminal step.
func (e *MarketEnv) FinishOnNextStep() {
	e.finishReq.Store(true)
}

// Close cancels outstanding orders, flattens, and disconnects the gateway.
// Idempotent and safe to call even if the gateway never connected.
func (e *MarketEnv) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.done.Store(true)

	if e.gw != nil && e.gw.Connected() {
		if e.cancelOnExit {
			if err := e.gw.CancelAll(ctx, e.inst); err != nil {
				e.logger.Error("Cancel on close failed", "error", err)
			}
		}
		if err := e.gw.Flatten(ctx, e.inst); err != nil {
			e.logger.Error("Flatten on close failed", "error", err)
		}
		retry.WaitUntil(ctx, e.settlePolicy, func() bool { return e.gw.Position(e.inst) == 0 })
		if err := e.gw.Disconnect(); err != nil {
			e.logger.Error("Gateway disconnect failed", "error", err)
		}
	}

	if e.journal != nil {
		if err := e.journal.Close(); err != nil {
			e.logger.Error("Journal close failed", "error", err)
		}
	}

	e.logger.Info("Environment closed")
	return nil
}

// Seed always fails: the environment drives a live market and cannot be
// made deterministic.
func (e *MarketEnv) Seed(_ int64) error {
	return ErrSeedUnsupported
}

// Info returns a snapshot of the current accounting state.
func (e *MarketEnv) Info() Info {
	return e.acct.Snapshot()
}

// Done reports whether the episode is terminal.
func (e *MarketEnv) Done() bool {
	return e.done.Load()
}

// Episode returns the 1-based count of episodes started.
func (e *MarketEnv) Episode() int64 {
	return e.episode.Load()
}

// Instrument returns the tracked instrument.
func (e *MarketEnv) Instrument() *core.Instrument {
	return e.inst
}

// ObservationSpace returns the transform's declared space, or the default
// bar-schema space when the transform declares none.
func (e *MarketEnv) ObservationSpace() core.Space {
	if sp, ok := e.xform.(core.ISpaceProvider); ok {
		return sp.ObservationSpace()
	}
	return DefaultObservationSpace()
}

// ActionSpace returns the scalar action bounds.
func (e *MarketEnv) ActionSpace() core.Space {
	return ActionSpace()
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
