package binance

import (
	"math"
	"sync"
	"time"
)

// barBuilder folds book ticker and trade events into fixed-schema bars.
// In tick mode a bar goes out on every quote change; in time mode the
// gateway calls Flush on a timer. Fields no event has touched yet are NaN.
type barBuilder struct {
	mu sync.Mutex

	tickMode bool
	emit     func(snapshot)

	bid, bidSize float64
	ask, askSize float64

	last, lastSize, lastTime float64

	open, high, low, close float64
	notional, traded       float64 // per-bar vwap accumulators
	volume                 float64 // cumulative session volume
}

// snapshot is the builder's view of one bar, handed to the emit callback.
type snapshot struct {
	time         float64
	bid, bidSize float64
	ask, askSize float64
	last         float64
	lastSize     float64
	lastTime     float64
	open         float64
	high         float64
	low          float64
	close        float64
	vwap         float64
	volume       float64
}

func newBarBuilder(tickMode bool, emit func(snapshot)) *barBuilder {
	b := &barBuilder{tickMode: tickMode, emit: emit}
	b.resetLocked()
	b.bid, b.bidSize = math.NaN(), math.NaN()
	b.ask, b.askSize = math.NaN(), math.NaN()
	b.last, b.lastSize, b.lastTime = math.NaN(), math.NaN(), math.NaN()
	return b
}

func (b *barBuilder) resetLocked() {
	b.open, b.high, b.low, b.close = math.NaN(), math.NaN(), math.NaN(), math.NaN()
	b.notional, b.traded = 0, 0
}

// OnQuote folds a book ticker update in. In tick mode a changed touch
// emits a bar immediately.
func (b *barBuilder) OnQuote(bid, bidSize, ask, askSize float64) {
	b.mu.Lock()
	changed := bid != b.bid || ask != b.ask
	b.bid, b.bidSize = bid, bidSize
	b.ask, b.askSize = ask, askSize
	tick := b.tickMode && changed
	var snap snapshot
	if tick {
		snap = b.flushLocked()
	}
	b.mu.Unlock()

	if tick {
		b.emit(snap)
	}
}

// OnTrade folds an aggregate trade in.
func (b *barBuilder) OnTrade(price, qty float64, ts time.Time) {
	b.mu.Lock()
	b.last, b.lastSize = price, qty
	b.lastTime = float64(ts.UnixNano()) / float64(time.Second)
	if math.IsNaN(b.open) {
		b.open = price
	}
	if math.IsNaN(b.high) || price > b.high {
		b.high = price
	}
	if math.IsNaN(b.low) || price < b.low {
		b.low = price
	}
	b.close = price
	b.notional += price * qty
	b.traded += qty
	b.volume += qty
	b.mu.Unlock()
}

// Flush emits the current bar and starts the next one. Used in time mode.
func (b *barBuilder) Flush() {
	b.mu.Lock()
	snap := b.flushLocked()
	b.mu.Unlock()
	b.emit(snap)
}

func (b *barBuilder) flushLocked() snapshot {
	vwap := math.NaN()
	if b.traded > 0 {
		vwap = b.notional / b.traded
	}
	snap := snapshot{
		time:     float64(time.Now().UnixNano()) / float64(time.Second),
		bid:      b.bid,
		bidSize:  b.bidSize,
		ask:      b.ask,
		askSize:  b.askSize,
		last:     b.last,
		lastSize: b.lastSize,
		lastTime: b.lastTime,
		open:     b.open,
		high:     b.high,
		low:      b.low,
		close:    b.close,
		vwap:     vwap,
		volume:   b.volume,
	}
	b.resetLocked()
	return snap
}
