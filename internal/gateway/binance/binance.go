// Package binance implements the broker gateway against Binance USD-M
// futures: REST order routing plus websocket market data and user streams.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"market_env/internal/config"
	"market_env/internal/core"
	apperrors "market_env/pkg/errors"
	apphttp "market_env/pkg/http"
	"market_env/pkg/websocket"
)

const (
	mainnetBaseURL = "https://fapi.binance.com"
	mainnetWSURL   = "wss://fstream.binance.com"
	testnetBaseURL = "https://testnet.binancefuture.com"
	testnetWSURL   = "wss://stream.binancefuture.com"

	// Write deadline for outgoing ping control frames.
	pingWriteWait = 10 * time.Second
)

// Gateway routes orders over REST and consumes the market data and user
// data websocket streams. Fills carry the venue's own realized profit
// figure, so no local cost tracking is needed.
type Gateway struct {
	logger core.ILogger
	inst   *core.Instrument

	rest    *apphttp.Client
	wsURL   string
	limiter *rate.Limiter

	keepaliveEvery  time.Duration
	flushEvery      time.Duration
	wsReconnectWait time.Duration
	wsPingInterval  time.Duration
	wsPongWait      time.Duration
	tickMode        bool

	mu        sync.Mutex
	handlers  core.StreamHandlers
	builder   *barBuilder
	listenKey string
	marketWS  *websocket.Client
	userWS    *websocket.Client

	position   atomic.Int64
	openOrders atomic.Int32
	avgCostMu  sync.Mutex
	avgCost    decimal.Decimal

	stop     chan struct{}
	stopOnce sync.Once
}

// New builds a gateway from configuration. Nothing touches the network
// until Connect.
func New(cfg *config.Config, logger core.ILogger) (*Gateway, error) {
	gwCfg, err := cfg.GetCurrentGatewayConfig()
	if err != nil {
		return nil, err
	}

	baseURL, wsURL := mainnetBaseURL, mainnetWSURL
	if gwCfg.Testnet {
		baseURL, wsURL = testnetBaseURL, testnetWSURL
	}
	if gwCfg.BaseURL != "" {
		baseURL = gwCfg.BaseURL
	}
	if gwCfg.WSURL != "" {
		wsURL = gwCfg.WSURL
	}

	leverage := decimal.NewFromFloat(cfg.Env.Leverage)
	if leverage.IsZero() {
		leverage = decimal.NewFromInt(1)
	}

	return &Gateway{
		logger: logger.WithField("component", "binance_gateway"),
		inst: &core.Instrument{
			Symbol:   strings.ToUpper(cfg.Env.Symbol),
			SecType:  "PERP",
			Exchange: "BINANCE",
			Currency: "USDT",
			Leverage: leverage,
		},
		rest:            apphttp.NewClient(baseURL, 10*time.Second, NewSigner(gwCfg.APIKey, gwCfg.SecretKey)),
		wsURL:           wsURL,
		limiter:         rate.NewLimiter(25, 30),
		keepaliveEvery:  time.Duration(cfg.Timing.ListenKeyKeepaliveInterval) * time.Second,
		flushEvery:      cfg.ObsIntervalDuration(),
		wsReconnectWait: time.Duration(cfg.Timing.WebsocketReconnectDelay) * time.Second,
		wsPingInterval:  time.Duration(cfg.Timing.WebsocketPingInterval) * time.Second,
		wsPongWait:      time.Duration(cfg.Timing.WebsocketPongWait) * time.Second,
		stop:            make(chan struct{}),
	}, nil
}

// GetInstrument resolves the configured symbol.
func (g *Gateway) GetInstrument(_ context.Context, symbol string) (*core.Instrument, error) {
	if !strings.EqualFold(symbol, g.inst.Symbol) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrInstrumentNotFound, symbol)
	}
	return g.inst, nil
}

// Register installs the handlers and the bar cadence.
func (g *Gateway) Register(_ context.Context, inst *core.Instrument, mode core.ObsMode, _ time.Duration, handlers core.StreamHandlers) error {
	if !strings.EqualFold(inst.Symbol, g.inst.Symbol) {
		return fmt.Errorf("%w: %s", apperrors.ErrInstrumentNotFound, inst.Symbol)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers = handlers
	g.tickMode = mode == core.ObsModeTick
	g.builder = newBarBuilder(g.tickMode, g.emitBar)
	return nil
}

// Connect seeds the position from REST, opens the market data and user
// data streams, and starts the listen key keepalive and, in time mode,
// the bar flush timer.
func (g *Gateway) Connect(ctx context.Context) error {
	if err := g.seedPosition(ctx); err != nil {
		return err
	}

	key, err := g.createListenKey(ctx)
	if err != nil {
		return err
	}

	symbol := strings.ToLower(g.inst.Symbol)
	streamURL := fmt.Sprintf("%s/stream?streams=%s@bookTicker/%s@aggTrade", g.wsURL, symbol, symbol)

	g.mu.Lock()
	g.listenKey = key
	g.marketWS = websocket.NewClient(streamURL, g.onMarketMessage, g.logger)
	g.userWS = websocket.NewClient(g.wsURL+"/ws/"+key, g.onUserMessage, g.logger)
	for _, ws := range []*websocket.Client{g.marketWS, g.userWS} {
		ws.SetReconnectWait(g.wsReconnectWait)
		ws.SetPingConfig(g.wsPingInterval, pingWriteWait, g.wsPongWait)
	}
	g.mu.Unlock()

	g.marketWS.Start()
	g.userWS.Start()

	go g.keepaliveLoop()
	if !g.tickMode {
		go g.flushLoop()
	}

	g.logger.Info("Connected to Binance futures", "symbol", g.inst.Symbol)
	return nil
}

// Connected reports whether the market data stream is live.
func (g *Gateway) Connected() bool {
	g.mu.Lock()
	ws := g.marketWS
	g.mu.Unlock()
	return ws != nil && ws.Connected()
}

// Position returns the signed contract count from the user data stream.
func (g *Gateway) Position(_ *core.Instrument) int64 {
	return g.position.Load()
}

// AvgCost returns the entry price reported by the venue, zero when flat.
func (g *Gateway) AvgCost(_ *core.Instrument) decimal.Decimal {
	g.avgCostMu.Lock()
	defer g.avgCostMu.Unlock()
	return g.avgCost
}

// OpenOrderCount returns the count of orders resting at the venue,
// maintained from order status transitions on the user stream.
func (g *Gateway) OpenOrderCount(_ *core.Instrument) int {
	return int(g.openOrders.Load())
}

// OrderTarget issues a market order for the delta to the target position.
func (g *Gateway) OrderTarget(ctx context.Context, _ *core.Instrument, target int64) error {
	delta := target - g.position.Load()
	if delta == 0 {
		return nil
	}

	side := "BUY"
	qty := delta
	if delta < 0 {
		side = "SELL"
		qty = -delta
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := g.rest.Post(ctx, "/fapi/v1/order", map[string]string{
		"symbol":           g.inst.Symbol,
		"side":             side,
		"type":             "MARKET",
		"quantity":         fmt.Sprintf("%d", qty),
		"newClientOrderId": "env-" + uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("order failed: %w", err)
	}
	return nil
}

// CancelAll cancels every open order for the symbol.
func (g *Gateway) CancelAll(ctx context.Context, _ *core.Instrument) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := g.rest.Delete(ctx, "/fapi/v1/allOpenOrders", map[string]string{
		"symbol": g.inst.Symbol,
	})
	if err != nil {
		return fmt.Errorf("cancel all failed: %w", err)
	}
	return nil
}

// Flatten cancels and closes the position at market.
func (g *Gateway) Flatten(ctx context.Context, inst *core.Instrument) error {
	if err := g.CancelAll(ctx, inst); err != nil {
		return err
	}
	return g.OrderTarget(ctx, inst, 0)
}

// Disconnect tears down streams and releases the listen key.
func (g *Gateway) Disconnect() error {
	g.stopOnce.Do(func() {
		close(g.stop)

		g.mu.Lock()
		marketWS, userWS, key := g.marketWS, g.userWS, g.listenKey
		g.marketWS, g.userWS = nil, nil
		g.mu.Unlock()

		if marketWS != nil {
			marketWS.Stop()
		}
		if userWS != nil {
			userWS.Stop()
		}
		if key != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := g.rest.Delete(ctx, "/fapi/v1/listenKey", nil); err != nil {
				g.logger.Warn("Failed to release listen key", "error", err)
			}
		}
		g.logger.Info("Disconnected from Binance futures")
	})
	return nil
}

func (g *Gateway) seedPosition(ctx context.Context) error {
	body, err := g.rest.Get(ctx, "/fapi/v2/positionRisk", map[string]string{
		"symbol": g.inst.Symbol,
	})
	if err != nil {
		return fmt.Errorf("position seed failed: %w", err)
	}

	var positions []struct {
		PositionAmt string `json:"positionAmt"`
		EntryPrice  string `json:"entryPrice"`
	}
	if err := json.Unmarshal(body, &positions); err != nil {
		return fmt.Errorf("position seed parse failed: %w", err)
	}

	for _, p := range positions {
		amt, err := decimal.NewFromString(p.PositionAmt)
		if err != nil {
			continue
		}
		g.position.Store(amt.IntPart())
		if cost, err := decimal.NewFromString(p.EntryPrice); err == nil {
			g.setAvgCost(cost, amt.IntPart())
		}
	}
	return nil
}

func (g *Gateway) createListenKey(ctx context.Context) (string, error) {
	body, err := g.rest.Post(ctx, "/fapi/v1/listenKey", nil)
	if err != nil {
		return "", fmt.Errorf("listen key request failed: %w", err)
	}
	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("listen key parse failed: %w", err)
	}
	if resp.ListenKey == "" {
		return "", apperrors.ErrAuthenticationFailed
	}
	return resp.ListenKey, nil
}

func (g *Gateway) keepaliveLoop() {
	ticker := time.NewTicker(g.keepaliveEvery)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_, err := g.rest.Put(ctx, "/fapi/v1/listenKey", nil)
			cancel()
			if err != nil {
				g.logger.Warn("Listen key keepalive failed", "error", err)
			}
		}
	}
}

func (g *Gateway) flushLoop() {
	ticker := time.NewTicker(g.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			g.mu.Lock()
			builder := g.builder
			g.mu.Unlock()
			if builder != nil {
				builder.Flush()
			}
		}
	}
}

// marketEvent is the payload half of a combined stream message.
type marketEvent struct {
	EventType string `json:"e"`

	// bookTicker
	Bid     string `json:"b"`
	BidSize string `json:"B"`
	Ask     string `json:"a"`
	AskSize string `json:"A"`

	// aggTrade
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
}

func (g *Gateway) onMarketMessage(message []byte) {
	var wrapper struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(message, &wrapper); err != nil || len(wrapper.Data) == 0 {
		return
	}

	var ev marketEvent
	if err := json.Unmarshal(wrapper.Data, &ev); err != nil {
		g.logger.Debug("Unparseable market event", "error", err)
		return
	}

	g.mu.Lock()
	builder := g.builder
	g.mu.Unlock()
	if builder == nil {
		return
	}

	switch ev.EventType {
	case "bookTicker":
		bid, err1 := parseFloat(ev.Bid)
		ask, err2 := parseFloat(ev.Ask)
		if err1 != nil || err2 != nil {
			return
		}
		bidSize, _ := parseFloat(ev.BidSize)
		askSize, _ := parseFloat(ev.AskSize)
		builder.OnQuote(bid, bidSize, ask, askSize)
	case "aggTrade":
		price, err1 := parseFloat(ev.Price)
		qty, err2 := parseFloat(ev.Quantity)
		if err1 != nil || err2 != nil {
			return
		}
		builder.OnTrade(price, qty, time.UnixMilli(ev.TradeTime))
	}
}

// userEvent covers the user data stream messages the gateway consumes.
type userEvent struct {
	EventType string `json:"e"`

	Order struct {
		Symbol        string `json:"s"`
		ClientOrderID string `json:"c"`
		Side          string `json:"S"`
		Status        string `json:"X"`
		ExecType      string `json:"x"`
		OrderID       int64  `json:"i"`
		LastFilledQty string `json:"l"`
		LastPrice     string `json:"L"`
		RealizedPnL   string `json:"rp"`
		TradeTime     int64  `json:"T"`
	} `json:"o"`

	Account struct {
		Positions []struct {
			Symbol      string `json:"s"`
			PositionAmt string `json:"pa"`
			EntryPrice  string `json:"ep"`
		} `json:"P"`
	} `json:"a"`
}

func (g *Gateway) onUserMessage(message []byte) {
	var ev userEvent
	if err := json.Unmarshal(message, &ev); err != nil {
		g.logger.Debug("Unparseable user event", "error", err)
		return
	}

	switch ev.EventType {
	case "ORDER_TRADE_UPDATE":
		g.onOrderUpdate(ev)
	case "ACCOUNT_UPDATE":
		g.onAccountUpdate(ev)
	case "listenKeyExpired":
		g.alert("listen key expired, user stream reconnecting")
	}
}

func (g *Gateway) onOrderUpdate(ev userEvent) {
	o := ev.Order
	if !strings.EqualFold(o.Symbol, g.inst.Symbol) {
		return
	}

	switch o.Status {
	case "NEW":
		g.openOrders.Add(1)
	case "FILLED", "CANCELED", "EXPIRED", "REJECTED":
		if g.openOrders.Add(-1) < 0 {
			g.openOrders.Store(0)
		}
	}

	if o.ExecType != "TRADE" {
		return
	}

	qty, err := decimal.NewFromString(o.LastFilledQty)
	if err != nil || qty.IsZero() {
		return
	}
	signed := qty.IntPart()
	if o.Side == "SELL" {
		signed = -signed
	}

	price, _ := decimal.NewFromString(o.LastPrice)
	profit, _ := decimal.NewFromString(o.RealizedPnL)

	fill := core.Fill{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        g.inst.Symbol,
		Quantity:      signed,
		Price:         price,
		Profit:        profit,
		Time:          time.UnixMilli(o.TradeTime),
	}

	g.mu.Lock()
	onFill := g.handlers.OnFill
	g.mu.Unlock()
	if onFill != nil {
		onFill(g.inst, fill)
	}
}

func (g *Gateway) onAccountUpdate(ev userEvent) {
	for _, p := range ev.Account.Positions {
		if !strings.EqualFold(p.Symbol, g.inst.Symbol) {
			continue
		}
		amt, err := decimal.NewFromString(p.PositionAmt)
		if err != nil {
			continue
		}
		g.position.Store(amt.IntPart())
		if cost, err := decimal.NewFromString(p.EntryPrice); err == nil {
			g.setAvgCost(cost, amt.IntPart())
		}
	}
}

func (g *Gateway) setAvgCost(cost decimal.Decimal, position int64) {
	g.avgCostMu.Lock()
	defer g.avgCostMu.Unlock()
	if position == 0 {
		g.avgCost = decimal.Zero
	} else {
		g.avgCost = cost
	}
}

func (g *Gateway) alert(msg string) {
	g.mu.Lock()
	onAlert := g.handlers.OnAlert
	g.mu.Unlock()
	if onAlert != nil {
		onAlert(g.inst, msg)
	}
}

func (g *Gateway) emitBar(snap snapshot) {
	bar := core.Bar{
		Time:         snap.time,
		Bid:          snap.bid,
		BidSize:      snap.bidSize,
		Ask:          snap.ask,
		AskSize:      snap.askSize,
		Last:         snap.last,
		LastSize:     snap.lastSize,
		LastTime:     snap.lastTime,
		Open:         snap.open,
		High:         snap.high,
		Low:          snap.low,
		Close:        snap.close,
		VWAP:         snap.vwap,
		Volume:       snap.volume,
		// Open interest is not carried on these streams.
		OpenInterest: math.NaN(),
	}

	g.mu.Lock()
	onBar := g.handlers.OnBar
	g.mu.Unlock()
	if onBar != nil {
		onBar(g.inst, bar)
	}
}

func parseFloat(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}

var _ core.IGateway = (*Gateway)(nil)
