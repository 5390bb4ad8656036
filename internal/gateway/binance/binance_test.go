package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market_env/internal/config"
	"market_env/internal/core"
)

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, f ...interface{})               {}
func (m *mockLogger) Info(msg string, f ...interface{})                {}
func (m *mockLogger) Warn(msg string, f ...interface{})                {}
func (m *mockLogger) Error(msg string, f ...interface{})               {}
func (m *mockLogger) Fatal(msg string, f ...interface{})               {}
func (m *mockLogger) WithField(k string, v interface{}) core.ILogger   { return m }
func (m *mockLogger) WithFields(f map[string]interface{}) core.ILogger { return m }

func TestSignRequest(t *testing.T) {
	s := NewSigner("key123", "secret456")

	req, err := http.NewRequest(http.MethodGet, "https://example.com/fapi/v1/order?symbol=BTCUSDT", nil)
	require.NoError(t, err)
	require.NoError(t, s.SignRequest(req))

	assert.Equal(t, "key123", req.Header.Get("X-MBX-APIKEY"))

	q := req.URL.Query()
	sig := q.Get("signature")
	require.NotEmpty(t, sig)
	assert.NotEmpty(t, q.Get("timestamp"))

	q.Del("signature")
	mac := hmac.New(sha256.New, []byte("secret456"))
	mac.Write([]byte(q.Encode()))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), sig)
}

func testGateway() *Gateway {
	return &Gateway{
		logger: &mockLogger{},
		inst: &core.Instrument{
			Symbol:   "BTCUSDT",
			SecType:  "PERP",
			Exchange: "BINANCE",
			Currency: "USDT",
			Leverage: decimal.NewFromInt(1),
		},
	}
}

func TestNewCarriesTimingConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Env.Gateway = "binance"
	cfg.Timing.WebsocketReconnectDelay = 7
	cfg.Timing.WebsocketPingInterval = 25
	cfg.Timing.WebsocketPongWait = 75
	cfg.Timing.ListenKeyKeepaliveInterval = 900

	g, err := New(cfg, &mockLogger{})
	require.NoError(t, err)

	assert.Equal(t, 7*time.Second, g.wsReconnectWait)
	assert.Equal(t, 25*time.Second, g.wsPingInterval)
	assert.Equal(t, 75*time.Second, g.wsPongWait)
	assert.Equal(t, 900*time.Second, g.keepaliveEvery)
}

func TestOrderTradeUpdateProducesFill(t *testing.T) {
	g := testGateway()

	var fills []core.Fill
	g.handlers = core.StreamHandlers{
		OnFill: func(_ *core.Instrument, f core.Fill) { fills = append(fills, f) },
	}

	g.onUserMessage([]byte(`{
		"e": "ORDER_TRADE_UPDATE",
		"o": {
			"s": "BTCUSDT", "c": "env-abc", "S": "SELL",
			"X": "FILLED", "x": "TRADE", "i": 42,
			"l": "2", "L": "50000.5", "rp": "12.75", "T": 1700000000000
		}
	}`))

	require.Len(t, fills, 1)
	f := fills[0]
	assert.Equal(t, int64(42), f.OrderID)
	assert.Equal(t, "env-abc", f.ClientOrderID)
	assert.Equal(t, int64(-2), f.Quantity, "sells are negative")
	assert.True(t, f.Price.Equal(decimal.RequireFromString("50000.5")))
	assert.True(t, f.Profit.Equal(decimal.RequireFromString("12.75")))
}

func TestOrderStatusMaintainsOpenOrderCount(t *testing.T) {
	g := testGateway()

	newOrder := []byte(`{"e":"ORDER_TRADE_UPDATE","o":{"s":"BTCUSDT","X":"NEW","x":"NEW"}}`)
	canceled := []byte(`{"e":"ORDER_TRADE_UPDATE","o":{"s":"BTCUSDT","X":"CANCELED","x":"CANCELED"}}`)

	g.onUserMessage(newOrder)
	g.onUserMessage(newOrder)
	assert.Equal(t, 2, g.OpenOrderCount(g.inst))

	g.onUserMessage(canceled)
	assert.Equal(t, 1, g.OpenOrderCount(g.inst))

	// Other symbols don't count.
	g.onUserMessage([]byte(`{"e":"ORDER_TRADE_UPDATE","o":{"s":"ETHUSDT","X":"NEW","x":"NEW"}}`))
	assert.Equal(t, 1, g.OpenOrderCount(g.inst))
}

func TestAccountUpdateTracksPosition(t *testing.T) {
	g := testGateway()

	g.onUserMessage([]byte(`{
		"e": "ACCOUNT_UPDATE",
		"a": {"P": [
			{"s": "ETHUSDT", "pa": "9", "ep": "3000"},
			{"s": "BTCUSDT", "pa": "-3", "ep": "50100.25"}
		]}
	}`))

	assert.Equal(t, int64(-3), g.Position(g.inst))
	assert.True(t, g.AvgCost(g.inst).Equal(decimal.RequireFromString("50100.25")))

	g.onUserMessage([]byte(`{"e":"ACCOUNT_UPDATE","a":{"P":[{"s":"BTCUSDT","pa":"0","ep":"50100.25"}]}}`))
	assert.Equal(t, int64(0), g.Position(g.inst))
	assert.True(t, g.AvgCost(g.inst).IsZero(), "flat position clears the cost basis")
}

func TestMarketMessageFeedsBarBuilder(t *testing.T) {
	g := testGateway()

	var bars []core.Bar
	g.handlers = core.StreamHandlers{
		OnBar: func(_ *core.Instrument, b core.Bar) { bars = append(bars, b) },
	}
	g.tickMode = true
	g.builder = newBarBuilder(true, g.emitBar)

	g.onMarketMessage([]byte(`{
		"stream": "btcusdt@bookTicker",
		"data": {"e": "bookTicker", "b": "50000", "B": "3", "a": "50001", "A": "5"}
	}`))

	require.Len(t, bars, 1)
	assert.Equal(t, 50000.0, bars[0].Bid)
	assert.Equal(t, 50001.0, bars[0].Ask)
}
