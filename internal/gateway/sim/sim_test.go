package sim

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market_env/internal/core"
	apperrors "market_env/pkg/errors"
)

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, f ...interface{})               {}
func (m *mockLogger) Info(msg string, f ...interface{})                {}
func (m *mockLogger) Warn(msg string, f ...interface{})                {}
func (m *mockLogger) Error(msg string, f ...interface{})               {}
func (m *mockLogger) Fatal(msg string, f ...interface{})               {}
func (m *mockLogger) WithField(k string, v interface{}) core.ILogger   { return m }
func (m *mockLogger) WithFields(f map[string]interface{}) core.ILogger { return m }

func testInstrument() *core.Instrument {
	return &core.Instrument{
		Symbol:   "BTCUSDT",
		SecType:  "PERP",
		Exchange: "SIM",
		Currency: "USDT",
		Leverage: decimal.NewFromInt(1),
	}
}

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	g := New(testInstrument(), 100, 0, &mockLogger{})
	g.DisableStreaming()
	t.Cleanup(func() { _ = g.Disconnect() })
	return g
}

func TestGetInstrument(t *testing.T) {
	g := newTestGateway(t)

	inst, err := g.GetInstrument(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", inst.Symbol)

	_, err = g.GetInstrument(context.Background(), "ETHUSDT")
	assert.ErrorIs(t, err, apperrors.ErrInstrumentNotFound)
}

func TestOrderTargetRequiresConnection(t *testing.T) {
	g := newTestGateway(t)
	err := g.OrderTarget(context.Background(), testInstrument(), 1)
	assert.ErrorIs(t, err, apperrors.ErrNotConnected)
}

func TestOrderTargetFillsImmediately(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	fills := make(chan core.Fill, 8)
	require.NoError(t, g.Register(ctx, testInstrument(), core.ObsModeTime, time.Second, core.StreamHandlers{
		OnFill: func(_ *core.Instrument, f core.Fill) { fills <- f },
	}))
	require.NoError(t, g.Connect(ctx))

	g.SetQuote(99, 101)
	require.NoError(t, g.OrderTarget(ctx, testInstrument(), 3))

	select {
	case f := <-fills:
		assert.Equal(t, int64(3), f.Quantity)
		assert.True(t, f.Price.Equal(decimal.NewFromInt(101)), "buys lift the ask, got %s", f.Price)
		assert.True(t, f.Profit.IsZero(), "opening a position realizes nothing")
		assert.NotEmpty(t, f.ClientOrderID)
	case <-time.After(time.Second):
		t.Fatal("no fill delivered")
	}

	assert.Equal(t, int64(3), g.Position(testInstrument()))
	assert.Equal(t, 0, g.OpenOrderCount(testInstrument()))
}

func TestRoundTripRealizesProfit(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	fills := make(chan core.Fill, 8)
	require.NoError(t, g.Register(ctx, testInstrument(), core.ObsModeTime, time.Second, core.StreamHandlers{
		OnFill: func(_ *core.Instrument, f core.Fill) { fills <- f },
	}))
	require.NoError(t, g.Connect(ctx))

	g.SetQuote(99, 101)
	require.NoError(t, g.OrderTarget(ctx, testInstrument(), 2))
	<-fills

	g.SetQuote(109, 111)
	require.NoError(t, g.OrderTarget(ctx, testInstrument(), 0))

	f := <-fills
	assert.Equal(t, int64(-2), f.Quantity)
	assert.True(t, f.Profit.Equal(decimal.NewFromInt(16)), "bought 101, sold 109, 2 contracts: got %s", f.Profit)
	assert.Equal(t, int64(0), g.Position(testInstrument()))
	assert.True(t, g.AvgCost(testInstrument()).IsZero())
}

func TestFlatten(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	require.NoError(t, g.Register(ctx, testInstrument(), core.ObsModeTime, time.Second, core.StreamHandlers{}))
	require.NoError(t, g.Connect(ctx))

	require.NoError(t, g.OrderTarget(ctx, testInstrument(), -4))
	g.SetOpenOrderCount(3)

	require.NoError(t, g.Flatten(ctx, testInstrument()))
	assert.Equal(t, int64(0), g.Position(testInstrument()))
	assert.Equal(t, 0, g.OpenOrderCount(testInstrument()))
}

func TestEmitBarReachesHandlerInOrder(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	bars := make(chan core.Bar, 8)
	require.NoError(t, g.Register(ctx, testInstrument(), core.ObsModeTick, time.Second, core.StreamHandlers{
		OnBar: func(_ *core.Instrument, b core.Bar) { bars <- b },
	}))
	require.NoError(t, g.Connect(ctx))

	for i := 1; i <= 3; i++ {
		g.EmitBar(core.Bar{Time: float64(i)})
	}
	for i := 1; i <= 3; i++ {
		select {
		case b := <-bars:
			assert.Equal(t, float64(i), b.Time)
		case <-time.After(time.Second):
			t.Fatal("bar not delivered")
		}
	}
}

func TestSmallEventBufferStillDeliversInOrder(t *testing.T) {
	g := New(testInstrument(), 100, 2, &mockLogger{})
	g.DisableStreaming()
	t.Cleanup(func() { _ = g.Disconnect() })
	ctx := context.Background()

	bars := make(chan core.Bar, 16)
	require.NoError(t, g.Register(ctx, testInstrument(), core.ObsModeTick, time.Second, core.StreamHandlers{
		OnBar: func(_ *core.Instrument, b core.Bar) { bars <- b },
	}))
	require.NoError(t, g.Connect(ctx))

	// More events than the buffer holds: Submit blocks rather than drops.
	for i := 1; i <= 8; i++ {
		g.EmitBar(core.Bar{Time: float64(i)})
	}
	for i := 1; i <= 8; i++ {
		select {
		case b := <-bars:
			assert.Equal(t, float64(i), b.Time)
		case <-time.After(time.Second):
			t.Fatal("bar not delivered")
		}
	}
}

func TestStreamingEmitsBars(t *testing.T) {
	g := New(testInstrument(), 100, 0, &mockLogger{})
	t.Cleanup(func() { _ = g.Disconnect() })
	ctx := context.Background()

	bars := make(chan core.Bar, 8)
	require.NoError(t, g.Register(ctx, testInstrument(), core.ObsModeTime, 10*time.Millisecond, core.StreamHandlers{
		OnBar: func(_ *core.Instrument, b core.Bar) { bars <- b },
	}))
	require.NoError(t, g.Connect(ctx))

	select {
	case b := <-bars:
		assert.Greater(t, b.Ask, b.Bid)
		assert.Greater(t, b.Volume, 0.0)
	case <-time.After(time.Second):
		t.Fatal("streaming produced no bars")
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	g := New(testInstrument(), 100, 0, &mockLogger{})
	require.NoError(t, g.Connect(context.Background()))
	require.NoError(t, g.Disconnect())
	require.NoError(t, g.Disconnect())
	assert.False(t, g.Connected())
}
