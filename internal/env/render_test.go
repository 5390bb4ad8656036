package env

import (
	"bytes"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market_env/internal/core"
)

func renderEnv(secType string) *MarketEnv {
	return &MarketEnv{
		inst: &core.Instrument{
			Symbol:   "TEST",
			SecType:  secType,
			Leverage: decimal.NewFromInt(1),
		},
		acct: newAccounting(),
	}
}

func TestRenderUnsupportedMode(t *testing.T) {
	e := renderEnv("PERP")
	err := e.Render("rgb_array", &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrUnsupportedRenderMode)
}

func TestRenderBeforeFirstBar(t *testing.T) {
	e := renderEnv("PERP")
	var buf bytes.Buffer
	require.NoError(t, e.Render("human", &buf))
	assert.Contains(t, buf.String(), "waiting for market data")
}

func TestRenderHeadersReprint(t *testing.T) {
	e := renderEnv("PERP")
	e.acct.ObserveBar(core.Bar{Time: 1700000000, Bid: 100.12, Ask: 100.14, Last: 100.13},
		0, decimal.NewFromInt(1), decimal.Zero)

	var buf bytes.Buffer
	for i := 0; i < renderHeaderEvery+1; i++ {
		require.NoError(t, e.Render("human", &buf))
	}

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "pos des/act"), "headers reprint after %d lines", renderHeaderEvery)
	assert.Contains(t, out, "100.12")
	assert.Contains(t, out, "100.14")
}

func TestRenderForexPrecision(t *testing.T) {
	e := renderEnv("CASH")
	e.acct.ObserveBar(core.Bar{Time: 1700000000, Bid: 1.234567, Ask: 1.234789, Last: 1.2346},
		0, decimal.NewFromInt(1), decimal.Zero)

	var buf bytes.Buffer
	require.NoError(t, e.Render("human", &buf))
	assert.Contains(t, buf.String(), "1.23457", "forex renders five decimals")
}
