package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market_env/internal/core"
)

func newTestJournal(t *testing.T) *SQLiteJournal {
	t.Helper()
	j, err := NewSQLiteJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestRecordFill(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	fill := core.Fill{
		OrderID:       7,
		ClientOrderID: "env-xyz",
		Symbol:        "BTCUSDT",
		Quantity:      -2,
		Price:         decimal.RequireFromString("50000.5"),
		Profit:        decimal.RequireFromString("12.75"),
		Time:          time.Now(),
	}
	require.NoError(t, j.RecordFill(ctx, 1, 3, fill))
	require.NoError(t, j.RecordFill(ctx, 1, 4, fill))
	require.NoError(t, j.RecordFill(ctx, 2, 1, fill))

	var count int
	require.NoError(t, j.db.QueryRow(`SELECT COUNT(*) FROM fills WHERE episode = 1`).Scan(&count))
	assert.Equal(t, 2, count)

	var qty int64
	var price, profit string
	require.NoError(t, j.db.QueryRow(
		`SELECT quantity, price, profit FROM fills WHERE episode = 1 AND step = 3`,
	).Scan(&qty, &price, &profit))
	assert.Equal(t, int64(-2), qty)
	assert.Equal(t, "50000.5", price)
	assert.Equal(t, "12.75", profit)
}

func TestRecordEpisodeReplaces(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.RecordEpisode(ctx, 1, 50, decimal.RequireFromString("-3.5")))
	require.NoError(t, j.RecordEpisode(ctx, 1, 100, decimal.RequireFromString("8.25")))

	var steps int
	var profit string
	require.NoError(t, j.db.QueryRow(`SELECT steps, profit FROM episodes WHERE episode = 1`).Scan(&steps, &profit))
	assert.Equal(t, 100, steps)
	assert.Equal(t, "8.25", profit)

	var count int
	require.NoError(t, j.db.QueryRow(`SELECT COUNT(*) FROM episodes`).Scan(&count))
	assert.Equal(t, 1, count)
}
