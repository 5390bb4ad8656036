// Package journal persists fills and episode summaries to SQLite for
// offline analysis. It is strictly write-only: nothing in the environment
// is ever restored from it.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"market_env/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS fills (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	episode         INTEGER NOT NULL,
	step            INTEGER NOT NULL,
	order_id        INTEGER NOT NULL,
	client_order_id TEXT    NOT NULL,
	symbol          TEXT    NOT NULL,
	quantity        INTEGER NOT NULL,
	price           TEXT    NOT NULL,
	profit          TEXT    NOT NULL,
	fill_time       INTEGER NOT NULL,
	recorded_at     INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS episodes (
	episode     INTEGER PRIMARY KEY,
	steps       INTEGER NOT NULL,
	profit      TEXT    NOT NULL,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fills_episode ON fills(episode);
`

// SQLiteJournal implements core.IJournal on a local SQLite file.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal opens (or creates) the journal database.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping journal database: %w", err)
	}

	// Enable WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create journal schema: %w", err)
	}

	return &SQLiteJournal{db: db}, nil
}

// RecordFill appends one fill row.
func (j *SQLiteJournal) RecordFill(ctx context.Context, episode int64, step int, fill core.Fill) error {
	query := `INSERT INTO fills
		(episode, step, order_id, client_order_id, symbol, quantity, price, profit, fill_time, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := j.db.ExecContext(ctx, query,
		episode, step, fill.OrderID, fill.ClientOrderID, fill.Symbol,
		fill.Quantity, fill.Price.String(), fill.Profit.String(),
		fill.Time.UnixNano(), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record fill: %w", err)
	}
	return nil
}

// RecordEpisode writes the episode summary, replacing any earlier row for
// the same episode.
func (j *SQLiteJournal) RecordEpisode(ctx context.Context, episode int64, steps int, profit decimal.Decimal) error {
	query := `INSERT OR REPLACE INTO episodes (episode, steps, profit, recorded_at) VALUES (?, ?, ?, ?)`
	_, err := j.db.ExecContext(ctx, query, episode, steps, profit.String(), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record episode: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

var _ core.IJournal = (*SQLiteJournal)(nil)
