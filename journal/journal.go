// Package journal appends confirmed executions to a local sqlite file.
// It is write-only from the loop's point of view: state is never
// reloaded from it across restarts, it exists for audits and the status
// server's /trades view.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// Trade is one confirmed execution row.
type Trade struct {
	ID         int64           `json:"id"`
	Time       time.Time       `json:"time"`
	Symbol     string          `json:"symbol"`
	Kind       string          `json:"kind"`
	Qty        decimal.Decimal `json:"qty"`
	Price      decimal.Decimal `json:"price"`
	Proceeds   decimal.Decimal `json:"proceeds"`
	Realized   decimal.Decimal `json:"realized"`
	Cumulative decimal.Decimal `json:"cumulative"`
}

// Journal wraps the sqlite handle.
type Journal struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	kind TEXT NOT NULL,
	qty TEXT NOT NULL,
	price TEXT NOT NULL,
	proceeds TEXT NOT NULL,
	realized TEXT NOT NULL,
	cumulative TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(ts);
`

// Open creates or opens the journal file and ensures the schema.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开交易日志失败: %w", err)
	}
	// 单写者：串行化连接，避免 SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化交易日志表失败: %w", err)
	}
	return &Journal{db: db}, nil
}

// RecordTrade appends one execution row.
func (j *Journal) RecordTrade(ctx context.Context, t Trade) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO trades (ts, symbol, kind, qty, price, proceeds, realized, cumulative)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Time.Unix(), t.Symbol, t.Kind,
		t.Qty.String(), t.Price.String(), t.Proceeds.String(),
		t.Realized.String(), t.Cumulative.String())
	if err != nil {
		return fmt.Errorf("写入交易日志失败: %w", err)
	}
	return nil
}

// RecentTrades returns the newest rows, newest first.
func (j *Journal) RecentTrades(ctx context.Context, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, ts, symbol, kind, qty, price, proceeds, realized, cumulative
		 FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询交易日志失败: %w", err)
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var (
			t                                          Trade
			ts                                         int64
			qty, price, proceeds, realized, cumulative string
		)
		if err := rows.Scan(&t.ID, &ts, &t.Symbol, &t.Kind, &qty, &price, &proceeds, &realized, &cumulative); err != nil {
			return nil, err
		}
		t.Time = time.Unix(ts, 0).UTC()
		if t.Qty, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		if t.Price, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		if t.Proceeds, err = decimal.NewFromString(proceeds); err != nil {
			return nil, err
		}
		if t.Realized, err = decimal.NewFromString(realized); err != nil {
			return nil, err
		}
		if t.Cumulative, err = decimal.NewFromString(cumulative); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Close releases the sqlite handle.
func (j *Journal) Close() error {
	return j.db.Close()
}
