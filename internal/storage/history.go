package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/shopspring/decimal"

	"github.com/beta0629/stock-trading-system-sub000/internal/domain"
)

// HistoryStore is the append-only trade record backed by SQLite. It is the
// source of truth for the daily trade count and for reporting; the JSON state
// snapshot only carries a recent tail.
type HistoryStore struct {
	db *sql.DB
}

// NewHistoryStore opens (or creates) the trade database at path.
func NewHistoryStore(path string) (*HistoryStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	// Single writer; WAL keeps readers unblocked during appends.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %q: %w", p, err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id      TEXT NOT NULL UNIQUE,
		symbol        TEXT NOT NULL,
		market        TEXT NOT NULL,
		action        TEXT NOT NULL,
		quantity      INTEGER NOT NULL,
		price         TEXT NOT NULL,
		signal_id     TEXT NOT NULL,
		signal_source TEXT NOT NULL,
		confidence    REAL NOT NULL,
		realized_pnl  TEXT NOT NULL,
		executed_at   TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol_time ON trades(symbol, executed_at);
	CREATE INDEX IF NOT EXISTS idx_trades_time ON trades(executed_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &HistoryStore{db: db}, nil
}

// Close closes the underlying database.
func (h *HistoryStore) Close() error { return h.db.Close() }

// Append records an executed trade. Order IDs are unique; replaying the same
// fill is a no-op so crash-recovery replays cannot double-count.
func (h *HistoryStore) Append(ctx context.Context, entry domain.TradeHistoryEntry) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO trades
			(order_id, symbol, market, action, quantity, price,
			 signal_id, signal_source, confidence, realized_pnl, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Order.ID,
		entry.Order.Symbol,
		string(entry.Order.Market),
		string(entry.Order.Action),
		entry.Order.ExecutedQty,
		entry.Order.ExecutedPrice.String(),
		entry.Signal.ID,
		entry.Signal.Source,
		entry.Signal.Confidence,
		entry.RealizedPnL.String(),
		entry.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append trade: %w", err)
	}
	return nil
}

// CountTradesToday returns how many trades executed for symbol since local
// midnight. The boundary follows now's location so each market counts days in
// its own timezone.
func (h *HistoryStore) CountTradesToday(ctx context.Context, symbol string, now time.Time) (int, error) {
	year, month, day := now.Date()
	midnight := time.Date(year, month, day, 0, 0, 0, 0, now.Location())

	var count int
	err := h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trades WHERE symbol = ? AND executed_at >= ?`,
		symbol, midnight.UTC(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count trades: %w", err)
	}
	return count, nil
}

// Recent returns the latest n trades, newest first.
func (h *HistoryStore) Recent(ctx context.Context, n int) ([]domain.TradeHistoryEntry, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT order_id, symbol, market, action, quantity, price,
		       signal_id, signal_source, confidence, realized_pnl, executed_at
		FROM trades ORDER BY executed_at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query recent trades: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeHistoryEntry
	for rows.Next() {
		var (
			e          domain.TradeHistoryEntry
			market     string
			action     string
			price      string
			pnl        string
			executedAt time.Time
		)
		if err := rows.Scan(
			&e.Order.ID, &e.Order.Symbol, &market, &action,
			&e.Order.ExecutedQty, &price,
			&e.Signal.ID, &e.Signal.Source, &e.Signal.Confidence,
			&pnl, &executedAt,
		); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		e.Order.Market = domain.Market(market)
		e.Order.Action = domain.Action(action)
		e.Order.Quantity = e.Order.ExecutedQty
		e.Order.Status = domain.OrderExecuted
		e.Order.ExecutedPrice = mustDecimal(price)
		e.RealizedPnL = mustDecimal(pnl)
		e.At = executedAt
		out = append(out, e)
	}
	return out, rows.Err()
}

func mustDecimal(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}
