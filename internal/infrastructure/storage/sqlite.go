package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/crypto_ut_bot/internal/domain"
)

// SQLiteStore journals terminal orders and closed positions. Candle history
// is never persisted here.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			client_order_index INTEGER NOT NULL,
			market_id INTEGER NOT NULL,
			side TEXT NOT NULL,
			order_type TEXT NOT NULL,
			size REAL NOT NULL,
			price REAL NOT NULL,
			filled_size REAL NOT NULL DEFAULT 0,
			filled_price REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			leverage INTEGER NOT NULL,
			margin_mode TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_market ON orders(market_id);`,
		`CREATE TABLE IF NOT EXISTS position_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			market_id INTEGER NOT NULL,
			side TEXT NOT NULL,
			size REAL NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			realized_pnl REAL NOT NULL,
			leverage INTEGER NOT NULL,
			closed_at DATETIME NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	return nil
}

func (s *SQLiteStore) SaveOrder(ctx context.Context, order *domain.Order) error {
	query := `INSERT OR REPLACE INTO orders (id, client_order_index, market_id, side, order_type, size, price, filled_size, filled_price, status, leverage, margin_mode, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		order.ID, order.ClientOrderIndex, order.MarketID, order.Side, order.Type,
		order.Size, order.Price, order.FilledSize, order.FilledPrice,
		order.Status, order.Leverage, order.MarginMode, order.CreatedAt)
	return err
}

func (s *SQLiteStore) ListOrders(ctx context.Context, limit int) ([]*domain.Order, error) {
	query := `SELECT id, client_order_index, market_id, side, order_type, size, price, filled_size, filled_price, status, leverage, margin_mode, created_at
			  FROM orders ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.ClientOrderIndex, &o.MarketID, &o.Side, &o.Type,
			&o.Size, &o.Price, &o.FilledSize, &o.FilledPrice,
			&o.Status, &o.Leverage, &o.MarginMode, &o.CreatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, &o)
	}
	return orders, rows.Err()
}

func (s *SQLiteStore) SavePositionHistory(ctx context.Context, h *domain.PositionHistory) error {
	query := `INSERT INTO position_history (market_id, side, size, entry_price, exit_price, realized_pnl, leverage, closed_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		h.MarketID, h.Side, h.Size, h.EntryPrice, h.ExitPrice, h.RealizedPnL, h.Leverage, h.ClosedAt)
	return err
}

func (s *SQLiteStore) ListPositionHistory(ctx context.Context, limit int) ([]*domain.PositionHistory, error) {
	query := `SELECT id, market_id, side, size, entry_price, exit_price, realized_pnl, leverage, closed_at
			  FROM position_history ORDER BY closed_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*domain.PositionHistory
	for rows.Next() {
		var h domain.PositionHistory
		if err := rows.Scan(&h.ID, &h.MarketID, &h.Side, &h.Size, &h.EntryPrice, &h.ExitPrice, &h.RealizedPnL, &h.Leverage, &h.ClosedAt); err != nil {
			return nil, err
		}
		history = append(history, &h)
	}
	return history, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
