package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jefrnc/das-bridge/internal/models"
)

// SQLiteJournal implements Journal using SQLite.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal opens (or creates) the journal database.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	journal := &SQLiteJournal{db: db}
	if err := journal.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return journal, nil
}

// initSchema creates all required tables and indexes.
func (j *SQLiteJournal) initSchema() error {
	schema := `
	-- Orders table holds the latest known state of every order
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		filled_qty INTEGER DEFAULT 0,
		order_type TEXT NOT NULL,
		limit_price REAL,
		stop_price REAL,
		avg_price REAL,
		tif TEXT,
		route TEXT,
		status TEXT NOT NULL,
		placed_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	-- Fills table is append-only
	CREATE TABLE IF NOT EXISTS fills (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price REAL NOT NULL,
		timestamp DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Locate decisions, approvals and rejections alike
	CREATE TABLE IF NOT EXISTS locates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		desired_shares INTEGER NOT NULL,
		locate_shares INTEGER NOT NULL,
		rate REAL,
		total_cost REAL,
		easy_to_borrow INTEGER DEFAULT 0,
		approved INTEGER DEFAULT 0,
		reasons TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Session lifecycle events
	CREATE TABLE IF NOT EXISTS session_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		state TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);
	CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
	CREATE INDEX IF NOT EXISTS idx_fills_symbol ON fills(symbol, timestamp);
	CREATE INDEX IF NOT EXISTS idx_fills_order ON fills(order_id);
	CREATE INDEX IF NOT EXISTS idx_locates_symbol ON locates(symbol);
	`
	_, err := j.db.Exec(schema)
	return err
}

// RecordOrder upserts the order's latest state.
func (j *SQLiteJournal) RecordOrder(ctx context.Context, order models.Order) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO orders (id, symbol, side, quantity, filled_qty, order_type,
			limit_price, stop_price, avg_price, tif, route, status, placed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			filled_qty = excluded.filled_qty,
			avg_price = excluded.avg_price,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		order.ID, order.Symbol, string(order.Side), order.Quantity, order.FilledQty,
		string(order.Type), order.LimitPrice, order.StopPrice, order.AvgPrice,
		string(order.TIF), string(order.Route), string(order.Status),
		order.PlacedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to record order: %w", err)
	}
	return nil
}

// RecordFill appends one execution.
func (j *SQLiteJournal) RecordFill(ctx context.Context, fill FillRecord) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO fills (order_id, symbol, side, quantity, price, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		fill.OrderID, fill.Symbol, string(fill.Side), fill.Quantity, fill.Price, fill.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to record fill: %w", err)
	}
	return nil
}

// RecordLocate appends a locate decision.
func (j *SQLiteJournal) RecordLocate(ctx context.Context, analysis models.LocateAnalysis) error {
	reasons, err := json.Marshal(analysis.Reasons)
	if err != nil {
		reasons = []byte("[]")
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO locates (symbol, desired_shares, locate_shares, rate, total_cost,
			easy_to_borrow, approved, reasons)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		analysis.Symbol, analysis.DesiredShares, analysis.LocateShares,
		analysis.Rate, analysis.TotalCost,
		boolToInt(analysis.EasyToBorrow), boolToInt(analysis.Approved), string(reasons))
	if err != nil {
		return fmt.Errorf("failed to record locate: %w", err)
	}
	return nil
}

// RecordSessionEvent appends a session state transition.
func (j *SQLiteJournal) RecordSessionEvent(ctx context.Context, state string) error {
	_, err := j.db.ExecContext(ctx, `INSERT INTO session_events (state) VALUES (?)`, state)
	if err != nil {
		return fmt.Errorf("failed to record session event: %w", err)
	}
	return nil
}

// Orders returns journaled orders matching the filter, newest first.
func (j *SQLiteJournal) Orders(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	query := `SELECT id, symbol, side, quantity, filled_qty, order_type,
		limit_price, stop_price, avg_price, tif, route, status, placed_at, updated_at
		FROM orders`

	var conditions []string
	var args []interface{}
	if filter.Symbol != "" {
		conditions = append(conditions, "symbol = ?")
		args = append(args, filter.Symbol)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "placed_at >= ?")
		args = append(args, filter.Since)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY placed_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var o models.Order
		var side, orderType, tif, route, status string
		var limitPrice, stopPrice, avgPrice sql.NullFloat64
		err := rows.Scan(&o.ID, &o.Symbol, &side, &o.Quantity, &o.FilledQty, &orderType,
			&limitPrice, &stopPrice, &avgPrice, &tif, &route, &status, &o.PlacedAt, &o.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		o.Side = models.OrderSide(side)
		o.Type = models.OrderType(orderType)
		o.TIF = models.TimeInForce(tif)
		o.Route = models.Route(route)
		o.Status = models.OrderStatus(status)
		o.LimitPrice = limitPrice.Float64
		o.StopPrice = stopPrice.Float64
		o.AvgPrice = avgPrice.Float64
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Fills returns journaled executions for a symbol since a time, oldest
// first. An empty symbol matches all symbols.
func (j *SQLiteJournal) Fills(ctx context.Context, symbol string, since time.Time) ([]FillRecord, error) {
	query := `SELECT order_id, symbol, side, quantity, price, timestamp FROM fills WHERE timestamp >= ?`
	args := []interface{}{since}
	if symbol != "" {
		query += " AND symbol = ?"
		args = append(args, symbol)
	}
	query += " ORDER BY timestamp ASC"

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query fills: %w", err)
	}
	defer rows.Close()

	var fills []FillRecord
	for rows.Next() {
		var f FillRecord
		var side string
		if err := rows.Scan(&f.OrderID, &f.Symbol, &side, &f.Quantity, &f.Price, &f.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan fill: %w", err)
		}
		f.Side = models.OrderSide(side)
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// Close closes the database.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
