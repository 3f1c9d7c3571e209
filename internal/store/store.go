// Package store persists the trading journal: orders, fills, locate
// decisions and session events.
package store

import (
	"context"
	"time"

	"github.com/jefrnc/das-bridge/internal/models"
)

// Journal is the persistence surface used by the engine. All writes are
// best effort from the engine's point of view; a journal failure never
// blocks trading.
type Journal interface {
	RecordOrder(ctx context.Context, order models.Order) error
	RecordFill(ctx context.Context, fill FillRecord) error
	RecordLocate(ctx context.Context, analysis models.LocateAnalysis) error
	RecordSessionEvent(ctx context.Context, state string) error

	Orders(ctx context.Context, filter OrderFilter) ([]models.Order, error)
	Fills(ctx context.Context, symbol string, since time.Time) ([]FillRecord, error)
	Close() error
}

// FillRecord is one persisted execution.
type FillRecord struct {
	OrderID   string
	Symbol    string
	Side      models.OrderSide
	Quantity  int64
	Price     float64
	Timestamp time.Time
}

// OrderFilter narrows journal order queries. Zero values match everything.
type OrderFilter struct {
	Symbol string
	Status models.OrderStatus
	Since  time.Time
	Limit  int
}

// NoOpJournal discards all records. Used when the journal is disabled.
type NoOpJournal struct{}

func (NoOpJournal) RecordOrder(context.Context, models.Order) error            { return nil }
func (NoOpJournal) RecordFill(context.Context, FillRecord) error               { return nil }
func (NoOpJournal) RecordLocate(context.Context, models.LocateAnalysis) error  { return nil }
func (NoOpJournal) RecordSessionEvent(context.Context, string) error           { return nil }
func (NoOpJournal) Orders(context.Context, OrderFilter) ([]models.Order, error) {
	return nil, nil
}
func (NoOpJournal) Fills(context.Context, string, time.Time) ([]FillRecord, error) {
	return nil, nil
}
func (NoOpJournal) Close() error { return nil }
