package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jefrnc/das-bridge/internal/models"
)

func newJournal(t *testing.T) *SQLiteJournal {
	t.Helper()
	j, err := NewSQLiteJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("NewSQLiteJournal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func sampleOrder(id string, status models.OrderStatus) models.Order {
	now := time.Now().UTC().Truncate(time.Second)
	return models.Order{
		ID:         id,
		Symbol:     "AAPL",
		Side:       models.SideBuy,
		Quantity:   100,
		Type:       models.TypeLimit,
		LimitPrice: 185.5,
		TIF:        models.TIFDay,
		Route:      models.RouteARCA,
		Status:     status,
		PlacedAt:   now,
		UpdatedAt:  now,
	}
}

func TestRecordAndQueryOrders(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()

	if err := j.RecordOrder(ctx, sampleOrder("a1", models.StatusNew)); err != nil {
		t.Fatalf("RecordOrder: %v", err)
	}

	orders, err := j.Orders(ctx, OrderFilter{})
	if err != nil {
		t.Fatalf("Orders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("got %d orders, want 1", len(orders))
	}
	got := orders[0]
	if got.ID != "a1" || got.Symbol != "AAPL" || got.Status != models.StatusNew {
		t.Errorf("order = %+v", got)
	}
	if got.LimitPrice != 185.5 || got.Route != models.RouteARCA {
		t.Errorf("order fields = %+v", got)
	}
}

func TestRecordOrderUpserts(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()

	order := sampleOrder("a1", models.StatusNew)
	if err := j.RecordOrder(ctx, order); err != nil {
		t.Fatalf("RecordOrder: %v", err)
	}

	order.Status = models.StatusFilled
	order.FilledQty = 100
	order.AvgPrice = 185.49
	order.UpdatedAt = order.UpdatedAt.Add(time.Second)
	if err := j.RecordOrder(ctx, order); err != nil {
		t.Fatalf("RecordOrder update: %v", err)
	}

	orders, err := j.Orders(ctx, OrderFilter{})
	if err != nil {
		t.Fatalf("Orders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("upsert created %d rows, want 1", len(orders))
	}
	if orders[0].Status != models.StatusFilled || orders[0].FilledQty != 100 {
		t.Errorf("upserted order = %+v", orders[0])
	}
}

func TestOrderFilters(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()

	a := sampleOrder("a1", models.StatusFilled)
	b := sampleOrder("b1", models.StatusNew)
	b.Symbol = "TSLA"
	j.RecordOrder(ctx, a)
	j.RecordOrder(ctx, b)

	bySymbol, err := j.Orders(ctx, OrderFilter{Symbol: "TSLA"})
	if err != nil {
		t.Fatalf("Orders by symbol: %v", err)
	}
	if len(bySymbol) != 1 || bySymbol[0].ID != "b1" {
		t.Errorf("symbol filter = %+v", bySymbol)
	}

	byStatus, err := j.Orders(ctx, OrderFilter{Status: models.StatusFilled})
	if err != nil {
		t.Fatalf("Orders by status: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].ID != "a1" {
		t.Errorf("status filter = %+v", byStatus)
	}

	limited, err := j.Orders(ctx, OrderFilter{Limit: 1})
	if err != nil {
		t.Fatalf("Orders with limit: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit filter returned %d rows", len(limited))
	}
}

func TestRecordAndQueryFills(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	fills := []FillRecord{
		{OrderID: "a1", Symbol: "AAPL", Side: models.SideBuy, Quantity: 40, Price: 185.49, Timestamp: base},
		{OrderID: "a1", Symbol: "AAPL", Side: models.SideBuy, Quantity: 60, Price: 185.50, Timestamp: base.Add(time.Second)},
		{OrderID: "b1", Symbol: "TSLA", Side: models.SideSell, Quantity: 10, Price: 240.0, Timestamp: base.Add(2 * time.Second)},
	}
	for _, f := range fills {
		if err := j.RecordFill(ctx, f); err != nil {
			t.Fatalf("RecordFill: %v", err)
		}
	}

	got, err := j.Fills(ctx, "AAPL", base.Add(-time.Minute))
	if err != nil {
		t.Fatalf("Fills: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d fills, want 2", len(got))
	}
	// Oldest first.
	if got[0].Quantity != 40 || got[1].Quantity != 60 {
		t.Errorf("fill order = %+v", got)
	}

	all, err := j.Fills(ctx, "", base.Add(-time.Minute))
	if err != nil {
		t.Fatalf("Fills all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("got %d fills across symbols, want 3", len(all))
	}
}

func TestRecordLocateAndSessionEvent(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()

	err := j.RecordLocate(ctx, models.LocateAnalysis{
		Symbol:        "GSIT",
		DesiredShares: 100,
		LocateShares:  100,
		Rate:          0.000625,
		TotalCost:     0.0625,
		Approved:      true,
		Reasons:       []string{"cost $0.0625 within caps"},
	})
	if err != nil {
		t.Fatalf("RecordLocate: %v", err)
	}

	if err := j.RecordSessionEvent(ctx, "ready"); err != nil {
		t.Fatalf("RecordSessionEvent: %v", err)
	}
}

func TestNoOpJournal(t *testing.T) {
	var j Journal = NoOpJournal{}
	ctx := context.Background()

	if err := j.RecordOrder(ctx, models.Order{}); err != nil {
		t.Errorf("RecordOrder: %v", err)
	}
	if err := j.RecordFill(ctx, FillRecord{}); err != nil {
		t.Errorf("RecordFill: %v", err)
	}
	orders, err := j.Orders(ctx, OrderFilter{})
	if err != nil || orders != nil {
		t.Errorf("Orders = %v, %v", orders, err)
	}
}
