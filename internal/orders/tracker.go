// Package orders tracks the live order book of the session: every order the
// engine placed plus any order the terminal reports that the engine has
// never seen.
package orders

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jefrnc/das-bridge/internal/models"
	"github.com/jefrnc/das-bridge/internal/protocol"
)

// UpdateHandler is invoked after an order changes, outside the tracker lock.
type UpdateHandler func(order models.Order)

// FillHandler is invoked when an update increases an order's filled
// quantity. delta is the newly filled amount.
type FillHandler func(order models.Order, delta int64, price float64)

// Tracker holds the in-memory order table keyed by order id.
type Tracker struct {
	mu     sync.RWMutex
	orders map[string]*models.Order
	log    zerolog.Logger

	onUpdate UpdateHandler
	onFill   FillHandler
}

// NewTracker creates an empty order tracker.
func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{
		orders: make(map[string]*models.Order),
		log:    logger.With().Str("component", "orders").Logger(),
	}
}

// SetUpdateHandler installs the order update callback.
func (t *Tracker) SetUpdateHandler(h UpdateHandler) {
	t.mu.Lock()
	t.onUpdate = h
	t.mu.Unlock()
}

// SetFillHandler installs the fill callback.
func (t *Tracker) SetFillHandler(h FillHandler) {
	t.mu.Lock()
	t.onFill = h
	t.mu.Unlock()
}

// Register records a just-submitted order under its client token, so the
// caller sees it immediately as PENDING even before the terminal echoes it.
func (t *Tracker) Register(token string, req models.OrderRequest) models.Order {
	now := time.Now()
	order := models.Order{
		ID:         token,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Quantity:   req.Quantity,
		Type:       req.Type,
		LimitPrice: req.LimitPrice,
		StopPrice:  req.StopPrice,
		TIF:        req.TIF,
		Route:      req.Route,
		Status:     models.StatusPending,
		PlacedAt:   now,
		UpdatedAt:  now,
	}

	t.mu.Lock()
	t.orders[token] = &order
	t.mu.Unlock()
	return order
}

// Apply folds an %ORDER event into the table. Unknown ids create a new
// entry; the terminal is authoritative for orders placed outside this
// session. Terminal states are immutable: a stale update arriving after
// FILLED or CANCELLED is dropped.
func (t *Tracker) Apply(ev protocol.OrderEvent) {
	t.mu.Lock()

	order, ok := t.orders[ev.OrderID]
	if !ok {
		order = &models.Order{
			ID:       ev.OrderID,
			Symbol:   ev.Symbol,
			Side:     ev.Side,
			Quantity: ev.Quantity,
			Type:     ev.OrderType,
			PlacedAt: timestampOr(ev.Timestamp, time.Now()),
		}
		t.orders[ev.OrderID] = order
	}

	if order.Status.IsTerminal() && order.Status != ev.Status {
		t.mu.Unlock()
		t.log.Debug().
			Str("order_id", ev.OrderID).
			Str("from", string(order.Status)).
			Str("to", string(ev.Status)).
			Msg("ignoring update to terminal order")
		return
	}

	prevFilled := order.FilledQty
	prevAvg := order.AvgPrice

	order.Symbol = ev.Symbol
	order.Side = ev.Side
	if ev.Quantity > 0 {
		order.Quantity = ev.Quantity
	}
	if ev.Price > 0 && order.Type != models.TypeMarket {
		order.LimitPrice = ev.Price
	}
	if ev.FilledQty > prevFilled {
		order.FilledQty = ev.FilledQty
	}
	if ev.AvgPrice > 0 {
		order.AvgPrice = ev.AvgPrice
	}
	if legalTransition(order.Status, ev.Status) {
		order.Status = ev.Status
	} else {
		t.log.Warn().
			Str("order_id", ev.OrderID).
			Str("from", string(order.Status)).
			Str("to", string(ev.Status)).
			Str("raw_status", ev.RawStatus).
			Msg("illegal order transition, keeping current status")
	}
	order.UpdatedAt = timestampOr(ev.Timestamp, time.Now())

	snapshot := *order
	delta := snapshot.FilledQty - prevFilled
	onUpdate, onFill := t.onUpdate, t.onFill
	t.mu.Unlock()

	if onUpdate != nil {
		onUpdate(snapshot)
	}
	if delta > 0 && onFill != nil {
		onFill(snapshot, delta, fillPrice(snapshot, ev, prevFilled, prevAvg, delta))
	}
}

// ApplyAction folds an %OrderAct cancel/replace acknowledgement in.
func (t *Tracker) ApplyAction(ev protocol.OrderActionEvent) {
	t.mu.Lock()
	order, ok := t.orders[ev.OrderID]
	if !ok {
		t.mu.Unlock()
		t.log.Debug().Str("order_id", ev.OrderID).Str("action", ev.Action).Msg("action for unknown order")
		return
	}

	status := models.NormalizeStatus(ev.Status)
	if !order.Status.IsTerminal() && legalTransition(order.Status, status) {
		order.Status = status
		order.UpdatedAt = time.Now()
	}
	snapshot := *order
	onUpdate := t.onUpdate
	t.mu.Unlock()

	if onUpdate != nil {
		onUpdate(snapshot)
	}
}

// Get returns the order with the given id.
func (t *Tracker) Get(orderID string) (models.Order, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	order, ok := t.orders[orderID]
	if !ok {
		return models.Order{}, false
	}
	return *order, true
}

// Open returns all orders not yet in a terminal state.
func (t *Tracker) Open() []models.Order {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []models.Order
	for _, order := range t.orders {
		if order.IsOpen() {
			out = append(out, *order)
		}
	}
	return out
}

// All returns every tracked order.
func (t *Tracker) All() []models.Order {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.Order, 0, len(t.orders))
	for _, order := range t.orders {
		out = append(out, *order)
	}
	return out
}

// BySymbol returns every tracked order for one symbol.
func (t *Tracker) BySymbol(symbol string) []models.Order {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []models.Order
	for _, order := range t.orders {
		if order.Symbol == symbol {
			out = append(out, *order)
		}
	}
	return out
}

// legalTransition reports whether the order status graph permits moving
// from one state to the next. Self-transitions are allowed; they carry
// fresh fill data.
func legalTransition(from, to models.OrderStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case models.StatusPending:
		return true
	case models.StatusNew:
		return to != models.StatusPending
	case models.StatusPartiallyFilled:
		switch to {
		case models.StatusFilled, models.StatusCancelled, models.StatusRejected:
			return true
		}
		return false
	}
	return false
}

func timestampOr(ts, fallback time.Time) time.Time {
	if ts.IsZero() {
		return fallback
	}
	return ts
}

// fillPrice prices a fill delta. The terminal reports the cumulative
// average, so on a later partial the marginal price of the new shares is
// recovered from the two cumulative averages. Without an average the
// event price or order price stands in.
func fillPrice(order models.Order, ev protocol.OrderEvent, prevFilled int64, prevAvg float64, delta int64) float64 {
	if ev.AvgPrice > 0 {
		if prevFilled > 0 && prevAvg > 0 {
			return (ev.AvgPrice*float64(prevFilled+delta) - prevAvg*float64(prevFilled)) / float64(delta)
		}
		return ev.AvgPrice
	}
	if ev.Price > 0 {
		return ev.Price
	}
	return order.LimitPrice
}
