// Package positions maintains the account's position table with
// weighted-average cost accounting and live P&L.
package positions

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jefrnc/das-bridge/internal/models"
	"github.com/jefrnc/das-bridge/internal/protocol"
)

// UpdateHandler is invoked after a position changes, outside the lock.
type UpdateHandler func(pos models.Position)

// Tracker holds positions keyed by symbol, plus the latest account buying
// power snapshot.
type Tracker struct {
	mu        sync.RWMutex
	positions map[string]*models.Position
	bp        models.BuyingPower
	log       zerolog.Logger

	onUpdate UpdateHandler
}

// NewTracker creates an empty position tracker.
func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{
		positions: make(map[string]*models.Position),
		log:       logger.With().Str("component", "positions").Logger(),
	}
}

// SetUpdateHandler installs the position update callback.
func (t *Tracker) SetUpdateHandler(h UpdateHandler) {
	t.mu.Lock()
	t.onUpdate = h
	t.mu.Unlock()
}

// ApplySnapshot folds a %POS snapshot in. The terminal is authoritative:
// snapshots replace quantity and average cost outright, preserving the
// realized P&L accumulated locally.
func (t *Tracker) ApplySnapshot(ev protocol.PositionEvent) {
	t.mu.Lock()
	pos := t.get(ev.Symbol)
	pos.Quantity = ev.Quantity
	pos.AverageCost = ev.AverageCost
	if ev.CurrentPrice > 0 {
		pos.LastPrice = ev.CurrentPrice
	}
	pos.UnrealizedPnL = unrealized(pos)
	pos.UpdatedAt = time.Now()
	t.finish(ev.Symbol, pos)
}

// ApplyFill folds one execution into the position. Buys add signed positive
// quantity, sells negative. Increasing an existing position reweights the
// average cost; reducing it realizes P&L on the closed portion; crossing
// through zero realizes the whole old side and opens the remainder at the
// fill price.
func (t *Tracker) ApplyFill(symbol string, side models.OrderSide, quantity int64, price float64) {
	if quantity <= 0 {
		// Watch-mode trade lines can carry a zero quantity.
		return
	}
	signed := quantity
	if !side.IsBuy() {
		signed = -quantity
	}

	t.mu.Lock()
	pos := t.get(symbol)
	oldQty := pos.Quantity
	newQty := oldQty + signed

	switch {
	case oldQty == 0 || sameSign(oldQty, signed):
		// Opening or adding: weighted average of old basis and fill.
		totalCost := pos.AverageCost*float64(abs(oldQty)) + price*float64(abs(signed))
		pos.AverageCost = totalCost / float64(abs(newQty))
	case sameSign(oldQty, newQty) || newQty == 0:
		// Partial or full close: realize the closed shares, keep basis.
		closed := abs(signed)
		pos.RealizedPnL += float64(closed) * (price - pos.AverageCost) * sign(oldQty)
		if newQty == 0 {
			pos.AverageCost = 0
		}
	default:
		// Sign flip: close the whole old side, reopen the rest at the
		// fill price.
		pos.RealizedPnL += float64(abs(oldQty)) * (price - pos.AverageCost) * sign(oldQty)
		pos.AverageCost = price
	}

	pos.Quantity = newQty
	pos.LastPrice = price
	pos.UnrealizedPnL = unrealized(pos)
	pos.UpdatedAt = time.Now()

	t.log.Debug().
		Str("symbol", symbol).
		Int64("fill", signed).
		Float64("price", price).
		Int64("quantity", newQty).
		Float64("avg_cost", pos.AverageCost).
		Float64("realized", pos.RealizedPnL).
		Msg("fill applied")
	t.finish(symbol, pos)
}

// MarkPrice updates the unrealized P&L of a symbol from a quote tick.
func (t *Tracker) MarkPrice(symbol string, last float64) {
	if last <= 0 {
		return
	}
	t.mu.Lock()
	pos, ok := t.positions[symbol]
	if !ok || pos.Quantity == 0 {
		t.mu.Unlock()
		return
	}
	pos.LastPrice = last
	pos.UnrealizedPnL = unrealized(pos)
	pos.UpdatedAt = time.Now()
	t.finish(symbol, pos)
}

// SetBuyingPower stores the latest %BP snapshot.
func (t *Tracker) SetBuyingPower(ev protocol.BuyingPowerEvent) {
	t.mu.Lock()
	t.bp = models.BuyingPower{
		BuyingPower:  ev.BuyingPower,
		DayTradingBP: ev.DayTradingBP,
		OvernightBP:  ev.OvernightBP,
		Cash:         ev.Cash,
		UpdatedAt:    time.Now(),
	}
	t.mu.Unlock()
}

// BuyingPower returns the latest account snapshot.
func (t *Tracker) BuyingPower() models.BuyingPower {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bp
}

// Get returns the position for a symbol.
func (t *Tracker) Get(symbol string) (models.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pos, ok := t.positions[symbol]
	if !ok {
		return models.Position{}, false
	}
	return *pos, true
}

// All returns every position, including flat ones that traded today.
func (t *Tracker) All() []models.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.Position, 0, len(t.positions))
	for _, pos := range t.positions {
		out = append(out, *pos)
	}
	return out
}

// Open returns every nonzero position.
func (t *Tracker) Open() []models.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []models.Position
	for _, pos := range t.positions {
		if pos.Quantity != 0 {
			out = append(out, *pos)
		}
	}
	return out
}

// get returns the entry for symbol, creating it if missing. Caller holds
// the lock.
func (t *Tracker) get(symbol string) *models.Position {
	pos, ok := t.positions[symbol]
	if !ok {
		pos = &models.Position{Symbol: symbol}
		t.positions[symbol] = pos
	}
	return pos
}

// finish snapshots the position, releases the lock and fires the callback.
func (t *Tracker) finish(symbol string, pos *models.Position) {
	snapshot := *pos
	onUpdate := t.onUpdate
	t.mu.Unlock()
	if onUpdate != nil {
		onUpdate(snapshot)
	}
}

func unrealized(pos *models.Position) float64 {
	if pos.Quantity == 0 || pos.LastPrice <= 0 {
		return 0
	}
	return (pos.LastPrice - pos.AverageCost) * float64(pos.Quantity)
}

func sameSign(a, b int64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
