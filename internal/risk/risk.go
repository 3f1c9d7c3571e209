// Package risk provides pre-trade checks and position sizing helpers.
package risk

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/jefrnc/das-bridge/internal/errors"
	"github.com/jefrnc/das-bridge/internal/models"
)

// Limits configures the pre-trade checks.
type Limits struct {
	MaxPositionValue float64 // dollars per position, 0 disables
	MaxShares        int64   // shares per order, 0 disables
	MinPrice         float64 // reject entries below this price
}

// Checker validates orders against account state and static limits.
type Checker struct {
	limits Limits
	log    zerolog.Logger
}

// NewChecker creates a pre-trade checker.
func NewChecker(limits Limits, logger zerolog.Logger) *Checker {
	return &Checker{
		limits: limits,
		log:    logger.With().Str("component", "risk").Logger(),
	}
}

// ValidateOrder runs the static checks and the buying power check against
// an order about to go on the wire. price is the order's limit price, or
// the last trade for market orders.
func (c *Checker) ValidateOrder(req models.OrderRequest, price float64, bp models.BuyingPower) error {
	if req.Quantity <= 0 {
		return errors.ErrInvalidOrder
	}
	if c.limits.MaxShares > 0 && req.Quantity > c.limits.MaxShares {
		return errors.NewRiskError("max_shares", float64(req.Quantity), float64(c.limits.MaxShares),
			"order size exceeds the per-order share limit")
	}
	if price <= 0 {
		// No reference price; the terminal will enforce its own checks.
		return nil
	}
	if c.limits.MinPrice > 0 && price < c.limits.MinPrice {
		return errors.NewRiskError("min_price", price, c.limits.MinPrice,
			"price below the minimum tradable price")
	}

	notional := float64(req.Quantity) * price
	if c.limits.MaxPositionValue > 0 && notional > c.limits.MaxPositionValue {
		return errors.NewRiskError("max_position_value", notional, c.limits.MaxPositionValue,
			"order notional exceeds the position value limit")
	}
	if req.Side.IsBuy() && bp.BuyingPower > 0 && notional > bp.BuyingPower {
		return errors.NewRiskError("buying_power", notional, bp.BuyingPower,
			"order notional exceeds available buying power")
	}
	return nil
}

// PositionSize returns the share count that risks at most riskDollars
// between entry and stop, rounded down to a whole share.
func PositionSize(riskDollars, entry, stop float64) int64 {
	perShare := math.Abs(entry - stop)
	if perShare <= 0 || riskDollars <= 0 {
		return 0
	}
	return int64(riskDollars / perShare)
}

// SuggestStop returns a stop price the given fraction away from entry, on
// the losing side for the order's direction.
func SuggestStop(entry float64, side models.OrderSide, percent float64) float64 {
	offset := entry * percent / 100
	if side.IsBuy() {
		return entry - offset
	}
	return entry + offset
}

// MaxShares returns the largest whole-share position the buying power
// supports at the given price.
func MaxShares(bp models.BuyingPower, price float64) int64 {
	if price <= 0 {
		return 0
	}
	return int64(bp.BuyingPower / price)
}
