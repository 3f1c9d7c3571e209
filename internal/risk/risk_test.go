package risk

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jefrnc/das-bridge/internal/errors"
	"github.com/jefrnc/das-bridge/internal/models"
)

func bp(amount float64) models.BuyingPower {
	return models.BuyingPower{BuyingPower: amount, UpdatedAt: time.Now()}
}

func TestValidateOrderPasses(t *testing.T) {
	c := NewChecker(Limits{MaxPositionValue: 50000, MaxShares: 10000, MinPrice: 0.10}, zerolog.Nop())

	err := c.ValidateOrder(models.OrderRequest{
		Symbol: "AAPL", Side: models.SideBuy, Quantity: 100, Type: models.TypeLimit, LimitPrice: 185.5,
	}, 185.5, bp(100000))
	if err != nil {
		t.Fatalf("ValidateOrder: %v", err)
	}
}

func TestValidateOrderRejectsNonPositiveQuantity(t *testing.T) {
	c := NewChecker(Limits{}, zerolog.Nop())
	err := c.ValidateOrder(models.OrderRequest{Symbol: "AAPL", Side: models.SideBuy}, 10, bp(100000))
	if !errors.Is(err, errors.ErrInvalidOrder) {
		t.Fatalf("err = %v, want ErrInvalidOrder", err)
	}
}

func TestValidateOrderShareLimit(t *testing.T) {
	c := NewChecker(Limits{MaxShares: 500}, zerolog.Nop())
	err := c.ValidateOrder(models.OrderRequest{
		Symbol: "AAPL", Side: models.SideBuy, Quantity: 1000,
	}, 10, bp(1_000_000))

	var riskErr *errors.RiskError
	if !errors.As(err, &riskErr) {
		t.Fatalf("err = %v, want RiskError", err)
	}
	if riskErr.Rule != "max_shares" {
		t.Errorf("Rule = %q, want max_shares", riskErr.Rule)
	}
}

func TestValidateOrderNotionalLimit(t *testing.T) {
	c := NewChecker(Limits{MaxPositionValue: 10000}, zerolog.Nop())
	err := c.ValidateOrder(models.OrderRequest{
		Symbol: "AAPL", Side: models.SideBuy, Quantity: 100,
	}, 185.5, bp(1_000_000))

	var riskErr *errors.RiskError
	if !errors.As(err, &riskErr) {
		t.Fatalf("err = %v, want RiskError", err)
	}
	if riskErr.Rule != "max_position_value" {
		t.Errorf("Rule = %q, want max_position_value", riskErr.Rule)
	}
}

func TestValidateOrderBuyingPower(t *testing.T) {
	c := NewChecker(Limits{}, zerolog.Nop())
	err := c.ValidateOrder(models.OrderRequest{
		Symbol: "AAPL", Side: models.SideBuy, Quantity: 1000,
	}, 185.5, bp(10000))

	var riskErr *errors.RiskError
	if !errors.As(err, &riskErr) {
		t.Fatalf("err = %v, want RiskError", err)
	}
	if riskErr.Rule != "buying_power" {
		t.Errorf("Rule = %q, want buying_power", riskErr.Rule)
	}

	// Sells do not consume buying power.
	err = c.ValidateOrder(models.OrderRequest{
		Symbol: "AAPL", Side: models.SideSell, Quantity: 1000,
	}, 185.5, bp(10000))
	if err != nil {
		t.Fatalf("sell rejected on buying power: %v", err)
	}
}

func TestValidateOrderWithoutReferencePrice(t *testing.T) {
	c := NewChecker(Limits{MaxPositionValue: 100, MinPrice: 1}, zerolog.Nop())
	// No reference price: defer the notional checks to the terminal.
	err := c.ValidateOrder(models.OrderRequest{
		Symbol: "AAPL", Side: models.SideBuy, Quantity: 100, Type: models.TypeMarket,
	}, 0, bp(0))
	if err != nil {
		t.Fatalf("ValidateOrder without price: %v", err)
	}
}

func TestValidateOrderMinPrice(t *testing.T) {
	c := NewChecker(Limits{MinPrice: 1.0}, zerolog.Nop())
	err := c.ValidateOrder(models.OrderRequest{
		Symbol: "PENY", Side: models.SideBuy, Quantity: 100,
	}, 0.05, bp(10000))

	var riskErr *errors.RiskError
	if !errors.As(err, &riskErr) {
		t.Fatalf("err = %v, want RiskError", err)
	}
	if riskErr.Rule != "min_price" {
		t.Errorf("Rule = %q, want min_price", riskErr.Rule)
	}
}

func TestPositionSize(t *testing.T) {
	// Risk $100 with $0.50 between entry and stop: 200 shares.
	if got := PositionSize(100, 10.0, 9.5); got != 200 {
		t.Errorf("PositionSize = %d, want 200", got)
	}
	// Shorts size the same way.
	if got := PositionSize(100, 9.5, 10.0); got != 200 {
		t.Errorf("short PositionSize = %d, want 200", got)
	}
	if got := PositionSize(100, 10.0, 10.0); got != 0 {
		t.Errorf("zero-distance PositionSize = %d, want 0", got)
	}
	if got := PositionSize(0, 10.0, 9.5); got != 0 {
		t.Errorf("zero-risk PositionSize = %d, want 0", got)
	}
}

func TestSuggestStop(t *testing.T) {
	if got := SuggestStop(100, models.SideBuy, 2); got != 98 {
		t.Errorf("long stop = %v, want 98", got)
	}
	if got := SuggestStop(100, models.SideShort, 2); got != 102 {
		t.Errorf("short stop = %v, want 102", got)
	}
}

func TestMaxShares(t *testing.T) {
	if got := MaxShares(bp(10000), 185.5); got != 53 {
		t.Errorf("MaxShares = %d, want 53", got)
	}
	if got := MaxShares(bp(10000), 0); got != 0 {
		t.Errorf("MaxShares at zero price = %d, want 0", got)
	}
}
