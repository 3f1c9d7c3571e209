package positions

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"github.com/jefrnc/das-bridge/internal/models"
	"github.com/jefrnc/das-bridge/internal/protocol"
)

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestApplyFillOpensAndAverages(t *testing.T) {
	tr := NewTracker(zerolog.Nop())

	tr.ApplyFill("AAPL", models.SideBuy, 100, 10.0)
	pos, _ := tr.Get("AAPL")
	if pos.Quantity != 100 || !approxEqual(pos.AverageCost, 10.0) {
		t.Fatalf("after open: %+v", pos)
	}

	// 100 @ 10 + 100 @ 12 = 200 @ 11.
	tr.ApplyFill("AAPL", models.SideBuy, 100, 12.0)
	pos, _ = tr.Get("AAPL")
	if pos.Quantity != 200 || !approxEqual(pos.AverageCost, 11.0) {
		t.Fatalf("after add: %+v", pos)
	}
	if pos.RealizedPnL != 0 {
		t.Errorf("adds must not realize: %v", pos.RealizedPnL)
	}
}

func TestApplyFillIgnoresZeroQuantity(t *testing.T) {
	tr := NewTracker(zerolog.Nop())

	// A zero-quantity trade line on a flat symbol must not open a
	// position, and certainly not divide by zero.
	tr.ApplyFill("AAPL", models.SideBuy, 0, 10.0)
	if _, ok := tr.Get("AAPL"); ok {
		t.Fatal("zero-quantity fill created a position")
	}

	tr.ApplyFill("AAPL", models.SideBuy, 100, 10.0)
	tr.ApplyFill("AAPL", models.SideSell, 0, 12.0)
	pos, _ := tr.Get("AAPL")
	if pos.Quantity != 100 || !approxEqual(pos.AverageCost, 10.0) {
		t.Errorf("zero-quantity fill changed the position: %+v", pos)
	}
	if math.IsNaN(pos.AverageCost) || math.IsNaN(pos.UnrealizedPnL) {
		t.Errorf("position poisoned with NaN: %+v", pos)
	}
}

func TestApplyFillReducesAndRealizes(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	tr.ApplyFill("AAPL", models.SideBuy, 100, 10.0)

	// Sell 50 @ 12: realize (12-10)*50 = 100; basis keeps 10.
	tr.ApplyFill("AAPL", models.SideSell, 50, 12.0)
	pos, _ := tr.Get("AAPL")
	if pos.Quantity != 50 || !approxEqual(pos.AverageCost, 10.0) {
		t.Fatalf("after reduce: %+v", pos)
	}
	if !approxEqual(pos.RealizedPnL, 100.0) {
		t.Errorf("RealizedPnL = %v, want 100", pos.RealizedPnL)
	}

	// Close remainder @ 9: realize (9-10)*50 = -50; basis resets.
	tr.ApplyFill("AAPL", models.SideSell, 50, 9.0)
	pos, _ = tr.Get("AAPL")
	if pos.Quantity != 0 || pos.AverageCost != 0 {
		t.Fatalf("after close: %+v", pos)
	}
	if !approxEqual(pos.RealizedPnL, 50.0) {
		t.Errorf("RealizedPnL = %v, want 50", pos.RealizedPnL)
	}
}

func TestApplyFillSignFlip(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	tr.ApplyFill("GME", models.SideBuy, 100, 20.0)

	// Sell 150 @ 25: realize (25-20)*100 = 500, reopen short 50 @ 25.
	tr.ApplyFill("GME", models.SideSell, 150, 25.0)
	pos, _ := tr.Get("GME")
	if pos.Quantity != -50 || !approxEqual(pos.AverageCost, 25.0) {
		t.Fatalf("after flip: %+v", pos)
	}
	if !approxEqual(pos.RealizedPnL, 500.0) {
		t.Errorf("RealizedPnL = %v, want 500", pos.RealizedPnL)
	}
}

func TestShortPositionAccounting(t *testing.T) {
	tr := NewTracker(zerolog.Nop())

	tr.ApplyFill("GME", models.SideShort, 500, 25.0)
	pos, _ := tr.Get("GME")
	if pos.Quantity != -500 || !approxEqual(pos.AverageCost, 25.0) {
		t.Fatalf("after short open: %+v", pos)
	}

	// Cover 200 @ 23: short side realizes (25-23)*200 = 400.
	tr.ApplyFill("GME", models.SideBuy, 200, 23.0)
	pos, _ = tr.Get("GME")
	if pos.Quantity != -300 {
		t.Fatalf("after cover: %+v", pos)
	}
	if !approxEqual(pos.RealizedPnL, 400.0) {
		t.Errorf("RealizedPnL = %v, want 400", pos.RealizedPnL)
	}
}

func TestMarkPriceUpdatesUnrealized(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	tr.ApplyFill("AAPL", models.SideBuy, 100, 10.0)

	tr.MarkPrice("AAPL", 12.5)
	pos, _ := tr.Get("AAPL")
	if !approxEqual(pos.UnrealizedPnL, 250.0) {
		t.Errorf("UnrealizedPnL = %v, want 250", pos.UnrealizedPnL)
	}

	// Flat symbols and unknown symbols are no-ops.
	tr.MarkPrice("TSLA", 100)
	if _, ok := tr.Get("TSLA"); ok {
		t.Error("MarkPrice created a position")
	}
}

func TestSnapshotReplacesButPreservesRealized(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	tr.ApplyFill("AAPL", models.SideBuy, 100, 10.0)
	tr.ApplyFill("AAPL", models.SideSell, 50, 12.0)

	ev, ok := protocol.Parse("%POS AAPL 80 10.5000 11.0000").(protocol.PositionEvent)
	if !ok {
		t.Fatal("position line did not parse")
	}
	tr.ApplySnapshot(ev)

	pos, _ := tr.Get("AAPL")
	if pos.Quantity != 80 || !approxEqual(pos.AverageCost, 10.5) {
		t.Fatalf("snapshot not applied: %+v", pos)
	}
	if !approxEqual(pos.RealizedPnL, 100.0) {
		t.Errorf("snapshot discarded realized P&L: %v", pos.RealizedPnL)
	}
}

func TestBuyingPowerSnapshot(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	ev, ok := protocol.Parse("%BP 100000.00 400000.00 50000.00 25000.00").(protocol.BuyingPowerEvent)
	if !ok {
		t.Fatal("buying power line did not parse")
	}
	tr.SetBuyingPower(ev)

	bp := tr.BuyingPower()
	if bp.BuyingPower != 100000 || bp.DayTradingBP != 400000 {
		t.Errorf("buying power = %+v", bp)
	}
	if bp.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not stamped")
	}
}

func TestOpenExcludesFlatPositions(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	tr.ApplyFill("AAPL", models.SideBuy, 100, 10.0)
	tr.ApplyFill("AAPL", models.SideSell, 100, 11.0)
	tr.ApplyFill("TSLA", models.SideBuy, 10, 240.0)

	if got := len(tr.Open()); got != 1 {
		t.Errorf("Open() = %d, want 1", got)
	}
	// The flat position stays visible in All for day P&L reporting.
	if got := len(tr.All()); got != 2 {
		t.Errorf("All() = %d, want 2", got)
	}
}

// Property: for any sequence of buys fully closed by one sell, realized P&L
// equals proceeds minus cost, and the position ends flat with zero basis.
func TestProperty_RoundTripRealizesProceedsMinusCost(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("round trip realizes proceeds minus cost", prop.ForAll(
		func(lots []int, buyCents int, sellCents int) bool {
			if len(lots) == 0 {
				return true
			}
			tr := NewTracker(zerolog.Nop())

			buyPrice := float64(buyCents) / 100
			sellPrice := float64(sellCents) / 100

			var total int64
			var cost float64
			for i, lot := range lots {
				// Step the buy price so averaging actually happens.
				p := buyPrice + float64(i)*0.01
				tr.ApplyFill("X", models.SideBuy, int64(lot), p)
				total += int64(lot)
				cost += float64(lot) * p
			}

			tr.ApplyFill("X", models.SideSell, total, sellPrice)

			pos, _ := tr.Get("X")
			if pos.Quantity != 0 || pos.AverageCost != 0 {
				return false
			}
			want := sellPrice*float64(total) - cost
			return math.Abs(pos.RealizedPnL-want) < 1e-6
		},
		gen.SliceOfN(4, gen.IntRange(1, 500)),
		gen.IntRange(100, 50000),
		gen.IntRange(100, 50000),
	))

	properties.TestingRun(t)
}

// Property: average cost after a series of same-side adds equals total cost
// over total shares.
func TestProperty_AverageCostIsWeightedMean(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("average cost is the weighted mean of the adds", prop.ForAll(
		func(lots []int, baseCents int) bool {
			if len(lots) == 0 {
				return true
			}
			tr := NewTracker(zerolog.Nop())

			var total int64
			var cost float64
			for i, lot := range lots {
				p := float64(baseCents)/100 + float64(i)*0.05
				tr.ApplyFill("X", models.SideBuy, int64(lot), p)
				total += int64(lot)
				cost += float64(lot) * p
			}

			pos, _ := tr.Get("X")
			if pos.Quantity != total {
				return false
			}
			return math.Abs(pos.AverageCost-cost/float64(total)) < 1e-6
		},
		gen.SliceOfN(5, gen.IntRange(1, 1000)),
		gen.IntRange(100, 20000),
	))

	properties.TestingRun(t)
}
