package tp_sl

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/JacobJanuary/TradingBot-sub006/src/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestComputeNextStopLoss_LongRaisesFromExtreme(t *testing.T) {
	sl, moved := ComputeNextStopLossDirectional(model.SideLong, d("98"), d("105"), d("105"), d("1"), d("0.1"))
	if !moved {
		t.Fatalf("expected moved=true")
	}
	if !sl.Equal(d("103.95")) {
		t.Fatalf("expected sl=103.95, got=%s", sl.String())
	}
}

func TestComputeNextStopLoss_LongNeverRetreats(t *testing.T) {
	sl, moved := ComputeNextStopLossDirectional(model.SideLong, d("103.95"), d("105"), d("104"), d("1"), d("0.1"))
	if moved {
		t.Fatalf("expected moved=false")
	}
	if !sl.Equal(d("103.95")) {
		t.Fatalf("expected sl unchanged, got=%s", sl.String())
	}
}

func TestComputeNextStopLoss_LongClampedBelowPrice(t *testing.T) {
	// extreme 110 -> 108.9, but price already dropped to 108
	sl, moved := ComputeNextStopLossDirectional(model.SideLong, d("103.95"), d("110"), d("108"), d("1"), d("0.1"))
	if !moved {
		t.Fatalf("expected moved=true")
	}
	if !sl.Equal(d("107.892")) {
		t.Fatalf("expected sl=107.892, got=%s", sl.String())
	}
}

func TestComputeNextStopLoss_ShortLowersFromExtreme(t *testing.T) {
	sl, moved := ComputeNextStopLossDirectional(model.SideShort, d("102"), d("95"), d("95"), d("1"), d("0.1"))
	if !moved {
		t.Fatalf("expected moved=true")
	}
	if !sl.Equal(d("95.95")) {
		t.Fatalf("expected sl=95.95, got=%s", sl.String())
	}
}

func TestComputeNextStopLoss_ShortClampedAbovePrice(t *testing.T) {
	sl, moved := ComputeNextStopLossDirectional(model.SideShort, d("95.95"), d("90"), d("91"), d("1"), d("0.1"))
	if !moved {
		t.Fatalf("expected moved=true")
	}
	if !sl.Equal(d("91.091")) {
		t.Fatalf("expected sl=91.091, got=%s", sl.String())
	}
}

func TestComputeNextStopLoss_UnknownSide(t *testing.T) {
	sl, moved := ComputeNextStopLossDirectional(model.Side("buy"), d("98"), d("105"), d("105"), d("1"), d("0.1"))
	if moved || !sl.Equal(d("98")) {
		t.Fatalf("expected no move for unnormalized side, got=%s moved=%v", sl.String(), moved)
	}
}

func TestReachedActivation(t *testing.T) {
	if !ReachedActivation(model.SideLong, d("100"), d("102"), d("2")) {
		t.Fatalf("long at +2%% should activate")
	}
	if ReachedActivation(model.SideLong, d("100"), d("101.99"), d("2")) {
		t.Fatalf("long below +2%% should not activate")
	}
	if !ReachedActivation(model.SideShort, d("100"), d("98"), d("2")) {
		t.Fatalf("short at -2%% should activate")
	}
	if ReachedActivation(model.SideShort, d("100"), d("103"), d("2")) {
		t.Fatalf("short moving up should not activate")
	}
}

func TestTrailingStopIsMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, side := range []model.Side{model.SideLong, model.SideShort} {
		price := d("100")
		extreme := price
		stop := decimal.Zero
		for i := 0; i < 2000; i++ {
			step := decimal.NewFromFloat(rng.Float64()*4 - 2).Round(4)
			price = price.Add(step)
			if !price.IsPositive() {
				price = d("1")
			}
			extreme = NextExtreme(side, extreme, price)
			next, _ := ComputeNextStopLossDirectional(side, stop, extreme, price, d("1"), d("0.1"))
			if !stop.IsZero() {
				if side == model.SideLong && next.LessThan(stop) {
					t.Fatalf("long stop retreated from %s to %s at step %d", stop, next, i)
				}
				if side == model.SideShort && next.GreaterThan(stop) {
					t.Fatalf("short stop retreated from %s to %s at step %d", stop, next, i)
				}
			}
			stop = next
		}
	}
}

func TestImprovement(t *testing.T) {
	if got := Improvement(d("100"), d("101")); !got.Equal(d("1")) {
		t.Fatalf("expected 1, got=%s", got.String())
	}
	if got := Improvement(decimal.Zero, d("5")); !got.Equal(d("100")) {
		t.Fatalf("expected 100 for first stop, got=%s", got.String())
	}
}
