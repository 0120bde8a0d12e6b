package amm

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/babylon/engine/internal/apperr"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestCurrentPrice_SumsToOneExactly(t *testing.T) {
	one := decimal.NewFromInt(1)
	tests := []struct {
		yes, no float64
	}{
		{100, 100},
		{1, 3},
		{3, 7},
		{0.0001, 99999},
		{123.456789, 0.000123},
		{1e9, 1},
		{0, 0},
	}
	for _, tt := range tests {
		y, n := d(tt.yes), d(tt.no)
		sum := CurrentPrice(y, n, Yes).Add(CurrentPrice(y, n, No))
		if !sum.Equal(one) {
			t.Errorf("reserves (%v, %v): price sum = %s, want exactly 1", tt.yes, tt.no, sum)
		}
	}
}

func TestCurrentPrice_InverseToReserve(t *testing.T) {
	// More NO in the pool means YES is scarcer and dearer.
	if got := CurrentPrice(d(25), d(75), Yes); !got.Equal(d(0.75)) {
		t.Errorf("price(YES) = %s, want 0.75", got)
	}
	if got := CurrentPrice(d(25), d(75), No); !got.Equal(d(0.25)) {
		t.Errorf("price(NO) = %s, want 0.25", got)
	}
	if got := CurrentPrice(decimal.Zero, decimal.Zero, Yes); !got.Equal(d(0.5)) {
		t.Errorf("empty pool price = %s, want 0.5", got)
	}
}

func TestCalculateBuy_Yes(t *testing.T) {
	q, err := CalculateBuy(d(100), d(100), Yes, d(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// newNo = 200, newYes = 10000/200 = 50, shares = 100+100-50 = 150
	if !q.SharesBought.Equal(d(150)) {
		t.Errorf("shares = %s, want 150", q.SharesBought)
	}
	if !q.NewYes.Equal(d(50)) || !q.NewNo.Equal(d(200)) {
		t.Errorf("reserves = (%s, %s), want (50, 200)", q.NewYes, q.NewNo)
	}
	if !q.NewYesPrice.Equal(d(0.8)) || !q.NewNoPrice.Equal(d(0.2)) {
		t.Errorf("new prices = (%s, %s), want (0.8, 0.2)", q.NewYesPrice, q.NewNoPrice)
	}
	if !q.PriceImpact.Equal(d(60)) {
		t.Errorf("price impact = %s, want 60", q.PriceImpact)
	}
	if q.AvgPrice.Sub(d(0.6666666667)).Abs().GreaterThan(d(0.000001)) {
		t.Errorf("avg price = %s, want ~0.6667", q.AvgPrice)
	}
	if !q.OldPrice.Equal(d(0.5)) {
		t.Errorf("old price = %s, want 0.5", q.OldPrice)
	}
}

func TestCalculateBuy_NoMirrorsYes(t *testing.T) {
	qy, err := CalculateBuy(d(80), d(120), Yes, d(30))
	if err != nil {
		t.Fatal(err)
	}
	qn, err := CalculateBuy(d(120), d(80), No, d(30))
	if err != nil {
		t.Fatal(err)
	}
	if !qy.SharesBought.Equal(qn.SharesBought) {
		t.Errorf("mirror trades differ: %s vs %s", qy.SharesBought, qn.SharesBought)
	}
	if !qy.NewYesPrice.Equal(qn.NewNoPrice) {
		t.Errorf("mirror prices differ: %s vs %s", qy.NewYesPrice, qn.NewNoPrice)
	}
}

func TestCalculateBuy_ProductNeverShrinks(t *testing.T) {
	yes, no := d(500), d(300)
	k := yes.Mul(no)
	for i, amt := range []float64{1, 7.5, 33.333, 0.01, 120} {
		side := Yes
		if i%2 == 1 {
			side = No
		}
		q, err := CalculateBuy(yes, no, side, d(amt))
		if err != nil {
			t.Fatalf("trade %d: %v", i, err)
		}
		newK := q.NewYes.Mul(q.NewNo)
		if newK.LessThan(k) {
			t.Fatalf("trade %d: product shrank from %s to %s", i, k, newK)
		}
		if !q.NewYesPrice.Add(q.NewNoPrice).Equal(decimal.NewFromInt(1)) {
			t.Fatalf("trade %d: prices do not sum to 1", i)
		}
		yes, no, k = q.NewYes, q.NewNo, newK
	}
}

func TestCalculateBuy_BuyingRaisesSidePrice(t *testing.T) {
	for _, side := range []Side{Yes, No} {
		before := CurrentPrice(d(100), d(100), side)
		q, err := CalculateBuy(d(100), d(100), side, d(10))
		if err != nil {
			t.Fatal(err)
		}
		after := CurrentPrice(q.NewYes, q.NewNo, side)
		if !after.GreaterThan(before) {
			t.Errorf("%s: price did not rise (%s -> %s)", side, before, after)
		}
		if !q.AvgPrice.GreaterThan(before) || !q.AvgPrice.LessThan(after) {
			t.Errorf("%s: avg price %s outside (%s, %s)", side, q.AvgPrice, before, after)
		}
	}
}

func TestCalculateBuy_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yes, no float64
		side    Side
		amount  float64
		want    error
	}{
		{"zero amount", 100, 100, Yes, 0, ErrInvalidAmount},
		{"negative amount", 100, 100, No, -5, ErrInvalidAmount},
		{"empty reserves", 0, 100, Yes, 10, ErrInvalidReserves},
		{"bad side", 100, 100, Side("MAYBE"), 10, ErrInvalidSide},
		{"beyond max price", 100, 100, Yes, 10000, ErrPriceBoundExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CalculateBuy(d(tt.yes), d(tt.no), tt.side, d(tt.amount))
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if !errors.Is(ErrInvalidAmount, apperr.ErrValidation) {
		t.Error("ErrInvalidAmount should be a validation error")
	}
}

func TestParseSide(t *testing.T) {
	for in, want := range map[string]Side{"YES": Yes, "yes": Yes, " No ": No, "no": No} {
		got, err := ParseSide(in)
		if err != nil || got != want {
			t.Errorf("ParseSide(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseSide("up"); !errors.Is(err, ErrInvalidSide) {
		t.Errorf("expected ErrInvalidSide, got %v", err)
	}
	if Yes.Opposite() != No || No.Opposite() != Yes {
		t.Error("Opposite is wrong")
	}
}

func TestExpectedPayout(t *testing.T) {
	if got := ExpectedPayout(d(42.5)); !got.Equal(d(42.5)) {
		t.Errorf("payout = %s, want 42.5", got)
	}
}
