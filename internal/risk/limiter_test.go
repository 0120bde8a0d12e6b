package risk

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/babylon/engine/internal/apperr"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestCheckLimit_WithinLimits(t *testing.T) {
	limiter := NewPositionLimiter(d(1000), d(5000))

	if err := limiter.CheckLimit("m1", d(100), nil); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckLimit_PerMarketExceeded(t *testing.T) {
	limiter := NewPositionLimiter(d(1000), d(5000))

	// Existing exposure of 950 + new 100 = 1050 > 1000.
	existing := map[string]decimal.Decimal{"m1": d(950)}

	err := limiter.CheckLimit("m1", d(100), existing)
	if err != ErrPerMarketLimitExceeded {
		t.Errorf("expected ErrPerMarketLimitExceeded, got %v", err)
	}
	if !errors.Is(err, apperr.ErrValidation) {
		t.Error("limit errors should map to validation failures")
	}
}

func TestCheckLimit_PerMarketNotExceeded(t *testing.T) {
	limiter := NewPositionLimiter(d(1000), d(5000))
	existing := map[string]decimal.Decimal{"m1": d(500)}

	if err := limiter.CheckLimit("m1", d(100), existing); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckLimit_TotalExceeded(t *testing.T) {
	limiter := NewPositionLimiter(d(1000), d(2000))

	existing := map[string]decimal.Decimal{
		"m1": d(800),
		"m2": d(800),
		"m3": d(300),
	}

	// total = 200 + 800 + 800 + 300 = 2100 > 2000
	err := limiter.CheckLimit("m4", d(200), existing)
	if err != ErrTotalLimitExceeded {
		t.Errorf("expected ErrTotalLimitExceeded, got %v", err)
	}
}

func TestCheckLimit_NegativeDeltaReducesExposure(t *testing.T) {
	limiter := NewPositionLimiter(d(1000), d(5000))
	existing := map[string]decimal.Decimal{"m1": d(800)}

	if err := limiter.CheckLimit("m1", d(-200), existing); err != nil {
		t.Errorf("refund should reduce exposure, got %v", err)
	}
}

func TestCheckLimit_ZeroLimitsDisabled(t *testing.T) {
	limiter := NewPositionLimiter(decimal.Zero, decimal.Zero)
	existing := map[string]decimal.Decimal{"m1": d(1e9)}

	if err := limiter.CheckLimit("m1", d(1e9), existing); err != nil {
		t.Errorf("zero limits should disable checks, got %v", err)
	}
}

func TestCheckLimit_NilExposures(t *testing.T) {
	limiter := NewPositionLimiter(d(1000), d(5000))

	if err := limiter.CheckLimit("m1", d(500), nil); err != nil {
		t.Errorf("nil exposures should be treated as empty, got %v", err)
	}
}
