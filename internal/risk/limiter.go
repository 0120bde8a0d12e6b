// Package risk enforces per-user exposure limits on prediction-market
// trading.
//
// Exposure is the money a user has at risk in a market: the net cost basis
// of their open position. A buy adds its amount to the target market's
// exposure; the limiter rejects it when either that market or the user's
// total across open markets would exceed the configured caps.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/babylon/engine/internal/apperr"
)

var (
	// ErrPerMarketLimitExceeded is returned when a trade would push a single
	// market's exposure beyond the per-market maximum.
	ErrPerMarketLimitExceeded = fmt.Errorf("risk: per-market position limit exceeded: %w", apperr.ErrValidation)

	// ErrTotalLimitExceeded is returned when a trade would push the user's
	// aggregate exposure across all open markets beyond the total maximum.
	ErrTotalLimitExceeded = fmt.Errorf("risk: total exposure limit exceeded: %w", apperr.ErrValidation)
)

// PositionLimiter caps exposure per market and in aggregate. A zero limit
// disables that check.
type PositionLimiter struct {
	// MaxPerMarket is the maximum absolute exposure in any single market.
	MaxPerMarket decimal.Decimal

	// MaxTotal is the maximum aggregate absolute exposure across all
	// markets the user holds.
	MaxTotal decimal.Decimal
}

// NewPositionLimiter creates a limiter with the given per-market and total
// exposure limits.
func NewPositionLimiter(maxPerMarket, maxTotal decimal.Decimal) *PositionLimiter {
	return &PositionLimiter{
		MaxPerMarket: maxPerMarket,
		MaxTotal:     maxTotal,
	}
}

// CheckLimit validates whether a trade respects position limits.
//
// Parameters:
//   - marketID: the market being traded
//   - delta: signed change in exposure (positive for a buy)
//   - exposures: market ID → current exposure for this user
//
// Returns nil if the trade is within limits.
func (l *PositionLimiter) CheckLimit(
	marketID string,
	delta decimal.Decimal,
	exposures map[string]decimal.Decimal,
) error {
	// 1. Per-market limit.
	newPosition := exposures[marketID].Add(delta)
	if l.MaxPerMarket.IsPositive() && newPosition.Abs().GreaterThan(l.MaxPerMarket) {
		return ErrPerMarketLimitExceeded
	}

	// 2. Aggregate exposure.
	total := newPosition.Abs()
	for id, exposure := range exposures {
		if id == marketID {
			continue // already counted via newPosition above
		}
		total = total.Add(exposure.Abs())
	}
	if l.MaxTotal.IsPositive() && total.GreaterThan(l.MaxTotal) {
		return ErrTotalLimitExceeded
	}

	return nil
}
