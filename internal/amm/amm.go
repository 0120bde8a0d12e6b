// Package amm implements the fixed-product market maker that prices binary
// YES/NO prediction markets.
//
// The pool holds YES and NO share reserves. Buying side S with amountIn
// mints amountIn complete sets (one YES plus one NO each) into the pool, then
// pays out enough S shares that yes*no is unchanged. Prices come from the
// reserve ratio:
//
//	price(YES) = no / (yes + no)
//	price(NO)  = 1 - price(YES)
//
// so the two prices always sum to exactly 1. A winning share redeems for
// 1.0 at resolution.
//
// All values use shopspring/decimal.
package amm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/babylon/engine/internal/apperr"
)

var (
	// ErrInvalidAmount is returned when amountIn <= 0.
	ErrInvalidAmount = fmt.Errorf("amm: amount must be positive: %w", apperr.ErrValidation)

	// ErrInvalidReserves is returned when either reserve is not positive.
	ErrInvalidReserves = errors.New("amm: reserves must be positive")

	// ErrPriceBoundExceeded is returned when a trade would push the bought
	// side's price above MaxPrice.
	ErrPriceBoundExceeded = fmt.Errorf("amm: trade would push price beyond allowed bounds: %w", apperr.ErrValidation)

	// ErrInvalidSide is returned by ParseSide for anything but YES or NO.
	ErrInvalidSide = fmt.Errorf("amm: side must be YES or NO: %w", apperr.ErrValidation)

	// MaxPrice is the highest price a trade may push either side to.
	MaxPrice = decimal.NewFromFloat(0.99)

	// ShareScale is the number of decimal places shares are truncated to.
	// Truncating (never rounding up) keeps the reserve product from shrinking.
	ShareScale int32 = 8
)

var (
	one     = decimal.NewFromInt(1)
	half    = decimal.NewFromFloat(0.5)
	hundred = decimal.NewFromInt(100)
)

// Side is YES or NO.
type Side string

const (
	Yes Side = "YES"
	No  Side = "NO"
)

// ParseSide accepts "yes"/"no" in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case Yes:
		return Yes, nil
	case No:
		return No, nil
	}
	return "", ErrInvalidSide
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Yes {
		return No
	}
	return Yes
}

// Quote is the result of simulating a buy.
type Quote struct {
	Side         Side            `json:"side"`
	AmountIn     decimal.Decimal `json:"amount_in"`
	SharesBought decimal.Decimal `json:"shares_bought"`
	AvgPrice     decimal.Decimal `json:"avg_price"`
	OldPrice     decimal.Decimal `json:"old_price"`
	NewYesPrice  decimal.Decimal `json:"new_yes_price"`
	NewNoPrice   decimal.Decimal `json:"new_no_price"`
	PriceImpact  decimal.Decimal `json:"price_impact"` // percent
	NewYes       decimal.Decimal `json:"new_yes_shares"`
	NewNo        decimal.Decimal `json:"new_no_shares"`
}

// PriceYes returns the YES price for the given reserves. An empty pool
// prices both sides at 0.5.
func PriceYes(yes, no decimal.Decimal) decimal.Decimal {
	total := yes.Add(no)
	if total.IsZero() {
		return half
	}
	return no.Div(total)
}

// CurrentPrice returns the price of side for the given reserves. The NO price
// is the exact complement of the YES price.
func CurrentPrice(yes, no decimal.Decimal, side Side) decimal.Decimal {
	p := PriceYes(yes, no)
	if side == No {
		return one.Sub(p)
	}
	return p
}

// CalculateBuy simulates spending amountIn on side against reserves
// (yes, no). It never mutates anything; the caller persists NewYes/NewNo.
func CalculateBuy(yes, no decimal.Decimal, side Side, amountIn decimal.Decimal) (*Quote, error) {
	if !amountIn.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if !yes.IsPositive() || !no.IsPositive() {
		return nil, ErrInvalidReserves
	}
	if side != Yes && side != No {
		return nil, ErrInvalidSide
	}

	k := yes.Mul(no)
	var shares, newYes, newNo decimal.Decimal
	if side == Yes {
		newNo = no.Add(amountIn)
		shares = yes.Add(amountIn).Sub(k.Div(newNo)).Truncate(ShareScale)
		newYes = yes.Add(amountIn).Sub(shares)
	} else {
		newYes = yes.Add(amountIn)
		shares = no.Add(amountIn).Sub(k.Div(newYes)).Truncate(ShareScale)
		newNo = no.Add(amountIn).Sub(shares)
	}
	// k.Div rounds; give back one tick if that let the product dip below k.
	if newYes.Mul(newNo).LessThan(k) {
		tick := decimal.New(1, -ShareScale)
		shares = shares.Sub(tick)
		if side == Yes {
			newYes = newYes.Add(tick)
		} else {
			newNo = newNo.Add(tick)
		}
	}
	if !shares.IsPositive() || !newYes.IsPositive() || !newNo.IsPositive() {
		return nil, ErrInvalidAmount
	}

	oldPrice := CurrentPrice(yes, no, side)
	newYesPrice := PriceYes(newYes, newNo)
	newNoPrice := one.Sub(newYesPrice)
	newSidePrice := newYesPrice
	if side == No {
		newSidePrice = newNoPrice
	}
	if newSidePrice.GreaterThan(MaxPrice) {
		return nil, ErrPriceBoundExceeded
	}

	return &Quote{
		Side:         side,
		AmountIn:     amountIn,
		SharesBought: shares,
		AvgPrice:     amountIn.Div(shares),
		OldPrice:     oldPrice,
		NewYesPrice:  newYesPrice,
		NewNoPrice:   newNoPrice,
		PriceImpact:  newSidePrice.Sub(oldPrice).Abs().Div(oldPrice).Mul(hundred),
		NewYes:       newYes,
		NewNo:        newNo,
	}, nil
}

// ExpectedPayout is what shares of the winning side redeem for.
func ExpectedPayout(shares decimal.Decimal) decimal.Decimal {
	return shares.Mul(one)
}
