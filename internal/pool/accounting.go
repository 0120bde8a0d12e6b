// Package pool implements share-based fund accounting for NPC-run pools:
// proportional share issuance, NAV-based withdrawal valuation, performance
// fees, and the two atomic balance transfers (Deposit and Withdraw) that are
// the only code paths allowed to move money between users and pools.
package pool

import (
	"github.com/shopspring/decimal"
)

// ValueScale is the number of decimal places pool values are rounded to.
const ValueScale int32 = 8

var (
	ten     = decimal.NewFromInt(10)
	hundred = decimal.NewFromInt(100)
)

// IssueShares returns the shares a deposit of amount buys.
//
// The first deposit into an empty pool (no value or no shares outstanding)
// receives one share per unit, fixing the unit price at 1.0. Later deposits
// buy at the current NAV per share:
//
//	shares = amount / totalValue * totalShares
//
// which leaves the per-share value of existing holders unchanged.
func IssueShares(amount, totalValue, totalShares decimal.Decimal) decimal.Decimal {
	if !totalValue.IsPositive() || !totalShares.IsPositive() {
		return amount
	}
	return amount.Mul(totalShares).Div(totalValue).Round(ValueScale)
}

// WithdrawalValue computes what a deposit pays out. The performance fee is
// charged on profit only:
//
//	pnl > 0:  fee = pnl * feeRate, amount = currentValue - fee
//	pnl <= 0: fee = 0,             amount = currentValue
func WithdrawalValue(currentValue, principal, feeRate decimal.Decimal) (amount, fee, pnl decimal.Decimal) {
	pnl = currentValue.Sub(principal)
	if !pnl.IsPositive() {
		return currentValue, decimal.Zero, pnl
	}
	fee = pnl.Mul(feeRate).Round(ValueScale)
	return currentValue.Sub(fee), fee, pnl
}

// DepositPoints is the reputation-point award for a deposit: one point per
// 100 deposited, rounded down.
func DepositPoints(amount decimal.Decimal) int64 {
	if !amount.IsPositive() {
		return 0
	}
	return amount.Div(hundred).Floor().IntPart()
}

// WithdrawalPoints is the reputation-point change for a realized net PnL:
// one point per 10 of profit, minus one per 10 of loss (rounded toward
// negative infinity).
func WithdrawalPoints(netPnL decimal.Decimal) int64 {
	return netPnL.Div(ten).Floor().IntPart()
}

// applyPoints adds delta to current without letting the total go below
// zero and returns the new total and the change actually applied.
func applyPoints(current, delta int64) (total, applied int64) {
	total = current + delta
	if total < 0 {
		total = 0
	}
	return total, total - current
}

// clampZero floors v at zero. Pool aggregates never go negative, even when
// rounding drift would push them slightly below.
func clampZero(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}
