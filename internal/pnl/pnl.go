// Package pnl converts raw profit/loss figures and sample counts into bounded
// scores used by the reputation engine.
//
// Scores are ratios, not money, so everything here is float64. Callers
// holding decimal amounts convert with InexactFloat64 at the boundary.
package pnl

import "math"

// DefaultRiskFreeRate is the annual risk-free rate used for Sharpe ratios.
// It is applied monthly (rate/12) against per-period returns.
const DefaultRiskFreeRate = 0.02

// TrustLevel buckets a 0–100 reputation score.
type TrustLevel string

const (
	TrustUnrated   TrustLevel = "UNRATED"
	TrustLow       TrustLevel = "LOW"
	TrustMedium    TrustLevel = "MEDIUM"
	TrustHigh      TrustLevel = "HIGH"
	TrustExcellent TrustLevel = "EXCELLENT"
)

// Denormalization clamp keeps the logit finite.
const (
	minScore = 0.001
	maxScore = 0.999
)

// Trade is one closed trade for ROI averaging.
type Trade struct {
	PnL      float64
	Invested float64
}

// NormalizePnL maps pnl relative to totalInvested onto [0,1] with a logistic
// curve. Zero pnl or zero invested capital is neutral (0.5).
//
//	roi   = pnl / totalInvested
//	score = 1 / (1 + e^-roi)
func NormalizePnL(pnl, totalInvested float64) float64 {
	if totalInvested == 0 || pnl == 0 {
		return 0.5
	}
	return clamp(sigmoid(pnl/totalInvested), 0, 1)
}

// DenormalizePnL inverts NormalizePnL, returning the ROI that produces score.
func DenormalizePnL(score float64) float64 {
	s := clamp(score, minScore, maxScore)
	return -math.Log(1/s - 1)
}

// CalculateWinRate returns profitable/total, or 0 when there were no trades.
func CalculateWinRate(profitable, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(profitable) / float64(total)
}

// CalculateAverageROI returns the mean per-trade ROI. Trades with no
// invested capital carry no ROI and are skipped.
func CalculateAverageROI(trades []Trade) float64 {
	var sum float64
	var n int
	for _, t := range trades {
		if t.Invested == 0 {
			continue
		}
		sum += t.PnL / t.Invested
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// CalculateSharpeRatio computes (mean - riskFreeRate/12) / stddev over the
// given periodic returns using the sample standard deviation. The second
// result is false when there are fewer than two returns or they have no
// variance, in which case the ratio is undefined.
func CalculateSharpeRatio(returns []float64, riskFreeRate float64) (float64, bool) {
	n := len(returns)
	if n < 2 {
		return 0, false
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(n)

	var sq float64
	for _, r := range returns {
		sq += (r - mean) * (r - mean)
	}
	stddev := math.Sqrt(sq / float64(n-1))
	if stddev == 0 {
		return 0, false
	}
	return (mean - riskFreeRate/12) / stddev, true
}

// GetTrustLevel classifies a 0–100 score.
func GetTrustLevel(score float64) TrustLevel {
	switch {
	case score < 20:
		return TrustUnrated
	case score < 40:
		return TrustLow
	case score < 60:
		return TrustMedium
	case score < 80:
		return TrustHigh
	default:
		return TrustExcellent
	}
}

// CalculateConfidenceScore grows asymptotically toward 1 with sample size:
// 1 - e^(-n/20).
func CalculateConfidenceScore(sampleSize int64) float64 {
	return clamp(1-math.Exp(-float64(sampleSize)/20), 0, 1)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
