// Package reputation maintains per-user performance metrics and the
// composite reputation score derived from them.
//
// The composite score is never written directly: every update recomputes it
// from the stored counters through RecalculateReputation.
package reputation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/babylon/engine/internal/metrics"
	"github.com/babylon/engine/internal/model"
	"github.com/babylon/engine/internal/pnl"
	"github.com/babylon/engine/internal/store"
)

// Score weights. Activity saturates at 50 games so volume alone cannot carry
// a user to the top.
const (
	pnlWeight      = 0.4
	feedbackWeight = 0.4
	activityWeight = 0.2

	activityPerGame = 2
	maxActivity     = 100
)

// Feedback classification thresholds.
const (
	positiveFeedback = 70
	neutralFeedback  = 40
)

// CalculateReputationScore combines trading skill, social feedback and
// activity into a 0–100 score.
func CalculateReputationScore(normalizedPnL, avgFeedbackScore float64, gamesPlayed int64) float64 {
	pnlC, feedbackC, activityC := components(normalizedPnL, avgFeedbackScore, gamesPlayed)
	return math.Max(0, math.Min(100, pnlC+feedbackC+activityC))
}

func components(normalizedPnL, avgFeedbackScore float64, gamesPlayed int64) (float64, float64, float64) {
	activity := math.Min(maxActivity, float64(gamesPlayed*activityPerGame))
	return pnlWeight * normalizedPnL * 100,
		feedbackWeight * avgFeedbackScore,
		activityWeight * activity
}

// Components is the weighted contribution of each input to the score.
type Components struct {
	PnL      float64 `json:"pnl"`
	Feedback float64 `json:"feedback"`
	Activity float64 `json:"activity"`
}

// Breakdown is the read model returned by the reputation query.
type Breakdown struct {
	UserID          string                         `json:"user_id"`
	ReputationScore float64                        `json:"reputation_score"`
	TrustLevel      pnl.TrustLevel                 `json:"trust_level"`
	ConfidenceScore float64                        `json:"confidence_score"`
	Components      Components                     `json:"components"`
	Metrics         *model.AgentPerformanceMetrics `json:"metrics"`
}

// Service applies game, trading and feedback events to performance metrics.
type Service struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a reputation service backed by st.
func NewService(st store.Store) *Service {
	return &Service{
		store:  st,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// UpdateGameMetrics records a finished game.
func (s *Service) UpdateGameMetrics(ctx context.Context, userID string, gameScore float64, won bool) error {
	err := s.mutate(ctx, userID, func(m *model.AgentPerformanceMetrics, _ *model.User) {
		n := float64(m.GamesPlayed)
		m.AverageGameScore = (m.AverageGameScore*n + gameScore) / (n + 1)
		m.GamesPlayed++
		if won {
			m.GamesWon++
		}
	})
	if err != nil {
		return fmt.Errorf("update game metrics: %w", err)
	}
	return s.recalculate(ctx, userID)
}

// UpdateTradingMetrics records a closed trade. normalizedPnL is re-derived
// from the user's lifetime PnL against total deposits; averageROI is the
// running mean of per-trade pnl/invested, skipping trades with nothing
// invested.
func (s *Service) UpdateTradingMetrics(ctx context.Context, userID string, tradePnL, invested decimal.Decimal, profitable bool) error {
	err := s.mutate(ctx, userID, func(m *model.AgentPerformanceMetrics, u *model.User) {
		m.NormalizedPnL = pnl.NormalizePnL(u.LifetimePnL.InexactFloat64(), u.TotalDeposited.InexactFloat64())
		m.TotalTrades++
		if profitable {
			m.ProfitableTrades++
		}
		m.WinRate = pnl.CalculateWinRate(m.ProfitableTrades, m.TotalTrades)

		if !invested.IsZero() {
			roi := tradePnL.Div(invested).InexactFloat64()
			n := float64(m.ROISampleCount)
			m.AverageROI = (m.AverageROI*n + roi) / (n + 1)
			m.ROISampleCount++
		}
	})
	if err != nil {
		return fmt.Errorf("update trading metrics: %w", err)
	}
	return s.recalculate(ctx, userID)
}

// UpdateFeedbackMetrics records one 0–100 feedback score.
func (s *Service) UpdateFeedbackMetrics(ctx context.Context, userID string, score float64) error {
	err := s.mutate(ctx, userID, func(m *model.AgentPerformanceMetrics, _ *model.User) {
		n := float64(m.TotalFeedbackCount)
		m.AverageFeedbackScore = (m.AverageFeedbackScore*n + score) / (n + 1)
		m.TotalFeedbackCount++
		switch {
		case score >= positiveFeedback:
			m.PositiveCount++
		case score >= neutralFeedback:
			m.NeutralCount++
		default:
			m.NegativeCount++
		}
	})
	if err != nil {
		return fmt.Errorf("update feedback metrics: %w", err)
	}
	return s.recalculate(ctx, userID)
}

// RecalculateReputation recomputes the score, trust level and confidence
// from the stored metrics and persists them. A missing metrics row is
// returned as store.ErrNotFound.
func (s *Service) RecalculateReputation(ctx context.Context, userID string) (*model.AgentPerformanceMetrics, error) {
	var out *model.AgentPerformanceMetrics
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		m, err := tx.GetMetrics(ctx, userID)
		if err != nil {
			return err
		}
		m.ReputationScore = CalculateReputationScore(m.NormalizedPnL, m.AverageFeedbackScore, m.GamesPlayed)
		m.TrustLevel = string(pnl.GetTrustLevel(m.ReputationScore))
		m.ConfidenceScore = pnl.CalculateConfidenceScore(m.GamesPlayed + m.TotalFeedbackCount)
		m.UpdatedAt = s.now()
		if err := tx.UpsertMetrics(ctx, m); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recalculate reputation %s: %w", userID, err)
	}

	metrics.ReputationRecalculations.Inc()
	s.logger.Debug("reputation recalculated",
		"user", userID,
		"score", out.ReputationScore,
		"trust", out.TrustLevel,
	)
	return out, nil
}

// GetBreakdown returns the score with its components for userID.
func (s *Service) GetBreakdown(ctx context.Context, userID string) (*Breakdown, error) {
	m, err := s.store.GetMetrics(ctx, userID)
	if err != nil {
		return nil, err
	}
	pnlC, feedbackC, activityC := components(m.NormalizedPnL, m.AverageFeedbackScore, m.GamesPlayed)
	return &Breakdown{
		UserID:          userID,
		ReputationScore: m.ReputationScore,
		TrustLevel:      pnl.TrustLevel(m.TrustLevel),
		ConfidenceScore: m.ConfidenceScore,
		Components: Components{
			PnL:      pnlC,
			Feedback: feedbackC,
			Activity: activityC,
		},
		Metrics: m,
	}, nil
}

func (s *Service) recalculate(ctx context.Context, userID string) error {
	_, err := s.RecalculateReputation(ctx, userID)
	return err
}

// mutate loads (or lazily creates) the metrics row for userID, applies fn and
// writes it back in one transaction. The user row must exist.
func (s *Service) mutate(ctx context.Context, userID string, fn func(m *model.AgentPerformanceMetrics, u *model.User)) error {
	return s.store.InTx(ctx, func(tx store.Tx) error {
		u, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}

		now := s.now()
		m, err := tx.GetMetrics(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			m = newMetrics(userID, now)
		} else if err != nil {
			return err
		}

		fn(m, u)
		m.LastActivityAt = &now
		m.UpdatedAt = now
		return tx.UpsertMetrics(ctx, m)
	})
}

func newMetrics(userID string, now time.Time) *model.AgentPerformanceMetrics {
	first := now
	return &model.AgentPerformanceMetrics{
		UserID:          userID,
		NormalizedPnL:   0.5,
		TrustLevel:      string(pnl.TrustUnrated),
		FirstActivityAt: &first,
		UpdatedAt:       now,
	}
}
