// Package market runs binary prediction markets on top of the amm pricing
// core: market creation, buys, resolution payouts, cancellations and
// portfolio views.
//
// Every balance change happens inside one store transaction together with
// its BalanceTransaction audit row. All monetary values use decimal.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/babylon/engine/internal/amm"
	"github.com/babylon/engine/internal/apperr"
	"github.com/babylon/engine/internal/metrics"
	"github.com/babylon/engine/internal/model"
	"github.com/babylon/engine/internal/risk"
	"github.com/babylon/engine/internal/store"
	"github.com/babylon/engine/internal/stream"
)

var (
	ErrMarketNotFound      = apperr.New(apperr.ErrNotFound, "NOT_FOUND", "market not found")
	ErrUserNotFound        = apperr.New(apperr.ErrNotFound, "NOT_FOUND", "user not found")
	ErrMarketNotActive     = apperr.New(apperr.ErrInvalidState, "MARKET_NOT_ACTIVE", "market is not active")
	ErrInsufficientBalance = apperr.New(apperr.ErrInsufficientFunds, "INSUFFICIENT_BALANCE", "insufficient balance")
	ErrInvalidQuestion     = apperr.New(apperr.ErrValidation, "VALIDATION", "question is required")
	ErrInvalidResolution   = apperr.New(apperr.ErrValidation, "VALIDATION", "resolution date must be in the future")
)

// DefaultLiquidity seeds each side's reserve when a market is created
// without an explicit liquidity.
var DefaultLiquidity = decimal.NewFromInt(100)

// TradeRecorder receives the realized result of every settled position.
// reputation.Service implements it.
type TradeRecorder interface {
	UpdateTradingMetrics(ctx context.Context, userID string, pnl, invested decimal.Decimal, profitable bool) error
}

// Service handles market operations. Concurrent buys on the same market are
// serialized by the market row lock taken inside each transaction.
type Service struct {
	store    store.Store
	limiter  *risk.PositionLimiter
	hub      stream.Publisher // optional
	recorder TradeRecorder    // optional
	logger   *slog.Logger
	now      func() time.Time

	// DefaultLiquidity overrides the package default for new markets.
	DefaultLiquidity decimal.Decimal
}

// NewService creates a new market service. hub and recorder may be nil.
func NewService(st store.Store, limiter *risk.PositionLimiter, hub stream.Publisher, recorder TradeRecorder) *Service {
	if limiter == nil {
		limiter = risk.NewPositionLimiter(decimal.Zero, decimal.Zero)
	}
	return &Service{
		store:            st,
		limiter:          limiter,
		hub:              hub,
		recorder:         recorder,
		logger:           slog.Default(),
		now:              func() time.Time { return time.Now().UTC() },
		DefaultLiquidity: DefaultLiquidity,
	}
}

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	Question       string          `json:"question"`
	Liquidity      decimal.Decimal `json:"liquidity"` // per-side reserve; 0 → default
	ResolutionDate time.Time       `json:"resolution_date"`
}

// BuyRequest is the JSON body for POST /markets/{id}/buy.
type BuyRequest struct {
	UserID   string          `json:"user_id"`
	MarketID string          `json:"market_id"`
	Side     amm.Side        `json:"side"`
	Amount   decimal.Decimal `json:"amount"`
}

// BuyResult is returned from a successful buy.
type BuyResult struct {
	TradeID    string          `json:"trade_id"`
	MarketID   string          `json:"market_id"`
	UserID     string          `json:"user_id"`
	Quote      *amm.Quote      `json:"quote"`
	Position   model.Position  `json:"position"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

// Settlement is one position's result at resolution or cancellation.
type Settlement struct {
	UserID    string          `json:"user_id"`
	CostBasis decimal.Decimal `json:"cost_basis"`
	Payout    decimal.Decimal `json:"payout"`
	PnL       decimal.Decimal `json:"pnl"`
}

// ResolveResult is returned from Resolve and Cancel.
type ResolveResult struct {
	Market      *model.Market   `json:"market"`
	Settlements []Settlement    `json:"settlements"`
	TotalPaid   decimal.Decimal `json:"total_paid"`
}

// --- Operations ---

// CreateMarket opens a new market with equal YES/NO reserves.
func (s *Service) CreateMarket(ctx context.Context, req CreateMarketRequest) (*model.Market, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrInvalidQuestion
	}
	now := s.now()
	resolution := req.ResolutionDate
	if resolution.IsZero() {
		resolution = now.Add(7 * 24 * time.Hour)
	} else if !resolution.After(now) {
		return nil, ErrInvalidResolution
	}
	liquidity := req.Liquidity
	if !liquidity.IsPositive() {
		liquidity = s.DefaultLiquidity
	}

	m := &model.Market{
		ID:             uuid.New().String(),
		Question:       question,
		Status:         model.MarketActive,
		YesShares:      liquidity,
		NoShares:       liquidity,
		Liquidity:      liquidity,
		ResolutionDate: resolution.UTC(),
		CreatedAt:      now,
	}
	if err := s.store.CreateMarket(ctx, m); err != nil {
		return nil, fmt.Errorf("create market: %w", err)
	}

	s.logger.Info("market created",
		"id", m.ID,
		"question", m.Question,
		"liquidity", liquidity.String(),
	)
	return m, nil
}

// GetMarket returns a market by ID.
func (s *Service) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := s.store.GetMarket(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrMarketNotFound
	}
	return m, err
}

// ListMarkets returns markets filtered by status ("" for all).
func (s *Service) ListMarkets(ctx context.Context, status string) ([]model.Market, error) {
	return s.store.ListMarkets(ctx, status)
}

// Quote prices a prospective buy without executing it.
func (s *Service) Quote(ctx context.Context, marketID string, side amm.Side, amount decimal.Decimal) (*amm.Quote, error) {
	m, err := s.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if m.Status != model.MarketActive {
		return nil, ErrMarketNotActive
	}
	return amm.CalculateBuy(m.YesShares, m.NoShares, side, amount)
}

// Buy spends req.Amount of the user's balance on req.Side shares.
func (s *Service) Buy(ctx context.Context, req BuyRequest) (*BuyResult, error) {
	start := time.Now()
	if !req.Amount.IsPositive() {
		return nil, amm.ErrInvalidAmount
	}
	side, err := amm.ParseSide(string(req.Side))
	if err != nil {
		return nil, err
	}

	var res *BuyResult
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		m, err := tx.LockMarket(ctx, req.MarketID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrMarketNotFound
		} else if err != nil {
			return err
		}
		if m.Status != model.MarketActive {
			return ErrMarketNotActive
		}

		u, err := tx.LockUser(ctx, req.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		} else if err != nil {
			return err
		}

		q, err := amm.CalculateBuy(m.YesShares, m.NoShares, side, req.Amount)
		if err != nil {
			return err
		}

		positions, err := tx.ListUserPositions(ctx, u.ID)
		if err != nil {
			return err
		}
		if err := s.limiter.CheckLimit(m.ID, req.Amount, exposures(positions)); err != nil {
			metrics.PositionLimitRejections.Inc()
			return err
		}

		if u.VirtualBalance.LessThan(req.Amount) {
			return ErrInsufficientBalance
		}

		m.YesShares, m.NoShares = q.NewYes, q.NewNo
		if err := tx.UpdateMarket(ctx, m); err != nil {
			return err
		}

		now := s.now()
		pos, err := tx.GetPosition(ctx, u.ID, m.ID)
		if errors.Is(err, store.ErrNotFound) {
			pos = &model.Position{ID: uuid.New().String(), UserID: u.ID, MarketID: m.ID}
		} else if err != nil {
			return err
		}
		if side == amm.Yes {
			pos.YesShares = pos.YesShares.Add(q.SharesBought)
		} else {
			pos.NoShares = pos.NoShares.Add(q.SharesBought)
		}
		pos.CostBasis = pos.CostBasis.Add(req.Amount)
		pos.UpdatedAt = now
		if err := tx.UpsertPosition(ctx, pos); err != nil {
			return err
		}

		before := u.VirtualBalance
		u.VirtualBalance = before.Sub(req.Amount)
		// Capital committed to markets counts toward the PnL normalization base.
		u.TotalDeposited = u.TotalDeposited.Add(req.Amount)
		if err := tx.UpdateUser(ctx, u); err != nil {
			return err
		}

		bt := &model.BalanceTransaction{
			ID:            uuid.New().String(),
			UserID:        u.ID,
			Type:          model.TxPredBuy,
			Amount:        req.Amount.Neg(),
			BalanceBefore: before,
			BalanceAfter:  u.VirtualBalance,
			RelatedID:     m.ID,
			Description:   fmt.Sprintf("Bought %s %s shares", q.SharesBought.StringFixed(4), side),
			CreatedAt:     now,
		}
		if err := tx.InsertBalanceTransaction(ctx, bt); err != nil {
			return err
		}

		res = &BuyResult{
			TradeID:    bt.ID,
			MarketID:   m.ID,
			UserID:     u.ID,
			Quote:      q,
			Position:   *pos,
			NewBalance: u.VirtualBalance,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(string(side)).Inc()
	metrics.TradeLatency.WithLabelValues(string(side)).Observe(time.Since(start).Seconds())

	s.logger.Info("trade executed",
		"trade_id", res.TradeID,
		"user", res.UserID,
		"market", res.MarketID,
		"side", side,
		"amount", req.Amount.String(),
		"shares", res.Quote.SharesBought.String(),
		"new_price_yes", res.Quote.NewYesPrice.String(),
	)

	if s.hub != nil {
		s.hub.Publish(stream.Message{
			Type:     stream.TypeMarketPrice,
			MarketID: res.MarketID,
			PriceYes: res.Quote.NewYesPrice.String(),
			PriceNo:  res.Quote.NewNoPrice.String(),
			Side:     string(side),
			Amount:   req.Amount.String(),
			Shares:   res.Quote.SharesBought.String(),
		})
	}
	return res, nil
}

// Resolve settles an active market: each winning share pays 1.0, losing
// shares pay nothing. After the payouts commit, every settled position is
// reported to the TradeRecorder.
func (s *Service) Resolve(ctx context.Context, marketID string, outcome bool) (*ResolveResult, error) {
	res, err := s.settle(ctx, marketID, func(_ *model.Market, p *model.Position) (decimal.Decimal, string) {
		winning := p.NoShares
		if outcome {
			winning = p.YesShares
		}
		return amm.ExpectedPayout(winning), model.TxPredPayout
	}, func(m *model.Market, now time.Time) {
		m.Status = model.MarketResolved
		m.ResolvedOutcome = &outcome
		m.ResolvedAt = &now
	})
	if err != nil {
		return nil, err
	}

	label := "no"
	if outcome {
		label = "yes"
	}
	metrics.MarketResolutions.WithLabelValues(label).Inc()
	s.logger.Info("market resolved",
		"market", marketID,
		"outcome", label,
		"positions", len(res.Settlements),
		"total_paid", res.TotalPaid.String(),
	)
	s.publishResolution(res.Market, strings.ToUpper(label))

	if s.recorder != nil {
		var errs []error
		for _, st := range res.Settlements {
			if err := s.recorder.UpdateTradingMetrics(ctx, st.UserID, st.PnL, st.CostBasis, st.PnL.IsPositive()); err != nil {
				s.logger.Error("trading metrics update failed", "user", st.UserID, "market", marketID, "err", err)
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return res, fmt.Errorf("market %s resolved; trading metrics update failed: %w", marketID, errors.Join(errs...))
		}
	}
	return res, nil
}

// Cancel voids an active market and refunds every position's cost basis.
func (s *Service) Cancel(ctx context.Context, marketID string) (*ResolveResult, error) {
	res, err := s.settle(ctx, marketID, func(_ *model.Market, p *model.Position) (decimal.Decimal, string) {
		return p.CostBasis, model.TxPredRefund
	}, func(m *model.Market, now time.Time) {
		m.Status = model.MarketCancelled
		m.ResolvedAt = &now
	})
	if err != nil {
		return nil, err
	}

	metrics.MarketResolutions.WithLabelValues("cancelled").Inc()
	s.logger.Info("market cancelled",
		"market", marketID,
		"positions", len(res.Settlements),
		"refunded", res.TotalPaid.String(),
	)
	s.publishResolution(res.Market, "CANCELLED")
	return res, nil
}

// settle closes a market and credits every unsettled position in one
// transaction. payout decides what each position receives.
func (s *Service) settle(
	ctx context.Context,
	marketID string,
	payout func(*model.Market, *model.Position) (decimal.Decimal, string),
	closeMarket func(*model.Market, time.Time),
) (*ResolveResult, error) {
	var res *ResolveResult
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		m, err := tx.LockMarket(ctx, marketID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrMarketNotFound
		} else if err != nil {
			return err
		}
		if m.Status != model.MarketActive {
			return ErrMarketNotActive
		}

		now := s.now()
		closeMarket(m, now)
		if err := tx.UpdateMarket(ctx, m); err != nil {
			return err
		}

		positions, err := tx.ListMarketPositions(ctx, marketID)
		if err != nil {
			return err
		}

		res = &ResolveResult{Market: m, Settlements: []Settlement{}, TotalPaid: decimal.Zero}
		for i := range positions {
			p := &positions[i]
			if p.Settled {
				continue
			}
			amount, txType := payout(m, p)

			u, err := tx.LockUser(ctx, p.UserID)
			if err != nil {
				return err
			}
			pnl := amount.Sub(p.CostBasis)
			before := u.VirtualBalance
			u.VirtualBalance = before.Add(amount)
			if txType == model.TxPredPayout {
				u.LifetimePnL = u.LifetimePnL.Add(pnl)
			}
			if err := tx.UpdateUser(ctx, u); err != nil {
				return err
			}

			if amount.IsPositive() {
				if err := tx.InsertBalanceTransaction(ctx, &model.BalanceTransaction{
					ID:            uuid.New().String(),
					UserID:        u.ID,
					Type:          txType,
					Amount:        amount,
					BalanceBefore: before,
					BalanceAfter:  u.VirtualBalance,
					RelatedID:     m.ID,
					Description:   fmt.Sprintf("Market %s: %s", m.Status, m.Question),
					CreatedAt:     now,
				}); err != nil {
					return err
				}
			}

			p.Settled = true
			p.UpdatedAt = now
			if err := tx.UpsertPosition(ctx, p); err != nil {
				return err
			}

			res.Settlements = append(res.Settlements, Settlement{
				UserID:    p.UserID,
				CostBasis: p.CostBasis,
				Payout:    amount,
				PnL:       pnl,
			})
			res.TotalPaid = res.TotalPaid.Add(amount)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) publishResolution(m *model.Market, outcome string) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(stream.Message{
		Type:     stream.TypeMarketResolved,
		MarketID: m.ID,
		Outcome:  outcome,
	})
}

// exposures maps market ID to the money still at risk there.
func exposures(positions []model.Position) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(positions))
	for _, p := range positions {
		if !p.Settled {
			out[p.MarketID] = p.CostBasis
		}
	}
	return out
}
