package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/babylon/engine/internal/apperr"
	"github.com/babylon/engine/internal/metrics"
	"github.com/babylon/engine/internal/model"
	"github.com/babylon/engine/internal/store"
	"github.com/babylon/engine/internal/stream"
)

var (
	ErrPoolNotFound          = apperr.New(apperr.ErrNotFound, "NOT_FOUND", "pool not found")
	ErrUserNotFound          = apperr.New(apperr.ErrNotFound, "NOT_FOUND", "user not found")
	ErrDepositNotFound       = apperr.New(apperr.ErrNotFound, "NOT_FOUND", "deposit not found")
	ErrPoolInactive          = apperr.New(apperr.ErrInvalidState, "INACTIVE", "pool is not active")
	ErrInsufficientBalance   = apperr.New(apperr.ErrInsufficientFunds, "INSUFFICIENT_BALANCE", "insufficient balance")
	ErrUnauthorized          = apperr.New(apperr.ErrUnauthorized, "UNAUTHORIZED", "deposit belongs to another user")
	ErrAlreadyWithdrawn      = apperr.New(apperr.ErrInvalidState, "ALREADY_WITHDRAWN", "deposit already withdrawn")
	ErrMismatchedPool        = apperr.New(apperr.ErrValidation, "MISMATCHED_POOL", "deposit does not belong to this pool")
	ErrInsufficientLiquidity = apperr.New(apperr.ErrInsufficientFunds, "INSUFFICIENT_POOL_LIQUIDITY", "insufficient pool liquidity, try again later")
	ErrInvalidAmount         = apperr.New(apperr.ErrValidation, "VALIDATION", "amount must be positive")
	ErrInvalidPool           = apperr.New(apperr.ErrValidation, "VALIDATION", "pool name is required and fee rate must be within [0, 1]")
	ErrBusy                  = apperr.New(apperr.ErrConflict, "CONFLICT", "pool is busy, try again")
)

// DefaultPerformanceFeeRate applies to pools created without an explicit rate.
var DefaultPerformanceFeeRate = decimal.NewFromFloat(0.20)

const (
	maxAttempts  = 3
	initialDelay = 50 * time.Millisecond
)

// Service runs pool operations. Deposit and Withdraw each execute in a single
// store transaction that locks the pool, the user and (for withdrawals) the
// deposit, so concurrent operations on the same pool serialize.
type Service struct {
	store  store.Store
	hub    stream.Publisher // optional
	logger *slog.Logger
	now    func() time.Time

	// FeeRate is used by CreatePool when the request leaves it unset.
	FeeRate decimal.Decimal
}

// NewService creates a pool service. hub may be nil.
func NewService(st store.Store, hub stream.Publisher) *Service {
	return &Service{
		store:   st,
		hub:     hub,
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
		FeeRate: DefaultPerformanceFeeRate,
	}
}

// --- Request/Response types ---

// DepositRequest is the JSON body for POST /pools/{id}/deposit.
type DepositRequest struct {
	PoolID string          `json:"pool_id"`
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

// DepositSummary is the client-facing view of a new deposit.
type DepositSummary struct {
	ID           string          `json:"id"`
	PoolID       string          `json:"pool_id"`
	Amount       decimal.Decimal `json:"amount"`
	Shares       decimal.Decimal `json:"shares"`
	CurrentValue decimal.Decimal `json:"current_value"`
	DepositedAt  time.Time       `json:"deposited_at"`
}

// DepositResult is returned from a successful deposit.
type DepositResult struct {
	Deposit        DepositSummary  `json:"deposit"`
	NewBalance     decimal.Decimal `json:"new_balance"`
	PointsAwarded  int64           `json:"points_awarded"`
	PoolTotalValue decimal.Decimal `json:"pool_total_value"`
}

// WithdrawRequest is the JSON body for POST /pools/{id}/withdraw.
type WithdrawRequest struct {
	PoolID    string `json:"pool_id"`
	UserID    string `json:"user_id"`
	DepositID string `json:"deposit_id"`
}

// WithdrawResult is returned from a successful withdrawal. PnL is the net
// result after fees; GrossPnL is currentValue minus principal.
type WithdrawResult struct {
	WithdrawalAmount decimal.Decimal `json:"withdrawal_amount"`
	PerformanceFee   decimal.Decimal `json:"performance_fee"`
	PnL              decimal.Decimal `json:"pnl"`
	GrossPnL         decimal.Decimal `json:"gross_pnl"`
	OriginalAmount   decimal.Decimal `json:"original_amount"`
	NewBalance       decimal.Decimal `json:"new_balance"`
	ReputationChange int64           `json:"reputation_change"`
	NewReputation    int64           `json:"new_reputation"`
}

// CreatePoolRequest is the JSON body for POST /pools.
type CreatePoolRequest struct {
	Name               string           `json:"name"`
	NPCActorID         string           `json:"npc_actor_id"`
	PerformanceFeeRate *decimal.Decimal `json:"performance_fee_rate,omitempty"`
}

// PnLRequest is the JSON body for POST /pools/{id}/pnl.
type PnLRequest struct {
	PnL      decimal.Decimal `json:"pnl"`
	Realized bool            `json:"realized"`
}

// --- Operations ---

// Deposit moves amount from the user's balance into the pool and issues
// shares at the current NAV.
func (s *Service) Deposit(ctx context.Context, req DepositRequest) (*DepositResult, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var res *DepositResult
	var snapshot model.Pool
	err := s.withRetry(ctx, "deposit", func(tx store.Tx) error {
		p, err := tx.LockPool(ctx, req.PoolID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrPoolNotFound
		} else if err != nil {
			return err
		}
		u, err := tx.LockUser(ctx, req.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		} else if err != nil {
			return err
		}
		if !p.IsActive {
			return ErrPoolInactive
		}
		if u.VirtualBalance.LessThan(req.Amount) {
			return ErrInsufficientBalance
		}

		active, err := tx.ActiveDeposits(ctx, p.ID)
		if err != nil {
			return err
		}
		totalShares := decimal.Zero
		for _, d := range active {
			totalShares = totalShares.Add(d.Shares)
		}
		shares := IssueShares(req.Amount, p.TotalValue, totalShares)

		now := s.now()
		dep := &model.PoolDeposit{
			ID:            uuid.New().String(),
			PoolID:        p.ID,
			UserID:        u.ID,
			Amount:        req.Amount,
			Shares:        shares,
			CurrentValue:  req.Amount,
			UnrealizedPnL: decimal.Zero,
			DepositedAt:   now,
		}
		if err := tx.InsertDeposit(ctx, dep); err != nil {
			return err
		}

		p.TotalValue = p.TotalValue.Add(req.Amount)
		p.TotalDeposits = p.TotalDeposits.Add(req.Amount)
		p.AvailableBalance = p.AvailableBalance.Add(req.Amount)
		p.UpdatedAt = now
		if err := tx.UpdatePool(ctx, p); err != nil {
			return err
		}

		before := u.VirtualBalance
		u.VirtualBalance = before.Sub(req.Amount)
		u.TotalDeposited = u.TotalDeposited.Add(req.Amount)

		points := DepositPoints(req.Amount)
		pointsBefore := u.ReputationPoints
		u.ReputationPoints += points
		if err := tx.UpdateUser(ctx, u); err != nil {
			return err
		}

		if err := tx.InsertBalanceTransaction(ctx, &model.BalanceTransaction{
			ID:            uuid.New().String(),
			UserID:        u.ID,
			Type:          model.TxPoolDeposit,
			Amount:        req.Amount.Neg(),
			BalanceBefore: before,
			BalanceAfter:  u.VirtualBalance,
			RelatedID:     dep.ID,
			Description:   fmt.Sprintf("Deposit into pool %s", p.Name),
			CreatedAt:     now,
		}); err != nil {
			return err
		}
		if points > 0 {
			if err := tx.InsertPointsTransaction(ctx, &model.PointsTransaction{
				ID:           uuid.New().String(),
				UserID:       u.ID,
				Ledger:       model.LedgerReputation,
				Amount:       points,
				PointsBefore: pointsBefore,
				PointsAfter:  u.ReputationPoints,
				Reason:       "pool_deposit",
				RelatedID:    dep.ID,
				CreatedAt:    now,
			}); err != nil {
				return err
			}
		}

		snapshot = *p
		res = &DepositResult{
			Deposit: DepositSummary{
				ID:           dep.ID,
				PoolID:       dep.PoolID,
				Amount:       dep.Amount,
				Shares:       dep.Shares,
				CurrentValue: dep.CurrentValue,
				DepositedAt:  dep.DepositedAt,
			},
			NewBalance:     u.VirtualBalance,
			PointsAwarded:  points,
			PoolTotalValue: p.TotalValue,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("pool deposit",
		"pool", req.PoolID,
		"user", req.UserID,
		"deposit", res.Deposit.ID,
		"amount", req.Amount.String(),
		"shares", res.Deposit.Shares.String(),
	)
	s.publishNAV(&snapshot)
	return res, nil
}

// Withdraw closes a deposit and credits its NAV value, less the performance
// fee on any profit, to the owner's balance. When the pool lacks the cash for
// the deposit's full current value the deposit is left open and
// ErrInsufficientLiquidity is returned.
func (s *Service) Withdraw(ctx context.Context, req WithdrawRequest) (*WithdrawResult, error) {
	var res *WithdrawResult
	var snapshot model.Pool
	err := s.withRetry(ctx, "withdraw", func(tx store.Tx) error {
		dep, err := tx.LockDeposit(ctx, req.DepositID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrDepositNotFound
		} else if err != nil {
			return err
		}
		if dep.UserID != req.UserID {
			return ErrUnauthorized
		}
		if !dep.Active() {
			return ErrAlreadyWithdrawn
		}
		if dep.PoolID != req.PoolID {
			return ErrMismatchedPool
		}

		p, err := tx.LockPool(ctx, dep.PoolID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrPoolNotFound
		} else if err != nil {
			return err
		}

		// The fee leaves the pool's cash along with the payout, so the whole
		// currentValue must be liquid.
		amount, fee, grossPnL := WithdrawalValue(dep.CurrentValue, dep.Amount, p.PerformanceFeeRate)
		if p.AvailableBalance.LessThan(amount) || p.AvailableBalance.LessThan(dep.CurrentValue) {
			return ErrInsufficientLiquidity
		}

		u, err := tx.LockUser(ctx, req.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		} else if err != nil {
			return err
		}

		now := s.now()
		dep.WithdrawnAt = &now
		dep.WithdrawnAmount = &amount
		if err := tx.UpdateDeposit(ctx, dep); err != nil {
			return err
		}

		p.TotalValue = clampZero(p.TotalValue.Sub(dep.CurrentValue))
		p.AvailableBalance = p.AvailableBalance.Sub(dep.CurrentValue)
		p.TotalFeesCollected = p.TotalFeesCollected.Add(fee)
		p.UpdatedAt = now
		if err := tx.UpdatePool(ctx, p); err != nil {
			return err
		}

		netPnL := amount.Sub(dep.Amount)
		before := u.VirtualBalance
		u.VirtualBalance = before.Add(amount)
		u.TotalWithdrawn = u.TotalWithdrawn.Add(amount)
		u.LifetimePnL = u.LifetimePnL.Add(netPnL)

		pointsBefore := u.ReputationPoints
		var applied int64
		u.ReputationPoints, applied = applyPoints(pointsBefore, WithdrawalPoints(netPnL))
		if err := tx.UpdateUser(ctx, u); err != nil {
			return err
		}

		if err := tx.InsertBalanceTransaction(ctx, &model.BalanceTransaction{
			ID:            uuid.New().String(),
			UserID:        u.ID,
			Type:          model.TxPoolWithdraw,
			Amount:        amount,
			BalanceBefore: before,
			BalanceAfter:  u.VirtualBalance,
			RelatedID:     dep.ID,
			Description:   fmt.Sprintf("Withdrawal from pool %s (fee %s)", p.Name, fee.StringFixed(2)),
			CreatedAt:     now,
		}); err != nil {
			return err
		}
		if applied != 0 {
			if err := tx.InsertPointsTransaction(ctx, &model.PointsTransaction{
				ID:           uuid.New().String(),
				UserID:       u.ID,
				Ledger:       model.LedgerReputation,
				Amount:       applied,
				PointsBefore: pointsBefore,
				PointsAfter:  u.ReputationPoints,
				Reason:       "pool_withdraw",
				RelatedID:    dep.ID,
				CreatedAt:    now,
			}); err != nil {
				return err
			}
		}

		snapshot = *p
		res = &WithdrawResult{
			WithdrawalAmount: amount,
			PerformanceFee:   fee,
			PnL:              netPnL,
			GrossPnL:         grossPnL,
			OriginalAmount:   dep.Amount,
			NewBalance:       u.VirtualBalance,
			ReputationChange: applied,
			NewReputation:    u.ReputationPoints,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("pool withdrawal",
		"pool", req.PoolID,
		"user", req.UserID,
		"deposit", req.DepositID,
		"amount", res.WithdrawalAmount.String(),
		"fee", res.PerformanceFee.String(),
		"pnl", res.PnL.String(),
	)
	s.publishNAV(&snapshot)
	return res, nil
}

// CreatePool opens a new, empty, active pool.
func (s *Service) CreatePool(ctx context.Context, req CreatePoolRequest) (*model.Pool, error) {
	name := strings.TrimSpace(req.Name)
	rate := s.FeeRate
	if req.PerformanceFeeRate != nil {
		rate = *req.PerformanceFeeRate
	}
	if name == "" || rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, ErrInvalidPool
	}

	now := s.now()
	p := &model.Pool{
		ID:                 uuid.New().String(),
		Name:               name,
		NPCActorID:         req.NPCActorID,
		TotalValue:         decimal.Zero,
		TotalDeposits:      decimal.Zero,
		AvailableBalance:   decimal.Zero,
		LifetimePnL:        decimal.Zero,
		PerformanceFeeRate: rate,
		TotalFeesCollected: decimal.Zero,
		IsActive:           true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.CreatePool(ctx, p); err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	s.logger.Info("pool created", "id", p.ID, "name", p.Name, "fee_rate", rate.String())
	return p, nil
}

// ApplyPnL marks the pool's positions: pnl is added to the pool's NAV and
// lifetime PnL and spread over active deposits in proportion to their
// shares. Realized PnL also moves available cash.
func (s *Service) ApplyPnL(ctx context.Context, poolID string, pnl decimal.Decimal, realized bool) (*model.Pool, error) {
	var out model.Pool
	err := s.withRetry(ctx, "mark", func(tx store.Tx) error {
		p, err := tx.LockPool(ctx, poolID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrPoolNotFound
		} else if err != nil {
			return err
		}

		active, err := tx.ActiveDeposits(ctx, p.ID)
		if err != nil {
			return err
		}
		totalShares := decimal.Zero
		for _, d := range active {
			totalShares = totalShares.Add(d.Shares)
		}
		if totalShares.IsPositive() {
			for i := range active {
				d := &active[i]
				d.CurrentValue = clampZero(d.CurrentValue.Add(pnl.Mul(d.Shares).Div(totalShares)).Round(ValueScale))
				d.UnrealizedPnL = d.CurrentValue.Sub(d.Amount)
				if err := tx.UpdateDeposit(ctx, d); err != nil {
					return err
				}
			}
		}

		p.TotalValue = clampZero(p.TotalValue.Add(pnl))
		p.LifetimePnL = p.LifetimePnL.Add(pnl)
		if realized {
			p.AvailableBalance = clampZero(p.AvailableBalance.Add(pnl))
		}
		if p.AvailableBalance.GreaterThan(p.TotalValue) {
			p.AvailableBalance = p.TotalValue
		}
		p.UpdatedAt = s.now()
		if err := tx.UpdatePool(ctx, p); err != nil {
			return err
		}
		out = *p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("pool marked", "pool", poolID, "pnl", pnl.String(), "realized", realized, "total_value", out.TotalValue.String())
	s.publishNAV(&out)
	return &out, nil
}

// Deactivate stops a pool from accepting deposits. Existing deposits can
// still be withdrawn. Pools are never deleted.
func (s *Service) Deactivate(ctx context.Context, poolID string) (*model.Pool, error) {
	var out model.Pool
	err := s.withRetry(ctx, "deactivate", func(tx store.Tx) error {
		p, err := tx.LockPool(ctx, poolID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrPoolNotFound
		} else if err != nil {
			return err
		}
		p.IsActive = false
		p.UpdatedAt = s.now()
		if err := tx.UpdatePool(ctx, p); err != nil {
			return err
		}
		out = *p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("pool deactivated", "pool", poolID)
	return &out, nil
}

// GetPool returns a pool by ID.
func (s *Service) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	p, err := s.store.GetPool(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPoolNotFound
	}
	return p, err
}

// ListPools returns every pool, newest first.
func (s *Service) ListPools(ctx context.Context) ([]model.Pool, error) {
	return s.store.ListPools(ctx)
}

// ListDeposits returns all deposits of a pool, active and closed.
func (s *Service) ListDeposits(ctx context.Context, poolID string) ([]model.PoolDeposit, error) {
	if _, err := s.GetPool(ctx, poolID); err != nil {
		return nil, err
	}
	return s.store.ListDeposits(ctx, poolID)
}

// withRetry runs fn in a transaction, retrying with doubling backoff while
// the store reports a conflict with a concurrent writer.
func (s *Service) withRetry(ctx context.Context, op string, fn func(tx store.Tx) error) error {
	delay := initialDelay
	for attempt := 1; ; attempt++ {
		err := s.store.InTx(ctx, fn)
		if err == nil {
			metrics.PoolOperations.WithLabelValues(op, "ok").Inc()
			return nil
		}
		if !errors.Is(err, store.ErrConflict) {
			metrics.PoolOperations.WithLabelValues(op, apperr.Code(err)).Inc()
			return err
		}
		if attempt == maxAttempts {
			metrics.PoolOperations.WithLabelValues(op, "CONFLICT").Inc()
			s.logger.Warn("pool transaction gave up after conflicts", "op", op, "attempts", attempt)
			return ErrBusy
		}

		metrics.PoolTxRetries.WithLabelValues(op).Inc()
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay *= 2
	}
}

func (s *Service) publishNAV(p *model.Pool) {
	if s.hub == nil || p.ID == "" {
		return
	}
	s.hub.Publish(stream.Message{
		Type:       stream.TypePoolNAV,
		PoolID:     p.ID,
		TotalValue: p.TotalValue.String(),
		Available:  p.AvailableBalance.String(),
	})
}
