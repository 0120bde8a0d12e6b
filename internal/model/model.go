// Package model defines the core domain types shared across the engine.
// All monetary values use shopspring/decimal, never float64.
// Scores and ratios (reputation, win rate, confidence) are plain float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pool is a pooled investment vehicle run by an NPC trader.
type Pool struct {
	ID                 string          `json:"id" db:"id"`
	Name               string          `json:"name" db:"name"`
	NPCActorID         string          `json:"npc_actor_id" db:"npc_actor_id"`
	TotalValue         decimal.Decimal `json:"total_value" db:"total_value"`             // current NAV
	TotalDeposits      decimal.Decimal `json:"total_deposits" db:"total_deposits"`       // cumulative inflow
	AvailableBalance   decimal.Decimal `json:"available_balance" db:"available_balance"` // uninvested cash
	LifetimePnL        decimal.Decimal `json:"lifetime_pnl" db:"lifetime_pnl"`
	PerformanceFeeRate decimal.Decimal `json:"performance_fee_rate" db:"performance_fee_rate"`
	TotalFeesCollected decimal.Decimal `json:"total_fees_collected" db:"total_fees_collected"`
	IsActive           bool            `json:"is_active" db:"is_active"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// PoolDeposit is one user's stake in a pool. Shares never change after
// issuance; a deposit with WithdrawnAt set is closed.
type PoolDeposit struct {
	ID              string           `json:"id" db:"id"`
	PoolID          string           `json:"pool_id" db:"pool_id"`
	UserID          string           `json:"user_id" db:"user_id"`
	Amount          decimal.Decimal  `json:"amount" db:"amount"` // principal
	Shares          decimal.Decimal  `json:"shares" db:"shares"`
	CurrentValue    decimal.Decimal  `json:"current_value" db:"current_value"`
	UnrealizedPnL   decimal.Decimal  `json:"unrealized_pnl" db:"unrealized_pnl"`
	DepositedAt     time.Time        `json:"deposited_at" db:"deposited_at"`
	WithdrawnAt     *time.Time       `json:"withdrawn_at,omitempty" db:"withdrawn_at"`
	WithdrawnAmount *decimal.Decimal `json:"withdrawn_amount,omitempty" db:"withdrawn_amount"`
}

// Active reports whether the deposit still participates in pool aggregates.
func (d *PoolDeposit) Active() bool {
	return d.WithdrawnAt == nil
}

// Agent lifecycle states.
const (
	AgentStatusIdle    = "idle"
	AgentStatusRunning = "running"
	AgentStatusPaused  = "paused"
	AgentStatusError   = "error"
)

// AgentTierPro pays double per tick for the stronger model.
const AgentTierPro = "pro"

// User holds balance fields for humans and autonomous agents alike.
type User struct {
	ID               string          `json:"id" db:"id"`
	Username         string          `json:"username" db:"username"`
	IsAgent          bool            `json:"is_agent" db:"is_agent"`
	VirtualBalance   decimal.Decimal `json:"virtual_balance" db:"virtual_balance"`
	TotalDeposited   decimal.Decimal `json:"total_deposited" db:"total_deposited"`
	TotalWithdrawn   decimal.Decimal `json:"total_withdrawn" db:"total_withdrawn"`
	LifetimePnL      decimal.Decimal `json:"lifetime_pnl" db:"lifetime_pnl"`
	ReputationPoints int64           `json:"reputation_points" db:"reputation_points"`

	AgentPointsBalance   int64      `json:"agent_points_balance" db:"agent_points_balance"`
	AgentTier            string     `json:"agent_tier" db:"agent_tier"`
	AutonomousTrading    bool       `json:"autonomous_trading" db:"autonomous_trading"`
	AutonomousPosting    bool       `json:"autonomous_posting" db:"autonomous_posting"`
	AutonomousCommenting bool       `json:"autonomous_commenting" db:"autonomous_commenting"`
	AutonomousDMs        bool       `json:"autonomous_dms" db:"autonomous_dms"`
	AutonomousGroupChats bool       `json:"autonomous_group_chats" db:"autonomous_group_chats"`
	AgentStatus          string     `json:"agent_status" db:"agent_status"`
	AgentErrorMessage    string     `json:"agent_error_message,omitempty" db:"agent_error_message"`
	AgentLastTickAt      *time.Time `json:"agent_last_tick_at,omitempty" db:"agent_last_tick_at"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
}

// AnyAutonomous reports whether at least one autonomous feature is on.
func (u *User) AnyAutonomous() bool {
	return u.AutonomousTrading || u.AutonomousPosting || u.AutonomousCommenting ||
		u.AutonomousDMs || u.AutonomousGroupChats
}

// DisableAutonomous switches every autonomous feature off.
func (u *User) DisableAutonomous() {
	u.AutonomousTrading = false
	u.AutonomousPosting = false
	u.AutonomousCommenting = false
	u.AutonomousDMs = false
	u.AutonomousGroupChats = false
}

// Balance transaction types.
const (
	TxPoolDeposit  = "pool_deposit"
	TxPoolWithdraw = "pool_withdraw"
	TxPredBuy      = "pred_buy"
	TxPredPayout   = "pred_payout"
	TxPredRefund   = "pred_refund"
)

// BalanceTransaction is an append-only audit row for every change to
// User.VirtualBalance. It is the source of truth for reconciliation.
type BalanceTransaction struct {
	ID            string          `json:"id" db:"id"`
	UserID        string          `json:"user_id" db:"user_id"`
	Type          string          `json:"type" db:"type"`
	Amount        decimal.Decimal `json:"amount" db:"amount"` // signed: +credit, -debit
	BalanceBefore decimal.Decimal `json:"balance_before" db:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after" db:"balance_after"`
	RelatedID     string          `json:"related_id,omitempty" db:"related_id"`
	Description   string          `json:"description" db:"description"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Points ledgers.
const (
	LedgerReputation  = "reputation"
	LedgerAgentPoints = "agent_points"
)

// PointsTransaction is an append-only audit row for reputation points and
// agent points movements.
type PointsTransaction struct {
	ID           string    `json:"id" db:"id"`
	UserID       string    `json:"user_id" db:"user_id"`
	Ledger       string    `json:"ledger" db:"ledger"`
	Amount       int64     `json:"amount" db:"amount"`
	PointsBefore int64     `json:"points_before" db:"points_before"`
	PointsAfter  int64     `json:"points_after" db:"points_after"`
	Reason       string    `json:"reason" db:"reason"`
	RelatedID    string    `json:"related_id,omitempty" db:"related_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Market statuses.
const (
	MarketActive    = "active"
	MarketResolved  = "resolved"
	MarketCancelled = "cancelled"
)

// Market is a binary prediction market question. Prices are derived from
// the YES/NO reserves only.
type Market struct {
	ID              string          `json:"id" db:"id"`
	Question        string          `json:"question" db:"question"`
	Status          string          `json:"status" db:"status"`
	YesShares       decimal.Decimal `json:"yes_shares" db:"yes_shares"`
	NoShares        decimal.Decimal `json:"no_shares" db:"no_shares"`
	Liquidity       decimal.Decimal `json:"liquidity" db:"liquidity"` // initial reserve per side
	ResolutionDate  time.Time       `json:"resolution_date" db:"resolution_date"`
	ResolvedOutcome *bool           `json:"resolved_outcome,omitempty" db:"resolved_outcome"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
}

// Position is a user's share holdings in one market.
type Position struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	MarketID  string          `json:"market_id" db:"market_id"`
	YesShares decimal.Decimal `json:"yes_shares" db:"yes_shares"`
	NoShares  decimal.Decimal `json:"no_shares" db:"no_shares"`
	CostBasis decimal.Decimal `json:"cost_basis" db:"cost_basis"` // net cash outflow
	Settled   bool            `json:"settled" db:"settled"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// AgentPerformanceMetrics is the per-user performance record feeding the
// composite reputation score. ReputationScore, TrustLevel and
// ConfidenceScore are always recomputed from the other fields.
type AgentPerformanceMetrics struct {
	UserID               string     `json:"user_id" db:"user_id"`
	GamesPlayed          int64      `json:"games_played" db:"games_played"`
	GamesWon             int64      `json:"games_won" db:"games_won"`
	AverageGameScore     float64    `json:"average_game_score" db:"average_game_score"`
	NormalizedPnL        float64    `json:"normalized_pnl" db:"normalized_pnl"`
	TotalTrades          int64      `json:"total_trades" db:"total_trades"`
	ProfitableTrades     int64      `json:"profitable_trades" db:"profitable_trades"`
	WinRate              float64    `json:"win_rate" db:"win_rate"`
	AverageROI           float64    `json:"average_roi" db:"average_roi"`
	ROISampleCount       int64      `json:"roi_sample_count" db:"roi_sample_count"`
	TotalFeedbackCount   int64      `json:"total_feedback_count" db:"total_feedback_count"`
	AverageFeedbackScore float64    `json:"average_feedback_score" db:"average_feedback_score"`
	PositiveCount        int64      `json:"positive_count" db:"positive_count"`
	NeutralCount         int64      `json:"neutral_count" db:"neutral_count"`
	NegativeCount        int64      `json:"negative_count" db:"negative_count"`
	ReputationScore      float64    `json:"reputation_score" db:"reputation_score"`
	TrustLevel           string     `json:"trust_level" db:"trust_level"`
	ConfidenceScore      float64    `json:"confidence_score" db:"confidence_score"`
	FirstActivityAt      *time.Time `json:"first_activity_at,omitempty" db:"first_activity_at"`
	LastActivityAt       *time.Time `json:"last_activity_at,omitempty" db:"last_activity_at"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`
}

// Post kinds produced by autonomous social actions.
const (
	PostKindPost      = "post"
	PostKindComment   = "comment"
	PostKindDM        = "dm"
	PostKindGroupChat = "group_chat"
)

// Post is a piece of content an agent published.
type Post struct {
	ID        string    `json:"id" db:"id"`
	AuthorID  string    `json:"author_id" db:"author_id"`
	Kind      string    `json:"kind" db:"kind"`
	Content   string    `json:"content" db:"content"`
	Model     string    `json:"model" db:"model"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AgentLog is an append-only record of what an autonomous agent did.
type AgentLog struct {
	ID        string            `json:"id" db:"id"`
	AgentID   string            `json:"agent_id" db:"agent_id"`
	Type      string            `json:"type" db:"type"`   // tick, trade, post, error
	Level     string            `json:"level" db:"level"` // info, warn, error
	Message   string            `json:"message" db:"message"`
	Metadata  map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}
