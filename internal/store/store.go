// Package store defines the persistence interface for the engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"fmt"

	"github.com/babylon/engine/internal/apperr"
	"github.com/babylon/engine/internal/model"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = fmt.Errorf("store: %w", apperr.ErrNotFound)

	// ErrConflict is returned when a transaction lost a race with a
	// concurrent writer (serialization failure, deadlock). Retryable.
	ErrConflict = fmt.Errorf("store: %w", apperr.ErrConflict)
)

// Store is the persistence interface. Every balance or pool mutation goes
// through InTx so that it commits all-or-nothing.
type Store interface {
	// InTx runs fn inside a single transaction. If fn returns an error the
	// transaction is rolled back and nothing fn wrote is visible.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// --- Pools ---

	// CreatePool persists a new pool.
	CreatePool(ctx context.Context, pool *model.Pool) error

	// GetPool retrieves a pool by ID.
	GetPool(ctx context.Context, id string) (*model.Pool, error)

	// ListPools returns all pools, newest first.
	ListPools(ctx context.Context) ([]model.Pool, error)

	// ListDeposits returns every deposit (active and closed) for a pool.
	ListDeposits(ctx context.Context, poolID string) ([]model.PoolDeposit, error)

	// GetDeposit retrieves a deposit by ID.
	GetDeposit(ctx context.Context, id string) (*model.PoolDeposit, error)

	// --- Users and audit ledger ---

	// CreateUser persists a new user.
	CreateUser(ctx context.Context, user *model.User) error

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// ListBalanceTransactions returns a user's balance audit rows, oldest first.
	ListBalanceTransactions(ctx context.Context, userID string) ([]model.BalanceTransaction, error)

	// ListPointsTransactions returns a user's points audit rows, oldest first.
	ListPointsTransactions(ctx context.Context, userID string) ([]model.PointsTransaction, error)

	// --- Prediction markets ---

	// CreateMarket persists a new market.
	CreateMarket(ctx context.Context, market *model.Market) error

	// GetMarket retrieves a market by ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns markets, optionally filtered by status ("" = all).
	ListMarkets(ctx context.Context, status string) ([]model.Market, error)

	// ListUserPositions returns all positions held by a user.
	ListUserPositions(ctx context.Context, userID string) ([]model.Position, error)

	// --- Reputation ---

	// GetMetrics retrieves the performance metrics row for a user.
	GetMetrics(ctx context.Context, userID string) (*model.AgentPerformanceMetrics, error)

	// --- Autonomous agents ---

	// ListAutonomousAgents returns agent users with at least one autonomous
	// feature enabled and at least minPoints agent points.
	ListAutonomousAgents(ctx context.Context, minPoints int64) ([]model.User, error)

	// InsertAgentLog appends an agent activity record.
	InsertAgentLog(ctx context.Context, log *model.AgentLog) error

	// ListAgentLogs returns an agent's most recent logs, newest first.
	ListAgentLogs(ctx context.Context, agentID string, limit int) ([]model.AgentLog, error)

	// InsertPost persists agent-generated content.
	InsertPost(ctx context.Context, post *model.Post) error

	// ListPosts returns an author's posts, newest first.
	ListPosts(ctx context.Context, authorID string, limit int) ([]model.Post, error)
}

// Tx is the set of reads and writes available inside a transaction.
// Lock* methods take a row lock held until commit or rollback.
type Tx interface {
	// --- Pools ---
	LockPool(ctx context.Context, id string) (*model.Pool, error)
	UpdatePool(ctx context.Context, pool *model.Pool) error
	ActiveDeposits(ctx context.Context, poolID string) ([]model.PoolDeposit, error)
	LockDeposit(ctx context.Context, id string) (*model.PoolDeposit, error)
	InsertDeposit(ctx context.Context, dep *model.PoolDeposit) error
	UpdateDeposit(ctx context.Context, dep *model.PoolDeposit) error

	// --- Users ---
	LockUser(ctx context.Context, id string) (*model.User, error)
	UpdateUser(ctx context.Context, user *model.User) error
	InsertBalanceTransaction(ctx context.Context, bt *model.BalanceTransaction) error
	InsertPointsTransaction(ctx context.Context, pt *model.PointsTransaction) error

	// --- Markets ---
	LockMarket(ctx context.Context, id string) (*model.Market, error)
	UpdateMarket(ctx context.Context, market *model.Market) error
	// GetPosition returns ErrNotFound when the user holds nothing yet.
	GetPosition(ctx context.Context, userID, marketID string) (*model.Position, error)
	UpsertPosition(ctx context.Context, pos *model.Position) error
	ListMarketPositions(ctx context.Context, marketID string) ([]model.Position, error)
	ListUserPositions(ctx context.Context, userID string) ([]model.Position, error)

	// --- Reputation ---
	// GetMetrics returns ErrNotFound when no metrics row exists yet.
	GetMetrics(ctx context.Context, userID string) (*model.AgentPerformanceMetrics, error)
	UpsertMetrics(ctx context.Context, m *model.AgentPerformanceMetrics) error
}
