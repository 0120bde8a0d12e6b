package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/babylon/engine/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// InTx runs fn in a READ COMMITTED transaction. Rows read through Lock*
// are held with SELECT ... FOR UPDATE until commit, so preconditions checked
// inside fn cannot be invalidated by a concurrent writer.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{q: tx}); err != nil {
		return mapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgError(err)
	}
	return nil
}

// mapPgError converts "no rows" and retryable concurrency failures into the
// store's sentinel errors.
func mapPgError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		}
	}
	return err
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

// --- Pools ---

const poolColumns = `id, name, npc_actor_id,
	total_value::TEXT, total_deposits::TEXT, available_balance::TEXT,
	lifetime_pnl::TEXT, performance_fee_rate::TEXT, total_fees_collected::TEXT,
	is_active, created_at, updated_at`

func scanPool(row scanner) (*model.Pool, error) {
	var p model.Pool
	var tv, td, ab, pnl, fee, fees string
	if err := row.Scan(&p.ID, &p.Name, &p.NPCActorID,
		&tv, &td, &ab, &pnl, &fee, &fees,
		&p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.TotalValue = dec(tv)
	p.TotalDeposits = dec(td)
	p.AvailableBalance = dec(ab)
	p.LifetimePnL = dec(pnl)
	p.PerformanceFeeRate = dec(fee)
	p.TotalFeesCollected = dec(fees)
	return &p, nil
}

func (s *PostgresStore) CreatePool(ctx context.Context, p *model.Pool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pools (id, name, npc_actor_id, total_value, total_deposits, available_balance,
		                    lifetime_pnl, performance_fee_rate, total_fees_collected, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11, $12)`,
		p.ID, p.Name, p.NPCActorID,
		p.TotalValue.String(), p.TotalDeposits.String(), p.AvailableBalance.String(),
		p.LifetimePnL.String(), p.PerformanceFeeRate.String(), p.TotalFeesCollected.String(),
		p.IsActive, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	p, err := scanPool(s.pool.QueryRow(ctx, `SELECT `+poolColumns+` FROM pools WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "get pool "+id)
	}
	return p, nil
}

func (s *PostgresStore) ListPools(ctx context.Context) ([]model.Pool, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+poolColumns+` FROM pools ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []model.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		pools = append(pools, *p)
	}
	return pools, rows.Err()
}

const depositColumns = `id, pool_id, user_id, amount::TEXT, shares::TEXT,
	current_value::TEXT, unrealized_pnl::TEXT, deposited_at, withdrawn_at, withdrawn_amount::TEXT`

func scanDeposit(row scanner) (*model.PoolDeposit, error) {
	var d model.PoolDeposit
	var amount, shares, cv, pnl string
	var withdrawn *string
	if err := row.Scan(&d.ID, &d.PoolID, &d.UserID, &amount, &shares,
		&cv, &pnl, &d.DepositedAt, &d.WithdrawnAt, &withdrawn); err != nil {
		return nil, err
	}
	d.Amount = dec(amount)
	d.Shares = dec(shares)
	d.CurrentValue = dec(cv)
	d.UnrealizedPnL = dec(pnl)
	if withdrawn != nil {
		w := dec(*withdrawn)
		d.WithdrawnAmount = &w
	}
	return &d, nil
}

func scanDeposits(rows pgx.Rows) ([]model.PoolDeposit, error) {
	defer rows.Close()
	var deposits []model.PoolDeposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		deposits = append(deposits, *d)
	}
	return deposits, rows.Err()
}

func (s *PostgresStore) ListDeposits(ctx context.Context, poolID string) ([]model.PoolDeposit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+depositColumns+` FROM pool_deposits WHERE pool_id = $1 ORDER BY deposited_at`, poolID)
	if err != nil {
		return nil, err
	}
	return scanDeposits(rows)
}

func (s *PostgresStore) GetDeposit(ctx context.Context, id string) (*model.PoolDeposit, error) {
	d, err := scanDeposit(s.pool.QueryRow(ctx, `SELECT `+depositColumns+` FROM pool_deposits WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "get deposit "+id)
	}
	return d, nil
}

// --- Users ---

const userColumns = `id, username, is_agent,
	virtual_balance::TEXT, total_deposited::TEXT, total_withdrawn::TEXT, lifetime_pnl::TEXT,
	reputation_points, agent_points_balance, agent_tier,
	autonomous_trading, autonomous_posting, autonomous_commenting, autonomous_dms, autonomous_group_chats,
	agent_status, agent_error_message, agent_last_tick_at, created_at`

func scanUser(row scanner) (*model.User, error) {
	var u model.User
	var bal, dep, wd, pnl string
	if err := row.Scan(&u.ID, &u.Username, &u.IsAgent,
		&bal, &dep, &wd, &pnl,
		&u.ReputationPoints, &u.AgentPointsBalance, &u.AgentTier,
		&u.AutonomousTrading, &u.AutonomousPosting, &u.AutonomousCommenting, &u.AutonomousDMs, &u.AutonomousGroupChats,
		&u.AgentStatus, &u.AgentErrorMessage, &u.AgentLastTickAt, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.VirtualBalance = dec(bal)
	u.TotalDeposited = dec(dep)
	u.TotalWithdrawn = dec(wd)
	u.LifetimePnL = dec(pnl)
	return &u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, username, is_agent, virtual_balance, total_deposited, total_withdrawn, lifetime_pnl,
		                    reputation_points, agent_points_balance, agent_tier,
		                    autonomous_trading, autonomous_posting, autonomous_commenting, autonomous_dms, autonomous_group_chats,
		                    agent_status, agent_error_message, agent_last_tick_at, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9, $10,
		         $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		u.ID, u.Username, u.IsAgent,
		u.VirtualBalance.String(), u.TotalDeposited.String(), u.TotalWithdrawn.String(), u.LifetimePnL.String(),
		u.ReputationPoints, u.AgentPointsBalance, u.AgentTier,
		u.AutonomousTrading, u.AutonomousPosting, u.AutonomousCommenting, u.AutonomousDMs, u.AutonomousGroupChats,
		u.AgentStatus, u.AgentErrorMessage, u.AgentLastTickAt, u.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "get user "+id)
	}
	return u, nil
}

func (s *PostgresStore) ListBalanceTransactions(ctx context.Context, userID string) ([]model.BalanceTransaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, type, amount::TEXT, balance_before::TEXT, balance_after::TEXT,
		        related_id, description, created_at
		 FROM balance_transactions WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.BalanceTransaction
	for rows.Next() {
		var bt model.BalanceTransaction
		var amount, before, after string
		if err := rows.Scan(&bt.ID, &bt.UserID, &bt.Type, &amount, &before, &after,
			&bt.RelatedID, &bt.Description, &bt.CreatedAt); err != nil {
			return nil, err
		}
		bt.Amount = dec(amount)
		bt.BalanceBefore = dec(before)
		bt.BalanceAfter = dec(after)
		result = append(result, bt)
	}
	return result, rows.Err()
}

func (s *PostgresStore) ListPointsTransactions(ctx context.Context, userID string) ([]model.PointsTransaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, ledger, amount, points_before, points_after, reason, related_id, created_at
		 FROM points_transactions WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.PointsTransaction
	for rows.Next() {
		var pt model.PointsTransaction
		if err := rows.Scan(&pt.ID, &pt.UserID, &pt.Ledger, &pt.Amount, &pt.PointsBefore, &pt.PointsAfter,
			&pt.Reason, &pt.RelatedID, &pt.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, pt)
	}
	return result, rows.Err()
}

// --- Markets ---

const marketColumns = `id, question, status, yes_shares::TEXT, no_shares::TEXT, liquidity::TEXT,
	resolution_date, resolved_outcome, created_at, resolved_at`

func scanMarket(row scanner) (*model.Market, error) {
	var m model.Market
	var yes, no, liq string
	if err := row.Scan(&m.ID, &m.Question, &m.Status, &yes, &no, &liq,
		&m.ResolutionDate, &m.ResolvedOutcome, &m.CreatedAt, &m.ResolvedAt); err != nil {
		return nil, err
	}
	m.YesShares = dec(yes)
	m.NoShares = dec(no)
	m.Liquidity = dec(liq)
	return &m, nil
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, question, status, yes_shares, no_shares, liquidity,
		                      resolution_date, resolved_outcome, created_at, resolved_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8, $9, $10)`,
		m.ID, m.Question, m.Status,
		m.YesShares.String(), m.NoShares.String(), m.Liquidity.String(),
		m.ResolutionDate, m.ResolvedOutcome, m.CreatedAt, m.ResolvedAt,
	)
	return err
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx, `SELECT `+marketColumns+` FROM markets WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "get market "+id)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context, status string) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets
		 WHERE ($1 = '' OR status = $1)
		 ORDER BY created_at DESC, id`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

const positionColumns = `id, user_id, market_id, yes_shares::TEXT, no_shares::TEXT, cost_basis::TEXT, settled, updated_at`

func scanPosition(row scanner) (*model.Position, error) {
	var p model.Position
	var yes, no, cost string
	if err := row.Scan(&p.ID, &p.UserID, &p.MarketID, &yes, &no, &cost, &p.Settled, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.YesShares = dec(yes)
	p.NoShares = dec(no)
	p.CostBasis = dec(cost)
	return &p, nil
}

func scanPositions(rows pgx.Rows) ([]model.Position, error) {
	defer rows.Close()
	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) ListUserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE user_id = $1 ORDER BY market_id`, userID)
	if err != nil {
		return nil, err
	}
	return scanPositions(rows)
}

// --- Reputation ---

const metricsColumns = `user_id, games_played, games_won, average_game_score, normalized_pnl,
	total_trades, profitable_trades, win_rate, average_roi, roi_sample_count,
	total_feedback_count, average_feedback_score, positive_count, neutral_count, negative_count,
	reputation_score, trust_level, confidence_score, first_activity_at, last_activity_at, updated_at`

func scanMetrics(row scanner) (*model.AgentPerformanceMetrics, error) {
	var m model.AgentPerformanceMetrics
	if err := row.Scan(&m.UserID, &m.GamesPlayed, &m.GamesWon, &m.AverageGameScore, &m.NormalizedPnL,
		&m.TotalTrades, &m.ProfitableTrades, &m.WinRate, &m.AverageROI, &m.ROISampleCount,
		&m.TotalFeedbackCount, &m.AverageFeedbackScore, &m.PositiveCount, &m.NeutralCount, &m.NegativeCount,
		&m.ReputationScore, &m.TrustLevel, &m.ConfidenceScore, &m.FirstActivityAt, &m.LastActivityAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) GetMetrics(ctx context.Context, userID string) (*model.AgentPerformanceMetrics, error) {
	m, err := scanMetrics(s.pool.QueryRow(ctx,
		`SELECT `+metricsColumns+` FROM agent_performance_metrics WHERE user_id = $1`, userID))
	if err != nil {
		return nil, notFound(err, "get metrics "+userID)
	}
	return m, nil
}

// --- Agents ---

func (s *PostgresStore) ListAutonomousAgents(ctx context.Context, minPoints int64) ([]model.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE is_agent
		   AND agent_points_balance >= $1
		   AND (autonomous_trading OR autonomous_posting OR autonomous_commenting
		        OR autonomous_dms OR autonomous_group_chats)
		 ORDER BY id`, minPoints)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *u)
	}
	return agents, rows.Err()
}

func (s *PostgresStore) InsertAgentLog(ctx context.Context, l *model.AgentLog) error {
	var meta []byte
	if len(l.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(l.Metadata); err != nil {
			return err
		}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agent_logs (id, agent_id, type, level, message, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		l.ID, l.AgentID, l.Type, l.Level, l.Message, meta, l.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListAgentLogs(ctx context.Context, agentID string, limit int) ([]model.AgentLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, agent_id, type, level, message, metadata, created_at
		 FROM agent_logs WHERE agent_id = $1 ORDER BY created_at DESC LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []model.AgentLog
	for rows.Next() {
		var l model.AgentLog
		var meta []byte
		if err := rows.Scan(&l.ID, &l.AgentID, &l.Type, &l.Level, &l.Message, &meta, &l.CreatedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &l.Metadata); err != nil {
				return nil, err
			}
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *PostgresStore) InsertPost(ctx context.Context, p *model.Post) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO posts (id, author_id, kind, content, model, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.AuthorID, p.Kind, p.Content, p.Model, p.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListPosts(ctx context.Context, authorID string, limit int) ([]model.Post, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, author_id, kind, content, model, created_at
		 FROM posts WHERE author_id = $1 ORDER BY created_at DESC LIMIT $2`, authorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []model.Post
	for rows.Next() {
		var p model.Post
		if err := rows.Scan(&p.ID, &p.AuthorID, &p.Kind, &p.Content, &p.Model, &p.CreatedAt); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// pgTx implements Tx on top of a pgx transaction.
type pgTx struct {
	q querier
}

func (t *pgTx) LockPool(ctx context.Context, id string) (*model.Pool, error) {
	p, err := scanPool(t.q.QueryRow(ctx, `SELECT `+poolColumns+` FROM pools WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "lock pool "+id)
	}
	return p, nil
}

func (t *pgTx) UpdatePool(ctx context.Context, p *model.Pool) error {
	_, err := t.q.Exec(ctx,
		`UPDATE pools
		 SET total_value = $2::NUMERIC, total_deposits = $3::NUMERIC, available_balance = $4::NUMERIC,
		     lifetime_pnl = $5::NUMERIC, total_fees_collected = $6::NUMERIC, is_active = $7, updated_at = $8
		 WHERE id = $1`,
		p.ID, p.TotalValue.String(), p.TotalDeposits.String(), p.AvailableBalance.String(),
		p.LifetimePnL.String(), p.TotalFeesCollected.String(), p.IsActive, p.UpdatedAt,
	)
	return err
}

func (t *pgTx) ActiveDeposits(ctx context.Context, poolID string) ([]model.PoolDeposit, error) {
	rows, err := t.q.Query(ctx,
		`SELECT `+depositColumns+` FROM pool_deposits
		 WHERE pool_id = $1 AND withdrawn_at IS NULL
		 ORDER BY deposited_at FOR UPDATE`, poolID)
	if err != nil {
		return nil, err
	}
	return scanDeposits(rows)
}

func (t *pgTx) LockDeposit(ctx context.Context, id string) (*model.PoolDeposit, error) {
	d, err := scanDeposit(t.q.QueryRow(ctx, `SELECT `+depositColumns+` FROM pool_deposits WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "lock deposit "+id)
	}
	return d, nil
}

func (t *pgTx) InsertDeposit(ctx context.Context, d *model.PoolDeposit) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO pool_deposits (id, pool_id, user_id, amount, shares, current_value, unrealized_pnl, deposited_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8)`,
		d.ID, d.PoolID, d.UserID, d.Amount.String(), d.Shares.String(),
		d.CurrentValue.String(), d.UnrealizedPnL.String(), d.DepositedAt,
	)
	return err
}

func (t *pgTx) UpdateDeposit(ctx context.Context, d *model.PoolDeposit) error {
	var withdrawn *string
	if d.WithdrawnAmount != nil {
		s := d.WithdrawnAmount.String()
		withdrawn = &s
	}
	_, err := t.q.Exec(ctx,
		`UPDATE pool_deposits
		 SET current_value = $2::NUMERIC, unrealized_pnl = $3::NUMERIC,
		     withdrawn_at = $4, withdrawn_amount = $5::NUMERIC
		 WHERE id = $1`,
		d.ID, d.CurrentValue.String(), d.UnrealizedPnL.String(), d.WithdrawnAt, withdrawn,
	)
	return err
}

func (t *pgTx) LockUser(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(t.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "lock user "+id)
	}
	return u, nil
}

func (t *pgTx) UpdateUser(ctx context.Context, u *model.User) error {
	_, err := t.q.Exec(ctx,
		`UPDATE users
		 SET virtual_balance = $2::NUMERIC, total_deposited = $3::NUMERIC, total_withdrawn = $4::NUMERIC,
		     lifetime_pnl = $5::NUMERIC, reputation_points = $6, agent_points_balance = $7, agent_tier = $8,
		     autonomous_trading = $9, autonomous_posting = $10, autonomous_commenting = $11,
		     autonomous_dms = $12, autonomous_group_chats = $13,
		     agent_status = $14, agent_error_message = $15, agent_last_tick_at = $16
		 WHERE id = $1`,
		u.ID, u.VirtualBalance.String(), u.TotalDeposited.String(), u.TotalWithdrawn.String(),
		u.LifetimePnL.String(), u.ReputationPoints, u.AgentPointsBalance, u.AgentTier,
		u.AutonomousTrading, u.AutonomousPosting, u.AutonomousCommenting,
		u.AutonomousDMs, u.AutonomousGroupChats,
		u.AgentStatus, u.AgentErrorMessage, u.AgentLastTickAt,
	)
	return err
}

func (t *pgTx) InsertBalanceTransaction(ctx context.Context, bt *model.BalanceTransaction) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO balance_transactions (id, user_id, type, amount, balance_before, balance_after,
		                                   related_id, description, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8, $9)`,
		bt.ID, bt.UserID, bt.Type, bt.Amount.String(), bt.BalanceBefore.String(), bt.BalanceAfter.String(),
		bt.RelatedID, bt.Description, bt.CreatedAt,
	)
	return err
}

func (t *pgTx) InsertPointsTransaction(ctx context.Context, pt *model.PointsTransaction) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO points_transactions (id, user_id, ledger, amount, points_before, points_after,
		                                  reason, related_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		pt.ID, pt.UserID, pt.Ledger, pt.Amount, pt.PointsBefore, pt.PointsAfter,
		pt.Reason, pt.RelatedID, pt.CreatedAt,
	)
	return err
}

func (t *pgTx) LockMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := scanMarket(t.q.QueryRow(ctx, `SELECT `+marketColumns+` FROM markets WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "lock market "+id)
	}
	return m, nil
}

func (t *pgTx) UpdateMarket(ctx context.Context, m *model.Market) error {
	_, err := t.q.Exec(ctx,
		`UPDATE markets
		 SET status = $2, yes_shares = $3::NUMERIC, no_shares = $4::NUMERIC,
		     resolved_outcome = $5, resolved_at = $6
		 WHERE id = $1`,
		m.ID, m.Status, m.YesShares.String(), m.NoShares.String(), m.ResolvedOutcome, m.ResolvedAt,
	)
	return err
}

func (t *pgTx) GetPosition(ctx context.Context, userID, marketID string) (*model.Position, error) {
	p, err := scanPosition(t.q.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE user_id = $1 AND market_id = $2 FOR UPDATE`,
		userID, marketID))
	if err != nil {
		return nil, notFound(err, "get position "+userID+"/"+marketID)
	}
	return p, nil
}

func (t *pgTx) UpsertPosition(ctx context.Context, p *model.Position) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO positions (id, user_id, market_id, yes_shares, no_shares, cost_basis, settled, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8)
		 ON CONFLICT (user_id, market_id) DO UPDATE
		 SET yes_shares = EXCLUDED.yes_shares, no_shares = EXCLUDED.no_shares,
		     cost_basis = EXCLUDED.cost_basis, settled = EXCLUDED.settled, updated_at = EXCLUDED.updated_at`,
		p.ID, p.UserID, p.MarketID, p.YesShares.String(), p.NoShares.String(), p.CostBasis.String(),
		p.Settled, p.UpdatedAt,
	)
	return err
}

func (t *pgTx) ListMarketPositions(ctx context.Context, marketID string) ([]model.Position, error) {
	rows, err := t.q.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE market_id = $1 ORDER BY user_id FOR UPDATE`, marketID)
	if err != nil {
		return nil, err
	}
	return scanPositions(rows)
}

func (t *pgTx) ListUserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := t.q.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE user_id = $1 ORDER BY market_id`, userID)
	if err != nil {
		return nil, err
	}
	return scanPositions(rows)
}

func (t *pgTx) GetMetrics(ctx context.Context, userID string) (*model.AgentPerformanceMetrics, error) {
	m, err := scanMetrics(t.q.QueryRow(ctx,
		`SELECT `+metricsColumns+` FROM agent_performance_metrics WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return nil, notFound(err, "get metrics "+userID)
	}
	return m, nil
}

func (t *pgTx) UpsertMetrics(ctx context.Context, m *model.AgentPerformanceMetrics) error {
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now().UTC()
	}
	_, err := t.q.Exec(ctx,
		`INSERT INTO agent_performance_metrics (`+metricsColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		 ON CONFLICT (user_id) DO UPDATE SET
		     games_played = EXCLUDED.games_played, games_won = EXCLUDED.games_won,
		     average_game_score = EXCLUDED.average_game_score, normalized_pnl = EXCLUDED.normalized_pnl,
		     total_trades = EXCLUDED.total_trades, profitable_trades = EXCLUDED.profitable_trades,
		     win_rate = EXCLUDED.win_rate, average_roi = EXCLUDED.average_roi,
		     roi_sample_count = EXCLUDED.roi_sample_count,
		     total_feedback_count = EXCLUDED.total_feedback_count,
		     average_feedback_score = EXCLUDED.average_feedback_score,
		     positive_count = EXCLUDED.positive_count, neutral_count = EXCLUDED.neutral_count,
		     negative_count = EXCLUDED.negative_count,
		     reputation_score = EXCLUDED.reputation_score, trust_level = EXCLUDED.trust_level,
		     confidence_score = EXCLUDED.confidence_score,
		     first_activity_at = EXCLUDED.first_activity_at, last_activity_at = EXCLUDED.last_activity_at,
		     updated_at = EXCLUDED.updated_at`,
		m.UserID, m.GamesPlayed, m.GamesWon, m.AverageGameScore, m.NormalizedPnL,
		m.TotalTrades, m.ProfitableTrades, m.WinRate, m.AverageROI, m.ROISampleCount,
		m.TotalFeedbackCount, m.AverageFeedbackScore, m.PositiveCount, m.NeutralCount, m.NegativeCount,
		m.ReputationScore, m.TrustLevel, m.ConfidenceScore, m.FirstActivityAt, m.LastActivityAt, m.UpdatedAt,
	)
	return err
}
