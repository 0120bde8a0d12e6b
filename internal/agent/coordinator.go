// Package agent runs autonomous agents. Every tick charges each enabled
// agent its per-tick points cost and then lets it act: trade, post, comment,
// send DMs and chat in groups, in that order.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/babylon/engine/internal/apperr"
	"github.com/babylon/engine/internal/metrics"
	"github.com/babylon/engine/internal/model"
	"github.com/babylon/engine/internal/store"
)

// Per-agent tick statuses.
const (
	StatusSuccess = "success"
	StatusPaused  = "paused"
	StatusError   = "error"
)

// ReasonInsufficientPoints is logged when an agent cannot pay for a tick.
const ReasonInsufficientPoints = "insufficient_points"

// Agent log types.
const (
	LogTick  = "tick"
	LogTrade = "trade"
	LogPost  = "post"
	LogError = "error"
)

// Defaults for Config.
const (
	DefaultConcurrency  = 4
	DefaultFreeTickCost = 1
	DefaultProTickCost  = 2
)

// ErrTickInProgress is returned when Tick is called while another tick is
// still running.
var ErrTickInProgress = apperr.New(apperr.ErrConflict, "TICK_IN_PROGRESS", "an agent tick is already running")

// Handler performs one category of autonomous action for an agent and
// reports how many actions it took.
type Handler interface {
	Act(ctx context.Context, agent *model.User) (int, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, agent *model.User) (int, error)

// Act calls f.
func (f HandlerFunc) Act(ctx context.Context, agent *model.User) (int, error) {
	return f(ctx, agent)
}

// Handlers holds one handler per action category. A nil handler is skipped.
type Handlers struct {
	Trading    Handler
	Posting    Handler
	Commenting Handler
	DMs        Handler
	GroupChats Handler
}

// Config tunes the coordinator. Zero values take the package defaults.
type Config struct {
	Concurrency  int
	FreeTickCost int64
	ProTickCost  int64
	Logger       *slog.Logger
}

// ActionCounts is the number of actions taken per category.
type ActionCounts struct {
	Trades     int `json:"trades"`
	Posts      int `json:"posts"`
	Comments   int `json:"comments"`
	DMs        int `json:"dms"`
	GroupChats int `json:"group_chats"`
}

// Total sums all categories.
func (a ActionCounts) Total() int {
	return a.Trades + a.Posts + a.Comments + a.DMs + a.GroupChats
}

func (a *ActionCounts) add(b ActionCounts) {
	a.Trades += b.Trades
	a.Posts += b.Posts
	a.Comments += b.Comments
	a.DMs += b.DMs
	a.GroupChats += b.GroupChats
}

// AgentResult is one agent's outcome for a tick.
type AgentResult struct {
	AgentID    string       `json:"agent_id"`
	Status     string       `json:"status"`
	Error      string       `json:"error,omitempty"`
	Tier       string       `json:"tier"`
	PointsCost int64        `json:"points_cost"`
	Actions    ActionCounts `json:"actions"`
	DurationMS int64        `json:"duration_ms"`
}

// TickResult aggregates a whole tick.
type TickResult struct {
	ID         string        `json:"id"`
	Success    bool          `json:"success"`
	Processed  int           `json:"processed"`
	Succeeded  int           `json:"succeeded"`
	Paused     int           `json:"paused"`
	Failed     int           `json:"failed"`
	Actions    ActionCounts  `json:"actions"`
	DurationMS int64         `json:"duration"`
	Results    []AgentResult `json:"results"`
}

// Coordinator runs ticks over every autonomous agent. Agents are processed
// in parallel up to Config.Concurrency; one agent failing never affects
// another.
type Coordinator struct {
	store    store.Store
	handlers Handlers
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	running  atomic.Bool
}

// NewCoordinator creates a coordinator.
func NewCoordinator(st store.Store, handlers Handlers, cfg Config) *Coordinator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.FreeTickCost <= 0 {
		cfg.FreeTickCost = DefaultFreeTickCost
	}
	if cfg.ProTickCost <= 0 {
		cfg.ProTickCost = DefaultProTickCost
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:    st,
		handlers: handlers,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// TickCost returns what one tick costs the agent in agent points.
func (c *Coordinator) TickCost(agent *model.User) int64 {
	if agent.AgentTier == model.AgentTierPro {
		return c.cfg.ProTickCost
	}
	return c.cfg.FreeTickCost
}

// Tick processes every agent that has an autonomous feature enabled and at
// least one agent point. Per-agent failures are reported in the result,
// never returned.
func (c *Coordinator) Tick(ctx context.Context) (*TickResult, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrTickInProgress
	}
	defer c.running.Store(false)

	start := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	agents, err := c.store.ListAutonomousAgents(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("list autonomous agents: %w", err)
	}

	tickID := uuid.New().String()
	results := make([]AgentResult, len(agents))

	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)
	for i := range agents {
		i := i
		g.Go(func() error {
			results[i] = c.processAgent(ctx, tickID, agents[i])
			return nil
		})
	}
	g.Wait()

	res := &TickResult{
		ID:        tickID,
		Success:   true,
		Processed: len(results),
		Results:   results,
	}
	for _, r := range results {
		switch r.Status {
		case StatusSuccess:
			res.Succeeded++
		case StatusPaused:
			res.Paused++
		default:
			res.Failed++
		}
		res.Actions.add(r.Actions)
	}
	res.DurationMS = time.Since(start).Milliseconds()

	c.logger.Info("agent tick complete",
		"tick_id", tickID,
		"processed", res.Processed,
		"succeeded", res.Succeeded,
		"paused", res.Paused,
		"failed", res.Failed,
		"actions", res.Actions.Total(),
		"duration_ms", res.DurationMS,
	)
	return res, nil
}

// Run ticks every interval until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	c.logger.Info("agent tick scheduler started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := c.Tick(ctx); err != nil {
				c.logger.Warn("scheduled agent tick failed", "err", err)
			}
		}
	}
}

func (c *Coordinator) processAgent(ctx context.Context, tickID string, agent model.User) (res AgentResult) {
	start := time.Now()
	res = AgentResult{
		AgentID:    agent.ID,
		Tier:       tierLabel(agent.AgentTier),
		PointsCost: c.TickCost(&agent),
	}
	defer func() {
		if r := recover(); r != nil {
			res.Status = StatusError
			res.Error = fmt.Sprintf("panic: %v", r)
			c.fail(ctx, agent.ID, res.Error)
		}
		res.DurationMS = time.Since(start).Milliseconds()
		metrics.AgentTicks.WithLabelValues(res.Status).Inc()
	}()

	current, paid, err := c.charge(ctx, tickID, agent.ID, res.PointsCost)
	if err != nil {
		res.Status = StatusError
		res.Error = err.Error()
		c.fail(ctx, agent.ID, res.Error)
		return res
	}
	if !paid {
		res.Status = StatusPaused
		res.Error = ReasonInsufficientPoints
		c.log(ctx, agent.ID, LogTick, "warn", "agent paused: "+ReasonInsufficientPoints, map[string]string{
			"reason":  ReasonInsufficientPoints,
			"balance": strconv.FormatInt(current.AgentPointsBalance, 10),
			"cost":    strconv.FormatInt(res.PointsCost, 10),
		})
		c.logger.Info("agent paused", "agent_id", agent.ID, "reason", ReasonInsufficientPoints)
		return res
	}

	actions, err := c.act(ctx, current)
	res.Actions = actions
	if err != nil {
		res.Status = StatusError
		res.Error = err.Error()
		c.fail(ctx, agent.ID, res.Error)
		return res
	}

	res.Status = StatusSuccess
	if err := c.markRunning(ctx, agent.ID); err != nil {
		c.logger.Warn("update agent status", "agent_id", agent.ID, "err", err)
	}
	c.log(ctx, agent.ID, LogTick, "info", "tick complete", map[string]string{
		"tick_id":     tickID,
		"trades":      strconv.Itoa(actions.Trades),
		"posts":       strconv.Itoa(actions.Posts),
		"comments":    strconv.Itoa(actions.Comments),
		"dms":         strconv.Itoa(actions.DMs),
		"group_chats": strconv.Itoa(actions.GroupChats),
		"duration_ms": strconv.FormatInt(time.Since(start).Milliseconds(), 10),
		"tier":        res.Tier,
	})
	return res
}

// charge takes the tick cost from the agent's points. When the agent cannot
// pay, every autonomous feature is switched off and the agent is paused
// instead. Either way the returned user is the locked, updated row.
func (c *Coordinator) charge(ctx context.Context, tickID, agentID string, cost int64) (*model.User, bool, error) {
	var (
		user *model.User
		paid bool
	)
	err := c.store.InTx(ctx, func(tx store.Tx) error {
		u, err := tx.LockUser(ctx, agentID)
		if err != nil {
			return err
		}
		user, paid = u, false

		if u.AgentPointsBalance < cost {
			u.DisableAutonomous()
			u.AgentStatus = model.AgentStatusPaused
			u.AgentErrorMessage = ReasonInsufficientPoints
			return tx.UpdateUser(ctx, u)
		}

		before := u.AgentPointsBalance
		u.AgentPointsBalance -= cost
		if err := tx.UpdateUser(ctx, u); err != nil {
			return err
		}
		paid = true
		return tx.InsertPointsTransaction(ctx, &model.PointsTransaction{
			ID:           uuid.New().String(),
			UserID:       u.ID,
			Ledger:       model.LedgerAgentPoints,
			Amount:       -cost,
			PointsBefore: before,
			PointsAfter:  u.AgentPointsBalance,
			Reason:       "agent_tick",
			RelatedID:    tickID,
			CreatedAt:    c.now(),
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("charge tick: %w", err)
	}
	return user, paid, nil
}

// act runs the enabled handlers in order and stops at the first error.
func (c *Coordinator) act(ctx context.Context, agent *model.User) (ActionCounts, error) {
	var counts ActionCounts
	steps := []struct {
		name    string
		enabled bool
		h       Handler
		n       *int
	}{
		{"trading", agent.AutonomousTrading, c.handlers.Trading, &counts.Trades},
		{"posting", agent.AutonomousPosting, c.handlers.Posting, &counts.Posts},
		{"commenting", agent.AutonomousCommenting, c.handlers.Commenting, &counts.Comments},
		{"dms", agent.AutonomousDMs, c.handlers.DMs, &counts.DMs},
		{"group_chats", agent.AutonomousGroupChats, c.handlers.GroupChats, &counts.GroupChats},
	}
	for _, s := range steps {
		if !s.enabled || s.h == nil {
			continue
		}
		n, err := s.h.Act(ctx, agent)
		*s.n += n
		if n > 0 {
			metrics.AgentActions.WithLabelValues(s.name).Add(float64(n))
		}
		if err != nil {
			return counts, fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return counts, nil
}

func (c *Coordinator) markRunning(ctx context.Context, agentID string) error {
	return c.store.InTx(ctx, func(tx store.Tx) error {
		u, err := tx.LockUser(ctx, agentID)
		if err != nil {
			return err
		}
		now := c.now()
		u.AgentStatus = model.AgentStatusRunning
		u.AgentErrorMessage = ""
		u.AgentLastTickAt = &now
		return tx.UpdateUser(ctx, u)
	})
}

// fail records the error on the agent row and in the agent log.
func (c *Coordinator) fail(ctx context.Context, agentID, msg string) {
	err := c.store.InTx(ctx, func(tx store.Tx) error {
		u, err := tx.LockUser(ctx, agentID)
		if err != nil {
			return err
		}
		u.AgentStatus = model.AgentStatusError
		u.AgentErrorMessage = msg
		return tx.UpdateUser(ctx, u)
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		c.logger.Warn("record agent error", "agent_id", agentID, "err", err)
	}
	c.log(ctx, agentID, LogError, "error", msg, nil)
	c.logger.Error("agent tick failed", "agent_id", agentID, "err", msg)
}

func (c *Coordinator) log(ctx context.Context, agentID, typ, level, msg string, meta map[string]string) {
	err := c.store.InsertAgentLog(ctx, &model.AgentLog{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		Type:      typ,
		Level:     level,
		Message:   msg,
		Metadata:  meta,
		CreatedAt: c.now(),
	})
	if err != nil {
		c.logger.Warn("write agent log", "agent_id", agentID, "err", err)
	}
}

func tierLabel(tier string) string {
	if tier == model.AgentTierPro {
		return model.AgentTierPro
	}
	return "free"
}
