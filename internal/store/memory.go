package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/babylon/engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Transactions are serialized by a single mutex and run against a copy of
// the state; the copy replaces the live state only when fn succeeds, which
// gives the same all-or-nothing behaviour as a database transaction.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	pools     map[string]model.Pool
	deposits  map[string]model.PoolDeposit
	users     map[string]model.User
	balanceTx []model.BalanceTransaction
	pointsTx  []model.PointsTransaction
	markets   map[string]model.Market
	positions map[string]model.Position // key: userID/marketID
	metrics   map[string]model.AgentPerformanceMetrics
	agentLogs []model.AgentLog
	posts     []model.Post
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		pools:     make(map[string]model.Pool),
		deposits:  make(map[string]model.PoolDeposit),
		users:     make(map[string]model.User),
		markets:   make(map[string]model.Market),
		positions: make(map[string]model.Position),
		metrics:   make(map[string]model.AgentPerformanceMetrics),
	}}
}

// clone copies everything a transaction may write. Append-only slices are
// copied by header with a capped capacity so appends never alias the live state.
func (st *memState) clone() *memState {
	c := &memState{
		pools:     make(map[string]model.Pool, len(st.pools)),
		deposits:  make(map[string]model.PoolDeposit, len(st.deposits)),
		users:     make(map[string]model.User, len(st.users)),
		markets:   make(map[string]model.Market, len(st.markets)),
		positions: make(map[string]model.Position, len(st.positions)),
		metrics:   make(map[string]model.AgentPerformanceMetrics, len(st.metrics)),
		balanceTx: st.balanceTx[:len(st.balanceTx):len(st.balanceTx)],
		pointsTx:  st.pointsTx[:len(st.pointsTx):len(st.pointsTx)],
		agentLogs: st.agentLogs,
		posts:     st.posts,
	}
	for k, v := range st.pools {
		c.pools[k] = v
	}
	for k, v := range st.deposits {
		c.deposits[k] = v
	}
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.markets {
		c.markets[k] = v
	}
	for k, v := range st.positions {
		c.positions[k] = v
	}
	for k, v := range st.metrics {
		c.metrics[k] = v
	}
	return c
}

func positionKey(userID, marketID string) string {
	return userID + "/" + marketID
}

// InTx runs fn against a private copy of the state and publishes it on success.
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	staged := s.state.clone()
	if err := fn(&memTx{st: staged}); err != nil {
		return err
	}
	s.state = staged
	return nil
}

// --- Pools ---

func (s *MemoryStore) CreatePool(_ context.Context, p *model.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.pools[p.ID]; ok {
		return fmt.Errorf("pool %s already exists", p.ID)
	}
	s.state.pools[p.ID] = *p
	return nil
}

func (s *MemoryStore) GetPool(_ context.Context, id string) (*model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.state.pools[id]
	if !ok {
		return nil, fmt.Errorf("pool %s: %w", id, ErrNotFound)
	}
	return &p, nil
}

func (s *MemoryStore) ListPools(_ context.Context) ([]model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pools := make([]model.Pool, 0, len(s.state.pools))
	for _, p := range s.state.pools {
		pools = append(pools, p)
	}
	sort.Slice(pools, func(i, j int) bool {
		return pools[i].CreatedAt.After(pools[j].CreatedAt)
	})
	return pools, nil
}

func (s *MemoryStore) ListDeposits(_ context.Context, poolID string) ([]model.PoolDeposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return depositsForPool(s.state, poolID, false), nil
}

func (s *MemoryStore) GetDeposit(_ context.Context, id string) (*model.PoolDeposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.state.deposits[id]
	if !ok {
		return nil, fmt.Errorf("deposit %s: %w", id, ErrNotFound)
	}
	return &d, nil
}

func depositsForPool(st *memState, poolID string, activeOnly bool) []model.PoolDeposit {
	var result []model.PoolDeposit
	for _, d := range st.deposits {
		if d.PoolID != poolID {
			continue
		}
		if activeOnly && !d.Active() {
			continue
		}
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DepositedAt.Before(result[j].DepositedAt)
	})
	return result
}

// --- Users ---

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.users[u.ID]; ok {
		return fmt.Errorf("user %s already exists", u.ID)
	}
	s.state.users[u.ID] = *u
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.state.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return &u, nil
}

func (s *MemoryStore) ListBalanceTransactions(_ context.Context, userID string) ([]model.BalanceTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.BalanceTransaction
	for _, bt := range s.state.balanceTx {
		if bt.UserID == userID {
			result = append(result, bt)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListPointsTransactions(_ context.Context, userID string) ([]model.PointsTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.PointsTransaction
	for _, pt := range s.state.pointsTx {
		if pt.UserID == userID {
			result = append(result, pt)
		}
	}
	return result, nil
}

// --- Markets ---

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.markets[m.ID]; ok {
		return fmt.Errorf("market %s already exists", m.ID)
	}
	s.state.markets[m.ID] = *m
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.state.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	return &m, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context, status string) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.state.markets))
	for _, m := range s.state.markets {
		if status != "" && m.Status != status {
			continue
		}
		markets = append(markets, m)
	}
	sort.Slice(markets, func(i, j int) bool {
		if markets[i].CreatedAt.Equal(markets[j].CreatedAt) {
			return markets[i].ID < markets[j].ID
		}
		return markets[i].CreatedAt.After(markets[j].CreatedAt)
	})
	return markets, nil
}

func (s *MemoryStore) ListUserPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return positionsForUser(s.state, userID), nil
}

func positionsForUser(st *memState, userID string) []model.Position {
	var result []model.Position
	for _, p := range st.positions {
		if p.UserID == userID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].MarketID < result[j].MarketID })
	return result
}

// --- Reputation ---

func (s *MemoryStore) GetMetrics(_ context.Context, userID string) (*model.AgentPerformanceMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.state.metrics[userID]
	if !ok {
		return nil, fmt.Errorf("metrics for %s: %w", userID, ErrNotFound)
	}
	return &m, nil
}

// --- Agents ---

func (s *MemoryStore) ListAutonomousAgents(_ context.Context, minPoints int64) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var agents []model.User
	for _, u := range s.state.users {
		if u.IsAgent && u.AnyAutonomous() && u.AgentPointsBalance >= minPoints {
			agents = append(agents, u)
		}
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents, nil
}

func (s *MemoryStore) InsertAgentLog(_ context.Context, l *model.AgentLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := *l
	if l.Metadata != nil {
		entry.Metadata = make(map[string]string, len(l.Metadata))
		for k, v := range l.Metadata {
			entry.Metadata[k] = v
		}
	}
	s.state.agentLogs = append(s.state.agentLogs, entry)
	return nil
}

func (s *MemoryStore) ListAgentLogs(_ context.Context, agentID string, limit int) ([]model.AgentLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.AgentLog
	for i := len(s.state.agentLogs) - 1; i >= 0; i-- {
		if s.state.agentLogs[i].AgentID != agentID {
			continue
		}
		result = append(result, s.state.agentLogs[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) InsertPost(_ context.Context, p *model.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.posts = append(s.state.posts, *p)
	return nil
}

func (s *MemoryStore) ListPosts(_ context.Context, authorID string, limit int) ([]model.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Post
	for i := len(s.state.posts) - 1; i >= 0; i-- {
		if s.state.posts[i].AuthorID != authorID {
			continue
		}
		result = append(result, s.state.posts[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// memTx operates on a staged copy of the state. The store mutex is already
// held by InTx, so no locking happens here.
type memTx struct {
	st *memState
}

func (t *memTx) LockPool(_ context.Context, id string) (*model.Pool, error) {
	p, ok := t.st.pools[id]
	if !ok {
		return nil, fmt.Errorf("pool %s: %w", id, ErrNotFound)
	}
	return &p, nil
}

func (t *memTx) UpdatePool(_ context.Context, p *model.Pool) error {
	if _, ok := t.st.pools[p.ID]; !ok {
		return fmt.Errorf("pool %s: %w", p.ID, ErrNotFound)
	}
	t.st.pools[p.ID] = *p
	return nil
}

func (t *memTx) ActiveDeposits(_ context.Context, poolID string) ([]model.PoolDeposit, error) {
	return depositsForPool(t.st, poolID, true), nil
}

func (t *memTx) LockDeposit(_ context.Context, id string) (*model.PoolDeposit, error) {
	d, ok := t.st.deposits[id]
	if !ok {
		return nil, fmt.Errorf("deposit %s: %w", id, ErrNotFound)
	}
	return &d, nil
}

func (t *memTx) InsertDeposit(_ context.Context, d *model.PoolDeposit) error {
	if _, ok := t.st.deposits[d.ID]; ok {
		return fmt.Errorf("deposit %s already exists", d.ID)
	}
	t.st.deposits[d.ID] = *d
	return nil
}

func (t *memTx) UpdateDeposit(_ context.Context, d *model.PoolDeposit) error {
	if _, ok := t.st.deposits[d.ID]; !ok {
		return fmt.Errorf("deposit %s: %w", d.ID, ErrNotFound)
	}
	t.st.deposits[d.ID] = *d
	return nil
}

func (t *memTx) LockUser(_ context.Context, id string) (*model.User, error) {
	u, ok := t.st.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return &u, nil
}

func (t *memTx) UpdateUser(_ context.Context, u *model.User) error {
	if _, ok := t.st.users[u.ID]; !ok {
		return fmt.Errorf("user %s: %w", u.ID, ErrNotFound)
	}
	t.st.users[u.ID] = *u
	return nil
}

func (t *memTx) InsertBalanceTransaction(_ context.Context, bt *model.BalanceTransaction) error {
	t.st.balanceTx = append(t.st.balanceTx, *bt)
	return nil
}

func (t *memTx) InsertPointsTransaction(_ context.Context, pt *model.PointsTransaction) error {
	t.st.pointsTx = append(t.st.pointsTx, *pt)
	return nil
}

func (t *memTx) LockMarket(_ context.Context, id string) (*model.Market, error) {
	m, ok := t.st.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	return &m, nil
}

func (t *memTx) UpdateMarket(_ context.Context, m *model.Market) error {
	if _, ok := t.st.markets[m.ID]; !ok {
		return fmt.Errorf("market %s: %w", m.ID, ErrNotFound)
	}
	t.st.markets[m.ID] = *m
	return nil
}

func (t *memTx) GetPosition(_ context.Context, userID, marketID string) (*model.Position, error) {
	p, ok := t.st.positions[positionKey(userID, marketID)]
	if !ok {
		return nil, fmt.Errorf("position %s/%s: %w", userID, marketID, ErrNotFound)
	}
	return &p, nil
}

func (t *memTx) UpsertPosition(_ context.Context, p *model.Position) error {
	t.st.positions[positionKey(p.UserID, p.MarketID)] = *p
	return nil
}

func (t *memTx) ListMarketPositions(_ context.Context, marketID string) ([]model.Position, error) {
	var result []model.Position
	for _, p := range t.st.positions {
		if p.MarketID == marketID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })
	return result, nil
}

func (t *memTx) ListUserPositions(_ context.Context, userID string) ([]model.Position, error) {
	return positionsForUser(t.st, userID), nil
}

func (t *memTx) GetMetrics(_ context.Context, userID string) (*model.AgentPerformanceMetrics, error) {
	m, ok := t.st.metrics[userID]
	if !ok {
		return nil, fmt.Errorf("metrics for %s: %w", userID, ErrNotFound)
	}
	return &m, nil
}

func (t *memTx) UpsertMetrics(_ context.Context, m *model.AgentPerformanceMetrics) error {
	t.st.metrics[m.UserID] = *m
	return nil
}
