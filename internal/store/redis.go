package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/babylon/engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. Methods not overridden
// here pass straight through to the primary.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: primary,
		rdb:   rdb,
		ttl:   ttl,
	}
}

// InTx runs fn on the primary and, once it has committed, drops every cache
// key whose row fn wrote.
func (s *CachedStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	var touched []string
	err := s.Store.InTx(ctx, func(tx Tx) error {
		touched = touched[:0] // primary may retry fn
		rt := &recordingTx{Tx: tx}
		err := fn(rt)
		touched = rt.keys
		return err
	})
	if err != nil {
		return err
	}
	if len(touched) > 0 {
		s.rdb.Del(ctx, touched...)
	}
	return nil
}

// --- Write-through (write to primary, populate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.Store.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cache(ctx, marketKey(m.ID), m)
	return nil
}

func (s *CachedStore) CreatePool(ctx context.Context, p *model.Pool) error {
	if err := s.Store.CreatePool(ctx, p); err != nil {
		return err
	}
	s.cache(ctx, poolKey(p.ID), p)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	var m model.Market
	if s.load(ctx, marketKey(id), &m) {
		return &m, nil
	}

	got, err := s.Store.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, marketKey(id), got)
	return got, nil
}

func (s *CachedStore) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	var p model.Pool
	if s.load(ctx, poolKey(id), &p) {
		return &p, nil
	}

	got, err := s.Store.GetPool(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, poolKey(id), got)
	return got, nil
}

func (s *CachedStore) GetMetrics(ctx context.Context, userID string) (*model.AgentPerformanceMetrics, error) {
	var m model.AgentPerformanceMetrics
	if s.load(ctx, metricsKey(userID), &m) {
		return &m, nil
	}

	got, err := s.Store.GetMetrics(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, metricsKey(userID), got)
	return got, nil
}

func (s *CachedStore) ListUserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	var positions []model.Position
	if s.load(ctx, positionsKey(userID), &positions) {
		return positions, nil
	}

	positions, err := s.Store.ListUserPositions(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, positionsKey(userID), positions)
	return positions, nil
}

// --- Cache helpers ---

func (s *CachedStore) load(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

// recordingTx notes the cache keys of every row written through it.
type recordingTx struct {
	Tx
	mu   sync.Mutex
	keys []string
}

func (t *recordingTx) touch(key string) {
	t.mu.Lock()
	t.keys = append(t.keys, key)
	t.mu.Unlock()
}

func (t *recordingTx) UpdatePool(ctx context.Context, p *model.Pool) error {
	t.touch(poolKey(p.ID))
	return t.Tx.UpdatePool(ctx, p)
}

func (t *recordingTx) UpdateMarket(ctx context.Context, m *model.Market) error {
	t.touch(marketKey(m.ID))
	return t.Tx.UpdateMarket(ctx, m)
}

func (t *recordingTx) UpsertPosition(ctx context.Context, p *model.Position) error {
	t.touch(positionsKey(p.UserID))
	return t.Tx.UpsertPosition(ctx, p)
}

func (t *recordingTx) UpsertMetrics(ctx context.Context, m *model.AgentPerformanceMetrics) error {
	t.touch(metricsKey(m.UserID))
	return t.Tx.UpsertMetrics(ctx, m)
}

func marketKey(id string) string     { return fmt.Sprintf("market:%s", id) }
func poolKey(id string) string       { return fmt.Sprintf("pool:%s", id) }
func metricsKey(uid string) string   { return fmt.Sprintf("reputation:%s", uid) }
func positionsKey(uid string) string { return fmt.Sprintf("positions:%s", uid) }
