package persistence

import (
	"context"
	"errors"

	"PMMEngine/internal/core"
	"PMMEngine/internal/event"
	"PMMEngine/internal/observability"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedStore is a read-through, write-through LRU in front of another store.
// A failed write evicts the entry so the next read goes to the backing store.
type CachedStore struct {
	next    core.Store
	cache   *lru.Cache[uuid.UUID, core.Pool]
	metrics *observability.Metrics
}

func NewCachedStore(next core.Store, size int, metrics *observability.Metrics) (*CachedStore, error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[uuid.UUID, core.Pool](size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{next: next, cache: cache, metrics: metrics}, nil
}

func (c *CachedStore) Load(ctx context.Context, id uuid.UUID) (*core.Pool, error) {
	if p, ok := c.cache.Get(id); ok {
		c.record("hit")
		return &p, nil
	}
	c.record("miss")

	p, err := c.next.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Add(id, *p)
	return p, nil
}

func (c *CachedStore) Persist(ctx context.Context, pool *core.Pool, outcome *event.Outcome) error {
	if err := c.next.Persist(ctx, pool, outcome); err != nil {
		c.cache.Remove(pool.ID)
		return err
	}
	c.cache.Add(pool.ID, *pool)
	return nil
}

func (c *CachedStore) List(ctx context.Context) ([]*core.Pool, error) {
	return c.next.List(ctx)
}

// LookupOutcome forwards to the backing store when it supports lookups.
func (c *CachedStore) LookupOutcome(ctx context.Context, key string) (*event.Outcome, bool, error) {
	lookup, ok := c.next.(core.OutcomeLookup)
	if !ok {
		return nil, false, errors.New("backing store has no outcome lookup")
	}
	return lookup.LookupOutcome(ctx, key)
}

// Len returns the number of cached pools.
func (c *CachedStore) Len() int {
	return c.cache.Len()
}

func (c *CachedStore) record(result string) {
	if c.metrics != nil {
		c.metrics.StoreCacheHits.WithLabelValues(result).Inc()
	}
}
