package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"PMMEngine/internal/core"
	"PMMEngine/internal/event"

	"github.com/google/uuid"
)

// MemoryStore keeps pools in a map. Used by tests and pmmctl.
type MemoryStore struct {
	mu       sync.RWMutex
	pools    map[uuid.UUID]core.Pool
	outcomes map[string]event.Outcome

	// FailPersist, when set, is returned by the next Persist calls.
	FailPersist error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:    make(map[uuid.UUID]core.Pool),
		outcomes: make(map[string]event.Outcome),
	}
}

func (m *MemoryStore) Load(ctx context.Context, id uuid.UUID) (*core.Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[id]
	if !ok {
		return nil, core.ErrPoolNotFound
	}
	return &p, nil
}

func (m *MemoryStore) Persist(ctx context.Context, pool *core.Pool, outcome *event.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPersist != nil {
		return m.FailPersist
	}
	if err := checkSequence(m.pools[pool.ID], pool); err != nil {
		return err
	}
	m.pools[pool.ID] = *pool
	if outcome != nil {
		m.outcomes[outcome.IdempotencyKey] = *outcome
	}
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*core.Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*core.Pool, 0, len(m.pools))
	for _, p := range m.pools {
		p := p
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (m *MemoryStore) LookupOutcome(ctx context.Context, key string) (*event.Outcome, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out, ok := m.outcomes[key]
	if !ok {
		return nil, false, nil
	}
	return &out, true, nil
}

// checkSequence enforces that next follows stored. A zero stored pool means
// no row yet, so next must be the first sequence.
func checkSequence(stored core.Pool, next *core.Pool) error {
	if next.Sequence != stored.Sequence+1 {
		return fmt.Errorf("pool %s at sequence %d, write carries %d: %w",
			next.ID, stored.Sequence, next.Sequence, ErrStaleWrite)
	}
	return nil
}
