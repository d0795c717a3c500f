package persistence

import (
	"context"
	"errors"
	"time"

	"PMMEngine/internal/core"
	"PMMEngine/internal/event"
	"PMMEngine/internal/observability"

	"github.com/google/uuid"
)

// InstrumentedStore records write latency and failures of the wrapped store
// under the given store label.
type InstrumentedStore struct {
	next    core.Store
	name    string
	metrics *observability.Metrics
}

func NewInstrumentedStore(next core.Store, name string, metrics *observability.Metrics) *InstrumentedStore {
	return &InstrumentedStore{next: next, name: name, metrics: metrics}
}

func (s *InstrumentedStore) Load(ctx context.Context, id uuid.UUID) (*core.Pool, error) {
	return s.next.Load(ctx, id)
}

func (s *InstrumentedStore) Persist(ctx context.Context, pool *core.Pool, outcome *event.Outcome) error {
	start := time.Now()
	err := s.next.Persist(ctx, pool, outcome)
	if s.metrics != nil {
		s.metrics.PersistDuration.WithLabelValues(s.name).Observe(time.Since(start).Seconds())
		if err != nil {
			s.metrics.PersistErrors.WithLabelValues(s.name, errorType(err)).Inc()
		}
	}
	return err
}

func (s *InstrumentedStore) List(ctx context.Context) ([]*core.Pool, error) {
	return s.next.List(ctx)
}

func (s *InstrumentedStore) LookupOutcome(ctx context.Context, key string) (*event.Outcome, bool, error) {
	lookup, ok := s.next.(core.OutcomeLookup)
	if !ok {
		return nil, false, errors.New("backing store has no outcome lookup")
	}
	return lookup.LookupOutcome(ctx, key)
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ErrStaleWrite):
		return "stale_write"
	case errors.Is(err, ErrDBClosed):
		return "closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "context"
	default:
		return "other"
	}
}
