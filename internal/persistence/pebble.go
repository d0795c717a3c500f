package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"PMMEngine/internal/core"
	"PMMEngine/internal/event"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
)

var ErrDBClosed = errors.New("database is closed")

const (
	poolPrefix    = "pool/"
	outcomePrefix = "outcome/"
)

// PebbleStore keeps pools as JSON under pool/<uuid> and outcomes under
// outcome/<idempotency key> in an embedded pebble database. A pool and its
// outcome are committed in one synced batch.
type PebbleStore struct {
	// serialises the read-check-write in Persist
	mu sync.Mutex
	db *pebble.DB
}

// OpenPebble opens (or creates) a store in dir.
func OpenPebble(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", dir, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func poolKey(id uuid.UUID) []byte {
	return []byte(poolPrefix + id.String())
}

func outcomeKey(key string) []byte {
	return []byte(outcomePrefix + key)
}

// read copies the value out before the closer releases it.
func (s *PebbleStore) read(key []byte) ([]byte, error) {
	if s.db == nil {
		return nil, ErrDBClosed
	}
	val, closer, err := s.db.Get(key)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	valCopy := make([]byte, len(val))
	copy(valCopy, val)
	return valCopy, nil
}

func (s *PebbleStore) Load(ctx context.Context, id uuid.UUID) (*core.Pool, error) {
	val, err := s.read(poolKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, core.ErrPoolNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read pool %s: %w", id, err)
	}
	var p core.Pool
	if err := json.Unmarshal(val, &p); err != nil {
		return nil, fmt.Errorf("decode pool %s: %w", id, err)
	}
	return &p, nil
}

func (s *PebbleStore) Persist(ctx context.Context, pool *core.Pool, outcome *event.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrDBClosed
	}

	var stored core.Pool
	existing, err := s.Load(ctx, pool.ID)
	switch {
	case err == nil:
		stored = *existing
	case !errors.Is(err, core.ErrPoolNotFound):
		return err
	}
	if err := checkSequence(stored, pool); err != nil {
		return err
	}

	value, err := json.Marshal(pool)
	if err != nil {
		return fmt.Errorf("encode pool %s: %w", pool.ID, err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(poolKey(pool.ID), value, nil); err != nil {
		return err
	}
	if outcome != nil {
		rec, err := json.Marshal(outcomeRecord{Outcome: *outcome, StateHash: outcome.StateHash, PrevHash: outcome.PrevHash})
		if err != nil {
			return fmt.Errorf("encode outcome: %w", err)
		}
		if err := batch.Set(outcomeKey(outcome.IdempotencyKey), rec, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) List(ctx context.Context) ([]*core.Pool, error) {
	if s.db == nil {
		return nil, ErrDBClosed
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(poolPrefix),
		UpperBound: prefixEnd([]byte(poolPrefix)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var pools []*core.Pool
	for iter.First(); iter.Valid(); iter.Next() {
		var p core.Pool
		if err := json.Unmarshal(iter.Value(), &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", iter.Key(), err)
		}
		pools = append(pools, &p)
	}
	return pools, iter.Error()
}

// outcomeRecord keeps the hashes that Outcome leaves out of its JSON.
type outcomeRecord struct {
	event.Outcome
	StateHash [32]byte `json:"state_hash"`
	PrevHash  [32]byte `json:"prev_hash"`
}

func (s *PebbleStore) LookupOutcome(ctx context.Context, key string) (*event.Outcome, bool, error) {
	val, err := s.read(outcomeKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec outcomeRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, false, fmt.Errorf("decode outcome %s: %w", key, err)
	}
	out := rec.Outcome
	out.StateHash = rec.StateHash
	out.PrevHash = rec.PrevHash
	return &out, true, nil
}

// prefixEnd returns the smallest key greater than every key with prefix p.
func prefixEnd(p []byte) []byte {
	end := append([]byte(nil), p...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
