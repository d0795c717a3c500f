package core

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"PMMEngine/internal/event"
	"PMMEngine/internal/state"

	"github.com/google/uuid"
)

var (
	ErrPoolNotFound   = errors.New("pool not found")
	ErrPoolExists     = errors.New("pool already exists")
	ErrStalePrice     = errors.New("stale price sequence")
	ErrUnknownCommand = errors.New("unknown command")
	ErrDuplicateKey   = errors.New("idempotency key already used by another command type")
)

// Pool is the unit a store loads and persists: the curve state plus the
// engine bookkeeping around it.
type Pool struct {
	ID          uuid.UUID      `json:"id"`
	State       state.PMMState `json:"state"`
	TotalShares uint64         `json:"total_shares"`

	// Per-pool command sequence, bumped on every applied command
	Sequence int64 `json:"sequence"`

	// Last accepted price feed sequence
	PriceSequence int64 `json:"price_sequence"`

	// SHA-256 chain over CanonicalBytes after each command
	StateHash [32]byte `json:"state_hash"`

	UpdatedAt time.Time `json:"updated_at"`
}

// CanonicalBytes extends the curve encoding with the share supply and the
// price sequence so both are covered by the state hash.
func (p *Pool) CanonicalBytes() []byte {
	buf := p.State.CanonicalBytes()
	var tail [16]byte
	binary.LittleEndian.PutUint64(tail[:8], p.TotalShares)
	binary.LittleEndian.PutUint64(tail[8:], uint64(p.PriceSequence))
	return append(buf, tail[:]...)
}

// Store persists pools. Persist must be atomic: either the pool row and the
// outcome are both written or neither is. Implementations live in
// internal/persistence.
type Store interface {
	Load(ctx context.Context, id uuid.UUID) (*Pool, error)
	Persist(ctx context.Context, pool *Pool, outcome *event.Outcome) error
	List(ctx context.Context) ([]*Pool, error)
}

// OutcomeLookup is the optional second dedup tier: a store that can find an
// outcome it has already recorded under an idempotency key.
type OutcomeLookup interface {
	LookupOutcome(ctx context.Context, idempotencyKey string) (*event.Outcome, bool, error)
}
