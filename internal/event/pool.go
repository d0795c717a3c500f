package event

import (
	fpmath "PMMEngine/internal/math"

	"github.com/google/uuid"
)

// CreatePool opens an empty, balanced pool.
// Idempotency key: command_id.
type CreatePool struct {
	CommandID   uuid.UUID
	PoolID      uuid.UUID
	MarketPrice fpmath.FixedPoint
	Slope       fpmath.FixedPoint
}

func (c *CreatePool) IdempotencyKey() string {
	return c.CommandID.String()
}

func (c *CreatePool) CommandType() CommandType {
	return CommandTypeCreatePool
}

func (c *CreatePool) Pool() uuid.UUID {
	return c.PoolID
}
