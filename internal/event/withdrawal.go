package event

import (
	"github.com/google/uuid"
)

// Withdraw burns shares for a pro-rata slice of both reserves
type Withdraw struct {
	CommandID   uuid.UUID
	PoolID      uuid.UUID
	Shares      uint64
	MinBaseOut  uint64
	MinQuoteOut uint64
}

func (w *Withdraw) IdempotencyKey() string {
	return w.CommandID.String()
}

func (w *Withdraw) CommandType() CommandType {
	return CommandTypeWithdraw
}

func (w *Withdraw) Pool() uuid.UUID {
	return w.PoolID
}
