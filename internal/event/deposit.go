package event

import "github.com/google/uuid"

// Deposit offers base and quote to the pool. The engine trims the pair to
// the pool's ratio and mints shares for the accepted part.
type Deposit struct {
	CommandID uuid.UUID
	PoolID    uuid.UUID
	BaseIn    uint64
	QuoteIn   uint64
	MinShares uint64
}

func (d *Deposit) IdempotencyKey() string {
	return d.CommandID.String()
}

func (d *Deposit) CommandType() CommandType {
	return CommandTypeDeposit
}

func (d *Deposit) Pool() uuid.UUID {
	return d.PoolID
}
