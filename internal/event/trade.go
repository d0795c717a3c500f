package event

import (
	"github.com/google/uuid"
)

// Side represents which token the trader hands to the pool
type Side int32

const (
	SideUnknown Side = iota
	SideSellBase
	SideSellQuote
	SideBuyBase
)

// Trade is a swap against the pool.
// Idempotency key: command_id.
//
// Limit is the slippage bound: the minimum output for the two sell sides,
// the maximum quote paid for SideBuyBase. Zero disables it.
type Trade struct {
	CommandID uuid.UUID
	PoolID    uuid.UUID
	TradeSide Side
	Amount    uint64
	Limit     uint64
}

func (t *Trade) IdempotencyKey() string {
	return t.CommandID.String()
}

func (t *Trade) CommandType() CommandType {
	switch t.TradeSide {
	case SideSellBase:
		return CommandTypeSellBase
	case SideSellQuote:
		return CommandTypeSellQuote
	case SideBuyBase:
		return CommandTypeBuyBase
	default:
		return CommandTypeUnknown
	}
}

func (t *Trade) Pool() uuid.UUID {
	return t.PoolID
}

// SideFromCommandType maps a trade command type back to its side.
func SideFromCommandType(ct CommandType) Side {
	switch ct {
	case CommandTypeSellBase:
		return SideSellBase
	case CommandTypeSellQuote:
		return SideSellQuote
	case CommandTypeBuyBase:
		return SideBuyBase
	default:
		return SideUnknown
	}
}
