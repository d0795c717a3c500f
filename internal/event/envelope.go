package event

import (
	"time"

	"github.com/google/uuid"
)

// CommandType discriminator for command payloads
type CommandType int32

const (
	CommandTypeUnknown CommandType = iota
	CommandTypeCreatePool
	CommandTypeSellBase
	CommandTypeSellQuote
	CommandTypeBuyBase
	CommandTypeDeposit
	CommandTypeWithdraw
	CommandTypeMarketPriceUpdate
)

// Command is the interface all pool commands implement
type Command interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// CommandType returns the discriminator
	CommandType() CommandType

	// Pool returns the pool the command mutates
	Pool() uuid.UUID
}

// Outcome wraps the result of every applied command. It is what the engine
// hands back to callers and what the publisher puts on the wire.
type Outcome struct {
	// Per-pool sequence assigned by the engine
	Sequence int64 `json:"sequence"`

	IdempotencyKey string      `json:"idempotency_key"`
	CommandType    CommandType `json:"command_type"`
	PoolID         uuid.UUID   `json:"pool_id"`

	// Trades: amount paid in and taken out. Deposits: base and quote accepted.
	// Withdrawals: base and quote paid out.
	BaseAmount  uint64 `json:"base_amount"`
	QuoteAmount uint64 `json:"quote_amount"`

	// Shares minted (deposit) or burned (withdraw)
	Shares      uint64 `json:"shares,omitempty"`
	TotalShares uint64 `json:"total_shares"`

	Regime string `json:"regime"`

	// SHA-256 chain of the pool state after this command
	StateHash [32]byte `json:"-"`
	PrevHash  [32]byte `json:"-"`

	AppliedAt time.Time `json:"applied_at"`
}

func (ct CommandType) String() string {
	switch ct {
	case CommandTypeCreatePool:
		return "CreatePool"
	case CommandTypeSellBase:
		return "SellBase"
	case CommandTypeSellQuote:
		return "SellQuote"
	case CommandTypeBuyBase:
		return "BuyBase"
	case CommandTypeDeposit:
		return "Deposit"
	case CommandTypeWithdraw:
		return "Withdraw"
	case CommandTypeMarketPriceUpdate:
		return "MarketPriceUpdate"
	default:
		return "Unknown"
	}
}

// Subject is the lower-case token used in NATS subjects and metric labels.
func (ct CommandType) Subject() string {
	switch ct {
	case CommandTypeCreatePool:
		return "create_pool"
	case CommandTypeSellBase:
		return "sell_base"
	case CommandTypeSellQuote:
		return "sell_quote"
	case CommandTypeBuyBase:
		return "buy_base"
	case CommandTypeDeposit:
		return "deposit"
	case CommandTypeWithdraw:
		return "withdraw"
	case CommandTypeMarketPriceUpdate:
		return "price"
	default:
		return "unknown"
	}
}

// CommandTypeFromSubject is the inverse of Subject.
func CommandTypeFromSubject(s string) CommandType {
	for ct := CommandTypeCreatePool; ct <= CommandTypeMarketPriceUpdate; ct++ {
		if ct.Subject() == s {
			return ct
		}
	}
	return CommandTypeUnknown
}
