package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"PMMEngine/internal/event"
	fpmath "PMMEngine/internal/math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrMalformed marks a message that can never be applied. The dispatcher acks
// it instead of asking for redelivery.
var ErrMalformed = errors.New("malformed message")

// ParseCommand converts a NATS message into a typed event.Command. The
// command kind comes from the subject:
//
//	pmm.commands.<kind>.<pool_id>   kind = create_pool|sell_base|sell_quote|buy_base|deposit|withdraw
//	pmm.prices.<pool_id>
//
// The pool id in the subject, when present, must match the payload.
func ParseCommand(subject string, data []byte) (event.Command, error) {
	kind, subjectPool, err := splitSubject(subject)
	if err != nil {
		return nil, err
	}

	var cmd event.Command
	switch kind {
	case event.CommandTypeCreatePool:
		cmd, err = parseCreatePool(data)
	case event.CommandTypeSellBase, event.CommandTypeSellQuote, event.CommandTypeBuyBase:
		cmd, err = parseTrade(data, event.SideFromCommandType(kind))
	case event.CommandTypeDeposit:
		cmd, err = parseDeposit(data)
	case event.CommandTypeWithdraw:
		cmd, err = parseWithdraw(data)
	case event.CommandTypeMarketPriceUpdate:
		cmd, err = parseMarketPrice(data)
	default:
		return nil, fmt.Errorf("subject %q: unknown command kind: %w", subject, ErrMalformed)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", kind, err, ErrMalformed)
	}

	if subjectPool != uuid.Nil && subjectPool != cmd.Pool() {
		return nil, fmt.Errorf("subject pool %s does not match payload pool %s: %w",
			subjectPool, cmd.Pool(), ErrMalformed)
	}
	return cmd, nil
}

func splitSubject(subject string) (event.CommandType, uuid.UUID, error) {
	parts := strings.Split(subject, ".")
	if len(parts) < 2 || parts[0] != "pmm" {
		return event.CommandTypeUnknown, uuid.Nil, fmt.Errorf("subject %q: %w", subject, ErrMalformed)
	}

	var (
		kind event.CommandType
		rest []string
	)
	switch parts[1] {
	case "prices":
		kind, rest = event.CommandTypeMarketPriceUpdate, parts[2:]
	case "commands":
		if len(parts) < 3 {
			return event.CommandTypeUnknown, uuid.Nil, fmt.Errorf("subject %q: %w", subject, ErrMalformed)
		}
		kind, rest = event.CommandTypeFromSubject(parts[2]), parts[3:]
		if kind == event.CommandTypeMarketPriceUpdate {
			kind = event.CommandTypeUnknown
		}
	default:
		return event.CommandTypeUnknown, uuid.Nil, fmt.Errorf("subject %q: %w", subject, ErrMalformed)
	}

	if len(rest) == 0 {
		return kind, uuid.Nil, nil
	}
	id, err := uuid.Parse(rest[0])
	if err != nil {
		return event.CommandTypeUnknown, uuid.Nil, fmt.Errorf("subject %q pool id: %w", subject, ErrMalformed)
	}
	return kind, id, nil
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Token amounts are
// integers; prices and slopes are decimal strings.

type createPoolJSON struct {
	CommandID   string          `json:"command_id"`
	PoolID      string          `json:"pool_id"`
	MarketPrice decimal.Decimal `json:"market_price"`
	Slope       decimal.Decimal `json:"slope"`
}

type tradeJSON struct {
	CommandID string `json:"command_id"`
	PoolID    string `json:"pool_id"`
	Amount    uint64 `json:"amount"`
	Limit     uint64 `json:"limit"`
}

type depositJSON struct {
	CommandID string `json:"command_id"`
	PoolID    string `json:"pool_id"`
	BaseIn    uint64 `json:"base_in"`
	QuoteIn   uint64 `json:"quote_in"`
	MinShares uint64 `json:"min_shares"`
}

type withdrawJSON struct {
	CommandID   string `json:"command_id"`
	PoolID      string `json:"pool_id"`
	Shares      uint64 `json:"shares"`
	MinBaseOut  uint64 `json:"min_base_out"`
	MinQuoteOut uint64 `json:"min_quote_out"`
}

type marketPriceJSON struct {
	PoolID        string          `json:"pool_id"`
	Price         decimal.Decimal `json:"price"`
	PriceSequence int64           `json:"price_sequence"`
	TimestampUs   int64           `json:"timestamp_us"`
}

func parseIDs(commandID, poolID string) (uuid.UUID, uuid.UUID, error) {
	cid, err := uuid.Parse(commandID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("parse command_id: %w", err)
	}
	pid, err := uuid.Parse(poolID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("parse pool_id: %w", err)
	}
	return cid, pid, nil
}

// toFixed converts a wire decimal to the pool precision. Negative values and
// digits past the precision are rejected rather than rounded.
func toFixed(field string, d decimal.Decimal) (fpmath.FixedPoint, error) {
	if d.IsNegative() {
		return fpmath.FixedPoint{}, fmt.Errorf("%s must not be negative", field)
	}
	if !d.Equal(d.Truncate(int32(fpmath.DefaultPrecision))) {
		return fpmath.FixedPoint{}, fmt.Errorf("%s has more than %d decimals", field, fpmath.DefaultPrecision)
	}
	fp, err := fpmath.Parse(d.String(), fpmath.DefaultPrecision)
	if err != nil {
		return fpmath.FixedPoint{}, fmt.Errorf("%s: %w", field, err)
	}
	return fp, nil
}

func parseCreatePool(data []byte) (*event.CreatePool, error) {
	var j createPoolJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	cid, pid, err := parseIDs(j.CommandID, j.PoolID)
	if err != nil {
		return nil, err
	}
	price, err := toFixed("market_price", j.MarketPrice)
	if err != nil {
		return nil, err
	}
	slope, err := toFixed("slope", j.Slope)
	if err != nil {
		return nil, err
	}
	return &event.CreatePool{CommandID: cid, PoolID: pid, MarketPrice: price, Slope: slope}, nil
}

func parseTrade(data []byte, side event.Side) (*event.Trade, error) {
	var j tradeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	cid, pid, err := parseIDs(j.CommandID, j.PoolID)
	if err != nil {
		return nil, err
	}
	return &event.Trade{CommandID: cid, PoolID: pid, TradeSide: side, Amount: j.Amount, Limit: j.Limit}, nil
}

func parseDeposit(data []byte) (*event.Deposit, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	cid, pid, err := parseIDs(j.CommandID, j.PoolID)
	if err != nil {
		return nil, err
	}
	return &event.Deposit{CommandID: cid, PoolID: pid, BaseIn: j.BaseIn, QuoteIn: j.QuoteIn, MinShares: j.MinShares}, nil
}

func parseWithdraw(data []byte) (*event.Withdraw, error) {
	var j withdrawJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	cid, pid, err := parseIDs(j.CommandID, j.PoolID)
	if err != nil {
		return nil, err
	}
	return &event.Withdraw{
		CommandID:   cid,
		PoolID:      pid,
		Shares:      j.Shares,
		MinBaseOut:  j.MinBaseOut,
		MinQuoteOut: j.MinQuoteOut,
	}, nil
}

func parseMarketPrice(data []byte) (*event.MarketPriceUpdate, error) {
	var j marketPriceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	pid, err := uuid.Parse(j.PoolID)
	if err != nil {
		return nil, fmt.Errorf("parse pool_id: %w", err)
	}
	if j.PriceSequence <= 0 {
		return nil, fmt.Errorf("price_sequence must be positive, got %d", j.PriceSequence)
	}
	price, err := toFixed("price", j.Price)
	if err != nil {
		return nil, err
	}
	return &event.MarketPriceUpdate{
		PoolID:        pid,
		Price:         price,
		PriceSequence: j.PriceSequence,
		Timestamp:     time.UnixMicro(j.TimestampUs).UTC(),
	}, nil
}
