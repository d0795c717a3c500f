package event

import (
	"fmt"
	"time"

	fpmath "PMMEngine/internal/math"

	"github.com/google/uuid"
)

// MarketPriceUpdate carries a new market price for one pool from the feed.
// Idempotency key: pool_id + price sequence.
type MarketPriceUpdate struct {
	PoolID        uuid.UUID
	Price         fpmath.FixedPoint
	PriceSequence int64     // Monotonic per pool
	Timestamp     time.Time // Feed timestamp, informational
}

func (m *MarketPriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:price:%d", m.PoolID, m.PriceSequence)
}

func (m *MarketPriceUpdate) CommandType() CommandType {
	return CommandTypeMarketPriceUpdate
}

func (m *MarketPriceUpdate) Pool() uuid.UUID {
	return m.PoolID
}
