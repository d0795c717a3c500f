package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"PMMEngine/internal/core"
	"PMMEngine/internal/event"
	fpmath "PMMEngine/internal/math"
	"PMMEngine/internal/state"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresStore keeps one row per pool in pmm.pools and appends every applied
// command to pmm.pool_events, both in one transaction.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres opens and pings a lib/pq connection.
func OpenPostgres(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

const poolColumns = `pool_id, market_price, slope, base_target, quote_target,
	base_reserve, quote_reserve, regime, total_shares, sequence, price_sequence,
	state_hash, updated_at`

func (s *PostgresStore) Load(ctx context.Context, id uuid.UUID) (*core.Pool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+poolColumns+` FROM pmm.pools WHERE pool_id = $1`, id)
	p, err := scanPool(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrPoolNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load pool %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*core.Pool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+poolColumns+` FROM pmm.pools ORDER BY pool_id`)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	defer rows.Close()

	var pools []*core.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pool: %w", err)
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

// Persist upserts the pool row guarded by the sequence it was loaded at and
// appends the outcome. Zero rows affected means another writer got there
// first.
func (s *PostgresStore) Persist(ctx context.Context, pool *core.Pool, outcome *event.Outcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	st := pool.State
	res, err := tx.ExecContext(ctx, `
		INSERT INTO pmm.pools (`+poolColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (pool_id) DO UPDATE SET
			market_price   = EXCLUDED.market_price,
			slope          = EXCLUDED.slope,
			base_target    = EXCLUDED.base_target,
			quote_target   = EXCLUDED.quote_target,
			base_reserve   = EXCLUDED.base_reserve,
			quote_reserve  = EXCLUDED.quote_reserve,
			regime         = EXCLUDED.regime,
			total_shares   = EXCLUDED.total_shares,
			sequence       = EXCLUDED.sequence,
			price_sequence = EXCLUDED.price_sequence,
			state_hash     = EXCLUDED.state_hash,
			updated_at     = EXCLUDED.updated_at
		WHERE pmm.pools.sequence = EXCLUDED.sequence - 1`,
		pool.ID,
		st.MarketPrice.String(), st.Slope.String(),
		st.BaseTarget.String(), st.QuoteTarget.String(),
		st.BaseReserve.String(), st.QuoteReserve.String(),
		int16(st.Regime.StorageByte()),
		strconv.FormatUint(pool.TotalShares, 10),
		pool.Sequence, pool.PriceSequence,
		pool.StateHash[:], pool.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert pool %s: %w", pool.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("upsert pool %s: %w", pool.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("pool %s sequence %d: %w", pool.ID, pool.Sequence, ErrStaleWrite)
	}

	if outcome != nil {
		payload, err := json.Marshal(outcome)
		if err != nil {
			return fmt.Errorf("marshal outcome: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pmm.pool_events
				(pool_id, sequence, command_type, idempotency_key, payload, state_hash, prev_hash, applied_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			outcome.PoolID, outcome.Sequence, outcome.CommandType.Subject(),
			outcome.IdempotencyKey, payload,
			outcome.StateHash[:], outcome.PrevHash[:], outcome.AppliedAt,
		)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return fmt.Errorf("outcome %s already recorded: %w", outcome.IdempotencyKey, ErrStaleWrite)
			}
			return fmt.Errorf("append outcome: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit pool %s: %w", pool.ID, err)
	}
	return nil
}

// LookupOutcome finds an applied command by idempotency key.
func (s *PostgresStore) LookupOutcome(ctx context.Context, key string) (*event.Outcome, bool, error) {
	var (
		payload   []byte
		stateHash []byte
		prevHash  []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT payload, state_hash, prev_hash
		FROM pmm.pool_events
		WHERE idempotency_key = $1
		LIMIT 1`, key,
	).Scan(&payload, &stateHash, &prevHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var out event.Outcome
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, false, fmt.Errorf("decode outcome %s: %w", key, err)
	}
	copy(out.StateHash[:], stateHash)
	copy(out.PrevHash[:], prevHash)
	return &out, true, nil
}

// RecentOutcomes returns the last limit outcomes, oldest first, for warming
// the engine's idempotency cache after a restart.
func (s *PostgresStore) RecentOutcomes(ctx context.Context, limit int) ([]event.Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM (
			SELECT payload, applied_at FROM pmm.pool_events
			ORDER BY applied_at DESC LIMIT $1
		) recent ORDER BY applied_at ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent outcomes: %w", err)
	}
	defer rows.Close()

	var outs []event.Outcome
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var out event.Outcome
		if err := json.Unmarshal(payload, &out); err != nil {
			return nil, fmt.Errorf("decode outcome: %w", err)
		}
		outs = append(outs, out)
	}
	return outs, rows.Err()
}

// Ping is the readiness probe.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPool(row rowScanner) (*core.Pool, error) {
	var (
		p                         core.Pool
		price, slope              string
		baseTarget, quoteTarget   string
		baseReserve, quoteReserve string
		regime                    int16
		totalShares               string
		stateHash                 []byte
	)
	if err := row.Scan(&p.ID, &price, &slope, &baseTarget, &quoteTarget,
		&baseReserve, &quoteReserve, &regime, &totalShares, &p.Sequence,
		&p.PriceSequence, &stateHash, &p.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	st := &p.State
	for _, f := range []struct {
		dst *fpmath.FixedPoint
		src string
	}{
		{&st.MarketPrice, price},
		{&st.Slope, slope},
		{&st.BaseTarget, baseTarget},
		{&st.QuoteTarget, quoteTarget},
		{&st.BaseReserve, baseReserve},
		{&st.QuoteReserve, quoteReserve},
	} {
		if *f.dst, err = fpmath.Parse(f.src, fpmath.DefaultPrecision); err != nil {
			return nil, err
		}
	}
	if st.Regime, err = state.RegimeFromStorageByte(byte(regime)); err != nil {
		return nil, err
	}
	if p.TotalShares, err = strconv.ParseUint(totalShares, 10, 64); err != nil {
		return nil, fmt.Errorf("total_shares %q: %w", totalShares, err)
	}
	copy(p.StateHash[:], stateHash)
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}
