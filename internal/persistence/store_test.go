package persistence_test

import (
	"context"
	"errors"
	"testing"

	"PMMEngine/internal/core"
	"PMMEngine/internal/event"
	"PMMEngine/internal/observability"
	"PMMEngine/internal/persistence"
	"PMMEngine/internal/testutil"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outcomeFor(p *core.Pool, key string) *event.Outcome {
	return &event.Outcome{
		Sequence:       p.Sequence,
		IdempotencyKey: key,
		CommandType:    event.CommandTypeDeposit,
		PoolID:         p.ID,
		BaseAmount:     100,
		QuoteAmount:    10000,
		Shares:         100,
		TotalShares:    p.TotalShares,
		Regime:         p.State.Regime.String(),
		StateHash:      p.StateHash,
		PrevHash:       core.GenesisHash(p.ID),
		AppliedAt:      p.UpdatedAt,
	}
}

// runStoreContract exercises the behaviour every core.Store must share.
func runStoreContract(t *testing.T, store core.Store) {
	ctx := context.Background()

	t.Run("missing pool", func(t *testing.T) {
		_, err := store.Load(ctx, uuid.New())
		assert.True(t, errors.Is(err, core.ErrPoolNotFound), "got %v", err)
	})

	t.Run("round trip", func(t *testing.T) {
		p := testutil.SeededPool(t)
		require.NoError(t, store.Persist(ctx, p, outcomeFor(p, uuid.NewString())))

		got, err := store.Load(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.ID, got.ID)
		assert.Equal(t, p.State.BaseReserve.String(), got.State.BaseReserve.String())
		assert.Equal(t, p.State.QuoteTarget.String(), got.State.QuoteTarget.String())
		assert.Equal(t, p.State.MarketPrice.String(), got.State.MarketPrice.String())
		assert.Equal(t, p.State.Regime, got.State.Regime)
		assert.Equal(t, p.TotalShares, got.TotalShares)
		assert.Equal(t, p.Sequence, got.Sequence)
		assert.Equal(t, p.StateHash, got.StateHash)
		assert.True(t, p.UpdatedAt.Equal(got.UpdatedAt))
		assert.Equal(t, p.CanonicalBytes(), got.CanonicalBytes())
	})

	t.Run("sequence must advance by one", func(t *testing.T) {
		p := testutil.SeededPool(t)
		require.NoError(t, store.Persist(ctx, p, outcomeFor(p, uuid.NewString())))

		again := *p
		err := store.Persist(ctx, &again, outcomeFor(&again, uuid.NewString()))
		assert.True(t, errors.Is(err, persistence.ErrStaleWrite), "replayed sequence: got %v", err)

		skipped := *p
		skipped.Sequence = 3
		err = store.Persist(ctx, &skipped, outcomeFor(&skipped, uuid.NewString()))
		assert.True(t, errors.Is(err, persistence.ErrStaleWrite), "skipped sequence: got %v", err)

		next := *p
		next.Sequence = 2
		next.TotalShares = 150
		require.NoError(t, store.Persist(ctx, &next, outcomeFor(&next, uuid.NewString())))
		got, err := store.Load(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Sequence)
		assert.Equal(t, uint64(150), got.TotalShares)
	})

	t.Run("list", func(t *testing.T) {
		p := testutil.SeededPool(t)
		require.NoError(t, store.Persist(ctx, p, nil))
		pools, err := store.List(ctx)
		require.NoError(t, err)
		var found bool
		for _, got := range pools {
			if got.ID == p.ID {
				found = true
			}
		}
		assert.True(t, found, "persisted pool missing from List")
	})

	t.Run("outcome lookup", func(t *testing.T) {
		lookup, ok := store.(core.OutcomeLookup)
		if !ok {
			t.Skip("store has no outcome lookup")
		}
		p := testutil.SeededPool(t)
		key := uuid.NewString()
		require.NoError(t, store.Persist(ctx, p, outcomeFor(p, key)))

		out, found, err := lookup.LookupOutcome(ctx, key)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, event.CommandTypeDeposit, out.CommandType)
		assert.Equal(t, uint64(100), out.Shares)
		assert.Equal(t, p.StateHash, out.StateHash)
		assert.Equal(t, core.GenesisHash(p.ID), out.PrevHash)

		_, found, err = lookup.LookupOutcome(ctx, "never-applied")
		require.NoError(t, err)
		assert.False(t, found)
	})
}

// ============================================================================
// Test: Store implementations
// ============================================================================

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, persistence.NewMemoryStore())
}

func TestCachedStore(t *testing.T) {
	cached, err := persistence.NewCachedStore(persistence.NewMemoryStore(), 8, nil)
	require.NoError(t, err)
	runStoreContract(t, cached)
}

func TestInstrumentedStore(t *testing.T) {
	runStoreContract(t, persistence.NewInstrumentedStore(persistence.NewMemoryStore(), "memory", nil))
}

func TestPebbleStore(t *testing.T) {
	store, err := persistence.OpenPebble(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	runStoreContract(t, store)
}

func TestPostgresStore(t *testing.T) {
	db := testutil.SetupTestDB(t)
	runStoreContract(t, persistence.NewPostgresStore(db))
}

// ============================================================================
// Test: Store specifics
// ============================================================================

func TestPebbleStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	p := testutil.SeededPool(t)

	store, err := persistence.OpenPebble(dir)
	require.NoError(t, err)
	require.NoError(t, store.Persist(ctx, p, nil))
	require.NoError(t, store.Close())

	_, err = store.Load(ctx, p.ID)
	assert.True(t, errors.Is(err, persistence.ErrDBClosed), "closed store: got %v", err)

	reopened, err := persistence.OpenPebble(dir)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Load(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.CanonicalBytes(), got.CanonicalBytes())
}

func TestCachedStore_ServesFromCache(t *testing.T) {
	ctx := context.Background()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	backing := persistence.NewMemoryStore()
	cached, err := persistence.NewCachedStore(backing, 8, metrics)
	require.NoError(t, err)

	p := testutil.SeededPool(t)
	require.NoError(t, cached.Persist(ctx, p, nil))
	assert.Equal(t, 1, cached.Len())

	_, err = cached.Load(ctx, p.ID)
	require.NoError(t, err)
	_, err = cached.Load(ctx, uuid.New())
	assert.True(t, errors.Is(err, core.ErrPoolNotFound))
}

func TestCachedStore_FailedWriteEvicts(t *testing.T) {
	ctx := context.Background()
	backing := persistence.NewMemoryStore()
	cached, err := persistence.NewCachedStore(backing, 8, nil)
	require.NoError(t, err)

	p := testutil.SeededPool(t)
	require.NoError(t, cached.Persist(ctx, p, nil))

	backing.FailPersist = errors.New("disk full")
	next := *p
	next.Sequence = 2
	require.Error(t, cached.Persist(ctx, &next, nil))
	assert.Equal(t, 0, cached.Len())

	backing.FailPersist = nil
	got, err := cached.Load(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Sequence)
}

func TestInstrumentedStore_RecordsStaleWrites(t *testing.T) {
	ctx := context.Background()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	store := persistence.NewInstrumentedStore(persistence.NewMemoryStore(), "memory", metrics)

	p := testutil.SeededPool(t)
	require.NoError(t, store.Persist(ctx, p, nil))

	// Re-persisting the same sequence is a stale write.
	err := store.Persist(ctx, p, nil)
	require.True(t, errors.Is(err, persistence.ErrStaleWrite), "got %v", err)
	assert.Equal(t, float64(1), promtest.ToFloat64(metrics.PersistErrors.WithLabelValues("memory", "stale_write")))
	assert.Equal(t, 1, promtest.CollectAndCount(metrics.PersistDuration))
}

func TestMigrator_PendingAfterUp(t *testing.T) {
	db := testutil.SetupTestDB(t)
	m := persistence.NewMigrator(db, observability.NewTestLogger(testWriter{t}, "migrate"))
	pending, err := m.Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
