package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"PMMEngine/internal/core"
	"PMMEngine/internal/event"
	fpmath "PMMEngine/internal/math"
	"PMMEngine/internal/observability"
	"PMMEngine/internal/persistence"
	"PMMEngine/internal/state"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// TestPostgresDSN returns the Postgres DSN for integration tests, empty when
// PMM_TEST_DATABASE_URL is unset.
func TestPostgresDSN() string {
	return os.Getenv("PMM_TEST_DATABASE_URL")
}

// TestNATSURL returns the NATS URL for integration tests.
func TestNATSURL() string {
	if url := os.Getenv("PMM_TEST_NATS_URL"); url != "" {
		return url
	}
	return "nats://localhost:4223"
}

// SetupTestDB opens the test database and applies the embedded migrations.
// The test is skipped when no database is configured or reachable. Cleanup
// truncates the pmm tables.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := TestPostgresDSN()
	if dsn == "" {
		t.Skip("PMM_TEST_DATABASE_URL not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		t.Skipf("test postgres not available: %v", err)
	}

	logger := observability.NewTestLogger(os.Stderr, "migrate")
	if err := persistence.NewMigrator(db, logger).Up(ctx); err != nil {
		db.Close()
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		for _, table := range []string{"pmm.pool_events", "pmm.pools"} {
			db.Exec(fmt.Sprintf("TRUNCATE %s CASCADE", table))
		}
		db.Close()
	})
	return db
}

// RequireIntegration skips the test if not running integration tests.
func RequireIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") == "" {
		t.Skip("skipping integration test (set INTEGRATION_TEST=1 to run)")
	}
}

// FP parses a decimal at the default precision.
func FP(s string) fpmath.FixedPoint {
	return fpmath.MustParse(s)
}

// CreatePoolCmd returns a CreatePool command for a fresh pool id.
func CreatePoolCmd(price, slope string) *event.CreatePool {
	return &event.CreatePool{
		CommandID:   uuid.New(),
		PoolID:      uuid.New(),
		MarketPrice: FP(price),
		Slope:       FP(slope),
	}
}

// SeededPool builds a price-100, slope-0.1 pool holding a first deposit of
// (100, 10000), ready to be persisted as sequence 1. The hash is not a real
// chain value.
func SeededPool(t *testing.T) *core.Pool {
	t.Helper()
	s, err := state.NewState(FP("100"), FP("0.1"))
	if err != nil {
		t.Fatal(err)
	}
	shares, s, err := s.BuyShares(100, 10000, 0)
	if err != nil {
		t.Fatal(err)
	}
	id := uuid.New()
	return &core.Pool{
		ID:          id,
		State:       s,
		TotalShares: shares,
		Sequence:    1,
		StateHash:   core.GenesisHash(id),
		UpdatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}
