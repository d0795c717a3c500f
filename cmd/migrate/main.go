package main

import (
	"context"
	"fmt"
	"os"

	"PMMEngine/internal/observability"
	"PMMEngine/internal/persistence"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <up|down|status>")
		fmt.Println("  up     - apply all pending migrations")
		fmt.Println("  down   - roll back the last migration")
		fmt.Println("  status - list pending migrations")
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("  PMM_DATABASE_URL    - Postgres connection string")
		fmt.Println("  PMM_MIGRATIONS_DIR  - read migrations from this directory instead of the built-in set")
		os.Exit(1)
	}

	logger := observability.NewLogger("migrate")

	pgURL := os.Getenv("PMM_DATABASE_URL")
	if pgURL == "" {
		pgURL = "postgres://localhost:5432/pmm?sslmode=disable"
	}

	ctx := context.Background()
	db, err := persistence.OpenPostgres(ctx, pgURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	migrator := persistence.NewMigrator(db, logger)
	if dir := os.Getenv("PMM_MIGRATIONS_DIR"); dir != "" {
		migrator = persistence.NewMigratorFromDir(db, dir, logger)
	}

	switch os.Args[1] {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate up")
		}
		logger.Info().Msg("all migrations applied")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate down")
		}
		logger.Info().Msg("last migration rolled back")

	case "status":
		pending, err := migrator.Pending(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migrate status")
		}
		if len(pending) == 0 {
			fmt.Println("up to date")
		}
		for _, v := range pending {
			fmt.Println("pending:", v)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up', 'down' or 'status')\n", os.Args[1])
		os.Exit(1)
	}
}
