package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PMMEngine/internal/config"
	"PMMEngine/internal/core"
	"PMMEngine/internal/event"
	"PMMEngine/internal/ingestion"
	"PMMEngine/internal/observability"
	"PMMEngine/internal/persistence"
	"PMMEngine/internal/server"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "pmmd",
	Short: "PMM curve engine daemon",
	Long: `pmmd applies pool commands and market price updates from NATS JetStream to
proactive-market-maker pools, persists every transition with a hash chain,
publishes outcomes and serves pool queries over gRPC and HTTP.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "configuration file path (YAML, TOML or JSON)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(parent context.Context, cfg *config.Config) error {
	level := observability.ParseLogLevel(cfg.LogLevel)
	componentLogger := func(name string) zerolog.Logger {
		return observability.NewLoggerWithLevel(name, level)
	}
	logger := componentLogger("pmmd")
	logger.Info().Str("store", cfg.Store).Msg("pmmd starting")

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// --- Observability ---
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)
	healthChecker := observability.NewHealthChecker()

	// --- Store ---
	store, warm, closeStore, err := openStore(ctx, cfg, metrics, healthChecker, logger, componentLogger("migrate"))
	if err != nil {
		return err
	}
	defer closeStore()

	// --- Engine ---
	publishChan := make(chan event.Outcome, cfg.PublishChanSize)
	engine, err := core.NewEngine(core.EngineConfig{
		Store:           store,
		IdempotencySize: cfg.IdempotencySize,
		PublishChan:     publishChan,
		Metrics:         metrics,
		Logger:          componentLogger("engine"),
	})
	if err != nil {
		return err
	}

	// --- LRU Warming ---
	if len(warm) > 0 {
		engine.WarmIdempotency(warm)
		logger.Info().Int("outcomes", len(warm)).Msg("idempotency cache warmed")
	}

	pools, err := engine.Pools(ctx)
	if err != nil {
		return fmt.Errorf("list pools: %w", err)
	}
	for _, p := range pools {
		if err := p.State.Validate(); err != nil {
			return fmt.Errorf("stored pool %s fails validation: %w", p.ID, err)
		}
		metrics.PoolSequence.WithLabelValues(p.ID.String()).Set(float64(p.Sequence))
	}
	logger.Info().Int("pools", len(pools)).Msg("pools loaded")

	// --- NATS ---
	natsLogger := componentLogger("nats")
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, natsLogger)
	if err != nil {
		return err
	}
	defer nc.Close()
	healthChecker.AddCheck("nats", func(context.Context) error {
		if nc.Status() != nats.CONNECTED {
			return fmt.Errorf("nats status %s", nc.Status())
		}
		return nil
	})

	if err := ingestion.EnsureStreams(ctx, js, natsLogger); err != nil {
		return fmt.Errorf("ensure NATS streams: %w", err)
	}

	ingestChan := make(chan ingestion.RawMessage, cfg.IngestChanSize)
	subscriber := ingestion.NewNATSSubscriber(js, ingestChan, natsLogger)
	dispatcher := ingestion.NewDispatcher(engine, ingestChan, metrics, componentLogger("dispatcher"))
	publisher := ingestion.NewOutboundPublisher(js, publishChan, componentLogger("publisher"))

	// --- gRPC + HTTP server ---
	srv, err := server.NewServer(server.Config{GRPCAddr: cfg.GRPCAddr, HTTPAddr: cfg.HTTPAddr}, server.Deps{
		Pools:         engine,
		HealthChecker: healthChecker,
		Gatherer:      registry,
		Metrics:       metrics,
		Logger:        componentLogger("server"),
	})
	if err != nil {
		return err
	}

	// --- Start goroutines ---
	errChan := make(chan error, 8)
	done := make(chan struct{}, 4)
	spawn := func(name string, fn func(context.Context) error) {
		go func() {
			defer func() { done <- struct{}{} }()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	// 1. NATS → engine
	spawn("dispatcher", dispatcher.Run)
	// 2. Outbound publisher
	spawn("publisher", publisher.Run)
	// 3. gRPC server
	spawn("grpc", srv.StartGRPC)
	// 4. HTTP gateway
	spawn("http", srv.StartHTTP)

	// 5. Channel depth sampling
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.SetChannelSize("ingest", len(ingestChan))
				metrics.SetChannelSize("publish", len(publishChan))
			}
		}
	}()

	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	// Mark service as ready after all goroutines started
	healthChecker.SetReady(true)
	logger.Info().
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Msg("pmmd ready")

	// --- Wait for shutdown signal ---
	var runErr error
	select {
	case <-parent.Done():
		logger.Info().Msg("shutdown signal received")
	case runErr = <-errChan:
		logger.Error().Err(runErr).Msg("goroutine failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop intake first so no message is left half-handled, then stop workers.
	healthChecker.SetReady(false)
	srv.SetServing(false)
	subscriber.Stop()
	cancel()

	timeout := time.After(cfg.ShutdownTimeout)
	for i := 0; i < 4; i++ {
		select {
		case <-done:
		case <-timeout:
			logger.Warn().Msg("shutdown timed out")
			return runErr
		}
	}

	logger.Info().Msg("pmmd shutdown complete")
	return runErr
}

// openStore builds the configured store stack: backend, metrics wrapper and
// optional LRU cache. It also returns recent outcomes for idempotency warming
// when the backend can list them.
func openStore(
	ctx context.Context,
	cfg *config.Config,
	metrics *observability.Metrics,
	health *observability.HealthChecker,
	logger zerolog.Logger,
	migLogger zerolog.Logger,
) (core.Store, []event.Outcome, func(), error) {
	var (
		backend core.Store
		warm    []event.Outcome
		closeFn = func() {}
	)

	switch cfg.Store {
	case config.StorePostgres:
		db, err := persistence.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info().Msg("Postgres connected")

		migrator := persistence.NewMigrator(db, migLogger)
		if cfg.MigrationsDir != "" {
			migrator = persistence.NewMigratorFromDir(db, cfg.MigrationsDir, migLogger)
		}
		if err := migrator.Up(ctx); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("run migrations: %w", err)
		}

		pg := persistence.NewPostgresStore(db)
		health.AddCheck("postgres", pg.Ping)
		if cfg.WarmOutcomes > 0 {
			warm, err = pg.RecentOutcomes(ctx, cfg.WarmOutcomes)
			if err != nil {
				logger.Warn().Err(err).Msg("failed to load recent outcomes")
			}
		}
		backend = pg
		closeFn = func() { db.Close() }

	case config.StorePebble:
		pb, err := persistence.OpenPebble(cfg.PebbleDir)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info().Str("dir", cfg.PebbleDir).Msg("pebble opened")
		backend = pb
		closeFn = func() {
			if err := pb.Close(); err != nil {
				logger.Error().Err(err).Msg("pebble close")
			}
		}

	default:
		logger.Warn().Msg("using in-memory store, state is lost on exit")
		backend = persistence.NewMemoryStore()
	}

	store := core.Store(persistence.NewInstrumentedStore(backend, cfg.Store, metrics))
	if cfg.CacheSize > 0 {
		cached, err := persistence.NewCachedStore(store, cfg.CacheSize, metrics)
		if err != nil {
			closeFn()
			return nil, nil, nil, err
		}
		store = cached
	}
	return store, warm, closeFn, nil
}
