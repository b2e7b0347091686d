package main

import (
	"InsureLedger/internal/config"
	"InsureLedger/internal/core"
	"InsureLedger/internal/event"
	"InsureLedger/internal/ingestion"
	"InsureLedger/internal/observability"
	"InsureLedger/internal/persistence"
	"InsureLedger/internal/projection"
	"InsureLedger/internal/query"
	"InsureLedger/internal/server"
	"InsureLedger/internal/store"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ledger engine and its gRPC, HTTP and NATS surfaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func openStore(cfg *config.Config, logger zerolog.Logger) (store.Store, error) {
	if cfg.Store.Driver == "memory" {
		logger.Warn().Msg("using in-memory record store; state is lost on exit")
		return store.NewMemoryStore(), nil
	}
	return store.NewBadgerStore(cfg.Store.DataDir, logger)
}

func serve(cfg *config.Config) error {
	logger := commonLogger("main")
	logger.Info().Str("environment", cfg.App.Environment).Msg("InsureLedger starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// --- Observability ---
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)
	healthChecker := observability.NewHealthChecker()

	// --- Record store ---
	recordStore, err := openStore(cfg, commonLogger("store"))
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	defer recordStore.Close()
	healthChecker.SetComponent("store", true)

	// --- Postgres event log (optional) ---
	var (
		db         *sql.DB
		writer     *persistence.EventLogWriter
		checkpoint *persistence.CheckpointManager
		idem       *persistence.PostgresIdempotencyChecker
		dbChecker  core.DBIdempotencyChecker
	)
	if cfg.PostgresEnabled() {
		db, err = persistence.OpenDB(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		defer db.Close()
		logger.Info().Msg("Postgres connected")

		if err := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, commonLogger("migrate")).Up(ctx); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}

		pool, err := persistence.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		defer pool.Close()

		writer = persistence.NewEventLogWriter(pool)
		checkpoint = persistence.NewCheckpointManager(db)
		idem = persistence.NewPostgresIdempotencyChecker(db)
		dbChecker = idem
		healthChecker.SetComponent("postgres", true)
	} else {
		logger.Warn().Msg("postgres.dsn not set; event log, journal history and outbound events are disabled")
	}

	// --- Channels ---
	// The persist channel blocks (backpressure); the projection channel drops.
	var persistChan chan core.CoreOutput
	if writer != nil {
		persistChan = make(chan core.CoreOutput, cfg.Engine.PersistChanSize)
	}
	projectionChan := make(chan core.CoreOutput, cfg.Engine.ProjectionChanSize)
	publishChan := make(chan *event.EventEnvelope, 4096)

	// --- Engine ---
	engine, err := core.NewEngine(core.Config{
		DefaultPoolKey:  cfg.Engine.PoolKey,
		GovernanceKey:   cfg.Engine.GovernanceKey,
		LRUCapacity:     cfg.Engine.LRUCapacity,
		ConflictRetries: cfg.Engine.ConflictRetries,
		QueueSize:       cfg.Engine.QueueSize,
	}, recordStore, core.SystemClock{}, persistChan, projectionChan, dbChecker, metrics, commonLogger("engine"))
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	// --- Recovery: resume the hash chain and warm the LRU ---
	if checkpoint != nil {
		cp, err := checkpoint.Resume(ctx)
		if err != nil {
			return err
		}
		if cp != nil {
			engine.Restore(*cp)
			logger.Info().Int64("sequence", cp.Sequence).Msg("resumed hash chain")
		} else {
			logger.Info().Msg("no checkpoint found, cold start")
		}

		keys, err := idem.RecentKeys(ctx, cfg.Engine.LRUCapacity)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to warm idempotency cache")
		} else if len(keys) > 0 {
			engine.WarmIdempotency(keys)
			logger.Info().Int("keys", len(keys)).Msg("warmed idempotency cache")
		}
	}

	// --- Projections ---
	views, err := projection.OpenFile(cfg.Projection.SQLitePath)
	if err != nil {
		return err
	}
	defer views.Close()

	// The record store is authoritative; views restart from a full rebuild.
	startSeq := engine.GetSequence() - 1
	if err := views.Rebuild(ctx, recordStore, cfg.Engine.GovernanceKey, startSeq); err != nil {
		return fmt.Errorf("rebuild projections: %w", err)
	}
	healthChecker.SetComponent("projections", true)
	logger.Info().Int64("as_of_sequence", startSeq).Msg("projections rebuilt")

	// --- Services ---
	commands := ingestion.NewCommandService(engine, metrics, commonLogger("commands"))
	queries := query.NewQueryService(views, db, core.SystemClock{}, metrics)

	grpcServer := server.NewGRPCServer(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, &server.ServerDeps{
		Commands:      commands,
		Queries:       queries,
		HealthChecker: healthChecker,
		Logger:        commonLogger("server"),
	})

	// --- Start goroutines ---
	errChan := make(chan error, 16)
	run := func(name string, fn func(context.Context) error) {
		go func() {
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	// 1. Engine
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("engine: %w", err)
		}
	}()

	// 2. Persistence worker
	persistDone := make(chan struct{})
	if writer != nil {
		var outbound chan<- *event.EventEnvelope
		if cfg.NATS.Enabled {
			outbound = publishChan
		}
		persistWorker := persistence.NewPersistenceWorker(
			writer, persistChan, outbound,
			cfg.Persistence.BatchSize, cfg.Persistence.FlushTimeout,
			metrics, commonLogger("persistence"),
		)
		go func() {
			defer close(persistDone)
			// Drains persistChan after shutdown, so it runs on its own context.
			if err := persistWorker.Run(context.Background()); err != nil {
				errChan <- fmt.Errorf("persistence: %w", err)
			}
		}()
	} else {
		close(persistDone)
	}

	// 3. Projection worker
	projWorker := projection.NewProjectionWorker(views, recordStore, cfg.Engine.GovernanceKey, projectionChan, metrics, commonLogger("projection"))
	run("projection", projWorker.Run)

	// 4. NATS ingestion and outbound publishing
	var natsSubscriber *ingestion.NATSSubscriber
	if cfg.NATS.Enabled {
		natsLogger := commonLogger("nats")
		nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, natsLogger)
		if err != nil {
			return err
		}
		defer nc.Close()

		if err := ingestion.EnsureStreams(ctx, js, natsLogger); err != nil {
			return fmt.Errorf("ensure NATS streams: %w", err)
		}

		rawEventChan := make(chan ingestion.RawEvent, 4096)
		natsSubscriber = ingestion.NewNATSSubscriber(js, rawEventChan, natsLogger)
		if err := natsSubscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		run("dispatcher", ingestion.NewDispatcher(engine, rawEventChan, metrics, natsLogger).Run)
		run("publisher", publisherRun(js, publishChan, natsLogger))
		healthChecker.SetComponent("nats", true)
		if writer == nil {
			natsLogger.Warn().Msg("outbound events need the postgres event log; nothing will be published")
		}
	}

	// 5. gRPC server and HTTP gateway
	run("grpc", grpcServer.StartGRPC)
	run("http", grpcServer.StartHTTPGateway)

	// 6. Periodic checkpoints
	if checkpoint != nil {
		go persistence.RunCheckpoints(ctx, engine, checkpoint, cfg.Persistence.CheckpointInterval, metrics, commonLogger("checkpoint"))
	}

	// 7. Channel gauges
	go reportChannels(ctx, metrics, persistChan, projectionChan, publishChan)

	// 8. Prometheus metrics server
	run("metrics", func(ctx context.Context) error {
		return serveMetrics(ctx, cfg.Server.MetricsAddr, registry, logger)
	})

	healthChecker.SetReady(true)
	logger.Info().
		Int64("sequence", engine.GetSequence()).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("InsureLedger ready")

	// --- Wait for shutdown signal ---
	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case runErr = <-errChan:
		logger.Error().Err(runErr).Msg("component failed, shutting down")
	}

	// --- Graceful shutdown ---
	healthChecker.SetReady(false)
	if natsSubscriber != nil {
		natsSubscriber.Stop()
	}
	cancel()

	// Once Run returns nothing else sends on persistChan; flush what it emitted.
	<-engineDone
	if persistChan != nil {
		close(persistChan)
	}
	select {
	case <-persistDone:
	case <-time.After(30 * time.Second):
		logger.Error().Msg("persistence worker did not drain in time")
	}

	if checkpoint != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		cp := engine.Checkpoint()
		if err := checkpoint.Save(shutdownCtx, cp); err != nil {
			logger.Error().Err(err).Msg("final checkpoint failed")
		} else {
			logger.Info().Int64("sequence", cp.Sequence).Msg("final checkpoint saved")
		}
	}

	logger.Info().Msg("InsureLedger shutdown complete")
	return runErr
}

func publisherRun(js jetstream.JetStream, in <-chan *event.EventEnvelope, logger zerolog.Logger) func(context.Context) error {
	return ingestion.NewOutboundPublisher(js, in, logger).Run
}

func reportChannels(ctx context.Context, metrics *observability.Metrics, persist, proj chan core.CoreOutput, publish chan *event.EventEnvelope) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if persist != nil {
				metrics.SetChannelMetrics("persist", len(persist), cap(persist))
			}
			metrics.SetChannelMetrics("projection", len(proj), cap(proj))
			metrics.SetChannelMetrics("publish", len(publish), cap(publish))
		}
	}
}

func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		_ = srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
