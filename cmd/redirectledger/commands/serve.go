package commands

import (
	"RedirectLedger/internal/config"
	"RedirectLedger/internal/core"
	"RedirectLedger/internal/ingestion"
	"RedirectLedger/internal/observability"
	"RedirectLedger/internal/persistence"
	"RedirectLedger/internal/projection"
	"RedirectLedger/internal/protocol"
	"RedirectLedger/internal/query"
	"RedirectLedger/internal/server"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ledger service",
	Long: `Run the ledger service.

Startup restores the latest snapshot (Postgres, else the local bbolt store),
rolls it forward over the event log and then accepts commands from NATS
JetStream, gRPC and the HTTP/JSON gateway.

Examples:
  # Run with defaults and environment overrides
  redirectledger serve

  # Run from a config file without Postgres or NATS
  REDIRECT_LEDGER_POSTGRES_ENABLED=false REDIRECT_LEDGER_NATS_ENABLED=false \
    redirectledger serve --config ./config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	observability.Configure(cfg.Logging.Level, cfg.Logging.Format)
	logger := observability.NewLogger("main")
	logger.Info().Str("version", rootCmd.Version).Msg("RedirectLedger starting")

	if os.Getenv("GOGC") == "" {
		logger.Warn().Msg("GOGC not set, recommend GOGC=400 for production")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := cfg.PoolAddress()
	if err != nil {
		return err
	}
	initialRate, ratePerAccrual, err := cfg.Rates()
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()

	// --- Postgres ---
	var db *sql.DB
	var snapMgr *persistence.SnapshotManager
	if cfg.Postgres.Enabled {
		db, err = openPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		snapMgr = persistence.NewSnapshotManager(db)
		healthChecker.AddCheck("postgres", db.PingContext)
	} else {
		logger.Warn().Msg("postgres disabled: no event log, projections or history queries")
	}

	// --- Local snapshot store ---
	var local *persistence.BoltSnapshotStore
	if cfg.Storage.BoltPath != "" {
		local, err = persistence.OpenBoltSnapshotStore(cfg.Storage.BoltPath)
		if err != nil {
			return err
		}
		defer local.Close()
	}

	// --- Recovery ---
	snap, err := recoverState(ctx, snapMgr, local, cfg.Ledger.IdempotencyCapacity, logger)
	if err != nil {
		return err
	}

	// --- Money market ---
	// The simulated market does not survive a restart; give the pool back
	// the shares the restored ledger has booked.
	token := protocol.NewMemoryToken()
	market := protocol.NewMemoryMarket(token, pool, initialRate, ratePerAccrual)
	if shares := investedShares(snap); !shares.IsZero() {
		market.Seed(shares)
		logger.Info().Str("shares", shares.String()).Msg("seeded simulated market")
	}

	// --- Channels ---
	// persist blocks (backpressure), projection and publish drop
	persistCoreChan := make(chan core.CoreOutput, cfg.Persist.PersistChanSize)
	projectionCoreChan := make(chan core.CoreOutput, cfg.Persist.ProjectionChanSize)
	projectionWorkerChan := make(chan projection.ProjectionOutput, cfg.Persist.ProjectionChanSize)
	var persistWorkerChan chan persistence.CoreOutput
	if db != nil {
		persistWorkerChan = make(chan persistence.CoreOutput, cfg.Persist.PersistChanSize)
	}

	var dbChecker core.DBIdempotencyChecker
	if db != nil {
		dbChecker = persistence.NewPostgresIdempotencyChecker(db)
	}

	// --- Ledger ---
	facade := core.NewLedgerFacade(
		core.Config{
			Pool:                pool,
			MaxInheritanceDepth: cfg.Ledger.MaxInheritanceDepth,
			IdempotencyCapacity: cfg.Ledger.IdempotencyCapacity,
			SupplyCheckInterval: cfg.Ledger.SupplyCheckInterval,
		},
		protocol.NewExchangeOracle(market),
		token,
		persistCoreChan,
		projectionCoreChan,
		dbChecker,
		metrics,
		observability.NewLogger("core"),
	)
	if snap != nil {
		if err := facade.RestoreFromSnapshot(snap); err != nil {
			return fmt.Errorf("restore snapshot: %w", err)
		}
		if err := facade.ValidateTotalSupply(); err != nil {
			return fmt.Errorf("restored state is inconsistent: %w", err)
		}
		if _, _, err := facade.CheckShareBacking(ctx); err != nil {
			logger.Warn().Err(err).Msg("share backing check failed")
		}
		logger.Info().Int64("sequence", snap.Sequence).Hex("state_hash", snap.StateHash[:]).
			Msg("restored ledger state")
	}
	startSequence := facade.GetSequence()

	// --- NATS ---
	var nc *nats.Conn
	var js jetstream.JetStream
	var publishChan chan ingestion.PublishableEvent
	if cfg.NATS.Enabled {
		nc, js, err = ingestion.ConnectNATS(cfg.NATS.URL, observability.NewLogger("nats"))
		if err != nil {
			return err
		}
		defer nc.Close()
		if err := ingestion.EnsureStreams(ctx, js); err != nil {
			return err
		}
		if cfg.NATS.Publish {
			if err := ingestion.EnsureOutboundStream(ctx, js, logger); err != nil {
				return err
			}
			publishChan = make(chan ingestion.PublishableEvent, cfg.Persist.PublishChanSize)
		}
		healthChecker.AddCheck("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats %s", nc.Status())
			}
			return nil
		})
	}

	errChan := make(chan error, 16)
	report := func(name string, err error) {
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		select {
		case errChan <- fmt.Errorf("%s: %w", name, err):
		default:
		}
	}

	// --- Dispatcher ---
	dispatcher := core.NewDispatcher(facade, cfg.Ledger.DispatcherQueue)
	coreCtx, coreCancel := context.WithCancel(context.Background())
	defer coreCancel()
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		report("dispatcher", dispatcher.Run(coreCtx))
	}()

	// --- Workers ---
	// Workers outlive the transports so the final snapshot and the last
	// outputs still reach the event log.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	var workers sync.WaitGroup

	workers.Go(func() { bridgePersist(persistCoreChan, persistWorkerChan, publishChan, metrics) })
	workers.Go(func() { bridgeProjections(projectionCoreChan, projectionWorkerChan, metrics) })

	if db != nil {
		persistWorker := persistence.NewPersistenceWorker(db, persistWorkerChan,
			cfg.Persist.BatchSize, cfg.Persist.FlushTimeout, metrics, observability.NewLogger("persistence"))
		workers.Go(func() { report("persistence worker", persistWorker.Run(workerCtx)) })
	}

	history := projection.NewInterestHistory(cfg.Ledger.InterestHistorySize)
	projWorker := projection.NewProjectionWorker(db, projectionWorkerChan, history, metrics, observability.NewLogger("projection"))
	workers.Go(func() { report("projection worker", projWorker.Run(workerCtx)) })

	if publishChan != nil {
		publisher := ingestion.NewOutboundPublisher(js, publishChan, observability.NewLogger("publisher"))
		workers.Go(func() { report("outbound publisher", publisher.Run(workerCtx)) })
	}

	// --- Snapshots ---
	var snapshotter *persistence.Snapshotter
	if snapMgr != nil || local != nil {
		snapshotter = persistence.NewSnapshotter(dispatcher, snapMgr, local, persistence.SnapshotterConfig{
			Interval:    cfg.Snapshot.Interval,
			CheckEvery:  cfg.Snapshot.CheckEvery,
			KeepLocal:   cfg.Snapshot.KeepLocal,
			PersistWait: cfg.Snapshot.PersistWait,
		}, metrics, observability.NewLogger("snapshot"))
		if snap != nil {
			snapshotter.SetLastSequence(snap.Sequence)
		}
	}

	// --- Services ---
	var faucet server.Funder
	if cfg.Protocol.Faucet {
		faucet = protocol.NewFaucet(token, pool)
		logger.Warn().Msg("faucet enabled: /v1/admin/faucet mints simulated underlying")
	}
	queryService := query.NewQueryService(db, dispatcher, history)
	ingestService := ingestion.NewGRPCIngestService(dispatcher, metrics, observability.NewLogger("ingest"))
	grpcServer := server.NewGRPCServer(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, &server.ServerDeps{
		DB:            db,
		QueryService:  queryService,
		IngestService: ingestService,
		SnapshotMgr:   snapMgr,
		Snapshotter:   snapshotter,
		StartTime:     time.Now(),
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Faucet:        faucet,
	}, observability.NewLogger("server"))

	// --- Transports ---
	var transports sync.WaitGroup

	var natsSubscriber *ingestion.NATSSubscriber
	if js != nil {
		rawEventChan := make(chan ingestion.RawEvent, cfg.Persist.IngestChanSize)
		natsSubscriber = ingestion.NewNATSSubscriber(js, rawEventChan, observability.NewLogger("nats"))
		if err := natsSubscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
			return err
		}
		ingestor := ingestion.NewIngestor(dispatcher, rawEventChan, "nats", metrics, observability.NewLogger("ingest"))
		transports.Go(func() { report("nats ingestor", ingestor.Run(ctx)) })
		transports.Go(func() {
			monitorChannels(ctx, metrics, time.Second,
				gaugeOf("persist", persistCoreChan),
				gaugeOf("projection", projectionCoreChan),
				gaugeOf("ingest", rawEventChan))
		})
	} else {
		transports.Go(func() {
			monitorChannels(ctx, metrics, time.Second,
				gaugeOf("persist", persistCoreChan),
				gaugeOf("projection", projectionCoreChan))
		})
	}

	transports.Go(func() { report("grpc server", grpcServer.StartGRPC(ctx)) })
	transports.Go(func() { report("http gateway", grpcServer.StartHTTPGateway(ctx)) })
	transports.Go(func() { report("metrics server", serveMetrics(ctx, cfg.Server.MetricsAddr, logger)) })
	if snapshotter != nil {
		transports.Go(func() { report("snapshotter", snapshotter.Run(ctx)) })
	}

	healthChecker.SetReady(true)
	grpcServer.SetServing(true)
	logger.Info().
		Int64("sequence", startSequence).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("RedirectLedger ready")

	// --- Wait for shutdown ---
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("received signal, shutting down")
	case runErr = <-errChan:
		logger.Error().Err(runErr).Msg("component failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Transports first, then a final snapshot while the dispatcher and the
	// persistence worker still run, then drain the workers.
	healthChecker.SetReady(false)
	stop()
	if natsSubscriber != nil {
		natsSubscriber.Stop()
	}
	transports.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if snapshotter != nil {
		seq, err := snapshotter.TakeSnapshot(shutdownCtx)
		switch {
		case errors.Is(err, persistence.ErrNothingToSnapshot):
		case err != nil:
			logger.Error().Err(err).Msg("final snapshot failed")
		default:
			logger.Info().Int64("sequence", seq).Msg("final snapshot saved")
		}
	}

	coreCancel()
	<-dispatcherDone
	close(persistCoreChan)
	close(projectionCoreChan)

	drained := make(chan struct{})
	go func() {
		workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("workers did not drain in time")
		workerCancel()
		<-drained
	}

	logger.Info().Msg("RedirectLedger shutdown complete")
	return runErr
}

func openPostgres(ctx context.Context, cfg config.PostgresConfig, logger zerolog.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrate"))
	if err := migrator.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info().Msg("migrations applied")
	return db, nil
}

// recoverState picks the newest snapshot from Postgres or the local store
// and, when the event log is available, rolls it forward to the log head.
// It returns nil on a cold start without Postgres.
func recoverState(
	ctx context.Context,
	snapMgr *persistence.SnapshotManager,
	local *persistence.BoltSnapshotStore,
	idempotencyKeys int,
	logger zerolog.Logger,
) (*core.SnapshotState, error) {
	var snap *core.SnapshotState
	source := ""

	if snapMgr != nil {
		s, err := snapMgr.LoadLatestSnapshot(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to load snapshot from postgres")
		} else if s != nil {
			snap, source = s, "postgres"
		}
	}
	if local != nil {
		s, err := local.LoadLatestSnapshot(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to load local snapshot")
		} else if s != nil && (snap == nil || s.Sequence > snap.Sequence) {
			snap, source = s, "bolt"
		}
	}

	if snap != nil {
		logger.Info().Int64("sequence", snap.Sequence).Str("source", source).Msg("loaded snapshot")
	} else {
		logger.Info().Msg("no snapshot found, cold start")
	}

	if snapMgr == nil {
		return snap, nil
	}

	from := int64(-1)
	if snap != nil {
		from = snap.Sequence
	}
	state, err := snapMgr.RollForward(ctx, snap, idempotencyKeys)
	if err != nil {
		return nil, fmt.Errorf("roll forward event log: %w", err)
	}
	if state.Sequence > from {
		logger.Info().Int64("from", from).Int64("to", state.Sequence).Msg("rolled forward over event log")
	}
	return state, nil
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
