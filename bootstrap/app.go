package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"seclog/api"
	"seclog/config"
	"seclog/core"
	"seclog/detect"
	"seclog/ingest"
	"seclog/service"
	"seclog/storage"
	"seclog/util/goroutine"

	"go.uber.org/zap"
)

// poolMetricsInterval is how often SQLite pool gauges are refreshed
const poolMetricsInterval = 15 * time.Second

// App represents the seclog application with all its components.
type App struct {
	// Configuration
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	// Storage
	SQLite *storage.SQLite
	Store  *storage.Store

	// Ingestion
	Kind     ingest.SourceKind
	Registry *ingest.Registry
	Sources  []ingest.EventLog
	Fetcher  *ingest.Fetcher
	Poller   *ingest.Poller

	// Detection
	Rules     core.RuleSet
	Evaluator *detect.Evaluator

	// Services
	Service   *service.MonitorService
	Retention *storage.RetentionManager
	APIServer *api.API

	// Lifecycle
	serviceWg    *sync.WaitGroup
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// NewApp loads configuration, builds the logger and initializes all
// components. Nothing runs in the background until Start.
func NewApp(ctx context.Context) (*App, error) {
	cfg, err := InitConfig()
	if err != nil {
		return nil, err
	}
	logger, sugar, err := InitLogger(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logConfigSource(sugar)
	return NewAppWithConfig(cfg, logger)
}

// NewAppWithConfig initializes all components from an already loaded
// configuration.
func NewAppWithConfig(cfg *config.Config, logger *zap.Logger) (*App, error) {
	sugar := logger.Sugar()
	a := &App{
		Config:    cfg,
		Logger:    logger,
		Sugar:     sugar,
		serviceWg: &sync.WaitGroup{},
	}

	if err := EnsureDataDirectories(DataDirectoriesFromConfig(cfg), sugar); err != nil {
		return nil, err
	}

	sqlite, err := InitSQLite(cfg.DataPaths.SQLitePath, sugar)
	if err != nil {
		return nil, err
	}
	a.SQLite = sqlite

	store, err := storage.NewStore(sqlite, cfg.Storage.DedupCacheSize, sugar)
	if err != nil {
		sqlite.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	a.Store = store

	kind, err := ingest.ParseSourceKind(cfg.Source.Kind)
	if err != nil {
		store.Close()
		return nil, err
	}
	a.Kind = kind
	a.Registry = ingest.NewRegistry(nil)

	sources, err := InitSources(cfg, sugar)
	if err != nil {
		store.Close()
		return nil, err
	}
	a.Sources = sources
	a.Fetcher = ingest.NewFetcher(sources, a.Registry, kind, sugar)
	a.Poller = ingest.NewPoller(sources, a.Registry, sugar,
		ingest.WithInterval(cfg.Poller.Interval),
		ingest.WithBuffer(cfg.Poller.Buffer),
		ingest.WithReplayExisting(cfg.Poller.ReplayExisting),
		ingest.WithSourceKind(kind),
	)

	a.Rules = LoadRules(cfg, sugar)
	a.Evaluator = detect.NewEvaluator(a.Rules, store, detect.NewAlertManager(), sugar, nil)
	a.Service = service.NewMonitorService(store, a.Fetcher, a.Evaluator, cfg.Engine.EvaluateAfterIngest, sugar)

	if cfg.RetentionEnabled() {
		policy, err := RetentionPolicyFromConfig(cfg)
		if err != nil {
			store.Close()
			return nil, err
		}
		a.Retention = storage.NewRetentionManager(store, policy, cfg.Retention.CheckInterval, sugar)
	}

	return a, nil
}

// Start launches the poller, the ingest consumer, timed evaluation,
// retention and the API server.
func (a *App) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.Poller.Start(ctx)
	goroutine.Go("ingest-consumer", a.Sugar, a.serviceWg, func() {
		a.Service.Consume(ctx, a.Poller.Batches())
	})

	if interval := a.Config.Engine.Interval; interval > 0 {
		goroutine.Go("rule-evaluation", a.Sugar, a.serviceWg, func() {
			a.runEvaluationLoop(ctx, interval)
		})
	}

	if a.Retention != nil {
		a.Retention.Start(ctx, a.Config.Retention.OnStartup)
		a.Sugar.Infow("Retention manager started",
			"max_age_days", a.Config.Retention.MaxAgeDays,
			"mode", a.Config.Retention.Mode)
	}

	a.SQLite.StartMetricsCollection(ctx, poolMetricsInterval)

	if a.Config.API.Enabled {
		a.startAPIServer()
	}
	return nil
}

func (a *App) runEvaluationLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Service.Evaluate(ctx); err != nil && !errors.Is(err, detect.ErrEvaluationInProgress) {
				a.Sugar.Errorw("Timed evaluation failed", "error", err)
			}
		}
	}
}

// startAPIServer creates the API server and serves it in the background.
func (a *App) startAPIServer() {
	a.APIServer = api.NewAPI(a.Service, a.Store, a.Config.API.RateLimit, a.Sugar)
	addr := a.Config.API.Addr
	goroutine.Go("api-server", a.Sugar, a.serviceWg, func() {
		a.Sugar.Infow("API server listening", "addr", addr)
		if err := a.APIServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Sugar.Errorw("API server failed", "addr", addr, "error", err)
		}
	})
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

// Shutdown gracefully shuts down all components. It is safe to call more
// than once and on an App that was never started.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(a.shutdown)
}

func (a *App) shutdown() {
	a.Sugar.Info("Shutting down...")

	// Phase 1 - Stop producing batches
	a.Sugar.Info("Phase 1: Stopping event log poller...")
	if a.Poller != nil {
		a.Poller.Stop()
	}

	// Phase 2 - Stop API server
	a.Sugar.Info("Phase 2: Stopping API server...")
	if a.APIServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.APIServer.Stop(ctx); err != nil {
			a.Sugar.Errorw("Failed to stop API server", "error", err)
		}
	}

	// Phase 3 - Cancel the consumer and evaluation loop
	a.Sugar.Info("Phase 3: Waiting for service goroutines to complete...")
	if a.cancel != nil {
		a.cancel()
	}
	done := make(chan struct{})
	go func() {
		a.serviceWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.Sugar.Info("All service goroutines stopped successfully")
	case <-time.After(15 * time.Second):
		a.Sugar.Warn("Service goroutine shutdown timed out")
	}

	// Phase 4 - Stop retention before closing the database
	a.Sugar.Info("Phase 4: Stopping retention manager...")
	if a.Retention != nil {
		a.Retention.Stop()
	}

	// Phase 5 - Close database connections
	a.Sugar.Info("Phase 5: Closing database connections...")
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Sugar.Errorw("Failed to close store", "error", err)
		}
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}
