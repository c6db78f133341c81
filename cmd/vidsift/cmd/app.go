package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/jmylchreest/vidsift/internal/config"
	"github.com/jmylchreest/vidsift/internal/credentials"
	"github.com/jmylchreest/vidsift/internal/database"
	"github.com/jmylchreest/vidsift/internal/jobstore"
	"github.com/jmylchreest/vidsift/internal/messaging"
	"github.com/jmylchreest/vidsift/internal/observability"
	"github.com/jmylchreest/vidsift/internal/orchestrator"
	"github.com/jmylchreest/vidsift/internal/report"
	"github.com/jmylchreest/vidsift/internal/repository"
	"github.com/jmylchreest/vidsift/internal/service/progress"
	"github.com/jmylchreest/vidsift/internal/storage"
	"github.com/jmylchreest/vidsift/internal/worker"
	"github.com/jmylchreest/vidsift/pkg/httpclient"
)

// app holds the components shared by serve and run.
type app struct {
	*persistence

	cfg      *config.Config
	logger   *slog.Logger
	reports  repository.ReportRepository
	registry *httpclient.Registry
	creds    credentials.Provider
	progress *progress.Service
	workers  *worker.Manager
	orch     *orchestrator.Orchestrator
}

// persistence is the database and the job store, which lives either in the
// same database or in Redis.
type persistence struct {
	db    *database.DB
	store jobstore.Store
	redis *redis.Client
}

// Close releases the job store connection and the database.
func (p *persistence) Close() error {
	var errs []error
	if p.redis != nil {
		errs = append(errs, p.redis.Close())
	}
	errs = append(errs, p.db.Close())
	return errors.Join(errs...)
}

// openStore opens persistence for commands that only touch stored state.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*persistence, error) {
	db, err := database.Open(ctx, cfg.Database, observability.WithComponent(logger, "database"))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	p := &persistence{db: db}

	if cfg.JobStore.Backend != config.JobStoreRedis {
		p.store = jobstore.NewSQLStoreFromDB(db.DB)
		return p, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.JobStore.RedisAddr,
		Password: cfg.JobStore.RedisPassword,
		DB:       cfg.JobStore.RedisDB,
	})
	rs := jobstore.NewRedisStore(client, cfg.JobStore.RedisPrefix)
	if err := rs.Ping(ctx); err != nil {
		_ = client.Close()
		_ = p.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.JobStore.RedisAddr, err)
	}
	logger.Info("using redis job store",
		slog.String("addr", cfg.JobStore.RedisAddr),
		slog.String("prefix", cfg.JobStore.RedisPrefix),
	)
	p.store, p.redis = rs, client
	return p, nil
}

// newApp wires the orchestrator and everything it depends on.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	p, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{
		persistence: p,
		cfg:         cfg,
		logger:      logger,
		reports:     repository.NewReportRepository(p.db.DB),
		registry:    httpclient.NewRegistry(),
		progress:    progress.NewService(logger),
	}

	a.creds, err = newCredentials(cfg.Credentials, logger)
	if err != nil {
		_ = p.Close()
		return nil, err
	}

	sink, err := a.newReportSink()
	if err != nil {
		_ = p.Close()
		return nil, err
	}

	launcher, err := newLauncher(cfg.Worker, a.registry, logger)
	if err != nil {
		_ = p.Close()
		return nil, err
	}

	bus := messaging.NewBus(observability.WithComponent(logger, "bus"))
	a.workers = worker.NewManager(launcher, bus).
		WithLogger(observability.WithComponent(logger, "worker")).
		WithConfig(worker.Config{
			EntryURL:          cfg.Worker.EntryURL,
			ReadyTimeout:      cfg.Worker.ReadyTimeout.Duration(),
			ReadyPollInterval: cfg.Worker.ReadyPollInterval.Duration(),
			SettleDelay:       cfg.Worker.SettleDelay.Duration(),
		})

	a.orch = orchestrator.New(p.store, a.workers, bus).
		WithLogger(observability.WithComponent(logger, "orchestrator")).
		WithBroadcaster(a.progress).
		WithReports(sink).
		WithDefaults(orchestrator.RunConfigFrom(cfg.Orchestrator))
	bus.WithNoticeHandler(a.orch.HandleNotice)

	return a, nil
}

func (a *app) newReportSink() (report.Sink, error) {
	var sinks []report.Sink

	if a.cfg.Reports.BackendURL != "" {
		if a.creds == nil {
			return nil, errors.New("reports.backend_url requires credentials.token or credentials.token_file")
		}
		sinks = append(sinks, report.NewAPISink(report.APIConfig{
			BaseURL:       a.cfg.Reports.BackendURL,
			Timeout:       a.cfg.Reports.Timeout.Duration(),
			RetryAttempts: a.cfg.Reports.RetryAttempts,
			Logger:        observability.WithComponent(a.logger, "report_api"),
		}, a.creds, a.registry))
	}

	if a.cfg.Reports.WriteFiles {
		sandbox, err := storage.NewSandbox(a.cfg.Storage.ReportsPath())
		if err != nil {
			return nil, fmt.Errorf("initializing report storage: %w", err)
		}
		sinks = append(sinks, report.NewFileSink(sandbox))
	}

	if a.cfg.Reports.StoreDatabase {
		sinks = append(sinks, report.NewRepositorySink(a.reports))
	}

	multi := report.NewMulti(sinks...).WithLogger(observability.WithComponent(a.logger, "reports"))
	if multi.Len() == 0 {
		a.logger.Warn("no report destinations configured, reports will be discarded")
		return report.Discard{}, nil
	}
	return multi, nil
}

// newCredentials returns nil when no token source is configured.
func newCredentials(cfg config.CredentialsConfig, logger *slog.Logger) (credentials.Provider, error) {
	switch {
	case cfg.TokenFile != "":
		p := credentials.NewFileProvider(cfg.TokenFile).
			WithLogger(observability.WithComponent(logger, "credentials")).
			WithRefreshThreshold(cfg.RefreshThreshold.Duration())
		return p, nil
	case cfg.Token != "":
		return credentials.Static(cfg.Token), nil
	default:
		return nil, nil
	}
}

func newLauncher(cfg config.WorkerConfig, registry *httpclient.Registry, logger *slog.Logger) (worker.Launcher, error) {
	switch cfg.Driver {
	case config.DriverDryRun:
		logger.Info("using dry-run worker driver, no analysis will be performed")
		return worker.NewInProcessLauncher(worker.DryRunExecutor{}), nil
	case config.DriverRemote:
		l, err := worker.NewRemoteLauncher(worker.RemoteConfig{
			DriverURL:      cfg.DriverURL,
			RequestTimeout: cfg.RequestTimeout.Duration(),
			Logger:         observability.WithComponent(logger, "worker_driver"),
		}, registry)
		if err != nil {
			return nil, fmt.Errorf("creating remote launcher: %w", err)
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unknown worker driver: %s", cfg.Driver)
	}
}

// close interrupts any run, keeping its persisted state, and releases
// resources.
func (a *app) close(ctx context.Context) {
	if err := a.orch.Shutdown(ctx); err != nil {
		a.logger.Warn("orchestrator shutdown incomplete", slog.String("error", err.Error()))
	}
	a.workers.DestroyAll(ctx)
	a.progress.Close()
	if err := a.persistence.Close(); err != nil {
		a.logger.Warn("closing storage", slog.String("error", err.Error()))
	}
}
