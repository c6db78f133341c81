package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/vidsift/internal/credentials"
	internalhttp "github.com/jmylchreest/vidsift/internal/http"
	"github.com/jmylchreest/vidsift/internal/http/handlers"
	"github.com/jmylchreest/vidsift/internal/jobstore"
	"github.com/jmylchreest/vidsift/internal/observability"
	"github.com/jmylchreest/vidsift/internal/scheduler"
	"github.com/jmylchreest/vidsift/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the vidsift server",
	Long: `Start the vidsift HTTP control API.

The server provides:
- Run control (start, pause, resume, stop, reset) and status
- The durable video queue and stored reports
- Run progress as server-sent events at /api/v1/events and over a
  websocket at /api/v1/events/ws
- Recent logs at /api/v1/logs
- Health checks and OpenAPI documentation at /docs

A run interrupted by a previous shutdown is resumed on startup if it is
still recent.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("database", "vidsift.db", "Database DSN")
	serveCmd.Flags().String("data-dir", "./data", "Data directory for report files")
	serveCmd.Flags().String("worker-driver", "remote", "Worker driver (remote, dryrun)")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database"))
	mustBindPFlag("storage.base_dir", serveCmd.Flags().Lookup("data-dir"))
	mustBindPFlag("worker.driver", serveCmd.Flags().Lookup("worker-driver"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := slog.Default()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		a.close(shutdownCtx)
	}()

	resumed, err := a.orch.Recover(ctx)
	if err != nil {
		logger.Warn("failed to recover previous run", slog.String("error", err.Error()))
	} else if resumed {
		logger.Info("resumed interrupted run", slog.String("run_id", a.orch.Status().RunID))
	}

	if fp, ok := a.creds.(*credentials.FileProvider); ok && cfg.Credentials.WatchFile {
		go func() {
			if err := fp.Watch(ctx); err != nil {
				logger.Warn("token file watch disabled", slog.String("error", err.Error()))
			}
		}()
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.NewScheduler().WithLogger(observability.WithComponent(logger, "scheduler"))
		if err := scheduler.RegisterMaintenance(sched, cfg.Scheduler, a.creds, a.orch, logger); err != nil {
			return fmt.Errorf("registering maintenance jobs: %w", err)
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			sched.Stop(stopCtx)
		}()
	}

	server := internalhttp.NewServer(internalhttp.ServerConfigFrom(cfg.Server), logger, version.Version)

	health := handlers.NewHealthHandler(version.Version).
		WithDB(a.db).
		WithBreakers(a.registry).
		WithAutomation(a.orch)
	if rs, ok := a.store.(*jobstore.RedisStore); ok {
		health.WithJobStore(rs)
	}
	if sched != nil {
		health.WithScheduler(sched)
	}
	health.Register(server.API())

	handlers.NewAutomationHandler(a.orch, a.store).Register(server.API())
	handlers.NewQueueHandler(a.store).Register(server.API())
	handlers.NewReportHandler(a.reports).Register(server.API())
	handlers.NewLogsHandler(logBuffer).Register(server.API())

	events := handlers.NewEventsHandler(a.progress).WithAllowedOrigins(cfg.Server.CORSOrigins)
	events.Register(server.API())
	events.RegisterSSE(server.Router())
	events.RegisterWebSocket(server.Router())
	// End open event streams as soon as shutdown begins.
	server.OnShutdown(a.progress.Close)

	logger.Info("starting vidsift server",
		append(version.LogAttrs(),
			slog.String("address", internalhttp.ServerConfigFrom(cfg.Server).Address()),
			slog.String("worker_driver", cfg.Worker.Driver),
			slog.String("database_driver", a.db.Driver()),
			slog.String("jobstore_backend", cfg.JobStore.Backend),
		)...,
	)

	if err := server.ListenAndServe(ctx); err != nil {
		return err
	}
	logger.Info("received shutdown signal")
	return nil
}
