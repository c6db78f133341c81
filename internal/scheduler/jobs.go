package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/vidsift/internal/config"
	"github.com/jmylchreest/vidsift/internal/credentials"
)

// Job names.
const (
	JobTokenRefresh = "token-refresh"
	JobStaleSweep   = "stale-sweep"
)

// StaleResetter clears an abandoned run state.
type StaleResetter interface {
	ResetStale(ctx context.Context) (bool, error)
}

// TokenRefreshJob reloads the API token when it is close to expiry.
func TokenRefreshJob(provider credentials.Provider, logger *slog.Logger) JobFunc {
	return func(ctx context.Context) error {
		return credentials.RefreshIfNeeded(ctx, provider, logger)
	}
}

// StaleSweepJob clears a persisted run that no process is advancing.
func StaleSweepJob(r StaleResetter, logger *slog.Logger) JobFunc {
	return func(ctx context.Context) error {
		cleared, err := r.ResetStale(ctx)
		if err != nil {
			return fmt.Errorf("sweeping stale run state: %w", err)
		}
		if cleared {
			logger.Info("stale run state swept")
		}
		return nil
	}
}

// RegisterMaintenance adds the configured maintenance jobs. A nil provider
// or resetter, or an empty schedule, leaves that job out.
func RegisterMaintenance(s *Scheduler, cfg config.SchedulerConfig, provider credentials.Provider, resetter StaleResetter, logger *slog.Logger) error {
	if provider != nil && cfg.TokenRefresh != "" {
		if err := s.Add(JobTokenRefresh, cfg.TokenRefresh, TokenRefreshJob(provider, logger)); err != nil {
			return err
		}
	}
	if resetter != nil && cfg.StaleSweep != "" {
		if err := s.Add(JobStaleSweep, cfg.StaleSweep, StaleSweepJob(resetter, logger)); err != nil {
			return err
		}
	}
	return nil
}
