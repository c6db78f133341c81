package credentials

import (
	"context"
	"log/slog"
)

// RefreshIfNeeded reloads p when it reports a token close to expiry. It is
// the body of the periodic refresh job. Providers without an expiry notion
// are left alone.
func RefreshIfNeeded(ctx context.Context, p Provider, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	checker, ok := p.(interface{ NeedsRefresh() bool })
	if !ok || !checker.NeedsRefresh() {
		return nil
	}
	if _, err := p.Refresh(ctx); err != nil {
		logger.Warn("credentials refresh failed", slog.String("error", err.Error()))
		return err
	}
	logger.Debug("credentials refreshed")
	return nil
}
