package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the token whenever the file changes, until ctx is done.
// The parent directory is watched so writers that replace the file by
// rename are picked up.
func (p *FileProvider) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating token file watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(p.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(target), err)
	}
	p.logger.Debug("watching credentials token file", slog.String("path", target))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if _, err := p.Refresh(ctx); err != nil {
				p.logger.Warn("reloading changed token file failed",
					slog.String("path", target),
					slog.String("error", err.Error()),
				)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("token file watcher error", slog.String("error", err.Error()))
		}
	}
}
