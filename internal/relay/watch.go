package relay

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 250 * time.Millisecond

// WatchFilterConfig reloads path whenever it changes and passes the result to
// apply. A file that fails to load is logged and the previous filter stays in
// effect. It blocks until ctx is done.
func WatchFilterConfig(ctx context.Context, path string, apply func(FilterConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("relay config watch: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file, so watch the directory.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("relay config watch %s: %w", dir, err)
	}
	target := filepath.Clean(path)
	slog.Info("watching relay config", "path", target)

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			debounce = time.After(reloadDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("relay config watcher error", "error", err)
		case <-debounce:
			debounce = nil
			cfg, err := LoadFilterConfig(path)
			if err != nil {
				slog.Warn("relay config reload failed, keeping previous filter", "path", path, "error", err)
				continue
			}
			apply(cfg)
			slog.Info("relay config reloaded", "path", path, "origins", len(cfg.Origins))
		}
	}
}
