package process

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WaitForFile blocks until path exists with a non-zero size, ctx is done or
// timeout elapses. A timeout is reported as ErrRuntime.
func WaitForFile(ctx context.Context, log *slog.Logger, path string, timeout time.Duration) error {
	if nonEmpty(path) {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch directory %s: %w", dir, err)
	}

	// The file may have appeared between the first stat and Add.
	if nonEmpty(path) {
		return nil
	}

	target := filepath.Base(path)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	// Writers that grow a file without emitting events (e.g. network mounts).
	poll := time.NewTicker(250 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("%w: %s not ready after %s", ErrRuntime, target, timeout)
		case <-poll.C:
			if nonEmpty(path) {
				return nil
			}
		case _, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("%w: watcher closed", ErrRuntime)
			}
			// Atomic writers create a temp file and rename it over target,
			// so any event in dir is a reason to look again.
			if nonEmpty(path) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("%w: watcher closed", ErrRuntime)
			}
			if log != nil {
				log.Warn("fsnotify watcher error", "path", path, "error", err)
			}
		}
	}
}

func nonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}
