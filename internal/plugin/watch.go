package plugin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDebounce is the quiet period Watch waits for after the last
// manifest change before rediscovering.
const DefaultReloadDebounce = 250 * time.Millisecond

// Watch rediscovers plugins whenever a manifest in the plugin directory is
// created, written, removed or renamed. Bursts of changes within debounce
// cause one Discover. Watch returns once the watcher is set up; it stops
// when ctx is done.
func (r *Registry) Watch(ctx context.Context, debounce time.Duration) error {
	if r.cfg.Dir == "" {
		return fmt.Errorf("%w: no plugin directory configured", ErrInvalidManifest)
	}
	if debounce <= 0 {
		debounce = DefaultReloadDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating plugin watcher: %w", err)
	}
	if err := w.Add(r.cfg.Dir); err != nil {
		w.Close() //nolint:errcheck,gosec // Already failing
		return fmt.Errorf("watching plugin directory: %w", err)
	}

	go r.watchLoop(ctx, w, debounce)
	r.logger.Info("watching plugin directory", "dir", r.cfg.Dir)
	return nil
}

func (r *Registry) watchLoop(ctx context.Context, w *fsnotify.Watcher, debounce time.Duration) {
	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		w.Close() //nolint:errcheck,gosec // Shutdown path
	}()

	reload := func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := r.Discover(ctx); err != nil {
			r.logger.Error("plugin reload failed", "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if !isManifestFile(event.Name) || !relevant(event.Op) {
				continue
			}
			r.logger.Debug("plugin manifest changed", "path", event.Name, "op", event.Op.String())
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, reload)
			mu.Unlock()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			r.logger.Warn("plugin watcher error", "error", err)
		}
	}
}

func relevant(op fsnotify.Op) bool {
	return op.Has(fsnotify.Create) || op.Has(fsnotify.Write) ||
		op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename)
}
