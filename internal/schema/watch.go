package schema

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"

	"cmsquery/internal/logging"
)

// Reloader is a provider that can re-read its backing store.
type Reloader interface {
	Reload() error
}

// ReloadObserver receives the outcome of every schema reload.
type ReloadObserver interface {
	RecordReload(ctx context.Context, duration time.Duration, success bool, trigger string)
}

// Watcher reloads a file provider and clears the resolver caches whenever a
// schema file in dir changes. Bursts of events are coalesced.
type Watcher struct {
	dir      string
	provider Reloader
	resolver *Resolver
	debounce time.Duration
	watcher  *fsnotify.Watcher
	observer ReloadObserver
}

// NewWatcher starts watching dir. Call Run to process events and Close to stop.
func NewWatcher(dir string, provider Reloader, resolver *Resolver) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// The directory is watched rather than individual files so editors that
	// save by rename are still observed.
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch schema dir: %w", err)
	}
	return &Watcher{
		dir:      dir,
		provider: provider,
		resolver: resolver,
		debounce: 200 * time.Millisecond,
		watcher:  fw,
	}, nil
}

// SetObserver reports reload outcomes to o.
func (w *Watcher) SetObserver(o ReloadObserver) {
	w.observer = o
}

// Run blocks until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	logger := logging.FromContext(ctx).WithFields(slog.String("component", "schema_watcher"), slog.String("dir", w.dir))
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isSchemaFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			logger.Debug("schema file changed", slog.String("file", event.Name), slog.String("op", event.Op.String()))
			pending = time.After(w.debounce)

		case <-pending:
			pending = nil
			start := time.Now()
			err := w.provider.Reload()
			if w.observer != nil {
				w.observer.RecordReload(ctx, time.Since(start), err == nil, "watch")
			}
			if err != nil {
				logger.Error("schema reload failed, keeping previous definitions", slog.String("error", err.Error()))
				continue
			}
			w.resolver.InvalidateAll(logging.WithLogger(ctx, logger))

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Error("schema watcher error", slog.String("error", err.Error()))
		}
	}
}

// Close stops the underlying watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
