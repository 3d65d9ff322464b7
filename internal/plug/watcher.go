package plug

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultReloadDelay is the quiet interval after the last filesystem
// event before a reload fires.
const DefaultReloadDelay = 500 * time.Millisecond

// Watcher watches the plug search paths and reloads the system when
// bundle sources or manifests change on disk.
type Watcher struct {
	system   *System
	loader   *Loader
	fsw      *fsnotify.Watcher
	debounce *Debouncer
	logger   *zap.Logger
	delay    time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithReloadDelay sets the debounce interval.
func WithReloadDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.delay = d }
}

// WithWatcherLogger sets the logger. Defaults to a no-op logger.
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logger }
}

// NewWatcher creates a watcher wiring filesystem changes under the
// loader's search paths to system reloads.
func NewWatcher(system *System, loader *Loader, opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	w := &Watcher{
		system: system,
		loader: loader,
		fsw:    fsw,
		delay:  DefaultReloadDelay,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	return w, nil
}

// Start begins watching. It returns once the watch list is installed;
// event handling runs in the background until Stop or ctx cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	for _, root := range w.loader.paths {
		if err := w.watchTree(root); err != nil {
			w.logger.Warn("cannot watch plug path",
				zap.String("path", root), zap.Error(err))
		}
	}

	wctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.debounce = NewDebouncer(w.delay, func() { w.reload(wctx) })

	go w.run(wctx)
	return nil
}

// Stop halts event handling and releases the filesystem watches.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
	if w.debounce != nil {
		w.debounce.Stop()
	}
	if err := w.fsw.Close(); err != nil {
		w.logger.Warn("watcher close failed", zap.Error(err))
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	// New bundle directories need their own watch.
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.watchTree(ev.Name); err != nil {
				w.logger.Warn("cannot watch new directory",
					zap.String("path", ev.Name), zap.Error(err))
			}
		}
	}
	w.logger.Debug("plug source changed",
		zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
	w.debounce.Trigger()
}

func (w *Watcher) reload(ctx context.Context) {
	bundles := w.loader.Discover()
	report := w.system.Reload(ctx, bundles)
	w.logger.Info("plugs reloaded",
		zap.Int("loaded", len(report.Loaded)),
		zap.Int("failed", len(report.Failed)))
}

// watchTree adds root and its subdirectories to the watch list.
func (w *Watcher) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.fsw.Add(path)
	})
}
