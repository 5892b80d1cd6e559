// Package reload triggers tool rescans when tool directories change on disk
// or when a rescan schedule fires. Rescans run off the invocation path.
package reload

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Rescan triggers reported to RescanFunc.
const (
	TriggerWatch    = "watch"
	TriggerSchedule = "schedule"
)

// DefaultDebounce coalesces bursts of file events into one rescan.
const DefaultDebounce = 100 * time.Millisecond

// RescanFunc performs one rescan. Implementations must be safe for
// concurrent use with tool invocations.
type RescanFunc func(ctx context.Context, trigger string)

// newWatcherFunc creates an fsnotify watcher; tests may replace it to inject errors.
type newWatcherFunc func() (*fsnotify.Watcher, error)

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// Roots are the tool directories to watch. Missing roots are skipped.
	Roots    []string
	Debounce time.Duration
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Watcher calls a RescanFunc after files under the tool roots change.
type Watcher struct {
	roots    []string
	debounce time.Duration
	logger   *slog.Logger

	mu           sync.Mutex
	watcher      *fsnotify.Watcher
	done         chan struct{}
	running      bool
	timer        *time.Timer
	newWatcherFn newWatcherFunc // nil means use fsnotify.NewWatcher
}

// NewWatcher creates a watcher. Call Start to begin watching.
func NewWatcher(cfg WatcherConfig) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Watcher{
		roots:    cfg.Roots,
		debounce: cfg.Debounce,
		logger:   cfg.Logger,
	}
}

// Start begins watching. Each root and its immediate subdirectories are
// watched so that edits to a directory tool's manifest are seen.
func (w *Watcher) Start(ctx context.Context, rescan RescanFunc) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if rescan == nil {
		return errors.New("reload: rescan func must not be nil")
	}
	if w.running {
		return errors.New("reload: watcher already started")
	}

	newWatcher := fsnotify.NewWatcher
	if w.newWatcherFn != nil {
		newWatcher = w.newWatcherFn
	}
	watcher, err := newWatcher()
	if err != nil {
		return err
	}

	watched := 0
	for _, root := range w.roots {
		if strings.TrimSpace(root) == "" {
			continue
		}
		for _, dir := range watchDirs(root) {
			if err := watcher.Add(dir); err != nil {
				w.logger.Warn("reload: cannot watch directory", "dir", dir, "error", err)
				continue
			}
			watched++
		}
	}
	if watched == 0 {
		_ = watcher.Close()
		return errors.New("reload: no tool directory could be watched")
	}

	w.watcher = watcher
	w.done = make(chan struct{})
	w.running = true

	go w.eventLoop(ctx, watcher, w.done, rescan)
	return nil
}

// Stop ceases watching and releases resources. Safe to call even if not started.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	close(w.done)
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	err := w.watcher.Close()
	w.running = false
	return err
}

func (w *Watcher) eventLoop(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}, rescan RescanFunc) {
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !relevant(event) {
				continue
			}
			if event.Has(fsnotify.Create) {
				w.watchNewDir(watcher, event.Name)
			}
			w.logger.Debug("reload: change detected", "path", event.Name, "op", event.Op.String())
			w.schedule(ctx, done, rescan)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("reload: fsnotify error", "error", err)
		}
	}
}

// schedule resets the debounce timer on every qualifying event.
func (w *Watcher) schedule(ctx context.Context, done chan struct{}, rescan RescanFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-done:
			return
		default:
		}
		rescan(ctx, TriggerWatch)
	})
}

func (w *Watcher) watchNewDir(watcher *fsnotify.Watcher, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if err := watcher.Add(path); err != nil {
		w.logger.Warn("reload: cannot watch directory", "dir", path, "error", err)
	}
}

func relevant(event fsnotify.Event) bool {
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	return event.Has(fsnotify.Write) ||
		event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Rename) ||
		event.Has(fsnotify.Remove)
}

func watchDirs(root string) []string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	dirs := []string{root}
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			dirs = append(dirs, filepath.Join(root, entry.Name()))
		}
	}
	return dirs
}
