package reload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestWatcherRescansAfterChange(t *testing.T) {
	root := t.TempDir()
	w := NewWatcher(WatcherConfig{Roots: []string{root}, Debounce: 20 * time.Millisecond})

	triggers := make(chan string, 4)
	if err := w.Start(context.Background(), func(ctx context.Context, trigger string) {
		triggers <- trigger
	}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(root, "greet.sh"), []byte("#!/bin/sh\n# Greets.\n"), 0o755); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	select {
	case trigger := <-triggers:
		if trigger != TriggerWatch {
			t.Fatalf("trigger = %q, want %q", trigger, TriggerWatch)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("rescan was not triggered")
	}
}

func TestWatcherDebouncesBursts(t *testing.T) {
	root := t.TempDir()
	w := NewWatcher(WatcherConfig{Roots: []string{root}, Debounce: 200 * time.Millisecond})

	var calls atomic.Int32
	if err := w.Start(context.Background(), func(ctx context.Context, trigger string) {
		calls.Add(1)
	}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	path := filepath.Join(root, "burst.sh")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte{byte('a' + i)}, 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(400 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("rescans = %d, want 1", got)
	}
}

func TestWatcherIgnoresDotfiles(t *testing.T) {
	root := t.TempDir()
	w := NewWatcher(WatcherConfig{Roots: []string{root}, Debounce: 20 * time.Millisecond})

	var calls atomic.Int32
	if err := w.Start(context.Background(), func(ctx context.Context, trigger string) {
		calls.Add(1)
	}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(root, ".swp"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Fatalf("rescans = %d, want 0", got)
	}
}

func TestWatcherStartErrors(t *testing.T) {
	noop := func(ctx context.Context, trigger string) {}

	t.Run("nil callback", func(t *testing.T) {
		w := NewWatcher(WatcherConfig{Roots: []string{t.TempDir()}})
		if err := w.Start(context.Background(), nil); err == nil {
			t.Fatal("Start(nil) error = nil, want error")
		}
	})

	t.Run("no watchable roots", func(t *testing.T) {
		w := NewWatcher(WatcherConfig{Roots: []string{filepath.Join(t.TempDir(), "missing"), ""}})
		if err := w.Start(context.Background(), noop); err == nil {
			t.Fatal("Start() error = nil, want error")
		}
	})

	t.Run("already started", func(t *testing.T) {
		w := NewWatcher(WatcherConfig{Roots: []string{t.TempDir()}})
		if err := w.Start(context.Background(), noop); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		defer w.Stop()
		if err := w.Start(context.Background(), noop); err == nil {
			t.Fatal("second Start() error = nil, want error")
		}
	})

	t.Run("watcher creation fails", func(t *testing.T) {
		w := NewWatcher(WatcherConfig{Roots: []string{t.TempDir()}})
		w.newWatcherFn = func() (*fsnotify.Watcher, error) {
			return nil, errors.New("too many open files")
		}
		if err := w.Start(context.Background(), noop); err == nil {
			t.Fatal("Start() error = nil, want error")
		}
	})
}

func TestWatcherStopWhenNotStarted(t *testing.T) {
	w := NewWatcher(WatcherConfig{})
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestWatchDirsIncludesSubdirectories(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "deploy"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}

	dirs := watchDirs(root)
	if len(dirs) != 2 || dirs[0] != root || dirs[1] != filepath.Join(root, "deploy") {
		t.Fatalf("watchDirs() = %v, want [root root/deploy]", dirs)
	}
}
