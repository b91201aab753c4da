// Package watch reloads local state when another process changes storage.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 200 * time.Millisecond

// Reloader re-reads persisted state.
type Reloader interface {
	ReloadBlocks()
}

// Watch starts an fsnotify watcher on the storage location and calls
// target.ReloadBlocks after writes to it settle, until ctx is cancelled.
//
// A directory location (file backend) matches its .json records. A file
// location (sqlite backend) is watched through its parent directory and
// matches the database file plus its -wal and -shm companions.
func Watch(ctx context.Context, location string, target Reloader, logger *slog.Logger) error {
	return watch(ctx, location, target, logger, DefaultDebounce)
}

func watch(ctx context.Context, location string, target Reloader, logger *slog.Logger, debounce time.Duration) error {
	abs, err := filepath.Abs(location)
	if err != nil {
		return err
	}

	dir, belongs := matcher(abs)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("location", abs))

	var timer *time.Timer
	var fire <-chan time.Time

	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			fire = timer.C
			return
		}
		timer.Reset(debounce)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-fire:
			timer, fire = nil, nil
			logger.Debug("watcher: storage changed, reloading")
			target.ReloadBlocks()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !belongs(ev.Name) {
				continue
			}
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// matcher returns the directory to watch and a predicate for event paths.
func matcher(location string) (string, func(string) bool) {
	if info, err := os.Stat(location); err == nil && info.IsDir() {
		return location, func(name string) bool {
			base := filepath.Base(name)
			return filepath.Dir(name) == location &&
				strings.HasSuffix(base, ".json") &&
				!strings.HasPrefix(base, ".")
		}
	}

	dir, file := filepath.Split(location)
	dir = filepath.Clean(dir)
	return dir, func(name string) bool {
		if filepath.Dir(name) != dir {
			return false
		}
		switch filepath.Base(name) {
		case file, file + "-wal", file + "-shm", file + "-journal":
			return true
		}
		return false
	}
}
