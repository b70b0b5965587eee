package config

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lanternai/lantern/internal/logging"
)

var cfgLog = logging.Scope("config")

// Store holds the current config and swaps it atomically on reload.
// Current returns an immutable snapshot; callers keep the value they
// read for the whole exchange.
type Store struct {
	current atomic.Pointer[Config]
}

// NewStore creates a store seeded with cfg.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.current.Store(cfg)
	return s
}

// Current returns the active config.
func (s *Store) Current() *Config {
	return s.current.Load()
}

// Swap installs a new config.
func (s *Store) Swap(cfg *Config) {
	s.current.Store(cfg)
}

// Watch reloads the store when the config file changes on disk. A
// reload that fails to parse keeps the previous config. Blocks until
// the context is cancelled.
func (s *Store) Watch(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(path); err != nil {
		return err
	}

	// Editors write with rename+create; debounce rapid event bursts
	var timer *time.Timer
	reload := func() {
		cfg, err := LoadFrom(path)
		if err != nil {
			cfgLog.Errorf("reload %s failed, keeping previous config: %v", path, err)
			return
		}
		s.Swap(cfg)
		cfgLog.Infof("reloaded %s", path)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if ev.Op&fsnotify.Rename != 0 {
				// Re-arm the watch on the replacement file
				w.Add(path)
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(250*time.Millisecond, reload)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			cfgLog.Warnf("watch error: %v", err)
		}
	}
}
