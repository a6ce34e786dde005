package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/penwyp/peakcat/logging"
)

const reloadDelay = 300 * time.Millisecond

// Watcher reloads a config file on change. Reloads run the same layering as
// startup minus flags, and a reload that fails validation leaves the current
// config in place.
type Watcher struct {
	path     string
	loader   *Loader
	onChange func(*Config)
	fs       *fsnotify.Watcher

	mu      sync.RWMutex
	current *Config

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWatcher prepares a watcher for path. Nothing is read until Start.
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	path = filepath.Clean(os.ExpandEnv(path))
	loader := NewLoader()
	loader.AddSource(NewFileSource(path))
	loader.AddSource(NewEnvSource(EnvPrefix))
	loader.AddValidator(NewStandardValidator())

	return &Watcher{
		path:     path,
		loader:   loader,
		onChange: onChange,
		fs:       fs,
		done:     make(chan struct{}),
	}, nil
}

// Start loads the file once and begins watching its directory. Watching the
// directory rather than the file survives editors that replace on save.
func (w *Watcher) Start() error {
	cfg, err := w.loader.LoadWithDefaults()
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", w.path, err)
	}
	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	dir := filepath.Dir(w.path)
	if err := w.fs.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop ends the watch. It is safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fs.Close()
		w.wg.Wait()
	})
	return err
}

// Current returns the last config that loaded successfully.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	// Bursts of writes collapse into one reload once the file settles.
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDelay)
			} else {
				timer.Reset(reloadDelay)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := w.Reload(); err != nil {
				logging.LogErrorf("Config reload failed, keeping previous: %v", err)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logging.LogWarnf("Config watcher error: %v", err)
		}
	}
}

// Reload reads the file now and notifies onChange if the result differs from
// the current config.
func (w *Watcher) Reload() error {
	if _, err := os.Stat(w.path); err != nil {
		return fmt.Errorf("config file unavailable: %w", err)
	}
	cfg, err := w.loader.LoadWithDefaults()
	if err != nil {
		return err
	}

	w.mu.Lock()
	prev := w.current
	w.current = cfg
	w.mu.Unlock()

	if prev != nil && reflect.DeepEqual(prev, cfg) {
		return nil
	}
	logging.LogInfof("Configuration reloaded from %s", w.path)
	if w.onChange != nil {
		w.onChange(cfg)
	}
	return nil
}
