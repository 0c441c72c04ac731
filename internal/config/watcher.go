package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher hot-reloads configuration when files change. Enabled only in
// development; in other environments it just holds the initial config.
type Watcher struct {
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)

	logger  *zap.Logger
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// NewWatcher creates a watcher around the initial configuration.
func NewWatcher(initial *Config, logger *zap.Logger) (*Watcher, error) {
	w := &Watcher{
		config: initial,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	if !initial.IsDevelopment() {
		logger.Info("configuration hot reload disabled",
			zap.String("environment", string(initial.Environment)),
		)
		return w, nil
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	w.watcher = fsWatcher

	if err := w.watchConfigDir(); err != nil {
		fsWatcher.Close()
		return nil, err
	}
	go w.watchLoop()

	logger.Info("configuration hot reload enabled")
	return w, nil
}

// Current returns the latest configuration snapshot.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// OnReload registers a callback invoked with each successfully reloaded
// configuration.
func (w *Watcher) OnReload(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() {
	close(w.stopCh)
}

func (w *Watcher) watchConfigDir() error {
	dir := os.Getenv("ENGRAM_CONFIG_DIR")
	if dir == "" {
		dir = "config"
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		// Nothing to watch; env-var-only setups are fine.
		return nil
	}

	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() || isConfigFile(path) {
			if err := w.watcher.Add(path); err != nil {
				w.logger.Warn("failed to watch config path",
					zap.String("path", path),
					zap.Error(err),
				)
			}
		}
		return nil
	})
}

func (w *Watcher) watchLoop() {
	defer w.watcher.Close()

	var debounce *time.Timer
	const debounceDelay = 500 * time.Millisecond

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !isConfigFile(event.Name) {
				continue
			}
			w.logger.Info("configuration file changed", zap.String("file", event.Name))
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load()
	if err != nil {
		// A broken edit must not take down the running config.
		w.logger.Error("configuration reload failed, keeping previous", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.config = cfg
	callbacks := append([]func(*Config){}, w.callbacks...)
	w.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
	w.logger.Info("configuration reloaded")
}

func isConfigFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}
