package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/developer-mesh/hubspot-mcp/pkg/observability"
)

// ReloadCallback is invoked after a successful reload with the previous and
// the freshly loaded configuration. Callbacks decide which settings are safe
// to apply at runtime; everything else warrants a restart warning.
type ReloadCallback func(oldConfig, newConfig *Config) error

// Watcher reloads the YAML config file when it changes on disk. Only used
// when configuration came from a file; the stdio transport never starts one.
type Watcher struct {
	configFile string
	config     *Config
	configMu   sync.RWMutex

	watcher     *fsnotify.Watcher
	logger      observability.Logger
	callbacks   []ReloadCallback
	callbacksMu sync.RWMutex

	debounceTime time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewWatcher creates a watcher over configFile. current is the configuration
// already loaded at startup; reloads are diffed against it.
func NewWatcher(configFile string, current *Config, logger observability.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fw.Add(configFile); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch config file: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		configFile:   configFile,
		config:       current,
		watcher:      fw,
		logger:       logger,
		debounceTime: 500 * time.Millisecond,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// GetConfig returns the current configuration.
func (w *Watcher) GetConfig() *Config {
	w.configMu.RLock()
	defer w.configMu.RUnlock()
	return w.config
}

// RegisterCallback adds a reload callback.
func (w *Watcher) RegisterCallback(callback ReloadCallback) {
	w.callbacksMu.Lock()
	defer w.callbacksMu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start() {
	go w.watchLoop()
	w.logger.Info("Configuration watcher started", map[string]interface{}{
		"config_file": w.configFile,
	})
}

// Stop terminates the watch loop.
func (w *Watcher) Stop() error {
	w.cancel()
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

func (w *Watcher) watchLoop() {
	var debounceTimer *time.Timer

	for {
		select {
		case <-w.ctx.Done():
			w.logger.Info("Configuration watcher stopped", nil)
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				// Editors fire bursts of writes on save; collapse them.
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(w.debounceTime, func() {
					if err := w.reload(); err != nil {
						w.logger.Error("Failed to reload configuration", map[string]interface{}{
							"error": err.Error(),
						})
					}
				})
			}

			// Some editors delete and recreate on save.
			if event.Op&fsnotify.Remove == fsnotify.Remove {
				go w.readdWatchFile()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Configuration watcher error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

// reload loads the file fresh (defaults, file, environment), validates it,
// swaps it in, and runs the callbacks.
func (w *Watcher) reload() error {
	newConfig, err := Load(w.configFile)
	if err != nil {
		return err
	}
	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("reloaded config rejected: %w", err)
	}

	w.configMu.Lock()
	oldConfig := w.config
	w.config = newConfig
	w.configMu.Unlock()

	w.logger.Info("Configuration reloaded", map[string]interface{}{
		"config_file": w.configFile,
	})

	w.callbacksMu.RLock()
	callbacks := make([]ReloadCallback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.callbacksMu.RUnlock()

	for _, cb := range callbacks {
		if err := cb(oldConfig, newConfig); err != nil {
			w.logger.Error("Configuration reload callback failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	return nil
}

func (w *Watcher) readdWatchFile() {
	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		if _, err := os.Stat(w.configFile); err == nil {
			if err := w.watcher.Add(w.configFile); err != nil {
				w.logger.Error("Failed to re-add config file to watcher", map[string]interface{}{
					"error": err.Error(),
				})
			} else {
				w.logger.Info("Re-added config file to watcher", map[string]interface{}{
					"config_file": w.configFile,
				})
			}
			return
		}
	}
	w.logger.Error("Config file was not recreated within timeout", map[string]interface{}{
		"config_file": w.configFile,
	})
}
