// internal/config/watcher.go
package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/valpere/scraperotor/internal/utils"
)

var watcherLogger = utils.NewComponentLogger("config-watcher")

// reloadDebounce coalesces the burst of events editors emit for one save.
const reloadDebounce = 100 * time.Millisecond

// ConfigWatcher reloads the configuration file when it changes and hands
// every valid revision to the registered callbacks. Invalid revisions are
// logged and skipped; the service keeps running on the last good one.
type ConfigWatcher struct {
	watcher    *fsnotify.Watcher
	configPath string
	callbacks  []func(*Config)
	mu         sync.RWMutex
	stopped    bool
	done       chan struct{}
}

// NewConfigWatcher creates a new configuration file watcher
func NewConfigWatcher(configPath string) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	cw := &ConfigWatcher{
		watcher:    watcher,
		configPath: filepath.Clean(configPath),
		done:       make(chan struct{}),
	}

	// the directory, so atomic rename-on-save still reaches us
	if err := watcher.Add(filepath.Dir(cw.configPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	go cw.watch()

	return cw, nil
}

// OnChange registers a callback to be called when the config changes
func (cw *ConfigWatcher) OnChange(callback func(*Config)) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

func (cw *ConfigWatcher) watch() {
	defer close(cw.done)

	var timer *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				if timer != nil {
					timer.Stop()
				}
				return
			}
			if filepath.Clean(event.Name) != cw.configPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(reloadDebounce, cw.handleConfigChange)
			} else {
				timer.Reset(reloadDebounce)
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			watcherLogger.Warnf("config watcher error: %v", err)
		}
	}
}

func (cw *ConfigWatcher) handleConfigChange() {
	cw.mu.RLock()
	if cw.stopped {
		cw.mu.RUnlock()
		return
	}
	callbacks := make([]func(*Config), len(cw.callbacks))
	copy(callbacks, cw.callbacks)
	cw.mu.RUnlock()

	config, err := LoadFromFile(cw.configPath)
	if err != nil {
		watcherLogger.WithField("path", cw.configPath).Errorf("failed to reload config: %v", err)
		return
	}
	watcherLogger.WithField("path", cw.configPath).Info("configuration reloaded")

	for _, callback := range callbacks {
		callback(config)
	}
}

// Close stops the watcher and releases resources
func (cw *ConfigWatcher) Close() error {
	cw.mu.Lock()
	if cw.stopped {
		cw.mu.Unlock()
		return nil
	}
	cw.stopped = true
	cw.mu.Unlock()

	err := cw.watcher.Close()
	<-cw.done
	return err
}
