package config

import (
	"context"
	"os"
	"sync"
	"time"

	"sendfleet/internal/models"

	"github.com/sirupsen/logrus"
)

// Watcher polls the configuration file and reloads it on change. Only
// tunables read through callbacks pick up changes at runtime; structural
// settings such as the database path still require a restart.
type Watcher struct {
	configPath string
	logger     *logrus.Logger
	interval   time.Duration
	mu         sync.RWMutex
	config     *models.Config
	callbacks  []func(*models.Config)
}

func NewWatcher(configPath string, logger *logrus.Logger) *Watcher {
	return &Watcher{
		configPath: configPath,
		logger:     logger,
		interval:   5 * time.Second,
		callbacks:  make([]func(*models.Config), 0),
	}
}

// Start loads the initial configuration and then polls for modification
// time changes until the context is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	config, err := LoadConfig(w.configPath)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.config = config
	w.mu.Unlock()

	stat, err := os.Stat(w.configPath)
	if err != nil {
		return err
	}
	lastModTime := stat.ModTime()

	w.logger.WithField("path", w.configPath).Info("Configuration watcher started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Configuration watcher stopping")
			return nil
		case <-ticker.C:
			stat, err := os.Stat(w.configPath)
			if err != nil {
				w.logger.WithError(err).Warn("Failed to stat configuration file")
				continue
			}
			if !stat.ModTime().After(lastModTime) {
				continue
			}
			lastModTime = stat.ModTime()
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	config, err := LoadConfig(w.configPath)
	if err != nil {
		// Keep serving the last good configuration.
		w.logger.WithError(err).Error("Failed to reload configuration, keeping previous")
		return
	}

	w.mu.Lock()
	w.config = config
	callbacks := make([]func(*models.Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logger.Info("Configuration reloaded")
	for _, cb := range callbacks {
		cb(config)
	}
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *models.Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// OnReload registers a callback invoked after each successful reload.
func (w *Watcher) OnReload(cb func(*models.Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}
