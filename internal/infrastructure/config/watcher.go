package config

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Watcher re-reads ~/.hackare/config.yaml when it changes on disk and
// feeds the delta through the manager's single update path, so live
// edits publish the same field-level change events as any other update.
type Watcher struct {
	manager *Manager
	watcher *fsnotify.Watcher
	path    string
	logger  *zap.Logger
}

// NewWatcher starts watching path. A missing file is fine; the watch
// begins once the file appears in its directory.
func NewWatcher(manager *Manager, path string, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		manager: manager,
		watcher: fw,
		path:    path,
		logger:  logger.With(zap.String("component", "config-watcher")),
	}
	if err := fw.Add(path); err != nil {
		w.logger.Debug("Config file not watchable yet", zap.String("path", path), zap.Error(err))
	}
	return w, nil
}

// Run blocks until ctx is cancelled, reloading on write events.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	v := viper.New()
	v.SetConfigFile(w.path)
	if err := v.ReadInConfig(); err != nil {
		w.logger.Warn("Config reload failed", zap.Error(err))
		return
	}

	var file Config
	if err := v.Unmarshal(&file); err != nil {
		w.logger.Warn("Config reload unmarshal failed", zap.Error(err))
		return
	}

	w.manager.Update(func(c *Config) {
		if file.Provider != "" {
			c.Provider = file.Provider
		}
		if file.BaseURL != "" {
			c.BaseURL = file.BaseURL
		}
		if file.Model != "" {
			c.Model = file.Model
		}
		if file.SystemPrompt != "" {
			c.SystemPrompt = file.SystemPrompt
		}
		if file.Theme != "" {
			c.Theme = file.Theme
		}
		if file.Temperature != 0 {
			c.Temperature = file.Temperature
		}
	})
	w.logger.Info("Config reloaded", zap.String("path", w.path))
}
