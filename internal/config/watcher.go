package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadFunc receives the freshly loaded configuration after a change.
type ReloadFunc func(*HiveConfig)

// Watcher hot-reloads the config file and notifies registered callbacks.
// Only validated configs are delivered; a broken edit keeps the last good
// config in place.
type Watcher struct {
	path     string
	logger   *zap.Logger
	fsw      *fsnotify.Watcher
	mu       sync.RWMutex
	current  *HiveConfig
	onReload []ReloadFunc
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWatcher starts watching path. The initial config must already have been
// loaded by the caller and is used as the baseline.
func NewWatcher(path string, initial *HiveConfig, logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	// Watch the directory: editors replace files on save, which drops the
	// watch if placed on the file itself.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}
	w := &Watcher{
		path:    path,
		logger:  logger,
		fsw:     fsw,
		current: initial,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Current returns the last good configuration.
func (w *Watcher) Current() *HiveConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnReload registers a callback invoked after each successful reload.
func (w *Watcher) OnReload(fn ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = append(w.onReload, fn)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.stopCh)
	err := w.fsw.Close()
	<-w.doneCh
	return err
}

func (w *Watcher) loop() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case evt, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != filepath.Clean(w.path) {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("Config reload rejected, keeping previous",
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}
	w.mu.Lock()
	w.current = cfg
	callbacks := append([]ReloadFunc(nil), w.onReload...)
	w.mu.Unlock()

	w.logger.Info("Config reloaded", zap.String("path", w.path))
	for _, fn := range callbacks {
		fn(cfg)
	}
}
