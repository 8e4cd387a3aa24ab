package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"pagepush/api/internal/logger"
)

const reloadDebounce = 500 * time.Millisecond

// Watcher reloads the env file when it changes and hands the new Config to
// the registered callback.
type Watcher struct {
	path     string
	onChange func(Config)
	log      logger.Logger
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
}

// Watch starts watching path. The directory is watched rather than the file
// so editors that replace the file on save are still picked up.
func Watch(path string, log logger.Logger, onChange func(Config)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("resolve env file: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(abs)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		path:     abs,
		onChange: onChange,
		log:      log,
		watcher:  fsWatcher,
		stopCh:   make(chan struct{}),
	}
	go w.loop()
	log.Info("config watcher started", logger.String("file", abs))
	return w, nil
}

func (w *Watcher) loop() {
	defer w.watcher.Close()

	var debounce *time.Timer
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("config watcher error", logger.Error(err))
		case <-w.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Reload(w.path)
	if err != nil {
		w.log.Error("config reload failed", logger.String("file", w.path), logger.Error(err))
		return
	}
	w.log.Info("config reloaded", logger.String("file", w.path))
	w.onChange(cfg)
}

// Close stops the watcher.
func (w *Watcher) Close() {
	close(w.stopCh)
}
