package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher reloads a Config from disk whenever its backing file changes,
// debounced to absorb editors that write in several small operations.
// Trimmed from the teacher's hot-reload concern down to its core
// watch-debounce-reload loop: no backups, no webhook notification, no
// separate validate-on-reload toggle (LoadConfig already validates).
type Watcher struct {
	path            string
	debounceInterval time.Duration
	logger          *logrus.Logger
	onReload        func(*Config)

	fsWatcher *fsnotify.Watcher
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewWatcher builds a config file watcher. onReload is invoked with a
// freshly loaded and validated Config every time the file settles after
// a change; it is never called concurrently with itself.
func NewWatcher(path string, debounceInterval time.Duration, logger *logrus.Logger, onReload func(*Config)) (*Watcher, error) {
	if debounceInterval <= 0 {
		debounceInterval = time.Second
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		path:              path,
		debounceInterval:  debounceInterval,
		logger:            logger,
		onReload:          onReload,
		fsWatcher:         fw,
		ctx:               ctx,
		cancel:            cancel,
	}, nil
}

// Start watches the config file's directory (editors replace files via
// rename, which a direct file watch on most platforms would miss) and
// launches the debounced reload loop.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.path)
	if err := w.fsWatcher.Add(dir); err != nil {
		return err
	}
	w.wg.Add(1)
	go w.loop()
	return nil
}

func (w *Watcher) Stop() error {
	w.cancel()
	w.fsWatcher.Close()
	w.wg.Wait()
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounceInterval)
			pending = true
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.WithFields(logrus.Fields{"component": "config", "error": err}).Warn("config watcher error")
		case <-timer.C:
			if !pending {
				continue
			}
			pending = false
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadConfig(w.path, w.logger)
	if err != nil {
		w.logger.WithFields(logrus.Fields{"component": "config", "path": w.path, "error": err}).Error("config reload failed, keeping previous configuration")
		return
	}
	w.logger.WithFields(logrus.Fields{"component": "config", "path": w.path}).Info("configuration reloaded")
	w.onReload(cfg)
}
