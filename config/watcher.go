package config

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadCallback is invoked with the freshly reloaded Config after a debounced
// file-change event.
type ReloadCallback func(*Config) error

// Watcher reloads Config from configFile whenever it changes on disk and
// forwards the new value to every registered callback.
type Watcher struct {
	configFile string
	logger     *slog.Logger

	watcher *fsnotify.Watcher

	mu        sync.Mutex
	callbacks []ReloadCallback
	debounce  *time.Timer
}

// NewWatcher starts watching configFile. It is a no-op target (Start does
// nothing) if configFile is empty, since there is nothing on disk to watch.
func NewWatcher(configFile string, logger *slog.Logger) (*Watcher, error) {
	w := &Watcher{configFile: configFile, logger: logger}
	if configFile == "" {
		return w, nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(configFile); err != nil {
		fw.Close()
		return nil, err
	}
	w.watcher = fw
	return w, nil
}

// OnReload registers a callback invoked after every debounced reload.
func (w *Watcher) OnReload(cb ReloadCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Start begins watching in the background. No-op if the Watcher has no
// underlying fsnotify handle.
func (w *Watcher) Start() {
	if w.watcher == nil {
		return
	}
	go w.loop()
}

// Close stops watching.
func (w *Watcher) Close() error {
	if w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Write == fsnotify.Write || ev.Op&fsnotify.Create == fsnotify.Create {
				w.schedule()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "err", err)
		}
	}
}

// schedule debounces rapid successive writes (editors often emit several)
// into a single reload 300ms after the last one.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(300*time.Millisecond, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.configFile)
	if err != nil {
		w.logger.Error("config reload failed", "err", err)
		return
	}

	w.mu.Lock()
	callbacks := make([]ReloadCallback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	for _, cb := range callbacks {
		if err := cb(cfg); err != nil {
			w.logger.Warn("config reload callback failed", "err", err)
		}
	}
}
