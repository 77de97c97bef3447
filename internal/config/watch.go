package config

import (
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads the config document, atomically swapping in a fully
// validated Model on each successful reload. A broken edit never replaces
// the running model: the previous Model stays current and the error is
// delivered to the reload callback instead.
type Watcher struct {
	path     string
	opts     []Option
	model    atomic.Pointer[Model]
	onReload func(*Model, error)

	fw   *fsnotify.Watcher
	done chan struct{}
}

// NewWatcher loads the config at path and prepares a watcher for it.
// onReload is invoked after every reload attempt with either the new
// model or the error that kept the old one in place; it may be nil.
func NewWatcher(path string, onReload func(*Model, error), opts ...Option) (*Watcher, error) {
	model, err := Load(path, opts...)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:     path,
		opts:     opts,
		onReload: onReload,
		done:     make(chan struct{}),
	}
	w.model.Store(model)
	return w, nil
}

// Model returns the current validated model. Safe for concurrent use; the
// returned Model is immutable.
func (w *Watcher) Model() *Model {
	return w.model.Load()
}

// Start begins watching the config file's directory for changes. Watching
// the directory rather than the file survives editors that replace the
// file via rename.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close() //nolint:errcheck // cleanup in error path
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.fw = fw

	go w.loop()
	return nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	if w.fw != nil {
		return w.fw.Close()
	}
	return nil
}

func (w *Watcher) loop() {
	target := filepath.Clean(w.path)
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.Reload()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			if w.onReload != nil {
				w.onReload(nil, fmt.Errorf("watch error: %w", err))
			}
		}
	}
}

// Reload re-reads and validates the config, swapping the model only on
// success. Exported so callers (and tests) can force a reload without a
// filesystem event.
func (w *Watcher) Reload() {
	model, err := Load(w.path, w.opts...)
	if err == nil {
		w.model.Store(model)
	}
	if w.onReload != nil {
		w.onReload(model, err)
	}
}
