package fshost

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/projectorhq/projector/internal/host"
)

// editWatcher turns filesystem writes to open documents into EventEdit
// notifications. Directories are watched rather than files: editors that
// save via rename would otherwise silently detach the watch.
type editWatcher struct {
	h  *Host
	fw *fsnotify.Watcher

	mu      sync.Mutex
	tracked map[string]struct{}
	dirRefs map[string]int
}

func newEditWatcher(h *Host) (*editWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fshost: watcher: %w", err)
	}
	w := &editWatcher{
		h:       h,
		fw:      fw,
		tracked: make(map[string]struct{}),
		dirRefs: make(map[string]int),
	}
	go w.run()
	return w, nil
}

func (w *editWatcher) track(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.tracked[path]; ok {
		return
	}
	w.tracked[path] = struct{}{}
	dir := filepath.Dir(path)
	w.dirRefs[dir]++
	if w.dirRefs[dir] == 1 {
		if err := w.fw.Add(dir); err != nil {
			slog.Warn("edit watch failed", "dir", dir, "error", err)
		}
	}
}

func (w *editWatcher) untrack(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.tracked[path]; !ok {
		return
	}
	delete(w.tracked, path)
	dir := filepath.Dir(path)
	w.dirRefs[dir]--
	if w.dirRefs[dir] <= 0 {
		delete(w.dirRefs, dir)
		if err := w.fw.Remove(dir); err != nil {
			slog.Debug("edit unwatch failed", "dir", dir, "error", err)
		}
	}
}

func (w *editWatcher) run() {
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			w.mu.Lock()
			_, tracked := w.tracked[ev.Name]
			w.mu.Unlock()
			if tracked {
				w.h.emit(host.Event{Kind: host.EventEdit, Path: ev.Name})
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			slog.Warn("edit watcher error", "error", err)
		}
	}
}

func (w *editWatcher) close() error {
	return w.fw.Close()
}
