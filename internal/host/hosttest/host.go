// Package hosttest provides an in-memory host implementation for tests.
package hosttest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/projectorhq/projector/internal/host"
)

// Host implements every host interface against in-memory tables.
type Host struct {
	mu sync.Mutex

	// Files maps path to its line shape (length of each line).
	Files map[string][]int
	// Dirs maps path to its immediate children.
	Dirs map[string][]host.DirEntry
	// OpenErr forces Open to fail for specific paths.
	OpenErr map[string]error

	tabs        []host.Tab
	docs        map[host.DocumentToken]string
	tokenByPath map[string]host.DocumentToken
	nextToken   host.DocumentToken

	storage     map[string][]byte
	storageFail bool

	excludes map[string]bool

	subs   map[int]chan host.Event
	nextID int

	// TokenOpens counts OpenToken calls that reused a resident document.
	TokenOpens int
	// DiskOpens counts Open calls that loaded from the file table.
	DiskOpens int
}

// New returns an empty fake host.
func New() *Host {
	return &Host{
		Files:       make(map[string][]int),
		Dirs:        make(map[string][]host.DirEntry),
		OpenErr:     make(map[string]error),
		docs:        make(map[host.DocumentToken]string),
		tokenByPath: make(map[string]host.DocumentToken),
		nextToken:   1,
		storage:     make(map[string][]byte),
		excludes:    make(map[string]bool),
		subs:        make(map[int]chan host.Event),
	}
}

// Context bundles the fake into a host.Context.
func (h *Host) Context() *host.Context {
	return &host.Context{Editor: h, FS: h, Storage: h, Excludes: h, Events: h}
}

// AddFile declares a file with the given line shape.
func (h *Host) AddFile(path string, shape ...int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(shape) == 0 {
		shape = []int{0}
	}
	h.Files[path] = shape
}

// RemoveFile deletes a file, simulating external deletion.
func (h *Host) RemoveFile(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.Files, path)
}

// --- host.Editor ---

func (h *Host) Tabs() []host.Tab {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]host.Tab(nil), h.tabs...)
}

func (h *Host) Open(_ context.Context, path string, opts host.OpenOptions) error {
	h.mu.Lock()
	if err := h.OpenErr[path]; err != nil {
		h.mu.Unlock()
		return err
	}
	if _, ok := h.Files[path]; !ok {
		h.mu.Unlock()
		return fmt.Errorf("hosttest: open %s: no such file", path)
	}
	h.DiskOpens++
	h.openLocked(path, opts)
	h.mu.Unlock()
	h.emit(host.Event{Kind: host.EventTabsChanged, Path: path})
	if opts.Focus {
		h.emit(host.Event{Kind: host.EventFocusChange, Path: path})
	}
	return nil
}

func (h *Host) openLocked(path string, opts host.OpenOptions) {
	if _, ok := h.tokenByPath[path]; !ok {
		tok := h.nextToken
		h.nextToken++
		h.docs[tok] = path
		h.tokenByPath[path] = tok
	}
	tab := host.Tab{
		Path:       path,
		ViewColumn: opts.ViewColumn,
		Pinned:     opts.Pinned,
		Active:     opts.Focus,
	}
	if opts.Focus {
		for i := range h.tabs {
			h.tabs[i].Active = false
		}
	}
	for i := range h.tabs {
		if h.tabs[i].Path == path {
			active := h.tabs[i].Active || opts.Focus
			h.tabs[i] = tab
			h.tabs[i].Active = active
			return
		}
	}
	h.tabs = append(h.tabs, tab)
}

func (h *Host) Close(_ context.Context, path string) error {
	h.mu.Lock()
	kept := h.tabs[:0]
	for _, tab := range h.tabs {
		if tab.Path != path {
			kept = append(kept, tab)
		}
	}
	h.tabs = kept
	h.mu.Unlock()
	h.emit(host.Event{Kind: host.EventTabsChanged, Path: path})
	return nil
}

func (h *Host) Focus(path string) error {
	h.mu.Lock()
	found := false
	for i := range h.tabs {
		h.tabs[i].Active = h.tabs[i].Path == path
		if h.tabs[i].Active {
			found = true
		}
	}
	h.mu.Unlock()
	if !found {
		return fmt.Errorf("hosttest: focus %s: not open", path)
	}
	h.emit(host.Event{Kind: host.EventFocusChange, Path: path})
	return nil
}

func (h *Host) SetSelection(path string, sel host.Selection) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.tabs {
		if h.tabs[i].Path == path {
			h.tabs[i].Selection = sel
			return nil
		}
	}
	return fmt.Errorf("hosttest: selection on %s: not open", path)
}

func (h *Host) DocumentShape(path string) ([]int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	shape, ok := h.Files[path]
	if !ok {
		return nil, fmt.Errorf("hosttest: shape of %s: no such file", path)
	}
	return append([]int(nil), shape...), nil
}

func (h *Host) RevealDir(string) error { return nil }

func (h *Host) Token(path string) (host.DocumentToken, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tok, ok := h.tokenByPath[path]
	return tok, ok
}

func (h *Host) LiveToken(tok host.DocumentToken) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.docs[tok]
	return ok
}

func (h *Host) OpenToken(_ context.Context, tok host.DocumentToken, path string, opts host.OpenOptions) (bool, error) {
	h.mu.Lock()
	stored, ok := h.docs[tok]
	if !ok || stored != path {
		h.mu.Unlock()
		return false, nil
	}
	h.TokenOpens++
	h.openLocked(path, opts)
	h.mu.Unlock()
	h.emit(host.Event{Kind: host.EventTabsChanged, Path: path})
	if opts.Focus {
		h.emit(host.Event{Kind: host.EventFocusChange, Path: path})
	}
	return true, nil
}

// EvictDocument drops a resident document, simulating host reclaim. Any
// token held for it goes stale.
func (h *Host) EvictDocument(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if tok, ok := h.tokenByPath[path]; ok {
		delete(h.docs, tok)
		delete(h.tokenByPath, path)
	}
}

// --- host.FS ---

func (h *Host) ListDir(path string) ([]host.DirEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entries, ok := h.Dirs[path]
	if !ok {
		return nil, fmt.Errorf("hosttest: list %s: no such directory", path)
	}
	return append([]host.DirEntry(nil), entries...), nil
}

func (h *Host) FileExists(path string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.Files[path]
	return ok
}

func (h *Host) DirExists(path string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.Dirs[path]
	return ok
}

// --- host.Storage ---

// SetStorageFail makes every Set fail, for persistence-degradation tests.
func (h *Host) SetStorageFail(fail bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.storageFail = fail
}

func (h *Host) Get(scope host.Scope, key string, v any) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	raw, ok := h.storage[scope.String()+"/"+key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

func (h *Host) Set(scope host.Scope, key string, v any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.storageFail {
		return fmt.Errorf("hosttest: storage write refused")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.storage[scope.String()+"/"+key] = raw
	return nil
}

func (h *Host) Delete(scope host.Scope, key string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.storage, scope.String()+"/"+key)
	return nil
}

// --- host.ExcludeConfig ---

func (h *Host) Excludes() (map[string]bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]bool, len(h.excludes))
	for k, v := range h.excludes {
		out[k] = v
	}
	return out, nil
}

func (h *Host) SetExcludes(m map[string]bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.excludes = m
	return nil
}

// --- host.Notifier ---

func (h *Host) Subscribe(buffer int) (<-chan host.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan host.Event, buffer)
	h.subs[id] = ch
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
}

// EmitEdit simulates a document-content change.
func (h *Host) EmitEdit(path string) {
	h.emit(host.Event{Kind: host.EventEdit, Path: path})
}

func (h *Host) emit(ev host.Event) {
	h.mu.Lock()
	subs := make([]chan host.Event, 0, len(h.subs))
	for _, ch := range h.subs {
		subs = append(subs, ch)
	}
	h.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
