// Package fshost implements the host surface against a real filesystem:
// JSON-file key-value storage, a workspace excludes file, an in-memory tab
// strip with a resident-document table, and an fsnotify-driven edit feed.
package fshost

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/projectorhq/projector/internal/appdirs"
	"github.com/projectorhq/projector/internal/host"
	"github.com/projectorhq/projector/internal/pathutil"
)

const workspaceStateDir = ".projector"

// Options tune host construction.
type Options struct {
	// OpenCommand is run on RevealDir with {dir} substituted. Empty
	// disables the external command.
	OpenCommand string
	// GlobalStatePath overrides the global storage file location.
	GlobalStatePath string
	// Watch enables the fsnotify edit feed for open documents.
	Watch bool
}

// Host is the filesystem-backed implementation of every host interface.
type Host struct {
	root        string
	openCommand string

	global    *kvFile
	workspace *kvFile
	excludes  *excludesFile

	mu          sync.Mutex
	tabs        []host.Tab
	docs        map[host.DocumentToken]*document
	tokenByPath map[string]host.DocumentToken
	nextToken   host.DocumentToken

	subs   map[int]chan host.Event
	nextID int

	watcher *editWatcher
}

type document struct {
	path  string
	shape []int
}

// New builds a host rooted at the workspace directory.
func New(root string, opts Options) (*Host, error) {
	root = pathutil.Normalize(root)
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("fshost: workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("fshost: workspace root %s is not a directory", root)
	}
	globalPath := opts.GlobalStatePath
	if globalPath == "" {
		dir, err := appdirs.StateDir()
		if err != nil {
			return nil, err
		}
		globalPath = filepath.Join(dir, "global.json")
	}
	stateDir := filepath.Join(root, workspaceStateDir)
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("fshost: workspace state dir: %w", err)
	}
	h := &Host{
		root:        root,
		openCommand: opts.OpenCommand,
		global:      newKVFile(globalPath),
		workspace:   newKVFile(filepath.Join(stateDir, "workspace.json")),
		excludes:    newExcludesFile(filepath.Join(stateDir, "excludes.json")),
		docs:        make(map[host.DocumentToken]*document),
		tokenByPath: make(map[string]host.DocumentToken),
		nextToken:   1,
		subs:        make(map[int]chan host.Event),
	}
	if opts.Watch {
		w, err := newEditWatcher(h)
		if err != nil {
			return nil, err
		}
		h.watcher = w
	}
	return h, nil
}

// Root returns the workspace root.
func (h *Host) Root() string { return h.root }

// Context bundles the host for component constructors.
func (h *Host) Context() *host.Context {
	return &host.Context{Editor: h, FS: h, Storage: h, Excludes: h, Events: h}
}

// Shutdown stops the edit watcher and drops subscribers. Named apart from
// the editor's per-tab Close.
func (h *Host) Shutdown() error {
	var err error
	if h.watcher != nil {
		err = h.watcher.close()
	}
	h.mu.Lock()
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
	h.mu.Unlock()
	return err
}

// --- host.FS ---

func (h *Host) ListDir(path string) ([]host.DirEntry, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("fshost: list %s: %w", path, err)
	}
	out := make([]host.DirEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, host.DirEntry{Name: entry.Name(), IsDir: entry.IsDir()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (h *Host) FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func (h *Host) DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
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
