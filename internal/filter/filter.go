// Package filter hides all but the active project's directory from the file
// browser by rewriting the workspace's directory-exclusion map.
package filter

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/projectorhq/projector/internal/host"
	"github.com/projectorhq/projector/internal/pathutil"
)

var (
	// ErrDirectoryRead wraps a failed workspace listing; the filter stays in
	// its last-known-good mode.
	ErrDirectoryRead = errors.New("filter: workspace listing failed")
	// ErrNotArmed is returned when Enable is called before Arm.
	ErrNotArmed = errors.New("filter: original excludes not captured")
)

const (
	originalExcludesKey = "filter.originalExcludes"
	filteringKey        = "filter.state"
)

// Directories never offered for hiding, on top of dotfile exclusion.
var defaultDenylist = map[string]struct{}{
	"node_modules": {},
	"vendor":       {},
	"__pycache__":  {},
}

type persistedState struct {
	Filtering  bool   `json:"filtering"`
	ActivePath string `json:"activePath,omitempty"`
}

// State is a read-only view of the filter for diagnostics.
type State struct {
	Armed      bool
	Filtering  bool
	ActivePath string
}

// Filter owns the original, pre-filtering exclude configuration and the
// hide-set applied while one project is shown.
type Filter struct {
	fs       host.FS
	excludes host.ExcludeConfig
	storage  host.Storage
	root     string
	denylist map[string]struct{}

	mu         sync.Mutex
	armed      bool
	filtering  bool
	activePath string
	original   map[string]bool
}

// New builds a filter for the workspace rooted at root. Extra denylist
// entries come from config.
func New(hc *host.Context, root string, extraDenylist []string) *Filter {
	denylist := make(map[string]struct{}, len(defaultDenylist)+len(extraDenylist))
	for name := range defaultDenylist {
		denylist[name] = struct{}{}
	}
	for _, name := range extraDenylist {
		name = strings.TrimSpace(name)
		if name != "" {
			denylist[name] = struct{}{}
		}
	}
	return &Filter{
		fs:       hc.FS,
		excludes: hc.Excludes,
		storage:  hc.Storage,
		root:     pathutil.Normalize(root),
		denylist: denylist,
	}
}

// Load adopts state persisted by a previous process, if any, so a restart
// mid-filter can still restore the user's original excludes exactly.
func (f *Filter) Load() error {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var original map[string]bool
	ok, err := f.storage.Get(host.ScopeWorkspace, originalExcludesKey, &original)
	if err != nil {
		return fmt.Errorf("filter: load original excludes: %w", err)
	}
	if !ok {
		return nil
	}
	f.original = original
	f.armed = true
	var st persistedState
	if ok, err := f.storage.Get(host.ScopeWorkspace, filteringKey, &st); err == nil && ok {
		f.filtering = st.Filtering
		f.activePath = st.ActivePath
	}
	return nil
}

// Arm captures the current exclude map as the original. It must run before
// the first filtering write; capturing after would bake a hide-set into the
// restore target and corrupt user settings. Re-arming is a no-op.
func (f *Filter) Arm() error {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.armed {
		return nil
	}
	current, err := f.excludes.Excludes()
	if err != nil {
		return fmt.Errorf("filter: read excludes: %w", err)
	}
	if current == nil {
		current = map[string]bool{}
	}
	if err := f.storage.Set(host.ScopeWorkspace, originalExcludesKey, current); err != nil {
		return fmt.Errorf("filter: persist original excludes: %w", err)
	}
	f.original = current
	f.armed = true
	return nil
}

// Enable hides every immediate workspace subdirectory except the one whose
// name matches the active project's basename. The visibility map is
// recomputed from scratch on every call so hides from a previously active
// project never survive a target change. Nothing is committed on failure.
func (f *Filter) Enable(activeProjectPath string) error {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.armed {
		return ErrNotArmed
	}
	activeProjectPath = pathutil.Normalize(activeProjectPath)
	keep := filepath.Base(activeProjectPath)

	entries, err := f.fs.ListDir(f.root)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDirectoryRead, err)
	}
	merged := make(map[string]bool, len(f.original)+len(entries))
	for pattern, hidden := range f.original {
		merged[pattern] = hidden
	}
	for _, entry := range entries {
		if !entry.IsDir {
			continue
		}
		name := entry.Name
		if name == keep || skipName(name, f.denylist) {
			continue
		}
		merged[name] = true
	}
	if err := f.excludes.SetExcludes(merged); err != nil {
		return fmt.Errorf("filter: apply excludes: %w", err)
	}
	f.filtering = true
	f.activePath = activeProjectPath
	f.persistStateLocked()
	return nil
}

// Disable reapplies the captured original excludes verbatim. A whole-map
// overwrite, not a set difference: the underlying store does not reliably
// support partial key removal.
func (f *Filter) Disable() error {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.armed || !f.filtering {
		return nil
	}
	if err := f.excludes.SetExcludes(cloneExcludes(f.original)); err != nil {
		return fmt.Errorf("filter: restore excludes: %w", err)
	}
	f.filtering = false
	f.activePath = ""
	f.persistStateLocked()
	return nil
}

// Teardown restores the original excludes and disarms the filter, deleting
// the captured copy. Run at switcher-disable time.
func (f *Filter) Teardown() error {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.armed {
		return nil
	}
	if err := f.excludes.SetExcludes(cloneExcludes(f.original)); err != nil {
		return fmt.Errorf("filter: restore excludes: %w", err)
	}
	if err := f.storage.Delete(host.ScopeWorkspace, originalExcludesKey); err != nil {
		slog.Warn("filter: drop persisted original excludes", "error", err)
	}
	if err := f.storage.Delete(host.ScopeWorkspace, filteringKey); err != nil {
		slog.Warn("filter: drop persisted filter state", "error", err)
	}
	f.armed = false
	f.filtering = false
	f.activePath = ""
	f.original = nil
	return nil
}

// State reports the current filter mode.
func (f *Filter) State() State {
	if f == nil {
		return State{}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return State{Armed: f.armed, Filtering: f.filtering, ActivePath: f.activePath}
}

func (f *Filter) persistStateLocked() {
	st := persistedState{Filtering: f.filtering, ActivePath: f.activePath}
	if err := f.storage.Set(host.ScopeWorkspace, filteringKey, st); err != nil {
		slog.Warn("filter: persist state", "error", err)
	}
}

func cloneExcludes(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func skipName(name string, denylist map[string]struct{}) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	_, ok := denylist[name]
	return ok
}
