// Package registry owns the project records of a workspace: enable/disable
// and ordering CRUD plus the dynamic-order lookup used for numbered
// shortcuts.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/projectorhq/projector/internal/host"
	"github.com/projectorhq/projector/internal/pathutil"
)

const (
	// MaxEnabled caps enabled projects so each can hold a 1-9 shortcut slot.
	MaxEnabled = 9

	// MinEnabled is the floor enforced while the switcher is active;
	// switching needs at least two contexts to switch between.
	MinEnabled = 2

	storageKey = "projects"
)

var (
	ErrDuplicatePath    = errors.New("registry: path already registered")
	ErrCapacityExceeded = fmt.Errorf("registry: more than %d enabled projects", MaxEnabled)
	ErrMinimumEnabled   = fmt.Errorf("registry: fewer than %d projects would stay enabled", MinEnabled)
	ErrNotFound         = errors.New("registry: project not found")
)

// MoveDirection selects the direction of a Move.
type MoveDirection int

const (
	MoveUp MoveDirection = iota
	MoveDown
)

// Project is one registered subdirectory of the workspace, switchable as an
// independent context.
type Project struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Path           string    `json:"path"`
	Order          int       `json:"order"`
	Seq            int       `json:"seq"`
	Enabled        bool      `json:"enabled"`
	SessionEnabled bool      `json:"sessionEnabled"`
	LastUsed       time.Time `json:"lastUsed,omitempty"`
}

// Registry holds the project list and persists it to workspace storage.
type Registry struct {
	storage host.Storage

	mu       sync.RWMutex
	projects []Project
	nextSeq  int

	// guardMinimum is set while the switcher is active; SetEnabled then
	// refuses to drop below MinEnabled enabled projects.
	guardMinimum bool
}

// New builds an empty registry backed by storage.
func New(storage host.Storage) *Registry {
	return &Registry{storage: storage}
}

// Load replaces the in-memory list with the persisted one.
func (r *Registry) Load() error {
	if r == nil {
		return nil
	}
	var stored []Project
	ok, err := r.storage.Get(host.ScopeWorkspace, storageKey, &stored)
	if err != nil {
		return fmt.Errorf("registry: load: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !ok {
		r.projects = nil
		r.nextSeq = 0
		return nil
	}
	r.projects = stored
	r.nextSeq = 0
	for _, p := range stored {
		if p.Seq >= r.nextSeq {
			r.nextSeq = p.Seq + 1
		}
	}
	return nil
}

// Persist writes the current list to workspace storage.
func (r *Registry) Persist() error {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	snapshot := append([]Project(nil), r.projects...)
	r.mu.RUnlock()
	if err := r.storage.Set(host.ScopeWorkspace, storageKey, snapshot); err != nil {
		return fmt.Errorf("registry: persist: %w", err)
	}
	return nil
}

// SetGuardMinimum toggles the minimum-enabled guard. The switch
// orchestrator arms it while switching is enabled.
func (r *Registry) SetGuardMinimum(on bool) {
	r.mu.Lock()
	r.guardMinimum = on
	r.mu.Unlock()
}

// Add registers a new enabled project for path. The project's order lands
// after every currently enabled project.
func (r *Registry) Add(path, name string) (Project, error) {
	path = pathutil.Normalize(path)
	if path == "" {
		return Project{}, errors.New("registry: path is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = filepath.Base(path)
	}
	if err := validateName(name); err != nil {
		return Project{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.projects {
		if pathutil.Normalize(p.Path) == path {
			return Project{}, fmt.Errorf("%w: %s", ErrDuplicatePath, path)
		}
	}
	if r.enabledCountLocked() >= MaxEnabled {
		return Project{}, ErrCapacityExceeded
	}
	project := Project{
		ID:             uuid.NewString(),
		Name:           name,
		Path:           path,
		Order:          r.maxEnabledOrderLocked() + 1,
		Seq:            r.nextSeq,
		Enabled:        true,
		SessionEnabled: true,
	}
	r.nextSeq++
	r.projects = append(r.projects, project)
	return project, r.persistLocked()
}

// Delete removes a project. Callers also clear its persisted session.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexLocked(id)
	if idx < 0 {
		return ErrNotFound
	}
	r.projects = append(r.projects[:idx], r.projects[idx+1:]...)
	return r.persistLocked()
}

// SetEnabled enables or disables a project. Re-enabling appends to the end
// of the enabled order rather than reclaiming a freed slot.
func (r *Registry) SetEnabled(id string, value bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexLocked(id)
	if idx < 0 {
		return ErrNotFound
	}
	if r.projects[idx].Enabled == value {
		return nil
	}
	if value {
		if r.enabledCountLocked() >= MaxEnabled {
			return ErrCapacityExceeded
		}
		r.projects[idx].Order = r.maxEnabledOrderLocked() + 1
		r.projects[idx].Enabled = true
	} else {
		if r.guardMinimum && r.enabledCountLocked() <= MinEnabled {
			return ErrMinimumEnabled
		}
		r.projects[idx].Enabled = false
	}
	return r.persistLocked()
}

// SetSessionEnabled toggles session persistence for a project.
func (r *Registry) SetSessionEnabled(id string, value bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexLocked(id)
	if idx < 0 {
		return ErrNotFound
	}
	if r.projects[idx].SessionEnabled == value {
		return nil
	}
	r.projects[idx].SessionEnabled = value
	return r.persistLocked()
}

// Touch stamps LastUsed on a project. Persistence is the caller's call.
func (r *Registry) Touch(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx := r.indexLocked(id); idx >= 0 {
		r.projects[idx].LastUsed = at
	}
}

// Get returns a project by id.
func (r *Registry) Get(id string) (Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx := r.indexLocked(id)
	if idx < 0 {
		return Project{}, false
	}
	return r.projects[idx], true
}

// ByPath returns the project whose normalized path equals path.
func (r *Registry) ByPath(path string) (Project, bool) {
	path = pathutil.Normalize(path)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.projects {
		if pathutil.Normalize(p.Path) == path {
			return p, true
		}
	}
	return Project{}, false
}

// List returns all projects, enabled ones first in stored-order sequence,
// disabled ones after by name.
func (r *Registry) List() []Project {
	r.mu.RLock()
	out := append([]Project(nil), r.projects...)
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Enabled != out[j].Enabled {
			return out[i].Enabled
		}
		if !out[i].Enabled {
			return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
		}
		return lessByOrder(out[i], out[j])
	})
	return out
}

// Enabled returns enabled projects sorted ascending by stored order.
func (r *Registry) Enabled() []Project {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabledSortedLocked()
}

// EnabledCount returns the number of enabled projects.
func (r *Registry) EnabledCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabledCountLocked()
}

// ByDynamicOrder returns the nth (1-based) project among enabled projects
// sorted by stored order. The rank is recomputed per call and never
// persisted.
func (r *Registry) ByDynamicOrder(n int) (Project, bool) {
	if n < 1 {
		return Project{}, false
	}
	enabled := r.Enabled()
	if n > len(enabled) {
		return Project{}, false
	}
	return enabled[n-1], true
}

// DynamicOrder returns the live 1-based rank of an enabled project, or 0.
func (r *Registry) DynamicOrder(id string) int {
	for i, p := range r.Enabled() {
		if p.ID == id {
			return i + 1
		}
	}
	return 0
}

// Move swaps a project's stored order with its neighbor in the enabled
// sorted sequence. At the boundary it is a no-op.
func (r *Registry) Move(id string, dir MoveDirection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexLocked(id)
	if idx < 0 {
		return ErrNotFound
	}
	if !r.projects[idx].Enabled {
		return fmt.Errorf("registry: move of disabled project %q", r.projects[idx].Name)
	}
	enabled := r.enabledSortedLocked()
	pos := -1
	for i, p := range enabled {
		if p.ID == id {
			pos = i
			break
		}
	}
	other := pos
	switch dir {
	case MoveUp:
		other = pos - 1
	case MoveDown:
		other = pos + 1
	}
	if other < 0 || other >= len(enabled) {
		return nil
	}
	a := r.indexLocked(enabled[pos].ID)
	b := r.indexLocked(enabled[other].ID)
	r.projects[a].Order, r.projects[b].Order = r.projects[b].Order, r.projects[a].Order
	return r.persistLocked()
}

func (r *Registry) indexLocked(id string) int {
	for i, p := range r.projects {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (r *Registry) enabledCountLocked() int {
	count := 0
	for _, p := range r.projects {
		if p.Enabled {
			count++
		}
	}
	return count
}

func (r *Registry) enabledSortedLocked() []Project {
	out := make([]Project, 0, len(r.projects))
	for _, p := range r.projects {
		if p.Enabled {
			out = append(out, p)
		}
	}
	// Equal orders should not occur; Seq keeps the sort stable by
	// insertion if they do.
	sort.SliceStable(out, func(i, j int) bool { return lessByOrder(out[i], out[j]) })
	return out
}

func (r *Registry) maxEnabledOrderLocked() int {
	max := 0
	for _, p := range r.projects {
		if p.Enabled && p.Order > max {
			max = p.Order
		}
	}
	return max
}

func (r *Registry) persistLocked() error {
	snapshot := append([]Project(nil), r.projects...)
	if err := r.storage.Set(host.ScopeWorkspace, storageKey, snapshot); err != nil {
		slog.Error("registry persist failed", "error", err)
		return fmt.Errorf("registry: persist: %w", err)
	}
	return nil
}

func lessByOrder(a, b Project) bool {
	if a.Order != b.Order {
		return a.Order < b.Order
	}
	return a.Seq < b.Seq
}

func validateName(name string) error {
	for _, r := range name {
		if r == 0 || unicode.IsControl(r) {
			return fmt.Errorf("registry: invalid project name %q", name)
		}
	}
	return nil
}
