// Package switcher sequences project switches: save the outgoing session,
// retarget the visibility filter, swap the tab strip, and commit the new
// active project.
package switcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/projectorhq/projector/internal/filter"
	"github.com/projectorhq/projector/internal/host"
	"github.com/projectorhq/projector/internal/pathutil"
	"github.com/projectorhq/projector/internal/registry"
	"github.com/projectorhq/projector/internal/session"
	"github.com/projectorhq/projector/internal/tabcache"
)

var (
	ErrUnknownProject   = errors.New("switch: unknown project")
	ErrProjectDisabled  = errors.New("switch: project is disabled")
	ErrPathGone         = errors.New("switch: project path no longer exists")
	ErrSwitchInProgress = errors.New("switch: another switch is in progress")
)

const activeProjectKey = "activeProject"

// Result describes a completed switch.
type Result struct {
	FromID   string
	ToID     string
	Strategy StrategyKind
	Restored int
	Skipped  int
}

// Switcher is the top-level orchestrator. It owns the active-project
// pointer; every other component only reads it.
type Switcher struct {
	hc     *host.Context
	reg    *registry.Registry
	filter *filter.Filter
	store  *session.Store
	cache  *tabcache.Cache
	policy Policy

	// switching is the single-flight guard. While set, overlapping
	// switches are rejected and autosaves are suppressed so a focus event
	// mid-switch cannot capture the new project's tabs under the old
	// project's id.
	switching atomic.Bool

	mu       sync.Mutex
	activeID string
	enabled  bool
}

// New wires the orchestrator. policy may be nil for the default.
func New(hc *host.Context, reg *registry.Registry, f *filter.Filter, store *session.Store, cache *tabcache.Cache, policy Policy) *Switcher {
	if policy == nil {
		policy = DefaultPolicy(DefaultMaxCachedTabs)
	}
	return &Switcher{hc: hc, reg: reg, filter: f, store: store, cache: cache, policy: policy}
}

// Enable arms the switcher: the filter captures the original excludes and
// the registry starts enforcing the minimum-enabled floor. The persisted
// active project, if any, is adopted.
func (s *Switcher) Enable() error {
	if err := s.filter.Arm(); err != nil {
		return err
	}
	s.reg.SetGuardMinimum(true)
	var active string
	if ok, err := s.hc.Storage.Get(host.ScopeWorkspace, activeProjectKey, &active); err == nil && ok {
		// The persisted id may point at a project deleted since.
		if _, known := s.reg.Get(active); known {
			s.mu.Lock()
			s.activeID = active
			s.mu.Unlock()
		}
	}
	s.mu.Lock()
	s.enabled = true
	s.mu.Unlock()
	return nil
}

// Disable tears the switcher down: the filter restores the user's original
// excludes exactly and the minimum-enabled guard is lifted.
func (s *Switcher) Disable() error {
	s.reg.SetGuardMinimum(false)
	s.mu.Lock()
	s.enabled = false
	s.mu.Unlock()
	return s.filter.Teardown()
}

// ActiveProjectID returns the current active project id, if any.
func (s *Switcher) ActiveProjectID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// SwitchTo makes the target project the active one. Early rejects leave
// every resource untouched. Later failures are surfaced without undoing
// steps already applied: a half-visible switch is honest, a silent rollback
// of the filter would need the same guarantees the forward path could not
// provide.
func (s *Switcher) SwitchTo(ctx context.Context, projectID string) (Result, error) {
	if !s.switching.CompareAndSwap(false, true) {
		return Result{}, ErrSwitchInProgress
	}
	defer s.switching.Store(false)

	target, ok := s.reg.Get(projectID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownProject, projectID)
	}
	if !target.Enabled {
		return Result{}, fmt.Errorf("%w: %s", ErrProjectDisabled, target.Name)
	}
	if !s.hc.FS.DirExists(target.Path) {
		return Result{}, fmt.Errorf("%w: %s", ErrPathGone, target.Path)
	}

	s.mu.Lock()
	oldID := s.activeID
	s.mu.Unlock()
	res := Result{FromID: oldID, ToID: target.ID}

	old, hasOld := s.reg.Get(oldID)
	if hasOld && old.ID == target.ID {
		// Switching to the already-active project only refocuses it.
		if err := s.hc.Editor.RevealDir(target.Path); err != nil {
			slog.Warn("switch: reveal failed", "path", target.Path, "error", err)
		}
		return res, nil
	}

	currentTabs := 0
	if hasOld {
		currentTabs = s.liveTabCount(old.Path)
	}
	strategy, kind := s.strategyFor(currentTabs, target.ID)
	res.Strategy = kind

	// Save the outgoing session before anything mutates the strip; a tab
	// layout lost here is unrecoverable. Persistence failure degrades to
	// session loss, never to an aborted switch. An empty strip saves
	// nothing: a fresh process has no live tabs for the old project, and
	// overwriting its stored snapshot with zero tabs would destroy it.
	if hasOld && old.SessionEnabled && currentTabs > 0 {
		if err := s.store.Save(session.Capture(s.hc.Editor, old.ID, old.Path)); err != nil {
			slog.Error("switch: save outgoing session failed", "project", old.Name, "error", err)
		}
	}

	// Filter follows the switcher, not the per-project session flag.
	if err := s.filter.Enable(target.Path); err != nil {
		slog.Error("switch: filter update failed", "project", target.Name, "error", err)
		return res, err
	}

	if hasOld {
		if err := strategy.HideOld(ctx, old); err != nil {
			slog.Error("switch: hide failed", "project", old.Name, "error", err)
			return res, err
		}
	}

	if target.SessionEnabled {
		shown, err := strategy.ShowNew(ctx, target)
		if err != nil {
			slog.Error("switch: show failed", "project", target.Name, "error", err)
			return res, err
		}
		res.Restored = shown.Restored
		res.Skipped = shown.Skipped
	}

	// The active project's cache entry is empty by definition. A naive
	// show, or one skipped because sessions are off, leaves the parked
	// entry unconsumed; dropping it here keeps a later optimized show
	// from replaying stale records.
	s.cache.Drop(target.ID)

	if err := s.hc.Editor.RevealDir(target.Path); err != nil {
		slog.Error("switch: reveal failed", "path", target.Path, "error", err)
		return res, err
	}

	// Commit.
	s.mu.Lock()
	s.activeID = target.ID
	s.mu.Unlock()
	s.reg.Touch(target.ID, time.Now().UTC())
	if err := s.reg.Persist(); err != nil {
		slog.Warn("switch: registry persist failed", "error", err)
	}
	if err := s.hc.Storage.Set(host.ScopeWorkspace, activeProjectKey, target.ID); err != nil {
		slog.Warn("switch: active project persist failed", "error", err)
	}
	slog.Info("switched project",
		"from", old.Name, "to", target.Name,
		"strategy", kind.String(), "restored", res.Restored, "skipped", res.Skipped)
	return res, nil
}

// SaveCurrentSession captures and persists the active project's tabs. It
// is a no-op while a switch is in flight, and for projects with session
// persistence off it never touches the stored snapshot.
func (s *Switcher) SaveCurrentSession() (int, error) {
	if s.switching.Load() {
		slog.Debug("autosave suppressed during switch")
		return 0, nil
	}
	s.mu.Lock()
	activeID := s.activeID
	s.mu.Unlock()
	if activeID == "" {
		return 0, nil
	}
	project, ok := s.reg.Get(activeID)
	if !ok || !project.SessionEnabled {
		return 0, nil
	}
	snap := session.Capture(s.hc.Editor, project.ID, project.Path)
	if err := s.store.Save(snap); err != nil {
		return 0, err
	}
	return len(snap.Tabs), nil
}

// ProjectTabCount reports the known tab count for a project: live tabs for
// the active one, parked records for a hidden one, else the stored
// snapshot size.
func (s *Switcher) ProjectTabCount(projectID string) int {
	s.mu.Lock()
	activeID := s.activeID
	s.mu.Unlock()
	if projectID == activeID {
		if project, ok := s.reg.Get(projectID); ok {
			return s.liveTabCount(project.Path)
		}
		return 0
	}
	if s.cache.Has(projectID) {
		return s.cache.CachedCount(projectID)
	}
	return s.store.TabCount(projectID)
}

// ClearSession drops a project's persisted snapshot and any parked tabs.
func (s *Switcher) ClearSession(projectID string) error {
	s.cache.Drop(projectID)
	return s.store.Clear(projectID)
}

func (s *Switcher) liveTabCount(projectPath string) int {
	count := 0
	for _, tab := range s.hc.Editor.Tabs() {
		if pathutil.IsDescendant(projectPath, tab.Path) {
			count++
		}
	}
	return count
}

func (s *Switcher) strategyFor(currentTabs int, targetID string) (Strategy, StrategyKind) {
	targetTabs := s.cache.CachedCount(targetID)
	if targetTabs == 0 {
		targetTabs = s.store.TabCount(targetID)
	}
	naive := &naiveStrategy{ed: s.hc.Editor, fs: s.hc.FS, store: s.store}
	if s.policy(currentTabs, targetTabs) == StrategyNaive {
		return naive, StrategyNaive
	}
	return &optimizedStrategy{cache: s.cache, fallback: naive}, StrategyOptimized
}
