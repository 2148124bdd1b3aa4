package switcher

import (
	"context"
	"log/slog"

	"github.com/projectorhq/projector/internal/host"
	"github.com/projectorhq/projector/internal/pathutil"
	"github.com/projectorhq/projector/internal/registry"
	"github.com/projectorhq/projector/internal/session"
	"github.com/projectorhq/projector/internal/tabcache"
)

// StrategyKind names the two switch strategies.
type StrategyKind int

const (
	// StrategyNaive fully closes the old project's tabs and reopens the
	// new project's from its persisted session.
	StrategyNaive StrategyKind = iota
	// StrategyOptimized parks the old project's tabs in the in-memory
	// cache and replays the new project's parked tabs, skipping the
	// close/reopen cycle where documents are still resident.
	StrategyOptimized
)

func (k StrategyKind) String() string {
	if k == StrategyOptimized {
		return "optimized"
	}
	return "naive"
}

// Policy picks a strategy from the current and target tab counts.
type Policy func(currentTabs, targetTabs int) StrategyKind

// DefaultMaxCachedTabs bounds the combined tab count the optimized path
// will keep in memory.
const DefaultMaxCachedTabs = 100

// DefaultPolicy prefers the optimized path until the combined tab count
// would make the cache more expensive than a clean reopen.
func DefaultPolicy(maxCachedTabs int) Policy {
	if maxCachedTabs <= 0 {
		maxCachedTabs = DefaultMaxCachedTabs
	}
	return func(currentTabs, targetTabs int) StrategyKind {
		if currentTabs+targetTabs > maxCachedTabs {
			return StrategyNaive
		}
		return StrategyOptimized
	}
}

// FixedPolicy always picks one strategy, for the config override.
func FixedPolicy(kind StrategyKind) Policy {
	return func(int, int) StrategyKind { return kind }
}

// Strategy hides the outgoing project's tabs and shows the incoming ones.
type Strategy interface {
	HideOld(ctx context.Context, old registry.Project) error
	ShowNew(ctx context.Context, target registry.Project) (session.Result, error)
}

type naiveStrategy struct {
	ed    host.Editor
	fs    host.FS
	store *session.Store
}

func (s *naiveStrategy) HideOld(ctx context.Context, old registry.Project) error {
	for _, tab := range s.ed.Tabs() {
		if !pathutil.IsDescendant(old.Path, tab.Path) {
			continue
		}
		if err := s.ed.Close(ctx, tab.Path); err != nil {
			slog.Warn("switch: close failed", "path", tab.Path, "error", err)
		}
	}
	return nil
}

func (s *naiveStrategy) ShowNew(ctx context.Context, target registry.Project) (session.Result, error) {
	snap, ok := s.store.Get(target.ID)
	if !ok {
		return session.Result{}, nil
	}
	res, _ := session.Restore(ctx, s.ed, s.fs, snap, target.Path)
	return res, nil
}

type optimizedStrategy struct {
	cache    *tabcache.Cache
	fallback *naiveStrategy
}

func (s *optimizedStrategy) HideOld(ctx context.Context, old registry.Project) error {
	_, err := s.cache.Hide(ctx, old.ID, old.Path)
	return err
}

func (s *optimizedStrategy) ShowNew(ctx context.Context, target registry.Project) (session.Result, error) {
	if res, ok := s.cache.Show(ctx, target.ID); ok {
		return res, nil
	}
	// No parked entry, e.g. first visit this process: session store path.
	return s.fallback.ShowNew(ctx, target)
}
