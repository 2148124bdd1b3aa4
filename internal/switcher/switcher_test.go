package switcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/projectorhq/projector/internal/filter"
	"github.com/projectorhq/projector/internal/host"
	"github.com/projectorhq/projector/internal/host/hosttest"
	"github.com/projectorhq/projector/internal/registry"
	"github.com/projectorhq/projector/internal/session"
	"github.com/projectorhq/projector/internal/tabcache"
)

type fixture struct {
	h     *hosttest.Host
	reg   *registry.Registry
	f     *filter.Filter
	store *session.Store
	cache *tabcache.Cache
	sw    *Switcher

	alpha registry.Project
	beta  registry.Project
	gamma registry.Project
}

func newFixture(t *testing.T, policy Policy) *fixture {
	t.Helper()
	h := hosttest.New()
	h.Dirs["/ws"] = []host.DirEntry{
		{Name: "alpha", IsDir: true},
		{Name: "beta", IsDir: true},
		{Name: "gamma", IsDir: true},
		{Name: "node_modules", IsDir: true},
		{Name: "README.md", IsDir: false},
	}
	h.Dirs["/ws/alpha"] = []host.DirEntry{}
	h.Dirs["/ws/beta"] = []host.DirEntry{}
	h.Dirs["/ws/gamma"] = []host.DirEntry{}

	fx := &fixture{
		h:     h,
		reg:   registry.New(h),
		f:     filter.New(h.Context(), "/ws", nil),
		store: session.NewStore(h),
		cache: tabcache.New(h, h, nil),
	}
	var err error
	if fx.alpha, err = fx.reg.Add("/ws/alpha", ""); err != nil {
		t.Fatalf("Add(alpha) error: %v", err)
	}
	if fx.beta, err = fx.reg.Add("/ws/beta", ""); err != nil {
		t.Fatalf("Add(beta) error: %v", err)
	}
	if fx.gamma, err = fx.reg.Add("/ws/gamma", ""); err != nil {
		t.Fatalf("Add(gamma) error: %v", err)
	}
	fx.sw = New(h.Context(), fx.reg, fx.f, fx.store, fx.cache, policy)
	if err := fx.sw.Enable(); err != nil {
		t.Fatalf("Enable() error: %v", err)
	}
	return fx
}

func (fx *fixture) openTabs(t *testing.T, paths ...string) {
	t.Helper()
	ctx := context.Background()
	for i, path := range paths {
		fx.h.AddFile(path, 10, 10)
		if err := fx.h.Open(ctx, path, host.OpenOptions{Focus: i == 0}); err != nil {
			t.Fatalf("Open(%s) error: %v", path, err)
		}
	}
}

func (fx *fixture) excludes(t *testing.T) map[string]bool {
	t.Helper()
	m, err := fx.h.Excludes()
	if err != nil {
		t.Fatalf("Excludes() error: %v", err)
	}
	return m
}

func TestSwitchScenario(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	if _, err := fx.sw.SwitchTo(ctx, fx.alpha.ID); err != nil {
		t.Fatalf("SwitchTo(alpha) error: %v", err)
	}
	fx.openTabs(t, "/ws/alpha/a1.go", "/ws/alpha/a2.go", "/ws/alpha/a3.go")
	fx.openTabs(t, "/tmp/notes.txt")

	fx.h.AddFile("/ws/beta/b1.go", 10)
	fx.h.AddFile("/ws/beta/b2.go", 10)
	if err := fx.store.Save(session.Snapshot{
		SchemaVersion: session.CurrentSchemaVersion,
		ProjectID:     fx.beta.ID,
		Tabs: []session.TabRecord{
			{Path: "/ws/beta/b1.go", Active: true},
			{Path: "/ws/beta/b2.go"},
		},
		ActivePath: "/ws/beta/b1.go",
	}); err != nil {
		t.Fatalf("seed beta session: %v", err)
	}

	res, err := fx.sw.SwitchTo(ctx, fx.beta.ID)
	if err != nil {
		t.Fatalf("SwitchTo(beta) error: %v", err)
	}
	if res.FromID != fx.alpha.ID || res.ToID != fx.beta.ID {
		t.Fatalf("result ids = %s -> %s", res.FromID, res.ToID)
	}
	if res.Restored != 2 {
		t.Fatalf("restored = %d, want 2", res.Restored)
	}

	// The outgoing save scoped to alpha: three tabs, not the unrelated one.
	snap, ok := fx.store.Get(fx.alpha.ID)
	if !ok || len(snap.Tabs) != 3 {
		t.Fatalf("alpha snapshot = %+v %v, want 3 tabs", snap, ok)
	}
	for _, tab := range snap.Tabs {
		if tab.Path == "/tmp/notes.txt" {
			t.Fatal("unrelated tab leaked into alpha's snapshot")
		}
	}

	excludes := fx.excludes(t)
	if !excludes["alpha"] || !excludes["gamma"] {
		t.Fatalf("excludes = %v, want sibling projects hidden", excludes)
	}
	if excludes["beta"] {
		t.Fatal("active project beta is hidden")
	}
	if excludes["node_modules"] {
		t.Fatal("denylisted directory was added to excludes")
	}

	var active string
	for _, tab := range fx.h.Tabs() {
		if tab.Path == "/ws/alpha/a1.go" || tab.Path == "/ws/alpha/a2.go" {
			t.Fatalf("alpha tab %s still visible after switch", tab.Path)
		}
		if tab.Active {
			active = tab.Path
		}
	}
	if active != "/ws/beta/b1.go" {
		t.Fatalf("active tab = %q, want beta's previously active file", active)
	}
	if fx.sw.ActiveProjectID() != fx.beta.ID {
		t.Fatalf("active project = %s, want beta", fx.sw.ActiveProjectID())
	}
}

func TestSwitchBackReusesCache(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	if _, err := fx.sw.SwitchTo(ctx, fx.alpha.ID); err != nil {
		t.Fatalf("SwitchTo(alpha) error: %v", err)
	}
	fx.openTabs(t, "/ws/alpha/a1.go", "/ws/alpha/a2.go")
	if _, err := fx.sw.SwitchTo(ctx, fx.beta.ID); err != nil {
		t.Fatalf("SwitchTo(beta) error: %v", err)
	}
	if fx.cache.CachedCount(fx.alpha.ID) != 2 {
		t.Fatalf("cached = %d, want alpha's 2 tabs parked", fx.cache.CachedCount(fx.alpha.ID))
	}

	res, err := fx.sw.SwitchTo(ctx, fx.alpha.ID)
	if err != nil {
		t.Fatalf("SwitchTo(alpha) error: %v", err)
	}
	if res.Strategy != StrategyOptimized || res.Restored != 2 {
		t.Fatalf("result = %+v, want optimized with 2 restored", res)
	}
	if fx.h.TokenOpens != 2 {
		t.Fatalf("token opens = %d, want parked documents reused", fx.h.TokenOpens)
	}
	if fx.cache.Has(fx.alpha.ID) {
		t.Fatal("active project kept a cache entry")
	}
}

func TestNaivePolicySkipsCache(t *testing.T) {
	fx := newFixture(t, FixedPolicy(StrategyNaive))
	ctx := context.Background()

	if _, err := fx.sw.SwitchTo(ctx, fx.alpha.ID); err != nil {
		t.Fatalf("SwitchTo(alpha) error: %v", err)
	}
	fx.openTabs(t, "/ws/alpha/a1.go")
	res, err := fx.sw.SwitchTo(ctx, fx.beta.ID)
	if err != nil {
		t.Fatalf("SwitchTo(beta) error: %v", err)
	}
	if res.Strategy != StrategyNaive {
		t.Fatalf("strategy = %s, want naive", res.Strategy)
	}
	if fx.cache.Has(fx.alpha.ID) {
		t.Fatal("naive hide parked tabs in the cache")
	}
	if fx.store.TabCount(fx.alpha.ID) != 1 {
		t.Fatal("naive hide lost the outgoing session")
	}
}

func TestSwitchToActiveProjectOnlyRefocuses(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	if _, err := fx.sw.SwitchTo(ctx, fx.alpha.ID); err != nil {
		t.Fatalf("SwitchTo(alpha) error: %v", err)
	}
	fx.openTabs(t, "/ws/alpha/a1.go")

	res, err := fx.sw.SwitchTo(ctx, fx.alpha.ID)
	if err != nil {
		t.Fatalf("SwitchTo(alpha again) error: %v", err)
	}
	if res.FromID != fx.alpha.ID || res.ToID != fx.alpha.ID {
		t.Fatalf("result = %+v", res)
	}
	if len(fx.h.Tabs()) != 1 {
		t.Fatalf("strip changed on a same-project switch: %+v", fx.h.Tabs())
	}
}

func TestEarlyRejectsLeaveStateUntouched(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	if _, err := fx.sw.SwitchTo(ctx, fx.alpha.ID); err != nil {
		t.Fatalf("SwitchTo(alpha) error: %v", err)
	}
	fx.openTabs(t, "/ws/alpha/a1.go")
	before := fx.excludes(t)

	if err := fx.reg.SetEnabled(fx.gamma.ID, false); err != nil {
		t.Fatalf("SetEnabled(gamma, false) error: %v", err)
	}
	ghost, err := fx.reg.Add("/ws/ghost", "")
	if err != nil {
		t.Fatalf("Add(ghost) error: %v", err)
	}

	cases := []struct {
		name string
		id   string
		want error
	}{
		{"unknown", "no-such-id", ErrUnknownProject},
		{"disabled", fx.gamma.ID, ErrProjectDisabled},
		{"path gone", ghost.ID, ErrPathGone},
	}
	for _, tc := range cases {
		if _, err := fx.sw.SwitchTo(ctx, tc.id); !errors.Is(err, tc.want) {
			t.Fatalf("%s: SwitchTo() error = %v, want %v", tc.name, err, tc.want)
		}
	}

	if fx.sw.ActiveProjectID() != fx.alpha.ID {
		t.Fatal("active project changed on a rejected switch")
	}
	if len(fx.h.Tabs()) != 1 {
		t.Fatal("tab strip changed on a rejected switch")
	}
	after := fx.excludes(t)
	if len(after) != len(before) {
		t.Fatalf("excludes changed on a rejected switch: %v -> %v", before, after)
	}
	for k, v := range before {
		if after[k] != v {
			t.Fatalf("excludes changed on a rejected switch: %v -> %v", before, after)
		}
	}
}

func TestOverlappingSwitchRejected(t *testing.T) {
	fx := newFixture(t, nil)
	fx.sw.switching.Store(true)
	if _, err := fx.sw.SwitchTo(context.Background(), fx.alpha.ID); !errors.Is(err, ErrSwitchInProgress) {
		t.Fatalf("SwitchTo() error = %v, want ErrSwitchInProgress", err)
	}
}

func TestAutosaveSuppressedDuringSwitch(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	if _, err := fx.sw.SwitchTo(ctx, fx.alpha.ID); err != nil {
		t.Fatalf("SwitchTo(alpha) error: %v", err)
	}
	fx.openTabs(t, "/ws/alpha/a1.go")

	fx.sw.switching.Store(true)
	n, err := fx.sw.SaveCurrentSession()
	fx.sw.switching.Store(false)
	if err != nil || n != 0 {
		t.Fatalf("SaveCurrentSession() = %d, %v during switch, want suppressed no-op", n, err)
	}
	if _, ok := fx.store.Get(fx.alpha.ID); ok {
		t.Fatal("suppressed save still wrote a snapshot")
	}
}

func TestSaveSkipsSessionDisabledProject(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	if err := fx.reg.SetSessionEnabled(fx.alpha.ID, false); err != nil {
		t.Fatalf("SetSessionEnabled() error: %v", err)
	}
	if _, err := fx.sw.SwitchTo(ctx, fx.alpha.ID); err != nil {
		t.Fatalf("SwitchTo(alpha) error: %v", err)
	}
	fx.openTabs(t, "/ws/alpha/a1.go")

	if n, err := fx.sw.SaveCurrentSession(); err != nil || n != 0 {
		t.Fatalf("SaveCurrentSession() = %d, %v, want no-op", n, err)
	}
	if _, err := fx.sw.SwitchTo(ctx, fx.beta.ID); err != nil {
		t.Fatalf("SwitchTo(beta) error: %v", err)
	}
	if _, ok := fx.store.Get(fx.alpha.ID); ok {
		t.Fatal("switch persisted a session for a session-disabled project")
	}
}

func TestPersistenceFailureDegradesToSessionLoss(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	if _, err := fx.sw.SwitchTo(ctx, fx.alpha.ID); err != nil {
		t.Fatalf("SwitchTo(alpha) error: %v", err)
	}
	fx.openTabs(t, "/ws/alpha/a1.go")

	fx.h.SetStorageFail(true)
	defer fx.h.SetStorageFail(false)
	if _, err := fx.sw.SwitchTo(ctx, fx.beta.ID); err != nil {
		t.Fatalf("SwitchTo(beta) error = %v, want success despite storage failure", err)
	}
	if fx.sw.ActiveProjectID() != fx.beta.ID {
		t.Fatal("switch did not commit after a storage failure")
	}
	for _, tab := range fx.h.Tabs() {
		if tab.Path == "/ws/alpha/a1.go" {
			t.Fatal("alpha tab still visible after switch")
		}
	}
}

func TestSwitchWithEmptyStripKeepsStoredSession(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	if _, err := fx.sw.SwitchTo(ctx, fx.alpha.ID); err != nil {
		t.Fatalf("SwitchTo(alpha) error: %v", err)
	}
	// A previous process saved alpha's layout; this process opened nothing.
	if err := fx.store.Save(session.Snapshot{
		SchemaVersion: session.CurrentSchemaVersion,
		ProjectID:     fx.alpha.ID,
		Tabs: []session.TabRecord{
			{Path: "/ws/alpha/a1.go", Active: true},
			{Path: "/ws/alpha/a2.go"},
		},
	}); err != nil {
		t.Fatalf("seed alpha session: %v", err)
	}

	if _, err := fx.sw.SwitchTo(ctx, fx.beta.ID); err != nil {
		t.Fatalf("SwitchTo(beta) error: %v", err)
	}
	snap, ok := fx.store.Get(fx.alpha.ID)
	if !ok || len(snap.Tabs) != 2 {
		t.Fatalf("alpha snapshot = %+v %v, want the saved 2 tabs kept", snap, ok)
	}
}

func TestNaiveShowDropsParkedEntry(t *testing.T) {
	kind := StrategyOptimized
	fx := newFixture(t, func(int, int) StrategyKind { return kind })
	ctx := context.Background()
	if _, err := fx.sw.SwitchTo(ctx, fx.alpha.ID); err != nil {
		t.Fatalf("SwitchTo(alpha) error: %v", err)
	}
	fx.openTabs(t, "/ws/alpha/a1.go", "/ws/alpha/a2.go")
	if _, err := fx.sw.SwitchTo(ctx, fx.beta.ID); err != nil {
		t.Fatalf("SwitchTo(beta) error: %v", err)
	}
	if fx.cache.CachedCount(fx.alpha.ID) != 2 {
		t.Fatalf("cached = %d, want alpha parked", fx.cache.CachedCount(fx.alpha.ID))
	}

	kind = StrategyNaive
	res, err := fx.sw.SwitchTo(ctx, fx.alpha.ID)
	if err != nil {
		t.Fatalf("SwitchTo(alpha) error: %v", err)
	}
	if res.Strategy != StrategyNaive || res.Restored != 2 {
		t.Fatalf("result = %+v, want naive with 2 restored from the store", res)
	}
	if fx.cache.Has(fx.alpha.ID) {
		t.Fatal("active project kept a parked cache entry after a naive show")
	}
}

func TestEnableIgnoresDeletedActiveProject(t *testing.T) {
	h := hosttest.New()
	h.Dirs["/ws"] = []host.DirEntry{{Name: "alpha", IsDir: true}}
	h.Dirs["/ws/alpha"] = []host.DirEntry{}
	reg := registry.New(h)
	if _, err := reg.Add("/ws/alpha", ""); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := h.Set(host.ScopeWorkspace, activeProjectKey, "deleted-id"); err != nil {
		t.Fatalf("seed active project: %v", err)
	}

	sw := New(h.Context(), reg, filter.New(h.Context(), "/ws", nil),
		session.NewStore(h), tabcache.New(h, h, nil), nil)
	if err := sw.Enable(); err != nil {
		t.Fatalf("Enable() error: %v", err)
	}
	if got := sw.ActiveProjectID(); got != "" {
		t.Fatalf("active = %q, want empty for an unknown persisted id", got)
	}
}

func TestEnableAdoptsPersistedActiveProject(t *testing.T) {
	h := hosttest.New()
	h.Dirs["/ws"] = []host.DirEntry{{Name: "alpha", IsDir: true}}
	h.Dirs["/ws/alpha"] = []host.DirEntry{}
	reg := registry.New(h)
	alpha, err := reg.Add("/ws/alpha", "")
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := h.Set(host.ScopeWorkspace, activeProjectKey, alpha.ID); err != nil {
		t.Fatalf("seed active project: %v", err)
	}

	sw := New(h.Context(), reg, filter.New(h.Context(), "/ws", nil),
		session.NewStore(h), tabcache.New(h, h, nil), nil)
	if err := sw.Enable(); err != nil {
		t.Fatalf("Enable() error: %v", err)
	}
	if sw.ActiveProjectID() != alpha.ID {
		t.Fatalf("active = %q, want persisted %q", sw.ActiveProjectID(), alpha.ID)
	}
}

func TestDisableRestoresExcludes(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	if _, err := fx.sw.SwitchTo(ctx, fx.alpha.ID); err != nil {
		t.Fatalf("SwitchTo(alpha) error: %v", err)
	}
	if len(fx.excludes(t)) == 0 {
		t.Fatal("filter applied nothing, test would be vacuous")
	}
	if err := fx.sw.Disable(); err != nil {
		t.Fatalf("Disable() error: %v", err)
	}
	if got := fx.excludes(t); len(got) != 0 {
		t.Fatalf("excludes after disable = %v, want the original empty map", got)
	}
}

func TestProjectTabCountSources(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	if _, err := fx.sw.SwitchTo(ctx, fx.alpha.ID); err != nil {
		t.Fatalf("SwitchTo(alpha) error: %v", err)
	}
	fx.openTabs(t, "/ws/alpha/a1.go", "/ws/alpha/a2.go")

	if got := fx.sw.ProjectTabCount(fx.alpha.ID); got != 2 {
		t.Fatalf("active count = %d, want live 2", got)
	}
	if _, err := fx.sw.SwitchTo(ctx, fx.beta.ID); err != nil {
		t.Fatalf("SwitchTo(beta) error: %v", err)
	}
	if got := fx.sw.ProjectTabCount(fx.alpha.ID); got != 2 {
		t.Fatalf("hidden count = %d, want cached 2", got)
	}
	fx.cache.Drop(fx.alpha.ID)
	if got := fx.sw.ProjectTabCount(fx.alpha.ID); got != 2 {
		t.Fatalf("cold count = %d, want stored 2", got)
	}
}

func TestClearSession(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	if _, err := fx.sw.SwitchTo(ctx, fx.alpha.ID); err != nil {
		t.Fatalf("SwitchTo(alpha) error: %v", err)
	}
	fx.openTabs(t, "/ws/alpha/a1.go")
	if _, err := fx.sw.SwitchTo(ctx, fx.beta.ID); err != nil {
		t.Fatalf("SwitchTo(beta) error: %v", err)
	}

	if err := fx.sw.ClearSession(fx.alpha.ID); err != nil {
		t.Fatalf("ClearSession() error: %v", err)
	}
	if fx.cache.Has(fx.alpha.ID) {
		t.Fatal("clear left a cache entry")
	}
	if _, ok := fx.store.Get(fx.alpha.ID); ok {
		t.Fatal("clear left a stored snapshot")
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAutosaveOnFocusChange(t *testing.T) {
	fx := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := fx.sw.SwitchTo(ctx, fx.alpha.ID); err != nil {
		t.Fatalf("SwitchTo(alpha) error: %v", err)
	}
	fx.openTabs(t, "/ws/alpha/a1.go", "/ws/alpha/a2.go")

	go NewAutosave(fx.sw, fx.h, time.Hour).Run(ctx)

	// Refocus in the poll loop; the subscription races the first event.
	waitFor(t, func() bool {
		if err := fx.h.Focus("/ws/alpha/a2.go"); err != nil {
			t.Fatalf("Focus() error: %v", err)
		}
		return fx.store.TabCount(fx.alpha.ID) == 2
	}, "focus change did not trigger an immediate save")
}

func TestAutosaveDebouncesEdits(t *testing.T) {
	fx := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := fx.sw.SwitchTo(ctx, fx.alpha.ID); err != nil {
		t.Fatalf("SwitchTo(alpha) error: %v", err)
	}
	fx.openTabs(t, "/ws/alpha/a1.go")

	go NewAutosave(fx.sw, fx.h, 20*time.Millisecond).Run(ctx)

	// Emit a burst, then let the debounce window pass before checking; a
	// steady stream would keep resetting the timer forever.
	deadline := time.Now().Add(2 * time.Second)
	for fx.store.TabCount(fx.alpha.ID) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("edit burst never flushed a debounced save")
		}
		fx.h.EmitEdit("/ws/alpha/a1.go")
		fx.h.EmitEdit("/ws/alpha/a1.go")
		time.Sleep(50 * time.Millisecond)
	}
}
