package filter

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/projectorhq/projector/internal/host"
)

type fakeFS struct {
	entries map[string][]host.DirEntry
	fail    bool
}

func (f *fakeFS) ListDir(path string) ([]host.DirEntry, error) {
	if f.fail {
		return nil, errors.New("permission denied")
	}
	return f.entries[path], nil
}

func (f *fakeFS) FileExists(string) bool { return true }
func (f *fakeFS) DirExists(string) bool  { return true }

type fakeExcludes struct {
	current map[string]bool
	fail    bool
	writes  int
}

func (e *fakeExcludes) Excludes() (map[string]bool, error) {
	out := make(map[string]bool, len(e.current))
	for k, v := range e.current {
		out[k] = v
	}
	return out, nil
}

func (e *fakeExcludes) SetExcludes(m map[string]bool) error {
	if e.fail {
		return errors.New("config write refused")
	}
	e.writes++
	e.current = m
	return nil
}

type memStorage struct{ data map[string][]byte }

func newMemStorage() *memStorage { return &memStorage{data: make(map[string][]byte)} }

func (m *memStorage) Get(scope host.Scope, key string, v any) (bool, error) {
	raw, ok := m.data[scope.String()+"/"+key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

func (m *memStorage) Set(scope host.Scope, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.data[scope.String()+"/"+key] = raw
	return nil
}

func (m *memStorage) Delete(scope host.Scope, key string) error {
	delete(m.data, scope.String()+"/"+key)
	return nil
}

func newTestFilter(t *testing.T) (*Filter, *fakeFS, *fakeExcludes) {
	t.Helper()
	fs := &fakeFS{entries: map[string][]host.DirEntry{
		"/ws": {
			{Name: "alpha", IsDir: true},
			{Name: "beta", IsDir: true},
			{Name: "gamma", IsDir: true},
			{Name: ".git", IsDir: true},
			{Name: "node_modules", IsDir: true},
			{Name: "README.md", IsDir: false},
		},
	}}
	ex := &fakeExcludes{current: map[string]bool{"**/.DS_Store": true, "dist": false}}
	hc := &host.Context{FS: fs, Excludes: ex, Storage: newMemStorage()}
	return New(hc, "/ws", nil), fs, ex
}

func TestEnableHidesSiblings(t *testing.T) {
	f, _, ex := newTestFilter(t)
	if err := f.Arm(); err != nil {
		t.Fatalf("Arm() error: %v", err)
	}
	if err := f.Enable("/ws/beta"); err != nil {
		t.Fatalf("Enable() error: %v", err)
	}
	want := map[string]bool{
		"**/.DS_Store": true,
		"dist":         false,
		"alpha":        true,
		"gamma":        true,
	}
	if !reflect.DeepEqual(ex.current, want) {
		t.Fatalf("excludes = %#v, want %#v", ex.current, want)
	}
	st := f.State()
	if !st.Filtering || st.ActivePath != "/ws/beta" {
		t.Fatalf("state = %#v", st)
	}
}

func TestEnableRecomputesFromScratch(t *testing.T) {
	f, _, ex := newTestFilter(t)
	if err := f.Arm(); err != nil {
		t.Fatalf("Arm() error: %v", err)
	}
	if err := f.Enable("/ws/alpha"); err != nil {
		t.Fatalf("Enable(alpha) error: %v", err)
	}
	if err := f.Enable("/ws/beta"); err != nil {
		t.Fatalf("Enable(beta) error: %v", err)
	}
	if hidden := ex.current["beta"]; hidden {
		t.Fatal("beta stayed hidden after becoming the active project")
	}
	if !ex.current["alpha"] {
		t.Fatal("alpha not hidden after target change")
	}
}

func TestDisableRestoresOriginalExactly(t *testing.T) {
	f, _, ex := newTestFilter(t)
	original, _ := ex.Excludes()
	if err := f.Arm(); err != nil {
		t.Fatalf("Arm() error: %v", err)
	}
	for _, path := range []string{"/ws/alpha", "/ws/beta", "/ws/gamma"} {
		if err := f.Enable(path); err != nil {
			t.Fatalf("Enable(%s) error: %v", path, err)
		}
	}
	if err := f.Disable(); err != nil {
		t.Fatalf("Disable() error: %v", err)
	}
	if !reflect.DeepEqual(ex.current, original) {
		t.Fatalf("excludes after disable = %#v, want original %#v", ex.current, original)
	}
}

func TestEnableBeforeArm(t *testing.T) {
	f, _, _ := newTestFilter(t)
	if err := f.Enable("/ws/alpha"); !errors.Is(err, ErrNotArmed) {
		t.Fatalf("Enable() error = %v, want ErrNotArmed", err)
	}
}

func TestListFailureLeavesLastKnownGood(t *testing.T) {
	f, fs, ex := newTestFilter(t)
	if err := f.Arm(); err != nil {
		t.Fatalf("Arm() error: %v", err)
	}
	if err := f.Enable("/ws/alpha"); err != nil {
		t.Fatalf("Enable() error: %v", err)
	}
	applied, _ := ex.Excludes()
	fs.fail = true
	if err := f.Enable("/ws/beta"); !errors.Is(err, ErrDirectoryRead) {
		t.Fatalf("Enable() error = %v, want ErrDirectoryRead", err)
	}
	now, _ := ex.Excludes()
	if !reflect.DeepEqual(now, applied) {
		t.Fatal("failed enable mutated the exclude map")
	}
	if st := f.State(); st.ActivePath != "/ws/alpha" {
		t.Fatalf("active path = %q, want last-known-good /ws/alpha", st.ActivePath)
	}
}

func TestConfigWriteFailureNotCommitted(t *testing.T) {
	f, _, ex := newTestFilter(t)
	if err := f.Arm(); err != nil {
		t.Fatalf("Arm() error: %v", err)
	}
	ex.fail = true
	if err := f.Enable("/ws/alpha"); err == nil {
		t.Fatal("expected config write failure")
	}
	if st := f.State(); st.Filtering {
		t.Fatal("failed enable left filter in filtering mode")
	}
}

func TestTeardownDisarms(t *testing.T) {
	f, _, ex := newTestFilter(t)
	original, _ := ex.Excludes()
	if err := f.Arm(); err != nil {
		t.Fatalf("Arm() error: %v", err)
	}
	if err := f.Enable("/ws/gamma"); err != nil {
		t.Fatalf("Enable() error: %v", err)
	}
	if err := f.Teardown(); err != nil {
		t.Fatalf("Teardown() error: %v", err)
	}
	if !reflect.DeepEqual(ex.current, original) {
		t.Fatalf("excludes after teardown = %#v, want %#v", ex.current, original)
	}
	if st := f.State(); st.Armed || st.Filtering {
		t.Fatalf("state after teardown = %#v", st)
	}
}

func TestLoadAdoptsPersistedOriginal(t *testing.T) {
	fs := &fakeFS{entries: map[string][]host.DirEntry{
		"/ws": {{Name: "alpha", IsDir: true}, {Name: "beta", IsDir: true}},
	}}
	ex := &fakeExcludes{current: map[string]bool{"keepme": true}}
	storage := newMemStorage()
	hc := &host.Context{FS: fs, Excludes: ex, Storage: storage}

	first := New(hc, "/ws", nil)
	if err := first.Arm(); err != nil {
		t.Fatalf("Arm() error: %v", err)
	}
	if err := first.Enable("/ws/alpha"); err != nil {
		t.Fatalf("Enable() error: %v", err)
	}

	// New process: excludes carry the hide-set, but the persisted original
	// must win on restore.
	second := New(hc, "/ws", nil)
	if err := second.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	st := second.State()
	if !st.Armed || !st.Filtering || st.ActivePath != "/ws/alpha" {
		t.Fatalf("loaded state = %#v", st)
	}
	if err := second.Disable(); err != nil {
		t.Fatalf("Disable() error: %v", err)
	}
	if !reflect.DeepEqual(ex.current, map[string]bool{"keepme": true}) {
		t.Fatalf("excludes = %#v, want pre-filter original", ex.current)
	}
}

func TestExtraDenylist(t *testing.T) {
	fs := &fakeFS{entries: map[string][]host.DirEntry{
		"/ws": {{Name: "alpha", IsDir: true}, {Name: "scratch", IsDir: true}},
	}}
	ex := &fakeExcludes{current: map[string]bool{}}
	hc := &host.Context{FS: fs, Excludes: ex, Storage: newMemStorage()}
	f := New(hc, "/ws", []string{"scratch"})
	if err := f.Arm(); err != nil {
		t.Fatalf("Arm() error: %v", err)
	}
	if err := f.Enable("/ws/alpha"); err != nil {
		t.Fatalf("Enable() error: %v", err)
	}
	if _, ok := ex.current["scratch"]; ok {
		t.Fatal("denylisted directory entered the hide-set")
	}
}
