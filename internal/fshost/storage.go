package fshost

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/projectorhq/projector/internal/atomicfile"
	"github.com/projectorhq/projector/internal/host"
)

// kvFile is one JSON object on disk acting as a key-value scope. Every
// mutation rewrites the whole file atomically.
type kvFile struct {
	path string
	mu   sync.Mutex
}

func newKVFile(path string) *kvFile {
	return &kvFile{path: path}
}

func (f *kvFile) load() (map[string]json.RawMessage, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("fshost: read %s: %w", f.path, err)
	}
	m := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("fshost: parse %s: %w", f.path, err)
	}
	return m, nil
}

func (f *kvFile) save(m map[string]json.RawMessage) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("fshost: ensure dir for %s: %w", f.path, err)
	}
	if err := atomicfile.SaveJSON(f.path, m, 0o600); err != nil {
		return fmt.Errorf("fshost: write %s: %w", f.path, err)
	}
	return nil
}

func (f *kvFile) get(key string, v any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.load()
	if err != nil {
		return false, err
	}
	raw, ok := m[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("fshost: decode %s[%s]: %w", f.path, key, err)
	}
	return true, nil
}

func (f *kvFile) set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("fshost: encode %s[%s]: %w", f.path, key, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.load()
	if err != nil {
		return err
	}
	m[key] = raw
	return f.save(m)
}

func (f *kvFile) delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	return f.save(m)
}

// --- host.Storage ---

func (h *Host) scopeFile(scope host.Scope) *kvFile {
	if scope == host.ScopeWorkspace {
		return h.workspace
	}
	return h.global
}

func (h *Host) Get(scope host.Scope, key string, v any) (bool, error) {
	return h.scopeFile(scope).get(key, v)
}

func (h *Host) Set(scope host.Scope, key string, v any) error {
	return h.scopeFile(scope).set(key, v)
}

func (h *Host) Delete(scope host.Scope, key string) error {
	return h.scopeFile(scope).delete(key)
}

// --- host.ExcludeConfig ---

// excludesFile persists the workspace's directory-exclusion map as one
// JSON object, always replaced whole.
type excludesFile struct {
	path string
	mu   sync.Mutex
}

func newExcludesFile(path string) *excludesFile {
	return &excludesFile{path: path}
}

func (h *Host) Excludes() (map[string]bool, error) {
	return h.excludes.get()
}

func (h *Host) SetExcludes(m map[string]bool) error {
	return h.excludes.set(m)
}

func (f *excludesFile) get() (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]bool{}, nil
		}
		return nil, fmt.Errorf("fshost: read excludes: %w", err)
	}
	m := map[string]bool{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("fshost: parse excludes: %w", err)
	}
	return m, nil
}

func (f *excludesFile) set(m map[string]bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m == nil {
		m = map[string]bool{}
	}
	if err := atomicfile.SaveJSON(f.path, m, 0o600); err != nil {
		return fmt.Errorf("fshost: write excludes: %w", err)
	}
	return nil
}
