package session

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/projectorhq/projector/internal/host"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

const storageKey = "sessions"

//go:embed sessions.schema.json
var schemaFS embed.FS

var (
	compileSchemaOnce sync.Once
	sessionsSchema    *jsonschema.Schema
	schemaErr         error
)

// Store keeps the whole per-project session map in memory and persists it
// to global storage. Every save rewrites the full map, not a per-key patch,
// so cost scales with total stored sessions; the autosave debounce bounds
// the write rate.
type Store struct {
	storage host.Storage

	mu       sync.RWMutex
	sessions map[string]Snapshot
}

// NewStore builds an empty store backed by storage.
func NewStore(storage host.Storage) *Store {
	return &Store{storage: storage, sessions: make(map[string]Snapshot)}
}

// Load restores the whole persisted mapping. A payload that fails schema
// validation is dropped with a warning rather than failing startup; losing
// stale sessions beats refusing to start.
func (s *Store) Load() error {
	if s == nil {
		return nil
	}
	var raw any
	ok, err := s.storage.Get(host.ScopeGlobal, storageKey, &raw)
	if err != nil {
		return fmt.Errorf("session: load: %w", err)
	}
	if !ok {
		return nil
	}
	if err := validateSessions(raw); err != nil {
		slog.Warn("session: dropping persisted sessions failing validation", "error", err)
		s.mu.Lock()
		s.sessions = make(map[string]Snapshot)
		s.mu.Unlock()
		return nil
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("session: reencode sessions: %w", err)
	}
	loaded := make(map[string]Snapshot)
	if err := json.Unmarshal(payload, &loaded); err != nil {
		return fmt.Errorf("session: decode sessions: %w", err)
	}
	s.mu.Lock()
	s.sessions = loaded
	s.mu.Unlock()
	return nil
}

// Save upserts the snapshot under its project id and rewrites the whole
// persisted mapping.
func (s *Store) Save(snap Snapshot) error {
	if s == nil {
		return nil
	}
	id := strings.TrimSpace(snap.ProjectID)
	if id == "" {
		return errors.New("session: project id is required")
	}
	snap.SchemaVersion = CurrentSchemaVersion
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.sessions[id] = snap
	err := s.persistLocked()
	s.mu.Unlock()
	return err
}

// Get returns the snapshot for a project id.
func (s *Store) Get(projectID string) (Snapshot, bool) {
	if s == nil {
		return Snapshot{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.sessions[strings.TrimSpace(projectID)]
	return snap, ok
}

// TabCount returns the stored tab count for a project id.
func (s *Store) TabCount(projectID string) int {
	snap, ok := s.Get(projectID)
	if !ok {
		return 0
	}
	return len(snap.Tabs)
}

// Clear removes one project's snapshot.
func (s *Store) Clear(projectID string) error {
	if s == nil {
		return nil
	}
	projectID = strings.TrimSpace(projectID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[projectID]; !ok {
		return nil
	}
	delete(s.sessions, projectID)
	return s.persistLocked()
}

// ClearAll removes every snapshot.
func (s *Store) ClearAll() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]Snapshot)
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	if err := s.storage.Set(host.ScopeGlobal, storageKey, s.sessions); err != nil {
		return fmt.Errorf("session: persist: %w", err)
	}
	return nil
}

func validateSessions(doc any) error {
	compileSchemaOnce.Do(func() {
		data, err := schemaFS.ReadFile("sessions.schema.json")
		if err != nil {
			schemaErr = fmt.Errorf("read embedded schema: %w", err)
			return
		}
		parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
		if err != nil {
			schemaErr = fmt.Errorf("parse embedded schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("sessions.schema.json", parsed); err != nil {
			schemaErr = fmt.Errorf("load embedded schema: %w", err)
			return
		}
		sessionsSchema, schemaErr = compiler.Compile("sessions.schema.json")
	})
	if schemaErr != nil {
		return schemaErr
	}
	return sessionsSchema.Validate(doc)
}
