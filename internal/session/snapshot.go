// Package session persists and restores per-project open-file layouts.
package session

import (
	"time"

	"github.com/projectorhq/projector/internal/host"
)

// CurrentSchemaVersion identifies the persisted schema version.
const CurrentSchemaVersion = 1

// TabRecord captures one open tab.
type TabRecord struct {
	Path       string         `json:"path"`
	Active     bool           `json:"active,omitempty"`
	Pinned     bool           `json:"pinned,omitempty"`
	Dirty      bool           `json:"dirty,omitempty"`
	ViewColumn int            `json:"viewColumn,omitempty"`
	Selection  host.Selection `json:"selection"`
}

// Snapshot is the persisted open-file layout for one project. Exactly one
// snapshot exists per project id; each save overwrites it wholesale.
type Snapshot struct {
	SchemaVersion int         `json:"schemaVersion"`
	ProjectID     string      `json:"projectId"`
	Tabs          []TabRecord `json:"tabs"`
	ActivePath    string      `json:"activePath,omitempty"`
	ExplorerHint  string      `json:"explorerHint,omitempty"`
	SavedAt       time.Time   `json:"savedAt"`
}

func recordFromTab(tab host.Tab) TabRecord {
	return TabRecord{
		Path:       tab.Path,
		Active:     tab.Active,
		Pinned:     tab.Pinned,
		Dirty:      tab.Dirty,
		ViewColumn: tab.ViewColumn,
		Selection:  tab.Selection,
	}
}
