package session

import (
	"time"

	"github.com/projectorhq/projector/internal/host"
	"github.com/projectorhq/projector/internal/pathutil"
)

// Capture records the open tabs scoped to a project boundary. The boundary
// check runs on resolved paths so /ws/foobar never passes as a child of
// /ws/foo. Tabs outside the project are left untouched and unrecorded.
func Capture(ed host.Editor, projectID, projectPath string) Snapshot {
	snap := Snapshot{
		SchemaVersion: CurrentSchemaVersion,
		ProjectID:     projectID,
		SavedAt:       time.Now().UTC(),
	}
	for _, tab := range ed.Tabs() {
		if !pathutil.IsDescendant(projectPath, tab.Path) {
			continue
		}
		record := recordFromTab(tab)
		if record.Active {
			snap.ActivePath = record.Path
		}
		snap.Tabs = append(snap.Tabs, record)
	}
	return snap
}
