package session

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/projectorhq/projector/internal/host"
	"github.com/projectorhq/projector/internal/pathutil"
)

const (
	// LargeRestoreThreshold is the tab count above which restoration runs
	// in batches with a short yield in between, letting the host service
	// other pending work. A courtesy, not a correctness requirement.
	LargeRestoreThreshold = 50
	restoreBatchSize      = 10
	batchYield            = 2 * time.Millisecond
)

// Result reports a best-effort restore.
type Result struct {
	Restored int
	Skipped  int
}

// OK reports overall success: something restored, or nothing valid to
// restore (vacuously successful).
func (r Result) OK(validEntries int) bool {
	return r.Restored > 0 || validEntries == 0
}

// Restore reopens a snapshot with ordering, focus, and selection fidelity.
// Entries whose file no longer exists or whose path has left the project
// boundary are dropped up front. Single-file failures are logged and
// skipped; the remaining batch always proceeds.
func Restore(ctx context.Context, ed host.Editor, fs host.FS, snap Snapshot, projectPath string) (Result, int) {
	valid := make([]TabRecord, 0, len(snap.Tabs))
	res := Result{}
	for _, record := range snap.Tabs {
		if !pathutil.IsDescendant(projectPath, record.Path) || !fs.FileExists(record.Path) {
			res.Skipped++
			continue
		}
		valid = append(valid, record)
	}
	if len(valid) == 0 {
		return res, 0
	}

	// Non-active tabs first in column order; the active tab opens and
	// focuses last, so the user never sees focus hop across the strip.
	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].ViewColumn < valid[j].ViewColumn
	})
	ordered := make([]TabRecord, 0, len(valid))
	var active *TabRecord
	for i := range valid {
		if valid[i].Active && active == nil {
			active = &valid[i]
			continue
		}
		ordered = append(ordered, valid[i])
	}
	if active != nil {
		ordered = append(ordered, *active)
	}

	batched := len(ordered) > LargeRestoreThreshold
	for i, record := range ordered {
		if batched && i > 0 && i%restoreBatchSize == 0 {
			if !yield(ctx) {
				return res, len(valid)
			}
		}
		if openRecord(ctx, ed, record) {
			res.Restored++
		} else {
			res.Skipped++
		}
	}
	return res, len(valid)
}

func openRecord(ctx context.Context, ed host.Editor, record TabRecord) bool {
	opts := host.OpenOptions{
		ViewColumn: record.ViewColumn,
		Pinned:     record.Pinned,
		Focus:      record.Active,
	}
	if err := ed.Open(ctx, record.Path, opts); err != nil {
		slog.Warn("session: open during restore failed", "path", record.Path, "error", err)
		return false
	}
	applySelection(ed, record.Path, record.Selection)
	return true
}

func applySelection(ed host.Editor, path string, sel host.Selection) {
	shape, err := ed.DocumentShape(path)
	if err != nil {
		slog.Debug("session: document shape unavailable", "path", path, "error", err)
		return
	}
	if err := ed.SetSelection(path, ClampSelection(sel, shape)); err != nil {
		slog.Debug("session: selection not applied", "path", path, "error", err)
	}
}

// ClampSelection bounds a selection to a document's valid positions. shape
// holds the length of each line.
func ClampSelection(sel host.Selection, shape []int) host.Selection {
	sel.Start = clampPosition(sel.Start, shape)
	sel.End = clampPosition(sel.End, shape)
	return sel
}

func clampPosition(pos host.Position, shape []int) host.Position {
	if len(shape) == 0 {
		return host.Position{}
	}
	if pos.Line < 0 {
		pos.Line = 0
	}
	if pos.Line >= len(shape) {
		pos.Line = len(shape) - 1
	}
	if pos.Character < 0 {
		pos.Character = 0
	}
	if max := shape[pos.Line]; pos.Character > max {
		pos.Character = max
	}
	return pos
}

func yield(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(batchYield):
		return true
	}
}
