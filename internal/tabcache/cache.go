// Package tabcache avoids a full close/reopen cycle on project switches by
// parking hidden tab records, with tokens into the host's live-document
// table, per project id.
package tabcache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/projectorhq/projector/internal/host"
	"github.com/projectorhq/projector/internal/pathutil"
	"github.com/projectorhq/projector/internal/session"
)

const showBatchSize = 10

type entry struct {
	records  []session.TabRecord
	tokens   map[string]host.DocumentToken
	hiddenAt time.Time
}

// Cache is the in-memory per-project store of hidden tabs. Hide and Show
// are its only mutators; the active project's entry is always empty since
// its tabs live in the visible strip.
type Cache struct {
	ed host.Editor
	fs host.FS

	mu      sync.RWMutex
	entries map[string]entry

	// visible mirrors the live strip through a change subscription. It
	// backs count queries only and never drives restore decisions.
	visible map[string]struct{}
	cancel  func()
}

// New builds a cache and subscribes to strip changes for the diagnostic
// mirror.
func New(ed host.Editor, fs host.FS, events host.Notifier) *Cache {
	c := &Cache{
		ed:      ed,
		fs:      fs,
		entries: make(map[string]entry),
		visible: make(map[string]struct{}),
	}
	c.syncVisible()
	if events != nil {
		ch, cancel := events.Subscribe(64)
		c.cancel = cancel
		go c.mirror(ch)
	}
	return c
}

// Close drops the strip subscription.
func (c *Cache) Close() {
	if c != nil && c.cancel != nil {
		c.cancel()
	}
}

// Hide parks every visible tab under projectPath: each record is captured
// with a document token where the document is still resident, then removed
// from the strip. The host may keep the document alive until it reclaims
// it; the cache only drops the strip entry.
func (c *Cache) Hide(ctx context.Context, projectID, projectPath string) (int, error) {
	if c == nil {
		return 0, nil
	}
	records := make([]session.TabRecord, 0)
	tokens := make(map[string]host.DocumentToken)
	for _, tab := range c.ed.Tabs() {
		if !pathutil.IsDescendant(projectPath, tab.Path) {
			continue
		}
		records = append(records, session.TabRecord{
			Path:       tab.Path,
			Active:     tab.Active,
			Pinned:     tab.Pinned,
			Dirty:      tab.Dirty,
			ViewColumn: tab.ViewColumn,
			Selection:  tab.Selection,
		})
		if tok, ok := c.ed.Token(tab.Path); ok {
			tokens[tab.Path] = tok
		}
	}
	for _, record := range records {
		if err := c.ed.Close(ctx, record.Path); err != nil {
			slog.Warn("tabcache: close during hide failed", "path", record.Path, "error", err)
		}
	}
	c.mu.Lock()
	c.entries[projectID] = entry{records: records, tokens: tokens, hiddenAt: time.Now()}
	c.mu.Unlock()
	return len(records), nil
}

// Show replays a project's parked tabs: previously-active first, then
// pinned, then the remainder in batches. A cached token is reused only
// after a liveness check; stale tokens fall back to a fresh open from
// disk. ok is false when no entry exists and the caller should restore
// from the session store instead.
func (c *Cache) Show(ctx context.Context, projectID string) (res session.Result, ok bool) {
	if c == nil {
		return session.Result{}, false
	}
	c.mu.Lock()
	ent, ok := c.entries[projectID]
	if ok {
		// The project is becoming active; its entry empties by definition.
		delete(c.entries, projectID)
	}
	c.mu.Unlock()
	if !ok {
		return session.Result{}, false
	}

	ordered := orderForShow(ent.records)
	for i, record := range ordered {
		if i > 0 && i%showBatchSize == 0 {
			select {
			case <-ctx.Done():
				return res, true
			case <-time.After(time.Millisecond):
			}
		}
		if c.showRecord(ctx, record, ent.tokens[record.Path]) {
			res.Restored++
		} else {
			res.Skipped++
		}
	}
	return res, true
}

func (c *Cache) showRecord(ctx context.Context, record session.TabRecord, tok host.DocumentToken) bool {
	opts := host.OpenOptions{
		ViewColumn: record.ViewColumn,
		Pinned:     record.Pinned,
		Focus:      record.Active,
	}
	if tok != 0 && c.ed.LiveToken(tok) {
		reused, err := c.ed.OpenToken(ctx, tok, record.Path, opts)
		if err != nil {
			slog.Warn("tabcache: token reopen failed", "path", record.Path, "error", err)
		} else if reused {
			_ = c.ed.SetSelection(record.Path, record.Selection)
			return true
		}
	}
	if !c.fs.FileExists(record.Path) {
		return false
	}
	if err := c.ed.Open(ctx, record.Path, opts); err != nil {
		slog.Warn("tabcache: reopen failed", "path", record.Path, "error", err)
		return false
	}
	_ = c.ed.SetSelection(record.Path, record.Selection)
	return true
}

// Drop discards a project's entry without replaying it.
func (c *Cache) Drop(projectID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, projectID)
	c.mu.Unlock()
}

// CachedCount returns the number of parked records for a project.
func (c *Cache) CachedCount(projectID string) int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries[projectID].records)
}

// Has reports whether a parked entry exists for a project.
func (c *Cache) Has(projectID string) bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[projectID]
	return ok
}

// VisibleCount reports the mirrored strip size. Diagnostics only.
func (c *Cache) VisibleCount() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.visible)
}

func (c *Cache) mirror(ch <-chan host.Event) {
	for ev := range ch {
		if ev.Kind == host.EventTabsChanged {
			c.syncVisible()
		}
	}
}

func (c *Cache) syncVisible() {
	tabs := c.ed.Tabs()
	next := make(map[string]struct{}, len(tabs))
	for _, tab := range tabs {
		next[tab.Path] = struct{}{}
	}
	c.mu.Lock()
	c.visible = next
	c.mu.Unlock()
}

func orderForShow(records []session.TabRecord) []session.TabRecord {
	out := make([]session.TabRecord, 0, len(records))
	var active, pinned, rest []session.TabRecord
	for _, r := range records {
		switch {
		case r.Active && active == nil:
			active = []session.TabRecord{r}
		case r.Pinned:
			pinned = append(pinned, r)
		default:
			rest = append(rest, r)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool { return rest[i].ViewColumn < rest[j].ViewColumn })
	out = append(out, active...)
	out = append(out, pinned...)
	return append(out, rest...)
}
