package fshost

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"unicode/utf8"

	"github.com/kballard/go-shellquote"

	"github.com/projectorhq/projector/internal/host"
)

// residentLimit caps the live-document table. Closed documents past the
// limit are reclaimed oldest-token-first.
const residentLimit = 128

func (h *Host) Tabs() []host.Tab {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]host.Tab(nil), h.tabs...)
}

func (h *Host) Open(_ context.Context, path string, opts host.OpenOptions) error {
	shape, err := loadShape(path)
	if err != nil {
		return err
	}
	h.mu.Lock()
	tok, ok := h.tokenByPath[path]
	if !ok {
		tok = h.nextToken
		h.nextToken++
		h.tokenByPath[path] = tok
	}
	h.docs[tok] = &document{path: path, shape: shape}
	h.placeTabLocked(path, opts)
	h.mu.Unlock()

	if h.watcher != nil {
		h.watcher.track(path)
	}
	h.emit(host.Event{Kind: host.EventTabsChanged, Path: path})
	if opts.Focus {
		h.emit(host.Event{Kind: host.EventFocusChange, Path: path})
	}
	return nil
}

func (h *Host) placeTabLocked(path string, opts host.OpenOptions) {
	tab := host.Tab{
		Path:       path,
		ViewColumn: opts.ViewColumn,
		Pinned:     opts.Pinned,
		Active:     opts.Focus,
	}
	if opts.Focus {
		for i := range h.tabs {
			h.tabs[i].Active = false
		}
	}
	for i := range h.tabs {
		if h.tabs[i].Path == path {
			active := h.tabs[i].Active || opts.Focus
			h.tabs[i] = tab
			h.tabs[i].Active = active
			return
		}
	}
	h.tabs = append(h.tabs, tab)
}

// Close removes the tab. The document stays resident so a later OpenToken
// can skip the disk read, until the resident limit reclaims it.
func (h *Host) Close(_ context.Context, path string) error {
	h.mu.Lock()
	kept := h.tabs[:0]
	for _, tab := range h.tabs {
		if tab.Path != path {
			kept = append(kept, tab)
		}
	}
	h.tabs = kept
	h.reclaimLocked()
	h.mu.Unlock()

	if h.watcher != nil {
		h.watcher.untrack(path)
	}
	h.emit(host.Event{Kind: host.EventTabsChanged, Path: path})
	return nil
}

func (h *Host) Focus(path string) error {
	h.mu.Lock()
	found := false
	for i := range h.tabs {
		h.tabs[i].Active = h.tabs[i].Path == path
		if h.tabs[i].Active {
			found = true
		}
	}
	h.mu.Unlock()
	if !found {
		return fmt.Errorf("fshost: focus %s: not open", path)
	}
	h.emit(host.Event{Kind: host.EventFocusChange, Path: path})
	return nil
}

func (h *Host) SetSelection(path string, sel host.Selection) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.tabs {
		if h.tabs[i].Path == path {
			h.tabs[i].Selection = sel
			return nil
		}
	}
	return fmt.Errorf("fshost: selection on %s: not open", path)
}

func (h *Host) DocumentShape(path string) ([]int, error) {
	h.mu.Lock()
	if tok, ok := h.tokenByPath[path]; ok {
		if doc, ok := h.docs[tok]; ok {
			shape := append([]int(nil), doc.shape...)
			h.mu.Unlock()
			return shape, nil
		}
	}
	h.mu.Unlock()
	return loadShape(path)
}

// RevealDir runs the configured open command with {dir} substituted. The
// command is fire-and-forget; reveal failures never abort a switch.
func (h *Host) RevealDir(path string) error {
	if h.openCommand == "" {
		return nil
	}
	argv, err := revealArgv(h.openCommand, path)
	if err != nil {
		return err
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = path
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("fshost: reveal %s: %w", path, err)
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			slog.Warn("reveal command failed", "dir", path, "error", err)
		}
	}()
	return nil
}

func revealArgv(command, dir string) ([]string, error) {
	argv, err := shellquote.Split(command)
	if err != nil {
		return nil, fmt.Errorf("fshost: open command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("fshost: open command is empty")
	}
	substituted := false
	for i, arg := range argv {
		if strings.Contains(arg, "{dir}") {
			argv[i] = strings.ReplaceAll(arg, "{dir}", dir)
			substituted = true
		}
	}
	if !substituted {
		argv = append(argv, dir)
	}
	return argv, nil
}

// --- document tokens ---

func (h *Host) Token(path string) (host.DocumentToken, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tok, ok := h.tokenByPath[path]
	if !ok {
		return 0, false
	}
	if _, live := h.docs[tok]; !live {
		return 0, false
	}
	return tok, true
}

func (h *Host) LiveToken(tok host.DocumentToken) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.docs[tok]
	return ok
}

func (h *Host) OpenToken(_ context.Context, tok host.DocumentToken, path string, opts host.OpenOptions) (bool, error) {
	h.mu.Lock()
	doc, ok := h.docs[tok]
	if !ok || doc.path != path {
		h.mu.Unlock()
		return false, nil
	}
	h.placeTabLocked(path, opts)
	h.mu.Unlock()

	if h.watcher != nil {
		h.watcher.track(path)
	}
	h.emit(host.Event{Kind: host.EventTabsChanged, Path: path})
	if opts.Focus {
		h.emit(host.Event{Kind: host.EventFocusChange, Path: path})
	}
	return true, nil
}

// reclaimLocked evicts closed documents past the resident limit,
// oldest token first. Their tokens go stale, which OpenToken callers
// handle by reopening from disk.
func (h *Host) reclaimLocked() {
	if len(h.docs) <= residentLimit {
		return
	}
	open := make(map[string]struct{}, len(h.tabs))
	for _, tab := range h.tabs {
		open[tab.Path] = struct{}{}
	}
	for tok := host.DocumentToken(1); tok < h.nextToken && len(h.docs) > residentLimit; tok++ {
		doc, ok := h.docs[tok]
		if !ok {
			continue
		}
		if _, isOpen := open[doc.path]; isOpen {
			continue
		}
		delete(h.docs, tok)
		delete(h.tokenByPath, doc.path)
	}
}

func loadShape(path string) ([]int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fshost: open %s: %w", path, err)
	}
	lines := strings.Split(string(raw), "\n")
	shape := make([]int, len(lines))
	for i, line := range lines {
		shape[i] = utf8.RuneCountInString(strings.TrimSuffix(line, "\r"))
	}
	return shape, nil
}
