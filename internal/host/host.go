// Package host declares the collaborator surface the switching core consumes
// from the surrounding editor: directory listing, open-document enumeration,
// document open/focus/close, two-scope key-value storage, and the
// directory-exclusion configuration the visibility filter manipulates.
package host

import "context"

// Position is a zero-based line/character location in a document.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Selection is a start/end range in a document.
type Selection struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Tab describes one entry in the editor's visible tab strip.
type Tab struct {
	Path       string
	ViewColumn int
	Active     bool
	Pinned     bool
	Dirty      bool
	Selection  Selection
}

// DocumentToken identifies a document resident in the host's live-document
// table. Tokens are resolved against the table at use time and must be
// re-validated before reuse; zero is never a valid token.
type DocumentToken uint64

// OpenOptions control how a document is opened.
type OpenOptions struct {
	ViewColumn int
	Pinned     bool
	Preview    bool
	Focus      bool
}

// Editor is the open-document surface of the host.
type Editor interface {
	// Tabs enumerates the visible tab strip in strip order.
	Tabs() []Tab
	// Open opens the file at path as a tab. Opening an already-open path
	// updates that tab in place.
	Open(ctx context.Context, path string, opts OpenOptions) error
	// Close removes the tab for path from the visible strip. The backing
	// document may stay resident in the live-document table until the host
	// reclaims it.
	Close(ctx context.Context, path string) error
	// Focus makes the tab for path active.
	Focus(path string) error
	// SetSelection applies a selection to an open tab.
	SetSelection(path string, sel Selection) error
	// DocumentShape returns the length in characters of each line of the
	// document at path, loading it if necessary.
	DocumentShape(path string) ([]int, error)
	// RevealDir focuses a directory in the host's file browser.
	RevealDir(path string) error

	// Token returns the live-document token for path, if resident.
	Token(path string) (DocumentToken, bool)
	// LiveToken reports whether a token still resolves to a resident document.
	LiveToken(tok DocumentToken) bool
	// OpenToken reopens a tab from a resident document, skipping the disk
	// read. It reports false when the token is stale; callers fall back to
	// Open.
	OpenToken(ctx context.Context, tok DocumentToken, path string, opts OpenOptions) (bool, error)
}

// DirEntry is one immediate child of a listed directory.
type DirEntry struct {
	Name  string
	IsDir bool
}

// FS is the filesystem surface of the host.
type FS interface {
	// ListDir enumerates the immediate children of path.
	ListDir(path string) ([]DirEntry, error)
	FileExists(path string) bool
	DirExists(path string) bool
}

// Scope selects one of the two key-value storage scopes.
type Scope int

const (
	// ScopeGlobal is shared across workspaces.
	ScopeGlobal Scope = iota
	// ScopeWorkspace is bound to the current workspace.
	ScopeWorkspace
)

func (s Scope) String() string {
	if s == ScopeWorkspace {
		return "workspace"
	}
	return "global"
}

// Storage is JSON-valued key-value persistence in two scopes.
type Storage interface {
	// Get decodes the value under key into v, reporting whether it existed.
	Get(scope Scope, key string, v any) (bool, error)
	Set(scope Scope, key string, v any) error
	Delete(scope Scope, key string) error
}

// ExcludeConfig is the directory-exclusion substrate of the file browser:
// a glob-pattern to boolean mapping for the current workspace. The store
// does not reliably support partial key removal, so writers always replace
// the whole mapping.
type ExcludeConfig interface {
	Excludes() (map[string]bool, error)
	SetExcludes(map[string]bool) error
}

// EventKind tags host events consumed by the autosave triggers.
type EventKind int

const (
	// EventFocusChange fires when the active tab changes.
	EventFocusChange EventKind = iota
	// EventEdit fires when an open document's content changes.
	EventEdit
	// EventTabsChanged fires when the strip gains or loses tabs.
	EventTabsChanged
)

func (k EventKind) String() string {
	switch k {
	case EventFocusChange:
		return "focus-change"
	case EventEdit:
		return "edit"
	default:
		return "tabs-changed"
	}
}

// Event is a host notification.
type Event struct {
	Kind EventKind
	Path string
}

// Notifier delivers host events to subscribers.
type Notifier interface {
	// Subscribe returns a buffered event channel and a cancel func. Events
	// are dropped, not blocked on, when a subscriber lags.
	Subscribe(buffer int) (<-chan Event, func())
}

// Context bundles the host collaborators. It is built once at startup and
// passed by reference to each component's constructor; components never
// reach for ambient globals.
type Context struct {
	Editor   Editor
	FS       FS
	Storage  Storage
	Excludes ExcludeConfig
	Events   Notifier
}
