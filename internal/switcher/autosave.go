package switcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/projectorhq/projector/internal/host"
)

// DefaultDebounce is the edit-triggered autosave delay.
const DefaultDebounce = 2 * time.Second

// Autosave feeds two triggers into the one save entry point: an immediate
// save on tab-focus change and a debounced save on document edits, the
// timer resetting on every new edit.
type Autosave struct {
	sw       *Switcher
	events   host.Notifier
	debounce time.Duration
}

// NewAutosave builds the autosave loop. debounce <= 0 selects the default.
func NewAutosave(sw *Switcher, events host.Notifier, debounce time.Duration) *Autosave {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Autosave{sw: sw, events: events, debounce: debounce}
}

// Run blocks consuming host events until ctx is done. Callers run it in
// its own goroutine.
func (a *Autosave) Run(ctx context.Context) {
	ch, cancel := a.events.Subscribe(64)
	defer cancel()

	var (
		pending  bool
		debounce *time.Timer
	)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch ev.Kind {
			case host.EventFocusChange:
				a.save("focus-change")
			case host.EventEdit:
				pending = true
				if debounce == nil {
					debounce = time.NewTimer(a.debounce)
					continue
				}
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(a.debounce)
			}
		case <-timerChan(debounce):
			if pending {
				pending = false
				a.save("edit-debounce")
			}
		}
	}
}

func (a *Autosave) save(trigger string) {
	count, err := a.sw.SaveCurrentSession()
	if err != nil {
		// Session loss is acceptable degradation; log and move on.
		slog.Warn("autosave failed", "trigger", trigger, "error", err)
		return
	}
	slog.Debug("autosaved session", "trigger", trigger, "tabs", count)
}

func timerChan(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}
