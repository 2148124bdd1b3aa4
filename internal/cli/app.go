package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/urfave/cli/v3"

	"github.com/projectorhq/projector/internal/appdirs"
	"github.com/projectorhq/projector/internal/config"
	"github.com/projectorhq/projector/internal/filter"
	"github.com/projectorhq/projector/internal/fshost"
	"github.com/projectorhq/projector/internal/identity"
	"github.com/projectorhq/projector/internal/registry"
	"github.com/projectorhq/projector/internal/session"
	"github.com/projectorhq/projector/internal/switcher"
	"github.com/projectorhq/projector/internal/tabcache"
)

// appMode selects locking behavior for one invocation.
type appMode int

const (
	// modeMutate takes the shared state lock for the command's duration.
	modeMutate appMode = iota
	// modeReadOnly skips locking; reads of atomically-written state files
	// are safe against a concurrent writer.
	modeReadOnly
	// modeWatch takes a dedicated lock and enables the edit watcher.
	modeWatch
)

// app wires the component stack for one command invocation. The state lock
// serializes mutating invocations across processes.
type app struct {
	cfg   config.Config
	host  *fshost.Host
	reg   *registry.Registry
	filt  *filter.Filter
	store *session.Store
	cache *tabcache.Cache
	sw    *switcher.Switcher
	lock  *flock.Flock
}

func newApp(cmd *cli.Command, cfg config.Config, mode appMode) (*app, error) {
	root, err := resolveRoot(cmd, cfg)
	if err != nil {
		return nil, err
	}
	openCommand := ""
	if cfg.OpenCommand != nil {
		openCommand = *cfg.OpenCommand
	}
	h, err := fshost.New(root, fshost.Options{OpenCommand: openCommand, Watch: mode == modeWatch})
	if err != nil {
		return nil, err
	}

	var lock *flock.Flock
	if mode != modeReadOnly {
		stateDir, err := appdirs.StateDir()
		if err != nil {
			_ = h.Shutdown()
			return nil, err
		}
		// The watch loop holds its lock for its whole run; short commands
		// use a separate lock so a running watcher does not block them.
		lockName := identity.CLIName + ".lock"
		if mode == modeWatch {
			lockName = identity.CLIName + "-watch.lock"
		}
		lock = flock.New(filepath.Join(stateDir, lockName))
		locked, err := lock.TryLock()
		if err != nil {
			_ = h.Shutdown()
			return nil, fmt.Errorf("state lock: %w", err)
		}
		if !locked {
			_ = h.Shutdown()
			return nil, fmt.Errorf("another %s command is running", identity.CLIName)
		}
	}

	a := &app{
		cfg:   cfg,
		host:  h,
		reg:   registry.New(h),
		filt:  filter.New(h.Context(), root, cfg.Filter.Denylist),
		store: session.NewStore(h),
		lock:  lock,
	}
	a.cache = tabcache.New(h, h, h)
	if err := a.reg.Load(); err != nil {
		a.close()
		return nil, err
	}
	if err := a.filt.Load(); err != nil {
		a.close()
		return nil, err
	}
	if err := a.store.Load(); err != nil {
		a.close()
		return nil, err
	}
	a.sw = switcher.New(h.Context(), a.reg, a.filt, a.store, a.cache, policyFromConfig(cfg))
	return a, nil
}

func (a *app) close() {
	if a.cache != nil {
		a.cache.Close()
	}
	if a.host != nil {
		_ = a.host.Shutdown()
	}
	if a.lock != nil {
		_ = a.lock.Unlock()
	}
}

func resolveRoot(cmd *cli.Command, cfg config.Config) (string, error) {
	if root := strings.TrimSpace(cmd.String("root")); root != "" {
		return root, nil
	}
	if cfg.WorkspaceRoot != nil && strings.TrimSpace(*cfg.WorkspaceRoot) != "" {
		return *cfg.WorkspaceRoot, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	return cwd, nil
}

func policyFromConfig(cfg config.Config) switcher.Policy {
	strategy := config.StrategyAuto
	if cfg.Switching.Strategy != nil {
		strategy = strings.ToLower(*cfg.Switching.Strategy)
	}
	switch strategy {
	case config.StrategyNaive:
		return switcher.FixedPolicy(switcher.StrategyNaive)
	case config.StrategyOptimized:
		return switcher.FixedPolicy(switcher.StrategyOptimized)
	default:
		maxCached := switcher.DefaultMaxCachedTabs
		if cfg.Switching.MaxCachedTabs != nil {
			maxCached = *cfg.Switching.MaxCachedTabs
		}
		return switcher.DefaultPolicy(maxCached)
	}
}
