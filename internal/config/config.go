// Package config loads and persists the app configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/projectorhq/projector/internal/appdirs"
	"github.com/projectorhq/projector/internal/atomicfile"
	"github.com/projectorhq/projector/internal/identity"
	"github.com/projectorhq/projector/internal/logging"
	"github.com/projectorhq/projector/internal/pathutil"
)

const (
	EnvConfigFile    = identity.EnvPrefix + "CONFIG"
	EnvWorkspaceRoot = identity.EnvPrefix + "WORKSPACE_ROOT"
	EnvOpenCommand   = identity.EnvPrefix + "OPEN_COMMAND"
)

// Strategy values accepted by switching.strategy.
const (
	StrategyAuto      = "auto"
	StrategyNaive     = "naive"
	StrategyOptimized = "optimized"
)

// Switching tunes the switch orchestrator.
type Switching struct {
	// Strategy forces one strategy; "auto" picks by tab count.
	Strategy *string `yaml:"strategy,omitempty"`
	// MaxCachedTabs bounds the optimized path under "auto".
	MaxCachedTabs *int `yaml:"max_cached_tabs,omitempty"`
}

// Autosave tunes the background session saver.
type Autosave struct {
	Enabled    *bool `yaml:"enabled,omitempty"`
	DebounceMS *int  `yaml:"debounce_ms,omitempty"`
}

// Filter tunes directory visibility.
type Filter struct {
	// Denylist extends the built-in set of never-hidden directory names.
	Denylist []string `yaml:"denylist,omitempty"`
}

// Config is the on-disk configuration. Pointer fields distinguish "unset"
// from an explicit zero so the file can layer over defaults.
type Config struct {
	// WorkspaceRoot is the directory whose subdirectories are switchable
	// projects.
	WorkspaceRoot *string `yaml:"workspace_root,omitempty"`

	// OpenCommand is the shell-quoted command run to reveal a project
	// directory, with {dir} substituted. Empty means no external command.
	OpenCommand *string `yaml:"open_command,omitempty"`

	Switching Switching      `yaml:"switching,omitempty"`
	Autosave  Autosave       `yaml:"autosave,omitempty"`
	Filter    Filter         `yaml:"filter,omitempty"`
	Logging   logging.Config `yaml:"logging,omitempty"`
}

// Default returns the built-in configuration.
func Default() Config {
	strategy := StrategyAuto
	maxCached := 100
	autosaveOn := true
	debounceMS := 2000
	return Config{
		Switching: Switching{Strategy: &strategy, MaxCachedTabs: &maxCached},
		Autosave:  Autosave{Enabled: &autosaveOn, DebounceMS: &debounceMS},
		Logging:   logging.DefaultConfig(),
	}
}

// Path returns the config file location, honoring the env override.
func Path() (string, error) {
	if override := strings.TrimSpace(os.Getenv(EnvConfigFile)); override != "" {
		return pathutil.Normalize(override), nil
	}
	dir, err := appdirs.StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, identity.GlobalConfigFile), nil
}

// Load reads the config file, layering it over defaults and the env on
// top. A missing file is not an error.
func Load() (Config, error) {
	cfg := Default()
	path, err := Path()
	if err != nil {
		return cfg, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg.WithEnv(), nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	var fromFile Config
	if err := yaml.Unmarshal(raw, &fromFile); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg = cfg.Merge(fromFile).WithEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config file atomically.
func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: ensure dir: %w", err)
	}
	if err := atomicfile.Save(path, raw, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// WithEnv overlays environment variables onto c.
func (c Config) WithEnv() Config {
	if v := strings.TrimSpace(os.Getenv(EnvWorkspaceRoot)); v != "" {
		root := pathutil.Normalize(v)
		c.WorkspaceRoot = &root
	}
	if v, ok := os.LookupEnv(EnvOpenCommand); ok {
		c.OpenCommand = &v
	}
	if v := strings.TrimSpace(os.Getenv(identity.EnvPrefix + "SWITCH_STRATEGY")); v != "" {
		c.Switching.Strategy = &v
	}
	if v := strings.TrimSpace(os.Getenv(identity.EnvPrefix + "AUTOSAVE_DEBOUNCE_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Autosave.DebounceMS = &n
		}
	}
	c.Logging = c.Logging.WithEnv()
	return c
}

// Merge layers override's set fields onto c.
func (c Config) Merge(override Config) Config {
	out := c
	if override.WorkspaceRoot != nil {
		out.WorkspaceRoot = override.WorkspaceRoot
	}
	if override.OpenCommand != nil {
		out.OpenCommand = override.OpenCommand
	}
	if override.Switching.Strategy != nil {
		out.Switching.Strategy = override.Switching.Strategy
	}
	if override.Switching.MaxCachedTabs != nil {
		out.Switching.MaxCachedTabs = override.Switching.MaxCachedTabs
	}
	if override.Autosave.Enabled != nil {
		out.Autosave.Enabled = override.Autosave.Enabled
	}
	if override.Autosave.DebounceMS != nil {
		out.Autosave.DebounceMS = override.Autosave.DebounceMS
	}
	if len(override.Filter.Denylist) > 0 {
		out.Filter.Denylist = append([]string(nil), override.Filter.Denylist...)
	}
	out.Logging = c.Logging.Merge(override.Logging)
	return out
}

// Validate rejects values no component could act on.
func (c Config) Validate() error {
	if c.Switching.Strategy != nil {
		switch strings.ToLower(*c.Switching.Strategy) {
		case StrategyAuto, StrategyNaive, StrategyOptimized:
		default:
			return fmt.Errorf("switching.strategy: invalid %q", *c.Switching.Strategy)
		}
	}
	if c.Switching.MaxCachedTabs != nil && *c.Switching.MaxCachedTabs < 0 {
		return fmt.Errorf("switching.max_cached_tabs: negative %d", *c.Switching.MaxCachedTabs)
	}
	if c.Autosave.DebounceMS != nil && *c.Autosave.DebounceMS < 0 {
		return fmt.Errorf("autosave.debounce_ms: negative %d", *c.Autosave.DebounceMS)
	}
	return c.Logging.Validate()
}

// Debounce returns the autosave debounce as a duration.
func (c Config) Debounce() time.Duration {
	if c.Autosave.DebounceMS == nil {
		return 2 * time.Second
	}
	return time.Duration(*c.Autosave.DebounceMS) * time.Millisecond
}

// AutosaveEnabled reports whether background saving is on.
func (c Config) AutosaveEnabled() bool {
	return c.Autosave.Enabled == nil || *c.Autosave.Enabled
}
