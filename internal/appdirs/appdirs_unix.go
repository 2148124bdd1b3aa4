//go:build !windows

package appdirs

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/projectorhq/projector/internal/identity"
)

var statePermsWarnOnce sync.Once

// StateDir returns the directory holding global state (config, logs, lock).
// PROJECTOR_STATE_DIR overrides the default location.
func StateDir() (string, error) {
	if override := os.Getenv(identity.EnvPrefix + "STATE_DIR"); override != "" {
		return ensureStateDir(override, true)
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return ensureStateDir(filepath.Join(dir, identity.AppSlug), false)
}

func ensureStateDir(dir string, isOverride bool) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("state dir is empty")
	}
	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("stat state dir: %w", err)
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", fmt.Errorf("create state dir: %w", err)
		}
		return dir, nil
	}
	if !info.IsDir() {
		return "", fmt.Errorf("state dir %q is not a directory", dir)
	}
	if info.Mode().Perm()&0o077 == 0 {
		return dir, nil
	}
	if !isOverride && ownedByCurrentUser(info) {
		if err := os.Chmod(dir, 0o700); err != nil {
			return "", fmt.Errorf("chmod state dir: %w", err)
		}
		return dir, nil
	}
	statePermsWarnOnce.Do(func() {
		slog.Warn("state dir is group/world accessible; consider chmod 0700",
			"path", dir, "mode", info.Mode().Perm().String())
	})
	return dir, nil
}

func ownedByCurrentUser(info os.FileInfo) bool {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	return stat.Uid == uint32(os.Getuid())
}
