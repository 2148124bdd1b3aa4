//go:build windows

package appdirs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/projectorhq/projector/internal/identity"
)

// StateDir returns the directory holding global state (config, logs, lock).
func StateDir() (string, error) {
	dir := os.Getenv(identity.EnvPrefix + "STATE_DIR")
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("resolve config dir: %w", err)
		}
		dir = filepath.Join(base, identity.BrandName)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}
	return dir, nil
}
