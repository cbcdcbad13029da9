// Package paths resolves the cg directories: $XDG_CONFIG_HOME/cg (default
// ~/.config/cg) and $XDG_DATA_HOME/cg (default ~/.local/share/cg), on every
// platform.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

const appDir = "cg"

// ConfigDir returns the directory holding config.toml, models.yaml and cost.json.
func ConfigDir() (string, error) {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// DataDir returns the directory holding usage.db.
func DataDir() (string, error) {
	return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func xdgDir(env, fallback string) (string, error) {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, appDir), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, fallback, appDir), nil
}
