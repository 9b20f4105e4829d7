package config

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultStateDir returns the directory used for persisted credentials and
// flow state when the config does not name one.
func DefaultStateDir() string {
	if dir := strings.TrimSpace(os.Getenv("PLAYGROUND_STATE_DIR")); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".oauth-playground"
	}
	return filepath.Join(home, ".oauth-playground")
}

// ExpandHome resolves a leading "~" in path.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
