package core

import (
	"fmt"
	"os"
	"path/filepath"
)

// DataDir returns the base data directory for toolhost.
// It follows the XDG Base Directory Specification:
// - $TOOLHOST_DATA_DIR (full override)
// - $XDG_DATA_HOME/toolhost
// - ~/.local/share/toolhost (fallback)
func DataDir() (string, error) {
	if dir := os.Getenv("TOOLHOST_DATA_DIR"); dir != "" {
		return dir, nil
	}

	if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
		return filepath.Join(xdgDataHome, "toolhost"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(home, ".local", "share", "toolhost"), nil
}

// EnsureDataDir returns the data directory, creating it if needed.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}

// ServersPath returns the server records file inside dataDir. An existing
// servers.yaml or servers.yml wins over servers.json; with none present the
// JSON path is returned.
func ServersPath(dataDir string) string {
	for _, name := range []string{"servers.yaml", "servers.yml"} {
		p := filepath.Join(dataDir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(dataDir, "servers.json")
}

// LockPath returns the path to the lock file guarding a server records file.
func LockPath(serversPath string) string {
	return serversPath + ".lock"
}
