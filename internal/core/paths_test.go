package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDataDir_DefaultFallback(t *testing.T) {
	t.Setenv("TOOLHOST_DATA_DIR", "")
	t.Setenv("XDG_DATA_HOME", "")

	dataDir, err := DataDir()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(dataDir, filepath.Join(".local", "share", "toolhost")) {
		t.Errorf("expected data dir to contain .local/share/toolhost, got %s", dataDir)
	}
}

func TestDataDir_XDGDataHome(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", tempDir)
	t.Setenv("TOOLHOST_DATA_DIR", "")

	dataDir, err := DataDir()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := filepath.Join(tempDir, "toolhost")
	if dataDir != expected {
		t.Errorf("expected %s, got %s", expected, dataDir)
	}
}

func TestDataDir_Override(t *testing.T) {
	customPath := filepath.Join(t.TempDir(), "custom-toolhost")
	t.Setenv("TOOLHOST_DATA_DIR", customPath)

	dataDir, err := DataDir()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if dataDir != customPath {
		t.Errorf("expected %s, got %s", customPath, dataDir)
	}
}

func TestEnsureDataDir(t *testing.T) {
	customPath := filepath.Join(t.TempDir(), "nested", "toolhost")
	t.Setenv("TOOLHOST_DATA_DIR", customPath)

	dir, err := EnsureDataDir()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("expected data dir to exist: %v", err)
	}
	if !info.IsDir() {
		t.Errorf("expected %s to be a directory", dir)
	}
}

func TestServersPath(t *testing.T) {
	dir := t.TempDir()

	if got := ServersPath(dir); got != filepath.Join(dir, "servers.json") {
		t.Errorf("expected servers.json by default, got %s", got)
	}

	yamlPath := filepath.Join(dir, "servers.yaml")
	if err := os.WriteFile(yamlPath, []byte("servers: []\n"), 0600); err != nil {
		t.Fatalf("failed to write yaml: %v", err)
	}

	if got := ServersPath(dir); got != yamlPath {
		t.Errorf("expected %s when present, got %s", yamlPath, got)
	}
}

func TestLockPath(t *testing.T) {
	if got := LockPath("/data/servers.json"); got != "/data/servers.json.lock" {
		t.Errorf("unexpected lock path %s", got)
	}
}
