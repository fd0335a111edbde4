package core

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Fuabioo/toolhost/internal/errors"
	"gopkg.in/yaml.v3"
)

func newTestStore(t *testing.T, name string) *ServerStore {
	t.Helper()
	store := NewServerStore(filepath.Join(t.TempDir(), name))
	store.defaults = func() []ServerSpec {
		return []ServerSpec{{Name: "fallback", Command: "true", Args: []string{}, Port: 8080, Enabled: true}}
	}
	return store
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestServerStore_LoadJSON(t *testing.T) {
	store := newTestStore(t, "servers.json")
	writeFile(t, store.Path(), `{
  "servers": [
    {"name": "fs", "command": "npx", "args": ["-y", "server-fs"], "port": 8080, "enabled": true},
    {"name": "think", "command": "uvx", "args": [], "port": 8081, "enabled": false, "description": "reasoning"}
  ]
}`)

	result, err := store.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Synthesized {
		t.Error("expected no synthesis when valid records exist")
	}
	if len(result.Specs) != 2 {
		t.Fatalf("expected 2 specs, got %d", len(result.Specs))
	}
	if result.Specs[0].Name != "fs" || result.Specs[1].Name != "think" {
		t.Errorf("expected file order to be kept, got %s, %s", result.Specs[0].Name, result.Specs[1].Name)
	}
	if result.Specs[1].Enabled {
		t.Error("expected think to be disabled")
	}
	if result.Specs[1].Description != "reasoning" {
		t.Errorf("expected description to be loaded, got %q", result.Specs[1].Description)
	}
	if len(result.Notes) != 0 {
		t.Errorf("expected no notes, got %v", result.Notes)
	}
}

func TestServerStore_LoadYAML(t *testing.T) {
	store := newTestStore(t, "servers.yaml")
	writeFile(t, store.Path(), `servers:
  - name: fs
    command: npx
    args: ["-y", "server-fs"]
    port: 8080
    enabled: true
    env:
      NODE_OPTIONS: --max-old-space-size=512
`)

	result, err := store.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Specs) != 1 {
		t.Fatalf("expected 1 spec, got %d", len(result.Specs))
	}
	spec := result.Specs[0]
	if spec.Port != 8080 {
		t.Errorf("expected port 8080, got %d", spec.Port)
	}
	if spec.Env["NODE_OPTIONS"] != "--max-old-space-size=512" {
		t.Errorf("expected env to be loaded, got %v", spec.Env)
	}
}

func TestServerStore_LoadBareList(t *testing.T) {
	store := newTestStore(t, "servers.json")
	writeFile(t, store.Path(), `[{"name": "fs", "command": "npx", "args": [], "port": 1, "enabled": true}]`)

	result, err := store.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Specs) != 1 {
		t.Fatalf("expected 1 spec, got %d", len(result.Specs))
	}
}

func TestServerStore_DropsInvalidRecords(t *testing.T) {
	store := newTestStore(t, "servers.json")
	writeFile(t, store.Path(), `{"servers": [
    {"name": "ok", "command": "npx", "args": [], "port": 1, "enabled": true},
    {"name": "no-port", "command": "npx", "args": [], "enabled": true},
    {"name": "no-enabled", "command": "npx", "args": [], "port": 1},
    {"name": "bad name", "command": "npx", "args": [], "port": 1, "enabled": true},
    {"name": "ok", "command": "other", "args": [], "port": 2, "enabled": true},
    {"name": "bad-port", "command": "npx", "args": [], "port": "eighty", "enabled": true},
    "not an object"
]}`)

	result, err := store.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Specs) != 1 || result.Specs[0].Name != "ok" {
		t.Fatalf("expected only the first valid record to survive, got %+v", result.Specs)
	}
	if result.Specs[0].Command != "npx" {
		t.Errorf("expected the first duplicate to win, got command %q", result.Specs[0].Command)
	}
	if len(result.Notes) != 6 {
		t.Fatalf("expected 6 notes, got %d: %v", len(result.Notes), result.Notes)
	}

	var lines []string
	for _, note := range result.Notes {
		lines = append(lines, note.String())
	}
	joined := strings.Join(lines, "\n")
	for _, want := range []string{`"port"`, `"enabled"`, "duplicate", "not an object"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected notes to mention %s, got %v", want, lines)
		}
	}

	if result.Notes[3].Name != "ok" || result.Notes[3].Index != 4 {
		t.Errorf("expected the duplicate note to carry name and index, got %+v", result.Notes[3])
	}
}

func TestServerStore_SynthesizesDefault(t *testing.T) {
	store := newTestStore(t, "servers.json")

	result, err := store.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Synthesized {
		t.Error("expected default configuration to be synthesized")
	}
	if len(result.Specs) != 1 || result.Specs[0].Name != "fallback" {
		t.Fatalf("expected fallback spec, got %+v", result.Specs)
	}

	if _, err := os.Stat(store.Path()); err != nil {
		t.Fatalf("expected synthesized configuration to be persisted: %v", err)
	}

	again, err := store.Load()
	if err != nil {
		t.Fatalf("unexpected error on reload: %v", err)
	}
	if again.Synthesized {
		t.Error("expected persisted default to load without synthesis")
	}
}

func TestServerStore_SynthesizesWhenAllInvalid(t *testing.T) {
	store := newTestStore(t, "servers.json")
	writeFile(t, store.Path(), `{"servers": [{"name": "broken"}]}`)

	result, err := store.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Synthesized {
		t.Error("expected synthesis when no record is valid")
	}
	if len(result.Notes) != 1 {
		t.Errorf("expected the dropped record to be noted, got %v", result.Notes)
	}
}

func TestServerStore_LoadKeepsRecordAddedBeforeSynthesis(t *testing.T) {
	store := newTestStore(t, "servers.json")
	other := NewServerStore(store.Path())

	added := ServerSpec{Name: "late", Command: "npx", Args: []string{}, Port: 9000, Enabled: true}
	store.beforeSynthesize = func() {
		if err := other.Add(added); err != nil {
			t.Errorf("concurrent add failed: %v", err)
		}
	}

	result, err := store.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Synthesized {
		t.Error("expected the concurrently added record to win over synthesis")
	}
	if len(result.Specs) != 1 || result.Specs[0].Name != "late" {
		t.Fatalf("expected only the added spec, got %+v", result.Specs)
	}

	reread, err := other.Load()
	if err != nil {
		t.Fatalf("unexpected error on reload: %v", err)
	}
	if len(reread.Specs) != 1 || reread.Specs[0].Name != "late" {
		t.Errorf("expected the added record to stay on disk, got %+v", reread.Specs)
	}
}

func TestServerStore_MalformedFile(t *testing.T) {
	store := newTestStore(t, "servers.json")
	writeFile(t, store.Path(), `{ not json`)

	_, err := store.Load()
	if err == nil {
		t.Fatal("expected error for malformed file")
	}
	if !errors.Is(err, errors.CodeConfigInvalid) {
		t.Errorf("expected CONFIG_INVALID, got %v", err)
	}

	data, _ := os.ReadFile(store.Path())
	if string(data) != `{ not json` {
		t.Error("malformed file must not be overwritten")
	}
}

func TestServerStore_PreservesExtraFields(t *testing.T) {
	store := newTestStore(t, "servers.json")
	writeFile(t, store.Path(), `{"servers": [
    {"name": "fs", "command": "npx", "args": [], "port": 1, "enabled": true, "icon": "folder"}
]}`)

	result, err := store.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Specs[0].Extra["icon"] != "folder" {
		t.Fatalf("expected extra field to be kept, got %v", result.Specs[0].Extra)
	}

	if err := store.Save(result.Specs); err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	data, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatalf("failed to read back: %v", err)
	}
	var doc struct {
		Servers []map[string]any `json:"servers"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("saved file is not valid JSON: %v", err)
	}
	if doc.Servers[0]["icon"] != "folder" {
		t.Errorf("expected icon to survive a save, got %v", doc.Servers[0])
	}
}

func TestServerStore_AddAndRemove(t *testing.T) {
	store := newTestStore(t, "servers.yaml")

	spec := ServerSpec{Name: "fs", Command: "npx", Args: []string{"-y", "server-fs"}, Port: 8080, Enabled: true}
	if err := store.Add(spec); err != nil {
		t.Fatalf("failed to add: %v", err)
	}

	err := store.Add(spec)
	if !errors.Is(err, errors.CodeNameCollision) {
		t.Errorf("expected NAME_COLLISION on duplicate add, got %v", err)
	}

	data, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	var doc map[string][]map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("expected YAML output: %v", err)
	}
	if len(doc["servers"]) != 1 {
		t.Fatalf("expected 1 record, got %d", len(doc["servers"]))
	}

	if err := store.Remove("fs"); err != nil {
		t.Fatalf("failed to remove: %v", err)
	}

	err = store.Remove("fs")
	if !errors.Is(err, errors.CodeServerNotFound) {
		t.Errorf("expected SERVER_NOT_FOUND removing a missing server, got %v", err)
	}
}

func TestServerStore_AddRejectsInvalid(t *testing.T) {
	store := newTestStore(t, "servers.json")

	tests := []struct {
		name string
		spec ServerSpec
	}{
		{"bad name", ServerSpec{Name: "../etc", Command: "npx"}},
		{"empty command", ServerSpec{Name: "fs", Command: " "}},
		{"bad port", ServerSpec{Name: "fs", Command: "npx", Port: 70000}},
		{"bad env key", ServerSpec{Name: "fs", Command: "npx", Env: map[string]string{"A=B": "x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Add(tt.spec)
			if !errors.Is(err, errors.CodeConfigInvalid) {
				t.Errorf("expected CONFIG_INVALID, got %v", err)
			}
		})
	}
}

func TestDefaultServerSpecs(t *testing.T) {
	specs := DefaultServerSpecs()
	if len(specs) != 1 {
		t.Fatalf("expected one default spec, got %d", len(specs))
	}

	spec := specs[0]
	if spec.Name != "filesystem" || spec.Command != "npx" || spec.Port != 8080 || !spec.Enabled {
		t.Errorf("unexpected default spec %+v", spec)
	}
	if err := spec.Validate(); err != nil {
		t.Errorf("default spec should validate: %v", err)
	}

	home, err := os.UserHomeDir()
	if err == nil {
		found := false
		for _, arg := range spec.Args {
			if arg == home {
				found = true
			}
		}
		if !found {
			t.Errorf("expected home directory %s among args %v", home, spec.Args)
		}
	}
}

func TestFindSpec(t *testing.T) {
	specs := []ServerSpec{{Name: "a"}, {Name: "b"}}

	if spec, ok := FindSpec(specs, "b"); !ok || spec.Name != "b" {
		t.Errorf("expected to find b, got %+v %v", spec, ok)
	}
	if _, ok := FindSpec(specs, "c"); ok {
		t.Error("expected c to be missing")
	}
}
