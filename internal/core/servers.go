package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Fuabioo/toolhost/internal/errors"
	"github.com/Fuabioo/toolhost/internal/security"
	"gopkg.in/yaml.v3"
)

// DefaultLockTimeout bounds how long store operations wait for the file lock.
const DefaultLockTimeout = 5 * time.Second

// requiredFields must be present on every server record.
var requiredFields = []string{"name", "command", "args", "port", "enabled"}

var knownFields = map[string]bool{
	"name": true, "command": true, "args": true, "port": true, "enabled": true,
	"env": true, "cwd": true, "type": true, "description": true,
}

// ServerSpec describes how to launch one tool server.
type ServerSpec struct {
	Name        string            `json:"name" yaml:"name"`
	Command     string            `json:"command" yaml:"command"`
	Args        []string          `json:"args" yaml:"args"`
	Port        int               `json:"port" yaml:"port"`
	Enabled     bool              `json:"enabled" yaml:"enabled"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Cwd         string            `json:"cwd,omitempty" yaml:"cwd,omitempty"`
	Type        string            `json:"type,omitempty" yaml:"type,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`

	// Extra holds record fields toolhost does not interpret. They are kept so
	// saving a loaded record does not lose them.
	Extra map[string]any `json:"-" yaml:"-"`
}

// Validate checks the fields a spec must carry before it can be stored or
// launched.
func (s ServerSpec) Validate() error {
	if err := security.ValidateServerName(s.Name); err != nil {
		return errors.ConfigInvalid(err.Error())
	}
	if err := security.ValidateCommand(s.Command); err != nil {
		return errors.ConfigInvalid(fmt.Sprintf("server %q: %v", s.Name, err))
	}
	if err := security.ValidateArgs(s.Args); err != nil {
		return errors.ConfigInvalid(fmt.Sprintf("server %q: %v", s.Name, err))
	}
	for key := range s.Env {
		if err := security.ValidateEnvKey(key); err != nil {
			return errors.ConfigInvalid(fmt.Sprintf("server %q: %v", s.Name, err))
		}
	}
	if s.Port < 0 || s.Port > 65535 {
		return errors.ConfigInvalid(fmt.Sprintf("server %q: port %d out of range", s.Name, s.Port))
	}
	return nil
}

// Note explains why a server record was dropped during load.
type Note struct {
	// Index is the record's position in the file.
	Index int `json:"index"`
	// Name is the record's name when it had a usable one.
	Name   string `json:"name,omitempty"`
	Reason string `json:"reason"`
}

func (n Note) String() string {
	if n.Name != "" {
		return fmt.Sprintf("server record %d (%q): %s; skipped", n.Index, n.Name, n.Reason)
	}
	return fmt.Sprintf("server record %d: %s; skipped", n.Index, n.Reason)
}

// LoadResult is what ServerStore.Load produced.
type LoadResult struct {
	Specs []ServerSpec
	// Notes describes every record that was dropped and why.
	Notes []Note
	// Synthesized is true when no valid record existed and the default
	// configuration was written in its place.
	Synthesized bool
}

// ServerStore reads and writes the server records file. Records are kept in
// file order.
type ServerStore struct {
	path        string
	lockTimeout time.Duration
	defaults    func() []ServerSpec

	// beforeSynthesize runs between the shared read that found no records
	// and the exclusive re-read. Tests use it to race a writer.
	beforeSynthesize func()
}

// NewServerStore returns a store backed by path. The format follows the
// extension: .yaml/.yml use YAML, anything else JSON.
func NewServerStore(path string) *ServerStore {
	return &ServerStore{
		path:        path,
		lockTimeout: DefaultLockTimeout,
		defaults:    DefaultServerSpecs,
	}
}

// Path returns the records file path.
func (s *ServerStore) Path() string {
	return s.path
}

// Load reads the records file and validates every record. Invalid records are
// dropped and described in the result's notes. When no record survives, the
// default configuration is synthesized and persisted.
func (s *ServerStore) Load() (*LoadResult, error) {
	lock, err := s.lock(Shared)
	if err != nil {
		return nil, err
	}
	specs, notes, err := s.read()
	lock.Release()
	if err != nil {
		return nil, err
	}
	if len(specs) > 0 {
		return &LoadResult{Specs: specs, Notes: notes}, nil
	}

	if s.beforeSynthesize != nil {
		s.beforeSynthesize()
	}

	// Another process may have written records since the shared read.
	lock, err = s.lock(Exclusive)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	specs, notes, err = s.read()
	if err != nil {
		return nil, err
	}
	result := &LoadResult{Specs: specs, Notes: notes}
	if len(specs) > 0 {
		return result, nil
	}

	result.Specs = s.defaults()
	result.Synthesized = true
	if err := s.write(result.Specs); err != nil {
		return nil, fmt.Errorf("failed to persist default configuration: %w", err)
	}
	return result, nil
}

// Save replaces the records file with specs.
func (s *ServerStore) Save(specs []ServerSpec) error {
	lock, err := s.lock(Exclusive)
	if err != nil {
		return err
	}
	defer lock.Release()

	return s.write(specs)
}

// Add appends spec to the records file. The name must not already exist.
func (s *ServerStore) Add(spec ServerSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	lock, err := s.lock(Exclusive)
	if err != nil {
		return err
	}
	defer lock.Release()

	specs, _, err := s.read()
	if err != nil {
		return err
	}

	for _, existing := range specs {
		if existing.Name == spec.Name {
			return errors.NameCollision(spec.Name)
		}
	}

	return s.write(append(specs, spec))
}

// Remove deletes the record named name.
func (s *ServerStore) Remove(name string) error {
	lock, err := s.lock(Exclusive)
	if err != nil {
		return err
	}
	defer lock.Release()

	specs, _, err := s.read()
	if err != nil {
		return err
	}

	kept := specs[:0]
	found := false
	for _, spec := range specs {
		if spec.Name == name {
			found = true
			continue
		}
		kept = append(kept, spec)
	}
	if !found {
		return errors.ServerNotFound(name)
	}

	return s.write(kept)
}

func (s *ServerStore) lock(mode LockMode) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	return Acquire(LockPath(s.path), mode, s.lockTimeout)
}

func (s *ServerStore) isYAML() bool {
	ext := strings.ToLower(filepath.Ext(s.path))
	return ext == ".yaml" || ext == ".yml"
}

func (s *ServerStore) read() ([]ServerSpec, []Note, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil, nil
	}

	records, err := decodeRecords(data, s.isYAML())
	if err != nil {
		return nil, nil, errors.ConfigInvalid(fmt.Sprintf("%s: %v", filepath.Base(s.path), err))
	}

	specs, notes := parseRecords(records)
	return specs, notes, nil
}

func (s *ServerStore) write(specs []ServerSpec) error {
	records := make([]map[string]any, 0, len(specs))
	for _, spec := range specs {
		records = append(records, specToRecord(spec))
	}
	doc := map[string]any{"servers": records}

	var (
		data []byte
		err  error
	)
	if s.isYAML() {
		data, err = yaml.Marshal(doc)
	} else {
		data, err = json.MarshalIndent(doc, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("failed to encode server records: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write server records: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace server records: %w", err)
	}
	return nil
}

// decodeRecords accepts either {"servers": [...]} or a bare list of records.
func decodeRecords(data []byte, isYAML bool) ([]any, error) {
	var doc any
	if isYAML {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	} else {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	}

	switch v := doc.(type) {
	case []any:
		return v, nil
	case map[string]any:
		servers, ok := v["servers"]
		if !ok {
			return nil, fmt.Errorf("missing top-level \"servers\" list")
		}
		if servers == nil {
			return nil, nil
		}
		list, ok := servers.([]any)
		if !ok {
			return nil, fmt.Errorf("\"servers\" must be a list")
		}
		return list, nil
	default:
		return nil, fmt.Errorf("expected a list of servers")
	}
}

func parseRecords(records []any) ([]ServerSpec, []Note) {
	var (
		specs []ServerSpec
		notes []Note
	)
	seen := make(map[string]bool)

	for i, raw := range records {
		record, ok := raw.(map[string]any)
		if !ok {
			notes = append(notes, Note{Index: i, Reason: "not an object"})
			continue
		}
		name, _ := record["name"].(string)

		spec, err := recordToSpec(record)
		if err != nil {
			notes = append(notes, Note{Index: i, Name: name, Reason: err.Error()})
			continue
		}

		if seen[spec.Name] {
			notes = append(notes, Note{Index: i, Name: spec.Name, Reason: "duplicate server name"})
			continue
		}
		seen[spec.Name] = true
		specs = append(specs, spec)
	}

	return specs, notes
}

func recordToSpec(record map[string]any) (ServerSpec, error) {
	for _, field := range requiredFields {
		if _, ok := record[field]; !ok {
			return ServerSpec{}, fmt.Errorf("missing required field %q", field)
		}
	}

	known := make(map[string]any, len(record))
	extra := make(map[string]any)
	for k, v := range record {
		if knownFields[k] {
			known[k] = v
		} else {
			extra[k] = v
		}
	}

	// Round-trip through JSON so YAML and JSON records share one decoder.
	data, err := json.Marshal(known)
	if err != nil {
		return ServerSpec{}, fmt.Errorf("unsupported field value: %w", err)
	}
	var spec ServerSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return ServerSpec{}, fmt.Errorf("invalid field type: %w", err)
	}
	if spec.Args == nil {
		spec.Args = []string{}
	}
	if len(extra) > 0 {
		spec.Extra = extra
	}

	if err := spec.Validate(); err != nil {
		return ServerSpec{}, err
	}
	return spec, nil
}

func specToRecord(spec ServerSpec) map[string]any {
	record := make(map[string]any, len(spec.Extra)+9)
	for k, v := range spec.Extra {
		record[k] = v
	}

	args := spec.Args
	if args == nil {
		args = []string{}
	}
	record["name"] = spec.Name
	record["command"] = spec.Command
	record["args"] = args
	record["port"] = spec.Port
	record["enabled"] = spec.Enabled
	if len(spec.Env) > 0 {
		record["env"] = spec.Env
	}
	if spec.Cwd != "" {
		record["cwd"] = spec.Cwd
	}
	if spec.Type != "" {
		record["type"] = spec.Type
	}
	if spec.Description != "" {
		record["description"] = spec.Description
	}
	return record
}

// DefaultServerSpecs returns the configuration synthesized when no valid
// record exists: a filesystem server over the user's home and the current
// directory.
func DefaultServerSpecs() []ServerSpec {
	args := []string{"-y", "@modelcontextprotocol/server-filesystem"}
	roots := make(map[string]bool)
	if home, err := os.UserHomeDir(); err == nil {
		roots[home] = true
	}
	if cwd, err := os.Getwd(); err == nil {
		roots[cwd] = true
	}
	dirs := make([]string, 0, len(roots))
	for dir := range roots {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	args = append(args, dirs...)

	return []ServerSpec{{
		Name:        "filesystem",
		Command:     "npx",
		Args:        args,
		Port:        8080,
		Enabled:     true,
		Type:        "stdio",
		Description: "Read and write files under the home and working directories",
	}}
}

// FindSpec returns the spec named name.
func FindSpec(specs []ServerSpec, name string) (ServerSpec, bool) {
	for _, spec := range specs {
		if spec.Name == name {
			return spec, true
		}
	}
	return ServerSpec{}, false
}
