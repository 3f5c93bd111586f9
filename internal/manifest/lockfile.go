package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Lockfile is the parsed form of toolpin.lock.json.
type Lockfile struct {
	Schema string               `json:"$schema"`
	Tools  map[string]*ToolSpec `json:"tools"`
}

// Load reads and validates a lockfile. Tool names are taken from the map
// keys, which also guarantees their uniqueness.
func Load(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lockfile: %w", err)
	}

	var lf Lockfile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("parse lockfile %s: %w", path, err)
	}

	if lf.Schema == "" {
		lf.Schema = Schema
	} else if lf.Schema != Schema {
		return nil, fmt.Errorf("unsupported lockfile schema %q", lf.Schema)
	}

	if lf.Tools == nil {
		lf.Tools = map[string]*ToolSpec{}
	}

	for name, spec := range lf.Tools {
		spec.Name = name
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("lockfile %s: %w", path, err)
		}
	}

	return &lf, nil
}

// Save writes the lockfile atomically: marshal, write to a temporary
// sibling, rename into place, then sync the directory for durability.
func (l *Lockfile) Save(path string) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal lockfile: %w", err)
	}
	data = append(data, '\n')

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temporary lockfile: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename lockfile: %w", err)
	}

	if dir, err := os.Open(filepath.Dir(path)); err == nil {
		if syncErr := dir.Sync(); syncErr != nil {
			dir.Close()
			return fmt.Errorf("sync lockfile directory: %w", syncErr)
		}
		dir.Close()
	}

	return nil
}

// Specs returns the tool entries sorted by name. This is the canonical
// input order for an orchestration run, so results line up with it.
func (l *Lockfile) Specs() []*ToolSpec {
	names := make([]string, 0, len(l.Tools))
	for name := range l.Tools {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make([]*ToolSpec, 0, len(names))
	for _, name := range names {
		specs = append(specs, l.Tools[name])
	}
	return specs
}
