package mcp

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/gaialab/gaia/config"
	"github.com/gaialab/gaia/errors"
)

// storeDocument is the persisted configuration shape.
type storeDocument struct {
	MCPServers map[string]ServerSpec `json:"mcpServers"`
}

// Store persists the name -> launch-spec mapping as a single JSON document.
type Store struct {
	path string
}

// NewStore uses an explicit document path.
func NewStore(path string) *Store { return &Store{path: path} }

// DefaultStore resolves the document location: the project-local file wins
// if it exists, then the user-global one; a fresh store is created
// project-local.
func DefaultStore() *Store {
	project := filepath.Join(config.Dir, "mcp.json")
	if _, err := os.Stat(project); err == nil {
		return &Store{path: project}
	}
	if home, err := os.UserHomeDir(); err == nil {
		global := filepath.Join(home, config.Dir, "mcp.json")
		if _, err := os.Stat(global); err == nil {
			return &Store{path: global}
		}
	}
	return &Store{path: project}
}

// Load reads all persisted server specs. A missing document is an empty
// store, not an error.
func (s *Store) Load() (map[string]ServerSpec, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]ServerSpec{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not read server config %q", s.path)
	}

	var doc storeDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "could not parse server config %q", s.path)
	}
	if doc.MCPServers == nil {
		doc.MCPServers = map[string]ServerSpec{}
	}
	return doc.MCPServers, nil
}

// Save writes the full mapping back to the document.
func (s *Store) Save(servers map[string]ServerSpec) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return errors.Wrapf(err, "could not create config directory")
	}
	data, err := json.MarshalIndent(storeDocument{MCPServers: servers}, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "could not serialize server config")
	}
	return os.WriteFile(s.path, data, 0644)
}
