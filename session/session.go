// Package session holds the conversation log for agent queries and persists
// it to disk so sessions can be resumed.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gaialab/gaia/config"
)

// Roles used in conversation entries.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Entry is one append-only conversation record. Tool results and performance
// stats are stored as system/tool entries with structured metadata.
type Entry struct {
	Role    string         `json:"role"`
	Content string         `json:"content"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Session is a named, persisted conversation.
type Session struct {
	Name    string  `json:"name"`
	Entries []Entry `json:"entries"`
	path    string
}

// New creates a fresh session persisted under .gaia/sessions.
func New(name string) (*Session, error) {
	path, err := sessionPath(name)
	if err != nil {
		return nil, err
	}
	return &Session{Name: name, Entries: []Entry{}, path: path}, nil
}

// Load reads an existing session from disk.
func Load(name string) (*Session, error) {
	path, err := sessionPath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read session file %s: %w", path, err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("could not parse session file %s: %w", path, err)
	}
	s.path = path
	return &s, nil
}

// Save writes the current session state to disk.
func (s *Session) Save() error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}
	return os.WriteFile(s.path, data, 0644)
}

// Append adds an entry to the log.
func (s *Session) Append(e Entry) {
	s.Entries = append(s.Entries, e)
}

// AppendText adds a plain role/content entry.
func (s *Session) AppendText(role, content string) {
	s.Entries = append(s.Entries, Entry{Role: role, Content: content})
}

func sessionPath(name string) (string, error) {
	dir := filepath.Join(config.Dir, "sessions")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("could not create session directory: %w", err)
	}
	return filepath.Join(dir, name+".json"), nil
}
