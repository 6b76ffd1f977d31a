// Package history records executed queries and commands so they can be
// recalled and re-run. Two stores exist: a local YAML file for standalone
// use and a shared PostgreSQL table for teams that want history across
// machines. Writes go through an async recorder so command latency never
// depends on the store.
package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Entry is one recorded command execution.
type Entry struct {
	ID           int64     `yaml:"-" json:"id,omitempty"`
	Connection   string    `yaml:"connection" json:"connection"`
	Command      string    `yaml:"command" json:"command"`
	Args         []string  `yaml:"args,omitempty" json:"args,omitempty"`
	FullCommand  string    `yaml:"full_command" json:"full_command"`
	Query        string    `yaml:"query,omitempty" json:"query,omitempty"`
	DurationMs   int       `yaml:"duration_ms" json:"duration_ms"`
	Success      bool      `yaml:"success" json:"success"`
	ErrorMessage string    `yaml:"error_message,omitempty" json:"error_message,omitempty"`
	Hostname     string    `yaml:"hostname,omitempty" json:"hostname,omitempty"`
	CreatedAt    time.Time `yaml:"created_at" json:"created_at"`
}

// Store persists history entries.
type Store interface {
	// AppendBatch writes entries in one round trip.
	AppendBatch(ctx context.Context, entries []Entry) error

	// Recent returns the newest entries, newest first, optionally filtered
	// by connection name ("" matches all).
	Recent(ctx context.Context, connection string, limit int) ([]Entry, error)

	// Clear removes all recorded entries.
	Clear(ctx context.Context) error

	// Close releases store resources.
	Close() error
}

// DefaultLimit is the Recent limit applied when the caller passes <= 0.
const DefaultLimit = 20

// maxFileEntries caps the local file store; the oldest entries roll off.
const maxFileEntries = 1000

// FileStore keeps history in a YAML file, newest entries last.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a file store at path, creating parent directories
// as needed.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// DefaultFilePath returns the history file location under the user's
// config directory.
func DefaultFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".twx", "history.yaml"), nil
}

func (s *FileStore) AppendBatch(_ context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load()
	if err != nil {
		return err
	}

	hostname, _ := os.Hostname()
	for _, e := range entries {
		if e.Hostname == "" {
			e.Hostname = hostname
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		e.ErrorMessage = truncate(e.ErrorMessage, 500)
		existing = append(existing, e)
	}

	if len(existing) > maxFileEntries {
		existing = existing[len(existing)-maxFileEntries:]
	}
	return s.save(existing)
}

func (s *FileStore) Recent(_ context.Context, connection string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return nil, err
	}

	var out []Entry
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		if connection != "" && entries[i].Connection != connection {
			continue
		}
		out = append(out, entries[i])
	}
	return out, nil
}

func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) load() ([]Entry, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading history file: %w", err)
	}
	var entries []Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing history file: %w", err)
	}
	return entries, nil
}

func (s *FileStore) save(entries []Entry) error {
	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("writing history file: %w", err)
	}
	return nil
}

// truncate limits a string to maxLen bytes.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
