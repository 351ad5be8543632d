package store

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/carlosprados/keeper/internal/capability"
	"github.com/carlosprados/keeper/internal/definition"
	"github.com/carlosprados/keeper/internal/validate"
	toml "github.com/pelletier/go-toml/v2"
)

const (
	serversFile  = "servers.toml"
	settingsFile = "settings.toml"
)

// Settings are user preferences persisted next to the definitions.
type Settings struct {
	MetricsInterval string            `toml:"metrics_interval,omitempty" json:"metrics_interval,omitempty"`
	StopStrategy    string            `toml:"stop_strategy,omitempty" json:"stop_strategy,omitempty"`
	RuntimePath     string            `toml:"runtime_path,omitempty" json:"runtime_path,omitempty"`
	RuntimeGrant    *capability.Token `toml:"runtime_grant,omitempty" json:"runtime_grant,omitempty"`
	LastStarted     []string          `toml:"last_started,omitempty" json:"last_started,omitempty"`
}

// FileStore manages servers.toml and settings.toml in a local directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) Dir() string { return s.dir }

// LoadDefinitions returns the stored definitions; none when the file is absent.
func (s *FileStore) LoadDefinitions() ([]definition.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return definition.Load(filepath.Join(s.dir, serversFile))
}

func (s *FileStore) SaveDefinitions(defs []definition.Definition) error {
	b, err := definition.Encode(defs)
	if err != nil {
		return fmt.Errorf("encode definitions: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(serversFile, b)
}

func (s *FileStore) LoadSettings() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadSettings()
}

func (s *FileStore) SaveSettings(st Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveSettings(st)
}

// UpdateSettings applies fn to the stored settings and saves the result.
func (s *FileStore) UpdateSettings(fn func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.loadSettings()
	if err != nil {
		return err
	}
	fn(&st)
	return s.saveSettings(st)
}

// MarkStarted records id as the most recently started server.
func (s *FileStore) MarkStarted(id string) error {
	return s.UpdateSettings(func(st *Settings) {
		st.LastStarted = slices.DeleteFunc(st.LastStarted, func(v string) bool { return v == id })
		st.LastStarted = append(st.LastStarted, id)
	})
}

func (s *FileStore) loadSettings() (Settings, error) {
	var st Settings
	b, err := os.ReadFile(filepath.Join(s.dir, settingsFile))
	if os.IsNotExist(err) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	var generic map[string]any
	if err := toml.Unmarshal(b, &generic); err != nil {
		return st, fmt.Errorf("parse settings: %w", err)
	}
	doc, err := validate.Normalize(generic)
	if err != nil {
		return st, err
	}
	if err := validate.Settings(doc); err != nil {
		return st, fmt.Errorf("invalid settings: %w", err)
	}
	if err := toml.Unmarshal(b, &st); err != nil {
		return st, fmt.Errorf("parse settings: %w", err)
	}
	return st, nil
}

func (s *FileStore) saveSettings(st Settings) error {
	b, err := toml.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return s.write(settingsFile, b)
}

// write replaces name atomically.
func (s *FileStore) write(name string, b []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to save %s: %w", name, err)
	}
	return nil
}
