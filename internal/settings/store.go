package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Store holds the settings loaded from one YAML file.
type Store struct {
	path   string
	logger *zap.Logger

	mu     sync.RWMutex
	values map[string]any
	saved  bool
}

// Open loads the settings file at path. A missing file is not an error;
// the store then reports that nothing has been saved.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{path: path, logger: logger}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the settings file path.
func (s *Store) Path() string { return s.path }

// Load re-reads the settings file.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.mu.Lock()
		s.values, s.saved = nil, false
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}

	values := map[string]any{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("parse settings %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.values, s.saved = values, true
	s.mu.Unlock()
	return nil
}

// Settings returns the saved values over the schema defaults. ok is false
// when no settings file exists.
func (s *Store) Settings() (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.saved {
		return nil, false
	}
	out := Defaults()
	maps.Copy(out, s.values)
	return out, true
}

// Typed decodes the current values into Settings. Defaults apply when
// nothing is saved.
func (s *Store) Typed() (Settings, error) {
	values, ok := s.Settings()
	if !ok {
		values = Defaults()
	}
	return Decode(values)
}

// Decode converts a settings map into Settings.
func Decode(values map[string]any) (Settings, error) {
	var out Settings
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Settings{}, err
	}
	if err := dec.Decode(values); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return out, nil
}

// Save writes values to the settings file, replacing it atomically.
func (s *Store) Save(values map[string]any) error {
	data, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace settings: %w", err)
	}

	s.mu.Lock()
	s.values, s.saved = maps.Clone(values), true
	s.mu.Unlock()
	return nil
}
