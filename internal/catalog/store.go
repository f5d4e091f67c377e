package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.yaml.in/yaml/v4"

	"llmstreambench/internal/errdefs"
)

var (
	// ErrNotFound is returned for unknown model names.
	ErrNotFound = errors.New("model not found")
	// ErrDuplicate is returned when a name is already taken, ignoring case.
	ErrDuplicate = errors.New("model already exists")
)

type document struct {
	Models []Model `yaml:"models"`
}

// Store is a YAML file of models guarded by a mutex.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a store for path. The file is created on first write.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// List returns every model with a non-blank name in file order.
func (s *Store) List() ([]Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Get returns the model called name.
func (s *Store) Get(name string) (Model, error) {
	models, err := s.List()
	if err != nil {
		return Model{}, err
	}
	for _, m := range models {
		if m.Name == name {
			return m, nil
		}
	}
	return Model{}, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Add validates and appends m. Every field is required after trimming.
func (s *Store) Add(m Model) (Model, error) {
	m.Name = strings.TrimSpace(m.Name)
	m.Endpoint = strings.TrimSpace(m.Endpoint)
	m.APIKey = strings.TrimSpace(m.APIKey)
	m.APIVersion = strings.TrimSpace(m.APIVersion)
	required := []struct{ field, value string }{
		{"name", m.Name}, {"endpoint", m.Endpoint}, {"api_key", m.APIKey}, {"api_version", m.APIVersion},
	}
	for _, r := range required {
		if r.value == "" {
			return Model{}, &errdefs.ValidationError{Field: r.field, Reason: "is required"}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	models, err := s.load()
	if err != nil {
		return Model{}, err
	}
	if contains(models, m.Name) {
		return Model{}, fmt.Errorf("%w: %s", ErrDuplicate, m.Name)
	}
	m.SupportedParams = nil
	if err := s.save(append(models, m)); err != nil {
		return Model{}, err
	}
	return m, nil
}

// Seed adds the models whose names are not present yet and returns how
// many were added. Seeded models may lack a key or version.
func (s *Store) Seed(seed []Model) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	models, err := s.load()
	if err != nil {
		return 0, err
	}
	added := 0
	for _, m := range seed {
		if strings.TrimSpace(m.Name) == "" || contains(models, m.Name) {
			continue
		}
		if m.APIVersion == "" {
			m.APIVersion = DefaultAPIVersion
		}
		models = append(models, m)
		added++
	}
	if added == 0 {
		return 0, nil
	}
	return added, s.save(models)
}

func contains(models []Model, name string) bool {
	for _, m := range models {
		if strings.EqualFold(strings.TrimSpace(m.Name), name) {
			return true
		}
	}
	return false
}

func (s *Store) load() ([]Model, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read model catalog: %w", err)
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode model catalog %s: %w", s.path, err)
	}
	models := doc.Models[:0]
	for _, m := range doc.Models {
		m.Name = strings.TrimSpace(m.Name)
		if m.Name == "" {
			continue
		}
		models = append(models, m)
	}
	return models, nil
}

func (s *Store) save(models []Model) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create catalog directory: %w", err)
	}
	data, err := yaml.Marshal(document{Models: models})
	if err != nil {
		return fmt.Errorf("encode model catalog: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write model catalog: %w", err)
	}
	return nil
}
