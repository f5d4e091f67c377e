// Package history persists finished runs as a JSON file, newest first.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"llmstreambench/internal/bench"
	"llmstreambench/internal/summary"
)

const (
	// DefaultLimit caps the number of stored records.
	DefaultLimit = 100
	// DefaultListLimit is the page size of List when none is given.
	DefaultListLimit = 50

	questionPreview = 50
	modelPreview    = 5
)

// ErrNotFound is returned for unknown record ids.
var ErrNotFound = errors.New("history record not found")

// Entry is what a run contributes to the history.
type Entry struct {
	TestConfig bench.TestConfig `json:"test_config"`
	Summary    []summary.Row    `json:"summary"`
}

// Record is one stored run.
type Record struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	ModelCount int       `json:"model_count"`
	Entry
}

// Item is the list view of a record.
type Item struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	ModelCount int       `json:"model_count"`
	Question   string    `json:"question"`
	Models     []string  `json:"models"`
}

// Store is a JSON file of records guarded by a mutex. Every call reads the
// file so several processes may share it.
type Store struct {
	path  string
	limit int
	now   func() time.Time
	mu    sync.Mutex
}

// Open creates the file (and its directory) when missing.
func Open(path string, limit int) (*Store, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	s := &Store{path: path, limit: limit, now: time.Now}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.save(nil); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add stores e as the newest record and returns its id.
func (s *Store) Add(e Entry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return "", err
	}
	now := s.now()
	id := newID(now)
	for containsID(records, id) {
		now = now.Add(time.Microsecond)
		id = newID(now)
	}

	rec := Record{ID: id, Timestamp: now, ModelCount: len(e.Summary), Entry: e}
	records = append([]Record{rec}, records...)
	if len(records) > s.limit {
		records = records[:s.limit]
	}
	if err := s.save(records); err != nil {
		return "", err
	}
	return id, nil
}

// List returns up to limit records in their short form.
func (s *Store) List(limit int) ([]Item, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	if len(records) > limit {
		records = records[:limit]
	}
	items := make([]Item, 0, len(records))
	for _, r := range records {
		items = append(items, r.Item())
	}
	return items, nil
}

// Get returns the full record.
func (s *Store) Get(id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return Record{}, err
	}
	for _, r := range records {
		if r.ID == id {
			return r, nil
		}
	}
	return Record{}, ErrNotFound
}

// Delete removes one record.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}
	for i, r := range records {
		if r.ID == id {
			return s.save(append(records[:i], records[i+1:]...))
		}
	}
	return ErrNotFound
}

// Clear removes every record.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(nil)
}

// Item returns the list view of r.
func (r Record) Item() Item {
	q := []rune(r.TestConfig.Question)
	question := string(q)
	if len(q) > questionPreview {
		question = string(q[:questionPreview]) + "..."
	}
	models := make([]string, 0, modelPreview)
	for _, row := range r.Summary {
		if len(models) == modelPreview {
			break
		}
		models = append(models, row.Model)
	}
	return Item{
		ID:         r.ID,
		Timestamp:  r.Timestamp,
		ModelCount: r.ModelCount,
		Question:   question,
		Models:     models,
	}
}

func (s *Store) load() ([]Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read history: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode history %s: %w", s.path, err)
	}
	return records, nil
}

func (s *Store) save(records []Record) error {
	if records == nil {
		records = []Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace history: %w", err)
	}
	return nil
}

func newID(t time.Time) string {
	return fmt.Sprintf("%s_%06d", t.Format("20060102_150405"), t.Nanosecond()/1000)
}

func containsID(records []Record, id string) bool {
	for _, r := range records {
		if r.ID == id {
			return true
		}
	}
	return false
}
