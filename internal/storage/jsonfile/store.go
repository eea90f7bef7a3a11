// Package jsonfile keeps rubrics in memory and persists the whole set to a
// single JSON file keyed by rubric id after every mutation.
package jsonfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/doc-grader/backend/internal/metrics"
	"github.com/doc-grader/backend/internal/storage/models"
	"github.com/doc-grader/backend/pkg/logger"
)

var (
	ErrNotFound      = errors.New("rubric not found")
	ErrAlreadyExists = errors.New("rubric already exists")
)

// RubricStore is the contract the HTTP layer and the grader depend on.
type RubricStore interface {
	Create(r models.Rubric) (string, error)
	Get(id string) (*models.Rubric, error)
	List() ([]models.Rubric, error)
	Update(id string, r models.Rubric) error
	Delete(id string) error
}

// LoadReport describes what happened when the file was read at startup.
type LoadReport struct {
	Path   string
	Loaded int
	// Reset is true when an existing file could not be read or parsed and
	// the store started empty. The next mutation overwrites that file.
	Reset  bool
	Reason string
}

type rubricMap map[string]models.Rubric

// Store serializes mutations with a mutex and serves reads from an
// immutable snapshot that is swapped only after a successful write.
type Store struct {
	path     string
	mu       sync.Mutex
	snapshot atomic.Pointer[rubricMap]
	report   LoadReport
	now      func() time.Time
}

func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("rubric store path is required")
	}

	s := &Store{path: path, now: time.Now}
	s.load()
	return s, nil
}

func (s *Store) load() {
	s.report = LoadReport{Path: s.path}
	empty := rubricMap{}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.snapshot.Store(&empty)
		metrics.RubricsTotal.Set(0)
		logger.Info("Rubric store initialized empty", zap.String("path", s.path))
		return
	}
	if err != nil {
		s.reset(fmt.Sprintf("read failed: %v", err))
		return
	}

	var loaded rubricMap
	if err := json.Unmarshal(data, &loaded); err != nil {
		s.reset(fmt.Sprintf("parse failed: %v", err))
		return
	}
	if loaded == nil {
		loaded = rubricMap{}
	}
	for id, r := range loaded {
		if r.ID == "" {
			r.ID = id
			loaded[id] = r
		}
	}

	s.snapshot.Store(&loaded)
	s.report.Loaded = len(loaded)
	metrics.RubricsTotal.Set(float64(len(loaded)))

	logger.Info("Rubric store loaded", zap.String("path", s.path), zap.Int("count", len(loaded)))
}

func (s *Store) reset(reason string) {
	empty := rubricMap{}
	s.snapshot.Store(&empty)
	s.report.Reset = true
	s.report.Reason = reason

	metrics.RubricStoreResets.Inc()
	metrics.RubricsTotal.Set(0)

	logger.Warn("rubric store reset",
		zap.String("path", s.path),
		zap.String("reason", reason),
	)
}

func (s *Store) LoadReport() LoadReport {
	return s.report
}

func (s *Store) Create(r models.Rubric) (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := *s.snapshot.Load()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, exists := current[r.ID]; exists {
		return "", fmt.Errorf("%w: %s", ErrAlreadyExists, r.ID)
	}

	now := models.NewTimestamp(s.now().UTC())
	r = r.Clone()
	r.CreatedAt = now
	r.UpdatedAt = now

	next := current.with(r.ID, &r)
	if err := s.commit(next); err != nil {
		return "", err
	}

	logger.Info("Rubric created", zap.String("rubric_id", r.ID), zap.String("name", r.Name))
	return r.ID, nil
}

func (s *Store) Get(id string) (*models.Rubric, error) {
	r, ok := (*s.snapshot.Load())[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := r.Clone()
	return &clone, nil
}

// List returns rubrics ordered by creation time, then id.
func (s *Store) List() ([]models.Rubric, error) {
	current := *s.snapshot.Load()

	out := make([]models.Rubric, 0, len(current))
	for _, r := range current {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt.Time) {
			return out[i].CreatedAt.Before(out[j].CreatedAt.Time)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Update replaces the rubric, keeping its id and original createdAt.
func (s *Store) Update(id string, r models.Rubric) error {
	id = strings.Clone(id)
	if err := r.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := *s.snapshot.Load()
	existing, ok := current[id]
	if !ok {
		return ErrNotFound
	}

	now := models.NewTimestamp(s.now().UTC())
	r = r.Clone()
	r.ID = id
	r.CreatedAt = existing.CreatedAt
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	if err := s.commit(current.with(id, &r)); err != nil {
		return err
	}

	logger.Info("Rubric updated", zap.String("rubric_id", id))
	return nil
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := *s.snapshot.Load()
	if _, ok := current[id]; !ok {
		return ErrNotFound
	}

	if err := s.commit(current.with(id, nil)); err != nil {
		return err
	}

	logger.Info("Rubric deleted", zap.String("rubric_id", id))
	return nil
}

// with copies the map and sets or, when r is nil, removes id.
func (m rubricMap) with(id string, r *models.Rubric) rubricMap {
	next := make(rubricMap, len(m)+1)
	for k, v := range m {
		next[k] = v
	}
	if r == nil {
		delete(next, id)
	} else {
		next[id] = *r
	}
	return next
}

// commit persists next and publishes it. Callers hold s.mu.
func (s *Store) commit(next rubricMap) error {
	if err := s.persist(next); err != nil {
		logger.Error("Failed to persist rubric store", zap.String("path", s.path), zap.Error(err))
		return fmt.Errorf("failed to persist rubrics: %w", err)
	}
	s.snapshot.Store(&next)
	metrics.RubricsTotal.Set(float64(len(next)))
	return nil
}

// persist rewrites the whole file through a temp file and rename.
func (s *Store) persist(m rubricMap) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
