package groundtruth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Store reads and writes the ground-truth JSON document. Loads are cached
// against the file's mtime. A missing or unreadable file degrades to
// "unavailable" rather than an error; the dashboard then reports tracked
// costs only.
type Store struct {
	path string
	log  zerolog.Logger

	mu       sync.Mutex
	cached   *Data
	cachedAt time.Time

	// badVersion is the mtime of a file version that failed to parse, so
	// the warning fires once per version instead of on every load.
	badVersion time.Time
}

// NewStore returns a ground-truth store over the given JSON path.
func NewStore(path string, log zerolog.Logger) *Store {
	return &Store{path: path, log: log.With().Str("component", "groundtruth").Logger()}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Load returns the ground-truth document, or ok=false when none is
// available. A parse failure is logged once per file version and treated
// as unavailable.
func (s *Store) Load() (*Data, bool) {
	fi, err := os.Stat(s.path)
	if err != nil {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && fi.ModTime().Equal(s.cachedAt) {
		return s.cached, true
	}
	if fi.ModTime().Equal(s.badVersion) {
		return nil, false
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, false
	}
	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("unreadable ground truth, serving tracked costs only")
		s.cached = nil
		s.badVersion = fi.ModTime()
		return nil, false
	}
	s.cached = &d
	s.cachedAt = fi.ModTime()
	s.badVersion = time.Time{}
	return &d, true
}

// Save writes the document atomically and refreshes the cache.
func (s *Store) Save(d *Data) error {
	raw, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ground truth: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create ground truth dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write ground truth: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace ground truth: %w", err)
	}
	s.cached = nil
	s.badVersion = time.Time{}
	return nil
}
