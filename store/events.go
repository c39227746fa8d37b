// Package store persists cost events as newline-delimited JSON, one event
// per line. The file is the source of truth; everything else (snapshots,
// exports, broadcasts) is derived from it.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/costpilot/costpilot/domain/event"
)

// Store reads and writes the NDJSON event file. Writes are serialized; the
// parsed form is cached and revalidated against the file's mtime so hot
// read paths do not reparse an unchanged file.
type Store struct {
	path string
	log  zerolog.Logger

	// demoFallback serves generated sample events while the real file does
	// not exist yet, so a fresh install renders a populated dashboard.
	demoFallback bool

	mu sync.Mutex // serializes writes and cache fills

	cached    []event.Event
	malformed int
	cachedAt  time.Time
	hasCache  bool
}

// New returns a store over the given NDJSON path.
func New(path string, demoFallback bool, log zerolog.Logger) *Store {
	return &Store{
		path:         path,
		demoFallback: demoFallback,
		log:          log.With().Str("component", "store").Logger(),
	}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// ModTime returns the event file's modification time, or the zero time
// when the file does not exist. Used as the snapshot cache validity key.
func (s *Store) ModTime() time.Time {
	fi, err := os.Stat(s.path)
	if err != nil {
		return time.Time{}
	}
	return fi.ModTime()
}

// Load returns all events plus the count of malformed lines skipped while
// parsing. Results come from the mtime-validated cache when the file is
// unchanged. With the demo fallback enabled, an empty store (missing file,
// empty file, or nothing parseable) serves generated sample events instead.
// The returned slice is a copy and safe to mutate.
func (s *Store) Load() ([]event.Event, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events, malformed, err := s.loadLocked()
	if err != nil {
		return nil, 0, err
	}
	if len(events) == 0 && s.demoFallback {
		// Generated per call, never cached or written as real data.
		return DemoEvents(time.Now()), malformed, nil
	}
	return events, malformed, nil
}

// loadLocked reads the real file contents with s.mu held. The demo fallback
// is applied only in Load; writers must never see demo data.
func (s *Store) loadLocked() ([]event.Event, int, error) {
	fi, err := os.Stat(s.path)
	if os.IsNotExist(err) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("stat event file: %w", err)
	}

	if s.hasCache && fi.ModTime().Equal(s.cachedAt) {
		return append([]event.Event(nil), s.cached...), s.malformed, nil
	}

	events, malformed, err := parseFile(s.path)
	if err != nil {
		return nil, 0, err
	}
	if malformed > 0 {
		s.log.Warn().Int("malformed", malformed).Msg("skipped unparseable event lines")
	}

	s.cached = events
	s.malformed = malformed
	s.cachedAt = fi.ModTime()
	s.hasCache = true
	return append([]event.Event(nil), events...), malformed, nil
}

func parseFile(path string) ([]event.Event, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open event file: %w", err)
	}
	defer f.Close()

	var (
		events    []event.Event
		malformed int
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e event.Event
		if err := json.Unmarshal([]byte(line), &e); err != nil || e.TS == 0 {
			malformed++
			continue
		}
		events = append(events, event.WithIdentity(e))
	}
	if err := sc.Err(); err != nil {
		return nil, 0, fmt.Errorf("read event file: %w", err)
	}
	return events, malformed, nil
}

// Append writes one event to the end of the file, assigning its identity
// hash when absent.
func (s *Store) Append(e event.Event) (event.Event, error) {
	e = event.WithIdentity(e)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return event.Event{}, fmt.Errorf("create data dir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return event.Event{}, fmt.Errorf("open event file: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(e)
	if err != nil {
		return event.Event{}, fmt.Errorf("encode event: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return event.Event{}, fmt.Errorf("append event: %w", err)
	}
	s.hasCache = false
	return e, nil
}

// ImportResult summarizes a batch import.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// Import appends a batch of events. With dedup enabled, events whose
// identity hash already exists in the file are skipped; a second import of
// the same batch is a no-op.
func (s *Store) Import(batch []event.Event, dedup bool) (ImportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := map[string]struct{}{}
	if dedup {
		events, _, err := s.loadLocked()
		if err != nil {
			return ImportResult{}, err
		}
		for _, e := range events {
			existing[e.ID] = struct{}{}
			existing[event.Identity(e)] = struct{}{}
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return ImportResult{}, fmt.Errorf("create data dir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return ImportResult{}, fmt.Errorf("open event file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	var res ImportResult
	for _, e := range batch {
		e = event.WithIdentity(e)
		if dedup {
			if _, dup := existing[e.ID]; dup {
				res.Skipped++
				continue
			}
			existing[e.ID] = struct{}{}
		}
		line, err := json.Marshal(e)
		if err != nil {
			return res, fmt.Errorf("encode event: %w", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return res, fmt.Errorf("append event: %w", err)
		}
		res.Imported++
	}
	if err := w.Flush(); err != nil {
		return res, fmt.Errorf("flush imports: %w", err)
	}
	s.hasCache = false
	return res, nil
}

// RenameTask rewrites every event carrying the old task name. Identity
// hashes assigned at write time are preserved, so dedup keys survive the
// rename. Returns the number of events touched.
func (s *Store) RenameTask(oldName, newName string) (int, error) {
	return s.rewrite(func(e *event.Event) bool {
		if e.Task != oldName {
			return false
		}
		e.Task = newName
		return true
	})
}

// RenameEvent rewrites the task of the single event with the given id.
func (s *Store) RenameEvent(id, newName string) (int, error) {
	return s.rewrite(func(e *event.Event) bool {
		if e.ID != id {
			return false
		}
		e.Task = newName
		return true
	})
}

// rewrite loads the file, applies fn to each event, and atomically replaces
// the file when anything changed. The lock is held across the whole
// read-modify-write, so a concurrent Append cannot land between the read
// and the replacement and be lost.
func (s *Store) rewrite(fn func(*event.Event) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events, _, err := s.loadLocked()
	if err != nil {
		return 0, err
	}

	changed := 0
	for i := range events {
		if fn(&events[i]) {
			changed++
		}
	}
	if changed == 0 {
		return 0, nil
	}

	if err := writeAll(s.path, events); err != nil {
		return 0, err
	}
	s.hasCache = false
	return changed, nil
}

func writeAll(path string, events []event.Event) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp event file: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, e := range events {
		line, err := json.Marshal(e)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("encode event: %w", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("write event: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush event file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp event file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace event file: %w", err)
	}
	return nil
}

// Archive moves events older than the cutoff into a dated archive file next
// to the live one and rewrites the live file without them. Returns the
// number archived and the archive path ("" when nothing moved).
func (s *Store) Archive(olderThan time.Time) (int, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events, _, err := s.loadLocked()
	if err != nil {
		return 0, "", err
	}

	cutoff := olderThan.Unix()
	var keep, old []event.Event
	for _, e := range events {
		if e.TS < cutoff {
			old = append(old, e)
		} else {
			keep = append(keep, e)
		}
	}
	if len(old) == 0 {
		return 0, "", nil
	}

	dir := filepath.Dir(s.path)
	base := strings.TrimSuffix(filepath.Base(s.path), filepath.Ext(s.path))
	archivePath := filepath.Join(dir, fmt.Sprintf("%s-archive-%s.ndjson", base, time.Now().Format("20060102")))

	af, err := os.OpenFile(archivePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, "", fmt.Errorf("open archive file: %w", err)
	}
	w := bufio.NewWriter(af)
	for _, e := range old {
		line, err := json.Marshal(e)
		if err != nil {
			af.Close()
			return 0, "", fmt.Errorf("encode archive event: %w", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			af.Close()
			return 0, "", fmt.Errorf("write archive event: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		af.Close()
		return 0, "", fmt.Errorf("flush archive file: %w", err)
	}
	if err := af.Close(); err != nil {
		return 0, "", fmt.Errorf("close archive file: %w", err)
	}

	if err := writeAll(s.path, keep); err != nil {
		return 0, "", err
	}
	s.hasCache = false
	s.log.Info().Int("archived", len(old)).Str("archive", archivePath).Msg("archived old events")
	return len(old), archivePath, nil
}

// Clear backs up the current file and truncates it. Returns the backup
// path, or "" when there was nothing to back up.
func (s *Store) Clear() (string, error) {
	backup, err := s.Backup()
	if err != nil && !os.IsNotExist(err) {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeAll(s.path, nil); err != nil {
		return "", err
	}
	s.hasCache = false
	return backup, nil
}

// Backup copies the event file into the backups directory with a timestamped
// name and returns the backup path.
func (s *Store) Backup() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, err := os.Open(s.path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dir := filepath.Join(filepath.Dir(s.path), "backups")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	name := fmt.Sprintf("events-%s.ndjson", time.Now().Format("20060102-150405"))
	dstPath := filepath.Join(dir, name)

	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("create backup: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return "", fmt.Errorf("copy backup: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("close backup: %w", err)
	}
	return dstPath, nil
}

// BackupInfo describes one backup file.
type BackupInfo struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mtime"`
}

// ListBackups returns available backups, newest first.
func (s *Store) ListBackups() ([]BackupInfo, error) {
	dir := filepath.Join(filepath.Dir(s.path), "backups")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}

	var backups []BackupInfo
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".ndjson") {
			continue
		}
		fi, err := ent.Info()
		if err != nil {
			continue
		}
		backups = append(backups, BackupInfo{Name: ent.Name(), Size: fi.Size(), ModTime: fi.ModTime()})
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].ModTime.After(backups[j].ModTime) })
	return backups, nil
}

// Restore replaces the live event file with a named backup. The current
// file is backed up first so a restore is itself reversible.
func (s *Store) Restore(name string) error {
	if strings.Contains(name, "/") || strings.Contains(name, "..") {
		return fmt.Errorf("invalid backup name %q", name)
	}
	backupPath := filepath.Join(filepath.Dir(s.path), "backups", name)
	if _, err := os.Stat(backupPath); err != nil {
		return fmt.Errorf("backup %q: %w", name, err)
	}

	if _, err := s.Backup(); err != nil && !os.IsNotExist(err) {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	src, err := os.Open(backupPath)
	if err != nil {
		return fmt.Errorf("open backup: %w", err)
	}
	defer src.Close()

	tmp := s.path + ".tmp"
	dst, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp event file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tmp)
		return fmt.Errorf("copy backup: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp event file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace event file: %w", err)
	}
	s.hasCache = false
	return nil
}
