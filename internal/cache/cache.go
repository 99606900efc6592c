// Package cache provides the persistent feature cache: a mapping from item
// path and modification fingerprint to previously computed feature vectors.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Entry is the cached state for one item. Fingerprint is the file's
// modification time in nanoseconds; Features holds zero or more vectors
// (zero when the item contained nothing to encode, e.g. no faces).
type Entry struct {
	Fingerprint int64       `json:"mtime_ns"`
	Features    [][]float32 `json:"features"`
}

// Store is a feature cache backed by a single JSON document that is rewritten
// wholesale on Persist. It is safe for concurrent readers and one writer
// within a process; cross-process locking is not provided.
type Store struct {
	path    string
	mu      sync.RWMutex
	entries map[string]Entry
}

// Open loads the cache at path. A missing or corrupt backing file yields an
// empty cache, never an error: the cache is always safe to discard and rebuild.
func Open(path string) *Store {
	s := &Store{path: path, entries: make(map[string]Entry)}
	data, err := os.ReadFile(path)
	if err != nil {
		return s
	}
	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err != nil || entries == nil {
		return s
	}
	s.entries = entries
	return s
}

// Get returns the cached entry for path if present.
func (s *Store) Get(path string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[path]
	return e, ok
}

// Put records features for path under the given fingerprint, replacing any
// previous entry wholesale. Not persisted until Persist is called.
func (s *Store) Put(path string, fingerprint int64, features [][]float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[path] = Entry{Fingerprint: fingerprint, Features: features}
}

// Evict removes the entry for path if present.
func (s *Store) Evict(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, path)
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Snapshot returns a copy of the full mapping.
func (s *Store) Snapshot() map[string]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Entry, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

// PruneUnder removes entries whose path lies under root but is absent from
// seen, and returns how many were removed. A scan calls this with the set of
// paths it enumerated so entries for deleted or renamed files do not
// accumulate; entries outside root are untouched.
func (s *Store) PruneUnder(root string, seen map[string]bool) int {
	prefix := strings.TrimSuffix(filepath.Clean(root), string(filepath.Separator)) + string(filepath.Separator)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for path := range s.entries {
		if strings.HasPrefix(path, prefix) && !seen[path] {
			delete(s.entries, path)
			removed++
		}
	}
	return removed
}

// Persist rewrites the backing file wholesale. The document is written to a
// temp file and renamed into place, so a crash mid-write leaves the previous
// version intact. Parent directories are created if needed.
func (s *Store) Persist() error {
	s.mu.RLock()
	data, err := json.Marshal(s.entries)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create cache dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace cache: %w", err)
	}
	return nil
}
