package cache

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStore_GetPut(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "cache.json"))
	if _, ok := s.Get("/a.jpg"); ok {
		t.Fatal("expected miss")
	}
	s.Put("/a.jpg", 42, [][]float32{{1, 2}})
	e, ok := s.Get("/a.jpg")
	if !ok || e.Fingerprint != 42 || len(e.Features) != 1 {
		t.Errorf("Get: got %+v, %v", e, ok)
	}
	// Replacement is wholesale, never a merge.
	s.Put("/a.jpg", 43, nil)
	e, _ = s.Get("/a.jpg")
	if e.Fingerprint != 43 || len(e.Features) != 0 {
		t.Errorf("expected replaced entry, got %+v", e)
	}
}

func TestStore_PersistRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	s := Open(path)
	s.Put("/img/a.jpg", 1, [][]float32{{0.5, 0.5}})
	s.Put("/img/b.jpg", 2, [][]float32{})
	if err := s.Persist(); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	reopened := Open(path)
	if reopened.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", reopened.Len())
	}
	e, ok := reopened.Get("/img/a.jpg")
	if !ok || e.Fingerprint != 1 || e.Features[0][0] != 0.5 {
		t.Errorf("round trip lost entry: %+v, %v", e, ok)
	}
}

func TestStore_CorruptFileSelfHeals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	s := Open(path)
	if s.Len() != 0 {
		t.Errorf("expected empty cache from corrupt file, got %d entries", s.Len())
	}
	s.Put("/a.jpg", 1, nil)
	if err := s.Persist(); err != nil {
		t.Fatalf("Persist after corrupt open: %v", err)
	}
	if Open(path).Len() != 1 {
		t.Error("expected persisted entry after self-heal")
	}
}

func TestStore_PruneUnder(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "cache.json"))
	s.Put("/photos/a.jpg", 1, nil)
	s.Put("/photos/b.jpg", 1, nil)
	s.Put("/other/c.jpg", 1, nil)

	removed := s.PruneUnder("/photos", map[string]bool{"/photos/a.jpg": true})
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, ok := s.Get("/photos/b.jpg"); ok {
		t.Error("expected /photos/b.jpg pruned")
	}
	if _, ok := s.Get("/photos/a.jpg"); !ok {
		t.Error("expected seen entry kept")
	}
	if _, ok := s.Get("/other/c.jpg"); !ok {
		t.Error("expected entry outside root kept")
	}
}

func TestStore_Evict(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "cache.json"))
	s.Put("/a.jpg", 1, nil)
	s.Evict("/a.jpg")
	if _, ok := s.Get("/a.jpg"); ok {
		t.Error("expected eviction")
	}
	s.Evict("/missing.jpg") // no-op
}
