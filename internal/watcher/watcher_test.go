package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/mitsuke/internal/cache"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func startWatcher(t *testing.T, features *cache.Store, roots ...string) *Watcher {
	t.Helper()
	w := New(features, roots, true, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_EvictsOnWrite(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "frame.jpg")
	if err := os.WriteFile(img, []byte("v1"), 0644); err != nil {
		t.Fatal(err)
	}
	features := cache.Open(filepath.Join(t.TempDir(), "features.json"))
	features.Put(img, 1, [][]float32{{1, 0}})

	startWatcher(t, features, dir)

	if err := os.WriteFile(img, []byte("v2"), 0644); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, 3*time.Second, func() bool {
		_, ok := features.Get(img)
		return !ok
	}) {
		t.Error("changed file was not evicted from the cache")
	}
}

func TestWatcher_EvictsOnRemove(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "frame.png")
	if err := os.WriteFile(img, []byte("v1"), 0644); err != nil {
		t.Fatal(err)
	}
	features := cache.Open(filepath.Join(t.TempDir(), "features.json"))
	features.Put(img, 1, [][]float32{{1, 0}})

	startWatcher(t, features, dir)

	if err := os.Remove(img); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, 3*time.Second, func() bool {
		_, ok := features.Get(img)
		return !ok
	}) {
		t.Error("removed file was not evicted from the cache")
	}
}

func TestWatcher_IgnoresNonImageFiles(t *testing.T) {
	dir := t.TempDir()
	features := cache.Open(filepath.Join(t.TempDir(), "features.json"))
	note := filepath.Join(dir, "notes.txt")
	features.Put(note, 1, [][]float32{{1, 0}})

	startWatcher(t, features, dir)

	if err := os.WriteFile(note, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if _, ok := features.Get(note); !ok {
		t.Error("non-image file should not be evicted")
	}
}

func TestWatcher_AddRemoveDirectories(t *testing.T) {
	features := cache.Open(filepath.Join(t.TempDir(), "features.json"))
	first := t.TempDir()
	second := t.TempDir()

	w := startWatcher(t, features, first)

	if err := w.AddDirectory(second); err != nil {
		t.Fatalf("AddDirectory: %v", err)
	}
	// Adding the same root twice is a no-op.
	if err := w.AddDirectory(second); err != nil {
		t.Fatal(err)
	}
	if got := w.Directories(); len(got) != 2 {
		t.Fatalf("directories = %v, want 2 roots", got)
	}

	img := filepath.Join(second, "new.jpg")
	features.Put(img, 1, [][]float32{{1, 0}})
	if err := os.WriteFile(img, []byte("v1"), 0644); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, 3*time.Second, func() bool {
		_, ok := features.Get(img)
		return !ok
	}) {
		t.Error("file under added root was not evicted")
	}

	if err := w.RemoveDirectory(second); err != nil {
		t.Fatalf("RemoveDirectory: %v", err)
	}
	if got := w.Directories(); len(got) != 1 {
		t.Errorf("directories = %v, want 1 root after removal", got)
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	features := cache.Open(filepath.Join(t.TempDir(), "features.json"))
	w := startWatcher(t, features, t.TempDir())
	w.Stop()
	w.Stop()
}
