// Package integration provides end-to-end tests over the full engine wiring.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/mitsuke/internal/cache"
	"github.com/hyperjump/mitsuke/internal/config"
	"github.com/hyperjump/mitsuke/internal/embedding"
	"github.com/hyperjump/mitsuke/internal/models"
	"github.com/hyperjump/mitsuke/internal/registry"
	"github.com/hyperjump/mitsuke/internal/scan"
	"github.com/hyperjump/mitsuke/internal/search"
	"github.com/hyperjump/mitsuke/internal/source"
)

func writeJPEG(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("not a real jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestIntegration_EnrollScanSearch(t *testing.T) {
	dir := t.TempDir()
	store := config.StoreConfig{
		DatabasePath: filepath.Join(dir, "frames.db"),
		CachePath:    filepath.Join(dir, "features.json"),
		RegistryPath: filepath.Join(dir, "people.json"),
	}
	searchCfg := config.SearchConfig{
		DefaultLimit: 20, MaxLimit: 100,
		MinScore: 0.18, ThresholdPct: 50, MaxFaceDistance: 0.6,
		BatchSize: 32, ReportEvery: 20, DedupWindowSec: 60,
	}

	frames, err := source.OpenFrameStore(store.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	defer frames.Close()

	provider := embedding.NewMockProvider(4)
	defer provider.Close()

	people := registry.Open(store.RegistryPath)
	features := cache.Open(store.CachePath)

	engine := search.NewEngine(provider, frames, people, features, store, searchCfg)
	ctx := context.Background()

	// Enrollment: one face in the reference photo.
	photos := t.TempDir()
	refPhoto := writeJPEG(t, photos, "alice.jpg")
	provider.SetFaces(refPhoto, [][]float32{{1, 0, 0, 0}})
	if err := engine.EnrollPerson(ctx, "alice", refPhoto); err != nil {
		t.Fatal(err)
	}

	// Scan directory: one exact match, one stranger, one empty frame.
	scanDir := t.TempDir()
	match := writeJPEG(t, scanDir, "match.jpg")
	stranger := writeJPEG(t, scanDir, "stranger.jpg")
	writeJPEG(t, scanDir, "empty.jpg")
	provider.SetFaces(match, [][]float32{{1, 0, 0, 0}})
	provider.SetFaces(stranger, [][]float32{{0, 1, 0, 0}})

	result, err := engine.ScanForPerson(ctx, scanDir, "alice", search.ScanOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if result.State != scan.StateDone {
		t.Fatalf("scan state = %s, want done", result.State)
	}
	if len(result.Matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(result.Matches))
	}
	if result.Matches[0].ID != match {
		t.Errorf("matched %s, want %s", result.Matches[0].ID, match)
	}
	if result.Progress.Processed != 3 {
		t.Errorf("processed %d items, want 3", result.Progress.Processed)
	}

	// A second scan reuses cached features without re-encoding.
	calls := provider.ImageCalls()
	if _, err := engine.ScanForPerson(ctx, scanDir, "alice", search.ScanOptions{}); err != nil {
		t.Fatal(err)
	}
	if provider.ImageCalls() != calls {
		t.Errorf("second scan re-encoded: %d calls before, %d after", calls, provider.ImageCalls())
	}

	// Scanning for an unknown person fails cleanly.
	if _, err := engine.ScanForPerson(ctx, scanDir, "nobody", search.ScanOptions{}); err == nil {
		t.Fatal("expected error for unknown person")
	}

	// Text search over stored frames.
	queryVec, err := provider.EmbedText(ctx, "a red car")
	if err != nil {
		t.Fatal(err)
	}
	orthogonal := []float32{-queryVec[1], queryVec[0], -queryVec[3], queryVec[2]}
	frameRows := []*models.Frame{
		{ID: "f1", CameraID: "cam-1", Timestamp: "2026-03-01T10:00:00", FramePath: "/frames/f1.jpg", Embedding: queryVec},
		{ID: "f2", CameraID: "cam-1", Timestamp: "2026-03-01T12:00:00", FramePath: "/frames/f2.jpg", Embedding: orthogonal},
	}
	for _, f := range frameRows {
		if err := frames.InsertFrame(ctx, f); err != nil {
			t.Fatal(err)
		}
	}

	resp, err := engine.SearchByText(ctx, &models.TextSearchRequest{Query: "a red car"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 {
		t.Fatalf("got %d results, want 1", resp.Total)
	}
	if resp.Results[0].FrameID != "f1" {
		t.Errorf("top result = %s, want f1", resp.Results[0].FrameID)
	}

	// Status reflects everything built above.
	status, err := engine.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if status.Frames != 2 {
		t.Errorf("status frames = %d, want 2", status.Frames)
	}
	if status.CachedItems != 3 {
		t.Errorf("status cached items = %d, want 3", status.CachedItems)
	}
	if len(status.People) != 1 || status.People[0] != "alice" {
		t.Errorf("status people = %v, want [alice]", status.People)
	}
}
