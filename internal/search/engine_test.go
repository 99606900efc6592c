package search

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/mitsuke/internal/cache"
	"github.com/hyperjump/mitsuke/internal/config"
	"github.com/hyperjump/mitsuke/internal/embedding"
	"github.com/hyperjump/mitsuke/internal/models"
	"github.com/hyperjump/mitsuke/internal/registry"
	"github.com/hyperjump/mitsuke/internal/scan"
	"github.com/hyperjump/mitsuke/internal/source"
)

func testSearchConfig() config.SearchConfig {
	return config.SearchConfig{
		DefaultLimit:    20,
		MaxLimit:        100,
		MinScore:        0.18,
		ThresholdPct:    50,
		MaxFaceDistance: 0.6,
		BatchSize:       32,
		ReportEvery:     20,
		DedupWindowSec:  60,
	}
}

func newTestEngine(t *testing.T) (*Engine, *embedding.MockProvider, *source.FrameStore) {
	t.Helper()
	dir := t.TempDir()
	frames, err := source.OpenFrameStore(filepath.Join(dir, "frames.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = frames.Close() })
	provider := embedding.NewMockProvider(2)
	people := registry.Open(filepath.Join(dir, "people.json"))
	features := cache.Open(filepath.Join(dir, "features.json"))
	store := config.StoreConfig{
		DatabasePath: filepath.Join(dir, "frames.db"),
		CachePath:    filepath.Join(dir, "features.json"),
		RegistryPath: filepath.Join(dir, "people.json"),
	}
	return NewEngine(provider, frames, people, features, store, testSearchConfig()), provider, frames
}

// orthogonal returns a unit vector perpendicular to the 2-dim v.
func orthogonal(v []float32) []float32 {
	return []float32{-v[1], v[0]}
}

func insertTestFrame(t *testing.T, frames *source.FrameStore, id, camera, ts string, emb []float32) {
	t.Helper()
	err := frames.InsertFrame(context.Background(), &models.Frame{
		ID: id, CameraID: camera, Timestamp: ts,
		FramePath: "frames/" + id + ".jpg", SourceVideo: "videos/" + id + ".mp4",
		Embedding: emb,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestSearchByText_RanksAndFilters(t *testing.T) {
	e, provider, frames := newTestEngine(t)
	ctx := context.Background()

	queryVec, err := provider.EmbedText(ctx, "red car")
	if err != nil {
		t.Fatal(err)
	}
	insertTestFrame(t, frames, "hit", "front", "2026-03-01T10:00:00", queryVec)
	insertTestFrame(t, frames, "miss", "front", "2026-03-01T12:00:00", orthogonal(queryVec))

	resp, err := e.SearchByText(ctx, &models.TextSearchRequest{Query: "red car"})
	if err != nil {
		t.Fatalf("SearchByText: %v", err)
	}
	if resp.Total != 1 || len(resp.Results) != 1 {
		t.Fatalf("got %d results, want 1 (orthogonal frame below min score)", len(resp.Results))
	}
	r := resp.Results[0]
	if r.FrameID != "hit" || r.CameraID != "front" || r.SourceVideo != "videos/hit.mp4" {
		t.Errorf("result lost metadata: %+v", r)
	}
	if r.Score < 0.99 {
		t.Errorf("identical embedding scored %f", r.Score)
	}
	if resp.MinScore != 0.18 {
		t.Errorf("response min score = %f, want configured default", resp.MinScore)
	}
	if resp.QueryTime < 0 || resp.QueryTime > 60 {
		t.Errorf("query time = %f, want elapsed seconds", resp.QueryTime)
	}
}

func TestSearchByText_DedupByCamera(t *testing.T) {
	e, provider, frames := newTestEngine(t)
	ctx := context.Background()

	queryVec, _ := provider.EmbedText(ctx, "person at door")
	insertTestFrame(t, frames, "a", "door", "2026-03-01T10:00:00", queryVec)
	insertTestFrame(t, frames, "b", "door", "2026-03-01T10:00:30", queryVec)
	insertTestFrame(t, frames, "c", "door", "2026-03-01T10:05:00", queryVec)
	insertTestFrame(t, frames, "d", "yard", "2026-03-01T10:00:10", queryVec)

	resp, err := e.SearchByText(ctx, &models.TextSearchRequest{Query: "person at door"})
	if err != nil {
		t.Fatal(err)
	}
	// b is within 60s of a on the same camera; d is on another camera.
	if len(resp.Results) != 3 {
		t.Fatalf("got %d results, want 3: %+v", len(resp.Results), resp.Results)
	}
	for _, r := range resp.Results {
		if r.FrameID == "b" {
			t.Error("near-duplicate frame survived dedup")
		}
	}
}

func TestSearchByText_Validation(t *testing.T) {
	e, _, _ := newTestEngine(t)
	if _, err := e.SearchByText(context.Background(), &models.TextSearchRequest{}); err == nil {
		t.Error("empty query should be rejected")
	}
	bad := -2.0
	if _, err := e.SearchByText(context.Background(), &models.TextSearchRequest{Query: "q", MinScore: &bad}); err == nil {
		t.Error("out-of-range min score should be rejected")
	}
}

func TestScanByText_CachesAcrossScans(t *testing.T) {
	e, provider, _ := newTestEngine(t)
	dir := t.TempDir()
	for _, n := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("img"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	res, err := e.ScanByText(context.Background(), dir, "a dog", ScanOptions{})
	if err != nil {
		t.Fatalf("ScanByText: %v", err)
	}
	if res.State != scan.StateDone {
		t.Fatalf("state = %v, want done", res.State)
	}
	if res.Progress.Processed != 3 {
		t.Errorf("processed %d items, want 3", res.Progress.Processed)
	}

	before := provider.ImageCalls()
	if _, err := e.ScanByText(context.Background(), dir, "a cat", ScanOptions{}); err != nil {
		t.Fatal(err)
	}
	if provider.ImageCalls() != before {
		t.Error("second scan should serve features from the cache")
	}
}

func TestEnrollPerson_ExactlyOneFace(t *testing.T) {
	e, provider, _ := newTestEngine(t)
	ctx := context.Background()

	provider.SetFaces("one.jpg", [][]float32{{1, 0}})
	provider.SetFaces("two.jpg", [][]float32{{1, 0}, {0, 1}})

	if err := e.EnrollPerson(ctx, "alice", "one.jpg"); err != nil {
		t.Fatalf("single-face enrollment failed: %v", err)
	}
	if err := e.EnrollPerson(ctx, "alice", "two.jpg"); err == nil {
		t.Error("two-face photo should be rejected")
	}
	if err := e.EnrollPerson(ctx, "alice", "none.jpg"); err == nil {
		t.Error("faceless photo should be rejected")
	}
	if err := e.EnrollPerson(ctx, "", "one.jpg"); err == nil {
		t.Error("empty name should be rejected")
	}
	if got := e.People().List(); len(got) != 1 || got[0] != "alice" {
		t.Errorf("people = %v, want [alice]", got)
	}
}

func TestScanForPerson(t *testing.T) {
	e, provider, _ := newTestEngine(t)
	ctx := context.Background()
	dir := t.TempDir()
	near := filepath.Join(dir, "near.jpg")
	far := filepath.Join(dir, "far.jpg")
	blank := filepath.Join(dir, "blank.jpg")
	for _, p := range []string{near, far, blank} {
		if err := os.WriteFile(p, []byte("img"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	provider.SetFaces("ref.jpg", [][]float32{{1, 0}})
	if err := e.EnrollPerson(ctx, "bob", "ref.jpg"); err != nil {
		t.Fatal(err)
	}
	provider.SetFaces(near, [][]float32{{0.9, 0.1}})
	provider.SetFaces(far, [][]float32{{-1, 0}})

	res, err := e.ScanForPerson(ctx, dir, "bob", ScanOptions{})
	if err != nil {
		t.Fatalf("ScanForPerson: %v", err)
	}
	if len(res.Matches) != 1 || res.Matches[0].ID != near {
		t.Fatalf("matches = %+v, want only the near face", res.Matches)
	}
	if s := res.Matches[0].Score; s < 0.8 || s > 0.9 {
		t.Errorf("score = %f, want 1 - distance(~0.14)", s)
	}
}

func TestScanForPerson_UnknownReference(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, err := e.ScanForPerson(context.Background(), t.TempDir(), "nobody", ScanOptions{})
	if !errors.Is(err, ErrUnknownReference) {
		t.Errorf("err = %v, want ErrUnknownReference", err)
	}
}

func TestIngestFrames(t *testing.T) {
	e, provider, frames := newTestEngine(t)
	ctx := context.Background()
	dir := t.TempDir()
	good := filepath.Join(dir, "good.jpg")
	bad := filepath.Join(dir, "bad.jpg")
	for _, p := range []string{good, bad} {
		if err := os.WriteFile(p, []byte("img"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	provider.SetUnreadable(bad, true)

	n, err := e.IngestFrames(ctx, dir, "garage")
	if err != nil {
		t.Fatalf("IngestFrames: %v", err)
	}
	if n != 1 {
		t.Errorf("stored %d frames, want 1 (undecodable skipped)", n)
	}
	stored, err := frames.QueryFrames(ctx, models.FrameFilter{CameraIDs: []string{"garage"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 || stored[0].FramePath != good {
		t.Errorf("stored frames = %+v", stored)
	}
	if stored[0].Timestamp == "" {
		t.Error("ingested frame should carry a timestamp")
	}
}

func TestStatus(t *testing.T) {
	e, provider, frames := newTestEngine(t)
	ctx := context.Background()
	insertTestFrame(t, frames, "f1", "cam", "2026-03-01T00:00:00", []float32{1, 0})
	provider.SetFaces("ref.jpg", [][]float32{{1, 0}})
	if err := e.EnrollPerson(ctx, "carol", "ref.jpg"); err != nil {
		t.Fatal(err)
	}

	st, err := e.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Frames != 1 {
		t.Errorf("frames = %d, want 1", st.Frames)
	}
	if len(st.People) != 1 || st.People[0] != "carol" {
		t.Errorf("people = %v", st.People)
	}
	if st.DatabaseBytes == 0 {
		t.Error("database size should be non-zero")
	}
}

func TestDedupByCamera_UnparseableTimestampKept(t *testing.T) {
	in := []models.FrameResult{
		{FrameID: "a", CameraID: "cam", Timestamp: "2026-03-01T10:00:00"},
		{FrameID: "weird", CameraID: "cam", Timestamp: "not-a-time"},
		{FrameID: "b", CameraID: "cam", Timestamp: "2026-03-01T10:00:20"},
	}
	out := dedupByCamera(in, 60e9)
	if len(out) != 2 || out[0].FrameID != "a" || out[1].FrameID != "weird" {
		t.Errorf("dedup = %+v", out)
	}
}
