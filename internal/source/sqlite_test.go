package source

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/mitsuke/internal/models"
)

func newStore(t *testing.T) *FrameStore {
	t.Helper()
	s, err := OpenFrameStore(filepath.Join(t.TempDir(), "frames.db"))
	if err != nil {
		t.Fatalf("OpenFrameStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func insertFrame(t *testing.T, s *FrameStore, id, camera, ts string) {
	t.Helper()
	err := s.InsertFrame(context.Background(), &models.Frame{
		ID:          id,
		CameraID:    camera,
		Timestamp:   ts,
		FramePath:   "frames/" + id + ".jpg",
		SourceVideo: "videos/" + id + ".mp4",
		Embedding:   []float32{0.25, -0.5, 1},
	})
	if err != nil {
		t.Fatalf("InsertFrame: %v", err)
	}
}

func TestFrameStore_RoundTrip(t *testing.T) {
	s := newStore(t)
	insertFrame(t, s, "f1", "front_door", "2026-02-18T14:23:05")

	frames, err := s.QueryFrames(context.Background(), models.FrameFilter{})
	if err != nil {
		t.Fatalf("QueryFrames: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	f := frames[0]
	if f.CameraID != "front_door" || f.FramePath != "frames/f1.jpg" {
		t.Errorf("metadata lost: %+v", f)
	}
	if len(f.Embedding) != 3 || f.Embedding[0] != 0.25 || f.Embedding[1] != -0.5 {
		t.Errorf("embedding blob round trip failed: %v", f.Embedding)
	}
}

func TestFrameStore_CameraFilter(t *testing.T) {
	s := newStore(t)
	insertFrame(t, s, "f1", "front", "2026-02-18T10:00:00")
	insertFrame(t, s, "f2", "back", "2026-02-18T11:00:00")
	insertFrame(t, s, "f3", "side", "2026-02-18T12:00:00")

	frames, err := s.QueryFrames(context.Background(), models.FrameFilter{CameraIDs: []string{"front", "side"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 2 {
		t.Errorf("expected 2 frames, got %d", len(frames))
	}
}

func TestFrameStore_TimeRangeEndOfDay(t *testing.T) {
	s := newStore(t)
	insertFrame(t, s, "early", "cam", "2026-02-19T08:00:00")
	insertFrame(t, s, "afternoon", "cam", "2026-02-20T14:00:00")
	insertFrame(t, s, "next_day", "cam", "2026-02-21T00:10:00")

	// Date-only end bound must still include the 14:00 frame on the boundary day.
	frames, err := s.QueryFrames(context.Background(), models.FrameFilter{
		StartTime: "2026-02-19T12:00:00",
		EndTime:   "2026-02-20",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 1 || frames[0].ID != "afternoon" {
		t.Errorf("expected only the afternoon frame, got %+v", frames)
	}
}

func TestFrameStore_InsertReplaces(t *testing.T) {
	s := newStore(t)
	insertFrame(t, s, "f1", "cam", "2026-01-01T00:00:00")
	insertFrame(t, s, "f1", "cam2", "2026-01-01T00:00:00")

	n, err := s.CountFrames(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected 1 frame after replace, got %d (%v)", n, err)
	}
}
