// Package models defines core data structures for frames, queries, and search results.
package models

import "strings"

// Frame is one stored camera frame with its CLIP embedding.
// Timestamps are stored as strings ("2006-01-02T15:04:05" or RFC3339),
// matching the sidecar's database format.
type Frame struct {
	ID          string    `json:"id"`
	CameraID    string    `json:"camera_id"`
	Timestamp   string    `json:"timestamp"`
	FramePath   string    `json:"frame_path"`
	SourceVideo string    `json:"source_video"`
	Embedding   []float32 `json:"-"`
}

// FrameFilter narrows a frame-store query. CameraIDs is set membership;
// the time range is inclusive on both ends.
type FrameFilter struct {
	CameraIDs []string `json:"camera_ids,omitempty"`
	StartTime string   `json:"start_time,omitempty"`
	EndTime   string   `json:"end_time,omitempty"`
}

// NormalizedEnd returns the end bound ready for comparison: a date-only
// value (no "T") gets an end-of-day time appended so that a boundary date
// still includes same-day timestamps with a time component.
func (f *FrameFilter) NormalizedEnd() string {
	if f.EndTime == "" || strings.Contains(f.EndTime, "T") {
		return f.EndTime
	}
	return f.EndTime + "T23:59:59"
}
