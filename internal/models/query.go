package models

import "fmt"

// TextSearchRequest is a text query against the frame store.
type TextSearchRequest struct {
	Query     string      `json:"query"`
	Filter    FrameFilter `json:"filter,omitempty"`
	Limit     int         `json:"limit,omitempty"`
	MinScore  *float64    `json:"min_score,omitempty"` // nil = use configured default
}

// Validate ensures the request has valid fields and normalizes the limit.
// maxLimit caps the result size; defaultLimit applies when unset.
func (q *TextSearchRequest) Validate(defaultLimit, maxLimit int) error {
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	if q.MinScore != nil && (*q.MinScore < -1 || *q.MinScore > 1) {
		return fmt.Errorf("min_score must be within [-1, 1]")
	}
	return nil
}
