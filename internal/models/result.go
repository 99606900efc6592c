package models

// FrameResult is a single frame-store search hit.
type FrameResult struct {
	FrameID     string  `json:"id"`
	FramePath   string  `json:"frame_path"`
	CameraID    string  `json:"camera_id"`
	Timestamp   string  `json:"timestamp"`
	SourceVideo string  `json:"source_video"`
	Score       float64 `json:"score"`
}

// SearchResponse is the response for a frame-store text search.
type SearchResponse struct {
	Results   []FrameResult `json:"results"`
	Query     string        `json:"query"`
	Total     int           `json:"total"`
	MinScore  float64       `json:"min_score"`
	QueryTime float64       `json:"query_time"`
}
