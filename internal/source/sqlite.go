package source

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/mitsuke/internal/models"
)

// FrameStore is the sqlite-backed item source for camera frames. The schema
// and the BLOB layout (raw little-endian float32) are shared with the ML
// sidecar, so either side can read embeddings the other wrote.
type FrameStore struct {
	db *sql.DB
}

// OpenFrameStore opens or creates a sqlite database at dbPath and initializes
// the schema. Parent directories are created if they do not exist.
func OpenFrameStore(dbPath string) (*FrameStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &FrameStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS clip_embeddings (
		id           TEXT PRIMARY KEY,
		embedding    BLOB NOT NULL,
		camera_id    TEXT NOT NULL,
		timestamp    TEXT NOT NULL,
		frame_path   TEXT NOT NULL,
		source_video TEXT NOT NULL,
		created_at   TEXT NOT NULL DEFAULT (datetime('now'))
	);

	CREATE INDEX IF NOT EXISTS idx_clip_camera_ts ON clip_embeddings(camera_id, timestamp);
	`
	_, err := db.Exec(schema)
	return err
}

// InsertFrame stores a frame and its embedding, replacing any existing row
// with the same id.
func (s *FrameStore) InsertFrame(ctx context.Context, f *models.Frame) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO clip_embeddings
		 (id, embedding, camera_id, timestamp, frame_path, source_video)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, float32sToBytes(f.Embedding), f.CameraID, f.Timestamp, f.FramePath, f.SourceVideo,
	)
	return err
}

// QueryFrames returns frames matching the filter, embeddings included.
// A date-only end bound is normalized to end-of-day before comparison.
func (s *FrameStore) QueryFrames(ctx context.Context, filter models.FrameFilter) ([]models.Frame, error) {
	query := `SELECT id, embedding, camera_id, timestamp, frame_path, source_video FROM clip_embeddings`
	var conditions []string
	var params []any

	if len(filter.CameraIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.CameraIDs)), ",")
		conditions = append(conditions, fmt.Sprintf("camera_id IN (%s)", placeholders))
		for _, id := range filter.CameraIDs {
			params = append(params, id)
		}
	}
	if filter.StartTime != "" {
		conditions = append(conditions, "timestamp >= ?")
		params = append(params, filter.StartTime)
	}
	if end := filter.NormalizedEnd(); end != "" {
		conditions = append(conditions, "timestamp <= ?")
		params = append(params, end)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []models.Frame
	for rows.Next() {
		var f models.Frame
		var blob []byte
		if err := rows.Scan(&f.ID, &blob, &f.CameraID, &f.Timestamp, &f.FramePath, &f.SourceVideo); err != nil {
			return nil, err
		}
		f.Embedding = bytesToFloat32s(blob)
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

// CountFrames returns the total number of stored frames.
func (s *FrameStore) CountFrames(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM clip_embeddings`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *FrameStore) Close() error {
	return s.db.Close()
}

func float32sToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32s(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
