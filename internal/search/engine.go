// Package search is the engine facade: text search over the frame store,
// directory scans by text query or enrolled person, ingestion, and enrollment.
package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/mitsuke/internal/cache"
	"github.com/hyperjump/mitsuke/internal/config"
	"github.com/hyperjump/mitsuke/internal/embedding"
	"github.com/hyperjump/mitsuke/internal/models"
	"github.com/hyperjump/mitsuke/internal/ranking"
	"github.com/hyperjump/mitsuke/internal/registry"
	"github.com/hyperjump/mitsuke/internal/scan"
	"github.com/hyperjump/mitsuke/internal/source"
)

// ErrUnknownReference reports a scan against a person nobody enrolled.
var ErrUnknownReference = errors.New("unknown reference set")

// TimestampLayout is the frame timestamp format used throughout the store.
const TimestampLayout = "2006-01-02T15:04:05"

// Engine coordinates the embedding provider, the frame store, the person
// registry, and the scan orchestrator behind one API. Construct with NewEngine.
type Engine struct {
	provider embedding.Provider
	frames   *source.FrameStore
	people   *registry.Registry
	features *cache.Store
	scanner  *scan.Scanner
	store    config.StoreConfig
	search   config.SearchConfig
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine builds an engine over the given stores. The provider instance is
// long-lived and injected once; the engine never constructs its own.
func NewEngine(provider embedding.Provider, frames *source.FrameStore, people *registry.Registry,
	features *cache.Store, store config.StoreConfig, search config.SearchConfig, opts ...Option) *Engine {
	e := &Engine{
		provider: provider,
		frames:   frames,
		people:   people,
		features: features,
		store:    store,
		search:   search,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.scanner = scan.New(features,
		scan.WithLogger(e.logger),
		scan.WithBatchSize(search.BatchSize),
		scan.WithReportEvery(search.ReportEvery))
	return e
}

// People exposes the person registry for listing and removal.
func (e *Engine) People() *registry.Registry { return e.people }

// EncodeImages embeds image files through the provider.
func (e *Engine) EncodeImages(ctx context.Context, paths []string) ([][]float32, error) {
	return e.provider.EmbedImages(ctx, paths)
}

// EncodeText embeds a text query through the provider.
func (e *Engine) EncodeText(ctx context.Context, text string) ([]float32, error) {
	return e.provider.EmbedText(ctx, text)
}

// faceProvider returns the provider's face capability, or ErrFaceSupport.
func (e *Engine) faceProvider() (embedding.FaceProvider, error) {
	if fp, ok := e.provider.(embedding.FaceProvider); ok {
		return fp, nil
	}
	return nil, embedding.ErrFaceSupport
}

// SearchByText embeds the query and ranks stored frames against it. Results
// within the same camera closer than the dedup window to a stronger result
// are suppressed before the limit applies.
func (e *Engine) SearchByText(ctx context.Context, req *models.TextSearchRequest) (*models.SearchResponse, error) {
	if err := req.Validate(e.search.DefaultLimit, e.search.MaxLimit); err != nil {
		return nil, err
	}
	start := time.Now()

	vec, err := e.provider.EmbedText(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	frames, err := e.frames.QueryFrames(ctx, req.Filter)
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}

	minScore := e.search.MinScore
	if req.MinScore != nil {
		minScore = *req.MinScore
	}

	byID := make(map[string]models.Frame, len(frames))
	items := make([]ranking.Item, 0, len(frames))
	for _, f := range frames {
		byID[f.ID] = f
		items = append(items, ranking.Item{ID: f.ID, Features: [][]float32{f.Embedding}})
	}
	// Rank unbounded; the limit applies after camera dedup.
	matches := ranking.RankBySimilarity(items, [][]float32{vec}, 0,
		ranking.Threshold{Mode: ranking.ThresholdAbsolute, Value: minScore})

	results := make([]models.FrameResult, 0, len(matches))
	for _, m := range matches {
		f := byID[m.ID]
		results = append(results, models.FrameResult{
			FrameID:     f.ID,
			FramePath:   f.FramePath,
			CameraID:    f.CameraID,
			Timestamp:   f.Timestamp,
			SourceVideo: f.SourceVideo,
			Score:       m.Score,
		})
	}
	results = dedupByCamera(results, time.Duration(e.search.DedupWindowSec)*time.Second)
	if len(results) > req.Limit {
		results = results[:req.Limit]
	}

	return &models.SearchResponse{
		Results:   results,
		Query:     req.Query,
		Total:     len(results),
		MinScore:  minScore,
		QueryTime: time.Since(start).Seconds(),
	}, nil
}

// dedupByCamera walks results in rank order and drops any result whose
// timestamp falls within window of an already-kept result from the same
// camera. Results with unparseable timestamps are always kept.
func dedupByCamera(results []models.FrameResult, window time.Duration) []models.FrameResult {
	if window <= 0 {
		return results
	}
	kept := make([]models.FrameResult, 0, len(results))
	perCamera := make(map[string][]time.Time)
	for _, r := range results {
		ts, err := time.Parse(TimestampLayout, r.Timestamp)
		if err != nil {
			kept = append(kept, r)
			continue
		}
		dup := false
		for _, seen := range perCamera[r.CameraID] {
			d := ts.Sub(seen)
			if d < 0 {
				d = -d
			}
			if d < window {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		perCamera[r.CameraID] = append(perCamera[r.CameraID], ts)
		kept = append(kept, r)
	}
	return kept
}

// ScanOptions tunes a directory scan. Zero values fall back to configured
// defaults.
type ScanOptions struct {
	Limit        int
	ThresholdPct float64
	MaxDistance  float64
	OnProgress   func(scan.Progress)
}

// textScanRequest embeds the query and builds a similarity-mode scan request.
func (e *Engine) textScanRequest(ctx context.Context, dir, query string, opts ScanOptions) (scan.Request, error) {
	vec, err := e.provider.EmbedText(ctx, query)
	if err != nil {
		return scan.Request{}, fmt.Errorf("embed query: %w", err)
	}
	pct := opts.ThresholdPct
	if pct <= 0 {
		pct = e.search.ThresholdPct
	}
	return scan.Request{
		Dir:        dir,
		Refs:       [][]float32{vec},
		Mode:       scan.ModeSimilarity,
		Threshold:  ranking.Threshold{Mode: ranking.ThresholdRelative, Value: pct},
		Limit:      opts.Limit,
		Extractor:  clipExtractor{p: e.provider},
		OnProgress: opts.OnProgress,
	}, nil
}

// personScanRequest resolves the person's enrolled vectors and builds a
// distance-mode scan request.
func (e *Engine) personScanRequest(dir, person string, opts ScanOptions) (scan.Request, error) {
	refs, err := e.people.VectorsFor(person)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return scan.Request{}, fmt.Errorf("%q: %w", person, ErrUnknownReference)
		}
		return scan.Request{}, err
	}
	fp, err := e.faceProvider()
	if err != nil {
		return scan.Request{}, err
	}
	maxDist := opts.MaxDistance
	if maxDist <= 0 {
		maxDist = e.search.MaxFaceDistance
	}
	return scan.Request{
		Dir:         dir,
		Refs:        refs,
		Mode:        scan.ModeDistance,
		MaxDistance: maxDist,
		Limit:       opts.Limit,
		Extractor:   faceExtractor{p: fp},
		OnProgress:  opts.OnProgress,
	}, nil
}

// ScanByText runs a synchronous directory scan for a text query.
func (e *Engine) ScanByText(ctx context.Context, dir, query string, opts ScanOptions) (*scan.Result, error) {
	req, err := e.textScanRequest(ctx, dir, query, opts)
	if err != nil {
		return nil, err
	}
	return e.scanner.Run(ctx, req)
}

// ScanForPerson runs a synchronous directory scan for an enrolled person.
func (e *Engine) ScanForPerson(ctx context.Context, dir, person string, opts ScanOptions) (*scan.Result, error) {
	req, err := e.personScanRequest(dir, person, opts)
	if err != nil {
		return nil, err
	}
	return e.scanner.Run(ctx, req)
}

// StartTextScan launches an asynchronous text scan.
func (e *Engine) StartTextScan(ctx context.Context, dir, query string, opts ScanOptions) (*scan.Handle, error) {
	req, err := e.textScanRequest(ctx, dir, query, opts)
	if err != nil {
		return nil, err
	}
	return e.scanner.Start(ctx, req)
}

// StartPersonScan launches an asynchronous person scan.
func (e *Engine) StartPersonScan(ctx context.Context, dir, person string, opts ScanOptions) (*scan.Handle, error) {
	req, err := e.personScanRequest(dir, person, opts)
	if err != nil {
		return nil, err
	}
	return e.scanner.Start(ctx, req)
}

// EnrollPerson encodes the face in imagePath and adds it to the person's
// reference set. The photo must contain exactly one detectable face so the
// enrollment is unambiguous.
func (e *Engine) EnrollPerson(ctx context.Context, name, imagePath string) error {
	if name == "" {
		return fmt.Errorf("person name cannot be empty")
	}
	fp, err := e.faceProvider()
	if err != nil {
		return err
	}
	encodings, err := fp.EmbedFaces(ctx, []string{imagePath})
	if err != nil {
		return fmt.Errorf("encode faces: %w", err)
	}
	faces := encodings[0]
	switch {
	case len(faces) == 0:
		return fmt.Errorf("no face detected in %s", imagePath)
	case len(faces) > 1:
		return fmt.Errorf("%d faces detected in %s, enrollment photos must contain exactly one", len(faces), imagePath)
	}
	return e.people.Enroll(name, imagePath, faces[0])
}

// IngestFrames embeds every image in dir and stores it as a frame under
// cameraID, timestamped from the file's modification time. Returns how many
// frames were stored; undecodable images are skipped.
func (e *Engine) IngestFrames(ctx context.Context, dir, cameraID string) (int, error) {
	paths, err := source.ListImages(dir)
	if err != nil {
		return 0, fmt.Errorf("enumerate %s: %w", dir, err)
	}
	batchSize := e.search.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}
	stored := 0
	for start := 0; start < len(paths); start += batchSize {
		end := start + batchSize
		if end > len(paths) {
			end = len(paths)
		}
		batch := paths[start:end]
		vecs, err := e.provider.EmbedImages(ctx, batch)
		if err != nil {
			return stored, fmt.Errorf("embed batch: %w", err)
		}
		for i, p := range batch {
			if vecs[i] == nil {
				e.logger.Warn("skipping undecodable image", zap.String("path", p))
				continue
			}
			ts := time.Now()
			if info, err := os.Stat(p); err == nil {
				ts = info.ModTime()
			}
			frame := &models.Frame{
				ID:        uuid.NewString(),
				CameraID:  cameraID,
				Timestamp: ts.Format(TimestampLayout),
				FramePath: p,
				Embedding: vecs[i],
			}
			if err := e.frames.InsertFrame(ctx, frame); err != nil {
				return stored, fmt.Errorf("store frame %s: %w", p, err)
			}
			stored++
		}
	}
	return stored, nil
}

// Status summarizes the engine's stores.
type Status struct {
	Frames        int64    `json:"frames"`
	CachedItems   int      `json:"cached_items"`
	People        []string `json:"people"`
	DatabaseBytes int64    `json:"database_bytes"`
	CacheBytes    int64    `json:"cache_bytes"`
	RegistryBytes int64    `json:"registry_bytes"`
}

// Status reports store counts and on-disk sizes.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	frames, err := e.frames.CountFrames(ctx)
	if err != nil {
		return nil, fmt.Errorf("count frames: %w", err)
	}
	return &Status{
		Frames:        frames,
		CachedItems:   e.features.Len(),
		People:        e.people.List(),
		DatabaseBytes: fileSize(e.store.DatabasePath),
		CacheBytes:    fileSize(e.store.CachePath),
		RegistryBytes: fileSize(e.store.RegistryPath),
	}, nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// clipExtractor adapts the image embedder: one vector per decodable image.
type clipExtractor struct {
	p embedding.Provider
}

func (e clipExtractor) ExtractBatch(ctx context.Context, paths []string) ([][][]float32, error) {
	vecs, err := e.p.EmbedImages(ctx, paths)
	if err != nil {
		return nil, err
	}
	out := make([][][]float32, len(paths))
	for i, v := range vecs {
		if v == nil {
			out[i] = [][]float32{}
			continue
		}
		out[i] = [][]float32{v}
	}
	return out, nil
}

// faceExtractor adapts the face embedder: zero or more vectors per image.
type faceExtractor struct {
	p embedding.FaceProvider
}

func (e faceExtractor) ExtractBatch(ctx context.Context, paths []string) ([][][]float32, error) {
	return e.p.EmbedFaces(ctx, paths)
}
