// Package scan drives full directory scans: enumerate candidates, reuse or
// compute features through the cache, rank against reference vectors, and
// report progress to the caller. One scan runs at a time per Scanner.
package scan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/mitsuke/internal/cache"
	"github.com/hyperjump/mitsuke/internal/ranking"
	"github.com/hyperjump/mitsuke/internal/source"
)

var (
	// ErrNoCandidates reports an enumeration that produced zero items,
	// distinct from a scan that ran and matched nothing.
	ErrNoCandidates = errors.New("no candidate items found")
	// ErrScanActive reports a scan request while another is in flight.
	ErrScanActive = errors.New("a scan is already active")
)

// State is the lifecycle phase of one scan invocation.
type State int

const (
	StateIdle State = iota
	StateEnumerating
	StateProcessing
	StateRanking
	StateDone
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEnumerating:
		return "enumerating"
	case StateProcessing:
		return "processing"
	case StateRanking:
		return "ranking"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further state transitions can occur.
func (s State) Terminal() bool {
	return s == StateDone || s == StateCancelled || s == StateFailed
}

// Progress is a point-in-time snapshot emitted during Processing. Matches is
// provisional: it counts items passing the threshold as currently estimated
// and may shrink under a relative threshold as stronger items appear.
type Progress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
	Matches   int `json:"matches"`
}

// Mode selects the ranking variant for a scan.
type Mode int

const (
	// ModeSimilarity ranks by best-match cosine similarity with a
	// Threshold policy.
	ModeSimilarity Mode = iota
	// ModeDistance ranks by best-match euclidean distance capped at
	// MaxDistance.
	ModeDistance
)

// Extractor computes zero or more feature vectors per path. Implementations
// must preserve input order and return a nil or empty inner slice for paths
// that yield no features, never shorten the outer slice.
type Extractor interface {
	ExtractBatch(ctx context.Context, paths []string) ([][][]float32, error)
}

// Request describes one scan.
type Request struct {
	Dir         string
	Refs        [][]float32
	Mode        Mode
	Threshold   ranking.Threshold
	MaxDistance float64
	Limit       int
	Extractor   Extractor
	OnProgress  func(Progress)
}

// Result is the terminal outcome of a scan. Summary is always populated with
// a human-readable line, regardless of which terminal state was reached.
type Result struct {
	State    State           `json:"state"`
	Matches  []ranking.Match `json:"matches,omitempty"`
	Progress Progress        `json:"progress"`
	Summary  string          `json:"summary"`
}

// Scanner runs scans against a shared feature cache. The zero value is not
// usable; construct with New.
type Scanner struct {
	cache       *cache.Store
	logger      *zap.Logger
	batchSize   int
	reportEvery int

	mu     sync.Mutex
	active bool
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

// WithBatchSize sets how many cache misses are sent to the extractor at once.
func WithBatchSize(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithReportEvery sets the progress cadence in items.
func WithReportEvery(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.reportEvery = n
		}
	}
}

// New creates a Scanner over the given cache.
func New(c *cache.Store, opts ...Option) *Scanner {
	s := &Scanner{
		cache:       c,
		logger:      zap.NewNop(),
		batchSize:   32,
		reportEvery: 20,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes a scan synchronously. Cancellation via ctx is cooperative,
// checked at batch boundaries: the scan stops early, keeps the cache delta it
// accumulated, and returns a StateCancelled result with a nil error. Only
// enumeration failures, an empty candidate set, and persistence failures are
// returned as errors, alongside a StateFailed result carrying the summary.
func (s *Scanner) Run(ctx context.Context, req Request) (*Result, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()
	return s.run(ctx, req, nil)
}

// Handle tracks an asynchronous scan started with Start.
type Handle struct {
	ID string

	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	state    State
	progress Progress
	result   *Result
	err      error
}

// Cancel requests cooperative cancellation. Safe to call more than once.
func (h *Handle) Cancel() { h.cancel() }

// Wait blocks until the scan reaches a terminal state.
func (h *Handle) Wait() (*Result, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

// State returns the scan's current phase.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Progress returns the latest progress snapshot.
func (h *Handle) Progress() Progress {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.progress
}

// Result returns the terminal result, or nil while the scan is running.
func (h *Handle) Result() (*Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.state.Terminal() {
		return nil, nil
	}
	return h.result, h.err
}

func (h *Handle) setState(st State) {
	h.mu.Lock()
	h.state = st
	h.mu.Unlock()
}

// Start launches a scan on its own goroutine and returns immediately. The
// caller observes it through the returned Handle. Fails fast with
// ErrScanActive when another scan holds the Scanner.
func (s *Scanner) Start(ctx context.Context, req Request) (*Handle, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		ID:     uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateIdle,
	}
	userProgress := req.OnProgress
	req.OnProgress = func(p Progress) {
		h.mu.Lock()
		h.progress = p
		h.mu.Unlock()
		if userProgress != nil {
			userProgress(p)
		}
	}
	go func() {
		defer s.release()
		defer cancel()
		res, err := s.run(ctx, req, h.setState)
		h.mu.Lock()
		h.result = res
		h.err = err
		if res != nil {
			h.state = res.State
			h.progress = res.Progress
		}
		h.mu.Unlock()
		close(h.done)
	}()
	return h, nil
}

func (s *Scanner) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return ErrScanActive
	}
	s.active = true
	return nil
}

func (s *Scanner) release() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

// run is the scan body. observe, when non-nil, is told of each state
// transition before work in that state begins.
func (s *Scanner) run(ctx context.Context, req Request, observe func(State)) (*Result, error) {
	setState := func(st State) {
		if observe != nil {
			observe(st)
		}
	}

	setState(StateEnumerating)
	paths, err := source.ListImages(req.Dir)
	if err != nil {
		setState(StateFailed)
		return &Result{
			State:   StateFailed,
			Summary: fmt.Sprintf("scan failed: %v", err),
		}, fmt.Errorf("enumerate %s: %w", req.Dir, err)
	}
	if len(paths) == 0 {
		setState(StateFailed)
		return &Result{
			State:   StateFailed,
			Summary: fmt.Sprintf("no candidate images under %s", req.Dir),
		}, fmt.Errorf("%s: %w", req.Dir, ErrNoCandidates)
	}

	// The candidate snapshot is fixed here; files appearing after this
	// point are not part of this scan.
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		seen[p] = true
	}

	setState(StateProcessing)
	items := make([]ranking.Item, 0, len(paths))
	processed := 0
	sinceReport := 0
	cancelled := false

	report := func() {
		if req.OnProgress == nil {
			return
		}
		req.OnProgress(Progress{
			Processed: processed,
			Total:     len(paths),
			Matches:   s.countMatches(items, req),
		})
	}

	for start := 0; start < len(paths); start += s.batchSize {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		end := start + s.batchSize
		if end > len(paths) {
			end = len(paths)
		}
		batch := paths[start:end]

		misses := make([]string, 0, len(batch))
		prints := make(map[string]int64, len(batch))
		for _, p := range batch {
			info, err := os.Stat(p)
			if err != nil {
				// Unreadable mid-scan; skip the item, not the scan.
				s.logger.Warn("skipping unreadable item", zap.String("path", p), zap.Error(err))
				processed++
				sinceReport++
				continue
			}
			fp := info.ModTime().UnixNano()
			prints[p] = fp
			if entry, ok := s.cache.Get(p); ok && entry.Fingerprint == fp {
				items = append(items, ranking.Item{ID: p, Features: entry.Features})
				processed++
				sinceReport++
				continue
			}
			misses = append(misses, p)
		}

		if len(misses) > 0 {
			features, err := req.Extractor.ExtractBatch(ctx, misses)
			if err != nil {
				// A failed batch degrades to skipped items.
				s.logger.Warn("feature extraction failed for batch",
					zap.Int("items", len(misses)), zap.Error(err))
				features = make([][][]float32, len(misses))
			}
			for i, p := range misses {
				vecs := features[i]
				if vecs == nil {
					vecs = [][]float32{}
				}
				s.cache.Put(p, prints[p], vecs)
				items = append(items, ranking.Item{ID: p, Features: vecs})
				processed++
				sinceReport++
			}
		}

		if sinceReport >= s.reportEvery {
			sinceReport = 0
			report()
		}
	}

	if cancelled {
		// Keep the partial cache delta; the next scan resumes from it.
		s.persist(req.Dir, seen)
		setState(StateCancelled)
		res := &Result{
			State: StateCancelled,
			Progress: Progress{
				Processed: processed,
				Total:     len(paths),
				Matches:   s.countMatches(items, req),
			},
			Summary: fmt.Sprintf("scan cancelled after %d of %d items; cached features kept", processed, len(paths)),
		}
		return res, nil
	}

	report()

	setState(StateRanking)
	var matches []ranking.Match
	switch req.Mode {
	case ModeDistance:
		matches = ranking.RankByDistance(items, req.Refs, req.Limit, req.MaxDistance)
	default:
		matches = ranking.RankBySimilarity(items, req.Refs, req.Limit, req.Threshold)
	}

	if err := s.persist(req.Dir, seen); err != nil {
		setState(StateFailed)
		return &Result{
			State:    StateFailed,
			Progress: Progress{Processed: processed, Total: len(paths), Matches: len(matches)},
			Summary:  fmt.Sprintf("scan failed saving feature cache: %v", err),
		}, err
	}

	setState(StateDone)
	return &Result{
		State:    StateDone,
		Matches:  matches,
		Progress: Progress{Processed: processed, Total: len(paths), Matches: len(matches)},
		Summary:  s.summarize(processed, len(matches), req),
	}, nil
}

// persist prunes stale entries under the scanned root and writes the cache
// exactly once per scan.
func (s *Scanner) persist(root string, seen map[string]bool) error {
	if removed := s.cache.PruneUnder(root, seen); removed > 0 {
		s.logger.Debug("pruned stale cache entries", zap.Int("removed", removed))
	}
	if err := s.cache.Persist(); err != nil {
		s.logger.Error("persisting feature cache", zap.Error(err))
		return fmt.Errorf("persist feature cache: %w", err)
	}
	return nil
}

// countMatches estimates how many processed items currently pass the scan's
// threshold. Used for live progress only; final counts come from the ranker.
func (s *Scanner) countMatches(items []ranking.Item, req Request) int {
	n := 0
	switch req.Mode {
	case ModeDistance:
		for _, it := range items {
			if d, ok := ranking.BestDistance(it.Features, req.Refs); ok && d <= req.MaxDistance {
				n++
			}
		}
	default:
		cutoff := 0.0
		switch req.Threshold.Mode {
		case ranking.ThresholdAbsolute:
			cutoff = req.Threshold.Value
		case ranking.ThresholdRelative:
			top := 0.0
			for _, it := range items {
				if sc, ok := ranking.BestSimilarity(it.Features, req.Refs); ok && sc > top {
					top = sc
				}
			}
			cutoff = top * (req.Threshold.Value / 100)
		}
		for _, it := range items {
			if sc, ok := ranking.BestSimilarity(it.Features, req.Refs); ok && sc >= cutoff {
				n++
			}
		}
	}
	return n
}

func (s *Scanner) summarize(processed, matched int, req Request) string {
	switch {
	case req.Mode == ModeDistance:
		return fmt.Sprintf("scanned %d items, %d matched within distance %.2f", processed, matched, req.MaxDistance)
	case req.Threshold.Mode == ranking.ThresholdAbsolute:
		return fmt.Sprintf("scanned %d items, %d matched at min score %.2f", processed, matched, req.Threshold.Value)
	case req.Threshold.Mode == ranking.ThresholdRelative:
		return fmt.Sprintf("scanned %d items, %d matched within %.0f%% of best", processed, matched, req.Threshold.Value)
	default:
		return fmt.Sprintf("scanned %d items, %d matched", processed, matched)
	}
}
