// Package watcher keeps the feature cache honest between scans: fsnotify
// events on watched image directories evict the affected cache entries so the
// next scan recomputes them.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/mitsuke/internal/cache"
	"github.com/hyperjump/mitsuke/internal/source"
)

const (
	defaultDebounce = 400 * time.Millisecond
	// Cache persistence after evictions is batched on this interval so a
	// burst of file events causes one rewrite, not one per event.
	persistDelay = 2 * time.Second
)

// Watcher watches directory roots and evicts feature-cache entries for image
// files that change or disappear.
type Watcher struct {
	features  *cache.Store
	roots     []string
	recursive bool
	debounce  time.Duration
	watcher   *fsnotify.Watcher
	logger    *zap.Logger

	mu           sync.Mutex
	timers       map[string]*time.Timer
	persistTimer *time.Timer
	rootPaths    map[string][]string // root -> dirs registered with fsnotify
	done         chan struct{}
	started      bool
	stopOnce     sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce overrides the per-file event debounce interval.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New creates a watcher over the feature cache. roots are the initial
// directories to watch.
func New(features *cache.Store, roots []string, recursive bool, opts ...Option) *Watcher {
	w := &Watcher{
		features:  features,
		roots:     roots,
		recursive: recursive,
		debounce:  defaultDebounce,
		logger:    zap.NewNop(),
		timers:    make(map[string]*time.Timer),
		rootPaths: make(map[string][]string),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.started = true
	w.logger.Debug("watcher starting", zap.Strings("roots", w.roots), zap.Bool("recursive", w.recursive))
	for _, root := range w.roots {
		if err := w.addRootLocked(root); err != nil {
			_ = w.watcher.Close()
			w.watcher = nil
			w.started = false
			w.mu.Unlock()
			return err
		}
	}
	w.mu.Unlock()
	go w.run(ctx)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if !w.underRoot(path) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Op.Has(fsnotify.Create), ev.Op.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			w.watchNewDirectory(path)
			return
		}
		if source.IsImagePath(path) {
			w.debounceEvict(path)
		}
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		w.cancelDebounce(path)
		if source.IsImagePath(path) {
			w.evict(path)
		}
	}
}

// evict drops the cache entry for path and schedules a batched persist.
func (w *Watcher) evict(path string) {
	w.features.Evict(path)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.persistTimer != nil {
		w.persistTimer.Stop()
	}
	w.persistTimer = time.AfterFunc(persistDelay, func() {
		if err := w.features.Persist(); err != nil {
			w.logger.Warn("persisting feature cache after eviction", zap.Error(err))
		}
	})
}

// debounceEvict coalesces rapid write events on one file into one eviction.
func (w *Watcher) debounceEvict(path string) {
	w.mu.Lock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.logger.Debug("evicting changed file from feature cache", zap.String("path", path))
		w.evict(path)
	})
	w.mu.Unlock()
}

func (w *Watcher) cancelDebounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
}

// watchNewDirectory registers a directory that appeared under a watched root.
func (w *Watcher) watchNewDirectory(dirPath string) {
	w.mu.Lock()
	recursive := w.recursive
	watcher := w.watcher
	w.mu.Unlock()
	if watcher == nil {
		return
	}
	if !recursive {
		return
	}
	_ = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := watcher.Add(path); err != nil {
				w.logger.Debug("watcher failed to add directory", zap.String("path", path), zap.Error(err))
			}
		}
		return nil
	})
}

func (w *Watcher) underRoot(path string) bool {
	w.mu.Lock()
	roots := append([]string(nil), w.roots...)
	w.mu.Unlock()
	clean := filepath.Clean(path)
	for _, root := range roots {
		rootClean := filepath.Clean(root)
		if rootClean == clean || inDir(rootClean, clean) {
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// AddDirectory starts watching a new root. Cache entries for files already
// under it are left alone; the next scan validates them by fingerprint.
func (w *Watcher) AddDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	for _, r := range w.roots {
		if filepath.Clean(r) == filepath.Clean(abs) {
			return nil
		}
	}
	if err := w.addRootLocked(abs); err != nil {
		return err
	}
	w.roots = append(w.roots, abs)
	w.logger.Debug("watcher directory added", zap.String("path", abs))
	return nil
}

func (w *Watcher) addRootLocked(root string) error {
	root = filepath.Clean(root)
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(root, 0755); err != nil {
				return err
			}
		} else {
			return err
		}
	}
	var paths []string
	if w.recursive {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			if err := w.watcher.Add(path); err != nil {
				return err
			}
			paths = append(paths, path)
			return nil
		})
		if err != nil {
			return err
		}
	} else {
		if err := w.watcher.Add(root); err != nil {
			return err
		}
		paths = append(paths, root)
	}
	w.rootPaths[root] = paths
	return nil
}

// RemoveDirectory stops watching the given root. Cached features under it are
// kept; they age out through scan pruning.
func (w *Watcher) RemoveDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	idx := -1
	for i, r := range w.roots {
		if filepath.Clean(r) == abs {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	for _, p := range w.rootPaths[abs] {
		_ = w.watcher.Remove(p)
	}
	delete(w.rootPaths, abs)
	w.roots = append(w.roots[:idx], w.roots[idx+1:]...)
	w.logger.Debug("watcher directory removed", zap.String("path", abs))
	return nil
}

// Directories returns a copy of the watched roots.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	if w.persistTimer != nil {
		w.persistTimer.Stop()
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
