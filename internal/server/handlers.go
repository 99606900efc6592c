package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/mitsuke/internal/config"
	"github.com/hyperjump/mitsuke/internal/embedding"
	"github.com/hyperjump/mitsuke/internal/models"
	"github.com/hyperjump/mitsuke/internal/registry"
	"github.com/hyperjump/mitsuke/internal/scan"
	"github.com/hyperjump/mitsuke/internal/search"
)

type encodeImageRequest struct {
	Paths []string `json:"paths"`
}

func (s *Server) handleEncodeImage(w http.ResponseWriter, r *http.Request) {
	var req encodeImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Paths) == 0 {
		s.respondError(w, http.StatusBadRequest, "paths are required")
		return
	}
	embeddings, err := s.engine.EncodeImages(r.Context(), req.Paths)
	if err != nil {
		s.logger.Error("encode images failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"embeddings": embeddings})
}

type encodeTextRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleEncodeText(w http.ResponseWriter, r *http.Request) {
	var req encodeTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		s.respondError(w, http.StatusBadRequest, "text is required")
		return
	}
	vec, err := s.engine.EncodeText(r.Context(), req.Text)
	if err != nil {
		if errors.Is(err, embedding.ErrTextSupport) {
			s.respondError(w, http.StatusNotImplemented, err.Error())
			return
		}
		s.logger.Error("encode text failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"embedding": vec})
}

func (s *Server) handleTextSearch(w http.ResponseWriter, r *http.Request) {
	var req models.TextSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("text search request", zap.String("query", req.Query), zap.Int("limit", req.Limit))
	resp, err := s.engine.SearchByText(r.Context(), &req)
	if err != nil {
		if errors.Is(err, embedding.ErrTextSupport) {
			s.respondError(w, http.StatusNotImplemented, err.Error())
			return
		}
		if req.Query == "" {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("text search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type scanStartRequest struct {
	Dir          string  `json:"dir"`
	Query        string  `json:"query,omitempty"`
	Person       string  `json:"person,omitempty"`
	Limit        int     `json:"limit,omitempty"`
	ThresholdPct float64 `json:"threshold_pct,omitempty"`
	MaxDistance  float64 `json:"max_distance,omitempty"`
}

func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	var req scanStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Dir == "" {
		s.respondError(w, http.StatusBadRequest, "dir is required")
		return
	}
	if (req.Query == "") == (req.Person == "") {
		s.respondError(w, http.StatusBadRequest, "exactly one of query or person is required")
		return
	}
	opts := search.ScanOptions{
		Limit:        req.Limit,
		ThresholdPct: req.ThresholdPct,
		MaxDistance:  req.MaxDistance,
	}

	// The scan outlives this request, so it must not inherit the request
	// context.
	ctx := context.Background()
	var handle *scan.Handle
	var err error
	if req.Query != "" {
		s.logger.Debug("starting text scan", zap.String("dir", req.Dir), zap.String("query", req.Query))
		handle, err = s.engine.StartTextScan(ctx, req.Dir, req.Query, opts)
	} else {
		s.logger.Debug("starting person scan", zap.String("dir", req.Dir), zap.String("person", req.Person))
		handle, err = s.engine.StartPersonScan(ctx, req.Dir, req.Person, opts)
	}
	if err != nil {
		switch {
		case errors.Is(err, scan.ErrScanActive):
			s.respondError(w, http.StatusConflict, err.Error())
		case errors.Is(err, search.ErrUnknownReference):
			s.respondError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, embedding.ErrFaceSupport), errors.Is(err, embedding.ErrTextSupport):
			s.respondError(w, http.StatusNotImplemented, err.Error())
		default:
			s.logger.Error("scan start failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.scanMu.Lock()
	s.scans[handle.ID] = handle
	s.scanMu.Unlock()
	s.respondJSON(w, http.StatusAccepted, map[string]string{"id": handle.ID, "state": handle.State().String()})
}

func (s *Server) lookupScan(id string) *scan.Handle {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	return s.scans[id]
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	handle := s.lookupScan(id)
	if handle == nil {
		s.respondError(w, http.StatusNotFound, "scan not found")
		return
	}
	resp := map[string]interface{}{
		"id":       id,
		"state":    handle.State().String(),
		"progress": handle.Progress(),
	}
	if result, err := handle.Result(); result != nil {
		resp["result"] = result
		if err != nil {
			resp["error"] = err.Error()
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleCancelScan cancels a running scan, or forgets a finished one.
func (s *Server) handleCancelScan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	handle := s.lookupScan(id)
	if handle == nil {
		s.respondError(w, http.StatusNotFound, "scan not found")
		return
	}
	if handle.State().Terminal() {
		s.scanMu.Lock()
		delete(s.scans, id)
		s.scanMu.Unlock()
		s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "removed"})
		return
	}
	s.logger.Debug("cancelling scan", zap.String("id", id))
	handle.Cancel()
	s.respondJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
}

type enrollRequest struct {
	Name      string `json:"name"`
	ImagePath string `json:"image_path"`
}

func (s *Server) handleEnrollPerson(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("enroll request", zap.String("name", req.Name), zap.String("image", req.ImagePath))
	if err := s.engine.EnrollPerson(r.Context(), req.Name, req.ImagePath); err != nil {
		switch {
		case errors.Is(err, embedding.ErrFaceSupport):
			s.respondError(w, http.StatusNotImplemented, err.Error())
		case errors.Is(err, registry.ErrDuplicateSource):
			s.respondError(w, http.StatusConflict, err.Error())
		default:
			s.respondError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"name": req.Name, "status": "enrolled"})
}

func (s *Server) handleListPeople(w http.ResponseWriter, r *http.Request) {
	people := s.engine.People()
	names := people.List()
	out := make([]map[string]interface{}, 0, len(names))
	for _, n := range names {
		out = append(out, map[string]interface{}{"name": n, "embeddings": people.Count(n)})
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"people": out})
}

func (s *Server) handleRemovePerson(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.engine.People().Remove(name); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "person not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"name": name, "status": "removed"})
}

func (s *Server) handleRemoveEmbedding(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	source := r.URL.Query().Get("source")
	if source == "" {
		s.respondError(w, http.StatusBadRequest, "source is required")
		return
	}
	if err := s.engine.People().RemoveEmbedding(name, source); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "person or embedding not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"name": name, "source": source, "status": "removed"})
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	s.logger.Debug("watch add directory request", zap.String("path", abs))
	if err := s.watch.AddDirectory(abs); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchConfig()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Path != "" {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("watch remove directory request", zap.String("path", abs))
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchConfig()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchConfig() {
	if s.configPath == "" || s.config == nil {
		return
	}
	s.configMu.Lock()
	s.config.Watch.Directories = s.watch.Directories()
	err := config.Save(s.configPath, s.config)
	s.configMu.Unlock()
	if err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Status(r.Context())
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"frames":       st.Frames,
		"cached_items": st.CachedItems,
		"people":       st.People,
		"disk_usage_bytes": map[string]int64{
			"database": st.DatabaseBytes,
			"cache":    st.CacheBytes,
			"registry": st.RegistryBytes,
		},
		"config": map[string]interface{}{
			"dimensions":        s.config.Provider.Dimensions,
			"min_score":         s.config.Search.MinScore,
			"max_face_distance": s.config.Search.MaxFaceDistance,
			"database_path":     s.config.Store.DatabasePath,
			"cache_path":        s.config.Store.CachePath,
			"registry_path":     s.config.Store.RegistryPath,
		},
	}
	if s.watch != nil {
		resp["watch_directories"] = s.watch.Directories()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
