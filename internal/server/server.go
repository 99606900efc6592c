// Package server provides the HTTP API for Mitsuke.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/mitsuke/internal/config"
	"github.com/hyperjump/mitsuke/internal/scan"
	"github.com/hyperjump/mitsuke/internal/search"
	"github.com/hyperjump/mitsuke/internal/watcher"
)

// Server is the HTTP server for the Mitsuke API.
type Server struct {
	engine     *search.Engine
	watch      *watcher.Watcher
	config     *config.Config
	configPath string
	configMu   sync.Mutex
	logger     *zap.Logger
	server     *http.Server

	scanMu sync.Mutex
	scans  map[string]*scan.Handle
}

// NewServer creates a server with the given dependencies. watch may be nil
// when directory watching is disabled; configPath may be empty when config
// changes should not be persisted.
func NewServer(
	engine *search.Engine,
	watch *watcher.Watcher,
	cfg *config.Config,
	configPath string,
	logger *zap.Logger,
) *Server {
	return &Server{
		engine:     engine,
		watch:      watch,
		config:     cfg,
		configPath: configPath,
		logger:     logger,
		scans:      make(map[string]*scan.Handle),
	}
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/encode/image", s.handleEncodeImage)
	r.Post("/api/v1/encode/text", s.handleEncodeText)
	r.Post("/api/v1/search/text", s.handleTextSearch)

	r.Post("/api/v1/scans", s.handleStartScan)
	r.Get("/api/v1/scans/{id}", s.handleGetScan)
	r.Delete("/api/v1/scans/{id}", s.handleCancelScan)

	r.Post("/api/v1/people", s.handleEnrollPerson)
	r.Get("/api/v1/people", s.handleListPeople)
	r.Delete("/api/v1/people/{name}", s.handleRemovePerson)
	r.Delete("/api/v1/people/{name}/embeddings", s.handleRemoveEmbedding)

	r.Get("/api/v1/watch/directories", s.handleWatchDirectoriesList)
	r.Post("/api/v1/watch/directories", s.handleWatchDirectoriesAdd)
	r.Delete("/api/v1/watch/directories", s.handleWatchDirectoriesRemove)

	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
