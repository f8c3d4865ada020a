// Package server provides the HTTP API for Shashin.
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

	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/embedding"
	"github.com/hyperjump/shashin/internal/indexer"
	"github.com/hyperjump/shashin/internal/keyword"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/people"
	"github.com/hyperjump/shashin/internal/search"
	"github.com/hyperjump/shashin/internal/storage"
	"github.com/hyperjump/shashin/internal/vector"
)

// Server is the HTTP server for the Shashin API. The active search engine
// and vector index are swapped atomically when a rebuild completes, so
// in-flight queries finish against the index they started on.
type Server struct {
	store        storage.Store
	registry     *people.Registry
	builder      *indexer.Builder
	adapter      embedding.Adapter
	keywordIndex keyword.Index
	config       *config.Config
	logger       *zap.Logger
	server       *http.Server

	mu          sync.RWMutex
	engine      *search.Engine
	vectorIndex vector.Index

	rebuildMu sync.Mutex
}

// NewServer creates a server with the given dependencies. vectorIndex may be
// nil when no index has been built yet; queries then fail until the first
// build installs one.
func NewServer(
	store storage.Store,
	registry *people.Registry,
	builder *indexer.Builder,
	adapter embedding.Adapter,
	keywordIndex keyword.Index,
	vectorIndex vector.Index,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		store:        store,
		registry:     registry,
		builder:      builder,
		adapter:      adapter,
		keywordIndex: keywordIndex,
		vectorIndex:  vectorIndex,
		config:       cfg,
		logger:       logger,
	}
	if vectorIndex != nil {
		s.engine = s.newEngine(vectorIndex)
	}
	return s
}

func (s *Server) newEngine(idx vector.Index) *search.Engine {
	return search.NewEngine(s.store, s.adapter, idx, s.keywordIndex, &s.config.Search, s.logger)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/people", s.handleRegisterPerson)
	r.Get("/api/v1/people", s.handleListPeople)
	r.Get("/api/v1/people/{name}", s.handleGetPerson)
	r.Delete("/api/v1/people/{name}", s.handleDeletePerson)

	r.Post("/api/v1/index/build", s.handleBuildIndex)

	r.Post("/api/v1/search/person", s.handleSearchPerson)
	r.Post("/api/v1/search/activity", s.handleSearchActivity)
	r.Post("/api/v1/search/semantic", s.handleSearchSemantic)
	r.Get("/api/v1/search/filename", s.handleSearchFilename)

	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: r,
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

// currentEngine returns the active search engine, or nil before the first build.
func (s *Server) currentEngine() *search.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// swapIndex installs a freshly built vector index and engine, closing the
// previous index.
func (s *Server) swapIndex(idx vector.Index, engine *search.Engine) {
	s.mu.Lock()
	old := s.vectorIndex
	s.vectorIndex = idx
	s.engine = engine
	s.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

// Rebuild runs one index build and swaps the result in. Overlapping triggers
// (API call during a watcher-initiated build) serialize rather than race.
func (s *Server) Rebuild(ctx context.Context) (*models.BuildReport, error) {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()
	idx, report, err := s.builder.Build(ctx)
	if err != nil {
		return nil, err
	}
	s.swapIndex(idx, s.newEngine(idx))
	return report, nil
}
