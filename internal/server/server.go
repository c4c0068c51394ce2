// Package server provides the HTTP API for the retrieval service.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/hybridkb/internal/config"
	"github.com/hyperjump/hybridkb/internal/retrieval"
)

// Server is the HTTP server for the retrieval API.
type Server struct {
	svc    *retrieval.Service
	config *config.ServerConfig
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server for svc.
func NewServer(svc *retrieval.Service, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	return &Server{
		svc:    svc,
		config: cfg,
		logger: logger,
	}
}

// Handler returns the router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.svc.Metrics().Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/knowledge-bases", func(r chi.Router) {
			r.Get("/", s.handleListKnowledgeBases)
			r.Post("/", s.handleCreateKnowledgeBase)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetKnowledgeBase)
				r.Delete("/", s.handleDeleteKnowledgeBase)
				r.Get("/status", s.handleEmbeddingStatus)
				r.Post("/reindex", s.handleReindex)
				r.Post("/clear-embeddings", s.handleClearEmbeddings)
				r.Post("/rebuild-lexical", s.handleRebuildLexical)
				r.Get("/documents", s.handleListDocuments)
				r.Post("/documents", s.handleAddDocument)
				r.Get("/documents/{filename}", s.handleGetDocument)
				r.Delete("/documents/{filename}", s.handleRemoveDocument)
			})
		})
		r.Post("/search", s.handleSearch)
		r.Get("/stats", s.handleStats)
		r.Get("/providers", s.handleProviders)
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Post("/", s.handleSubmitJob)
			r.Get("/{id}", s.handleGetJob)
			r.Delete("/{id}", s.handleCancelJob)
		})
	})
	return r
}

// observe logs each request and records it in the service metrics under its route
// pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		took := time.Since(start)
		s.svc.Metrics().ObserveRequest(r.Method, route, ww.Status(), took)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", ww.Status()),
			zap.Duration("took", took),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
