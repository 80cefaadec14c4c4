// Package server exposes the HTTP API: synchronous analysis, queued
// analysis, audit reads, and the milestone listing. All routes except the
// health check require an API key.
package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/linkcaring/milestone-analyzer/internal/analyze"
	"github.com/linkcaring/milestone-analyzer/internal/models"
	"github.com/linkcaring/milestone-analyzer/internal/store"
)

// Runner executes one synchronous analysis.
type Runner interface {
	Run(ctx context.Context, req analyze.Request) (*analyze.Result, error)
}

// ReadStore serves the read-only endpoints.
type ReadStore interface {
	ListMilestoneIDs(ctx context.Context) ([]store.MilestoneIDName, error)
	GetResponseStats(ctx context.Context, requestID string) ([]models.ResponseStat, error)
}

// Enqueuer queues an analysis task for background processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload models.AnalyzeTaskPayload) error
}

// ResultReader fetches the stored outcome of a queued analysis.
type ResultReader interface {
	GetResult(ctx context.Context, requestID string) ([]byte, error)
}

// Server holds the HTTP handlers' collaborators.
type Server struct {
	runner      Runner
	reads       ReadStore
	keys        KeyStore
	enqueuer    Enqueuer
	results     ResultReader
	maxBodySize int64
}

// Config wires the server.
type Config struct {
	Runner      Runner
	Reads       ReadStore
	Keys        KeyStore
	Enqueuer    Enqueuer
	Results     ResultReader
	MaxBodySize int64
}

// New creates the server.
func New(cfg Config) *Server {
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = 2 * 1024 * 1024 * 1024
	}
	return &Server{
		runner:      cfg.Runner,
		reads:       cfg.Reads,
		keys:        cfg.Keys,
		enqueuer:    cfg.Enqueuer,
		results:     cfg.Results,
		maxBodySize: cfg.MaxBodySize,
	}
}

// Router builds the chi router with all routes registered.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(requireAPIKey(s.keys))

		r.Post("/analyze", s.handleAnalyze)
		r.Get("/analyze-results/{id}", s.handleAnalyzeResults)
		r.Get("/milestone-ids", s.handleMilestoneIDs)

		if s.enqueuer != nil {
			r.Post("/analyze/async", s.handleAnalyzeAsync)
			r.Get("/analyze/async/{id}", s.handleAsyncResult)
		}
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
