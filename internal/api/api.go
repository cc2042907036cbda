// Package api wires the HTTP surface over the indexing and retrieval
// pipelines. Grounded on internal/router.Dependencies's
// struct-of-interfaces wiring pattern and internal/handler's
// envelope{Success,Data,Error}/respondJSON response shape, re-pointed
// at document ingest, status, and search instead of
// document-CRUD/chat/forge surface.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/normex/ragbox-normex/internal/middleware"
	"github.com/normex/ragbox-normex/internal/model"
	"github.com/normex/ragbox-normex/internal/retrieval"
)

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Searcher abstracts C12 for the search and context-build handlers.
type Searcher interface {
	Search(ctx context.Context, query string, k int, filters retrieval.Filters, flags retrieval.Flags) ([]model.SearchResult, error)
	BuildContext(ctx context.Context, query string, k int, filters retrieval.Filters, flags retrieval.Flags) (model.StructuredContext, error)
}

// Dependencies bundles everything the router needs.
type Dependencies struct {
	Documents    *DocumentService
	Orchestrator Searcher
	Version      string

	// RateLimiter and Metrics are optional; when nil the corresponding
	// middleware is skipped (used by tests that don't need them wired).
	RateLimiter *middleware.RateLimiter
	Metrics     *middleware.Metrics
	Registry    *prometheus.Registry
}

// New builds the chi router exposing the ingest, status, search, and
// health endpoints.
func New(deps Dependencies) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Timeout(30 * time.Second))
	if deps.Metrics != nil && deps.Registry != nil {
		r.Use(middleware.Monitoring(deps.Metrics))
		r.Get("/metrics", middleware.MetricsHandler(deps.Registry).ServeHTTP)
	}

	r.Get("/api/health", healthHandler(deps.Version))

	r.Route("/api/documents", func(r chi.Router) {
		r.Post("/", uploadHandler(deps.Documents))
		r.Get("/{id}", statusHandler(deps.Documents))
	})

	searchGroup := func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(middleware.RateLimit(deps.RateLimiter))
		}
		r.Post("/api/search", searchHandler(deps.Orchestrator))
		r.Post("/api/context", contextHandler(deps.Orchestrator, deps.Metrics))
	}
	r.Group(searchGroup)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusNotFound, envelope{Success: false, Error: "route not found"})
	})

	return r
}

func healthHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]string{
			"status":  "ok",
			"version": version,
		}})
	}
}
