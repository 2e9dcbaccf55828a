package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SANCHES-Pedro/bq-back/internal/service/bridge"
	"github.com/SANCHES-Pedro/bq-back/internal/service/documents"
)

// DocumentGenerator produces a document from a transcript.
type DocumentGenerator interface {
	Generate(ctx context.Context, req documents.Request) (string, error)
}

// Deps are the handlers' collaborators. Documents may be nil.
type Deps struct {
	Sessions  *bridge.Service
	Documents DocumentGenerator
	Ready     func() bool
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Client audio sessions
	r.Get("/ws", wsHandler(d.Sessions))

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if (d.Ready != nil && !d.Ready()) || (d.Sessions != nil && !d.Sessions.Accepting()) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Post("/documents", documentsHandler(d.Documents))
	})

	return r
}
