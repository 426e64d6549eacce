// Package httpapi serves health, metrics and the current session over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/gkirna/scribeflow/internal/logging"
	"github.com/gkirna/scribeflow/internal/pipeline"
	"github.com/gkirna/scribeflow/internal/transcript"
)

// SessionView is what the server needs from the session host. The bool
// results are false when no session exists.
type SessionView interface {
	Stats() (pipeline.Stats, bool)
	Chunks() ([]transcript.Chunk, bool)
	Ready(ctx context.Context) error
}

type Server struct {
	server *http.Server
	addr   string
	log    zerolog.Logger
}

// NewServer builds the server. A nil gatherer uses the default registry.
func NewServer(addr string, view SessionView, gatherer prometheus.Gatherer) *Server {
	return &Server{
		addr: addr,
		log:  logging.WithComponent("http"),
		server: &http.Server{
			Addr:         addr,
			Handler:      NewRouter(view, gatherer),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// NewRouter constructs the HTTP routes.
func NewRouter(view SessionView, gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := view.Ready(ctx); err != nil {
			http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1/session", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			stats, ok := view.Stats()
			if !ok {
				writeError(w, http.StatusNotFound, "no session")
				return
			}
			writeJSON(w, http.StatusOK, stats)
		})
		r.Get("/chunks", func(w http.ResponseWriter, _ *http.Request) {
			chunks, ok := view.Chunks()
			if !ok {
				writeError(w, http.StatusNotFound, "no session")
				return
			}
			writeJSON(w, http.StatusOK, chunks)
		})
	})

	return r
}

// Start serves in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("starting http server")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("http server error")
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down http server")
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
