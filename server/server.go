// Package server exposes crawl progress and Prometheus metrics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aluiziolira/go-crawl-listings/models"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ProgressTracker keeps the latest progress event for concurrent readers.
type ProgressTracker struct {
	mu     sync.RWMutex
	latest models.Progress
}

// Observe stores p. It matches pipeline.Observer.
func (t *ProgressTracker) Observe(p models.Progress) {
	t.mu.Lock()
	t.latest = p
	t.mu.Unlock()
}

// Latest returns the most recent event.
func (t *ProgressTracker) Latest() models.Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest
}

type progressResponse struct {
	models.CrawlState
	Total          int     `json:"total"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	Done           bool    `json:"done"`
}

// NewRouter wires the status routes.
func NewRouter(tracker *ProgressTracker, registry *prometheus.Registry) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/progress", progressHandler(tracker)).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	return r
}

func progressHandler(tracker *ProgressTracker) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		p := tracker.Latest()
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(progressResponse{
			CrawlState:     p.CrawlState,
			Total:          p.Total,
			ElapsedSeconds: p.Elapsed.Seconds(),
			Done:           p.Done,
		}); err != nil {
			slog.Error("encode progress", slog.Any("error", err))
		}
	}
}

// Server serves the status routes until Shutdown.
type Server struct {
	http *http.Server
}

// New builds a status server listening on addr.
func New(addr string, tracker *ProgressTracker, registry *prometheus.Registry) *Server {
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(tracker, registry),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start listens in the background.
func (s *Server) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("status server failed", slog.Any("error", err))
		}
	}()
	slog.Info("status server enabled", slog.String("addr", s.http.Addr))
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
