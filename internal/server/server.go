// Package server exposes the progress of the running import over HTTP,
// together with the Prometheus metrics of the worker pool.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/ArchiveDrop/internal/model"
	"github.com/dharsanguruparan/ArchiveDrop/internal/session"
)

// StatusSource reports the import in flight.
type StatusSource interface {
	Snapshot() session.Snapshot
}

// History returns the last recorded import.
type History interface {
	LastImport(ctx context.Context) (model.ImportState, error)
}

// Server hosts the status endpoints.
type Server struct {
	addr     string
	status   StatusSource
	history  History
	gatherer prometheus.Gatherer
	log      *zap.Logger
}

// New creates a status server. history and gatherer may be nil.
func New(addr string, status StatusSource, history History, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{addr: addr, status: status, history: history, gatherer: gatherer, log: log}
}

// Serve listens until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()
	s.log.Info("status server listening", zap.String("addr", s.addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/progress", s.handleProgress)
	mux.HandleFunc("/session", s.handleSession)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return corsMiddleware(s.loggingMiddleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.log, http.StatusOK, map[string]string{"status": "ok"})
}

type progressResponse struct {
	model.ProgressState
	Percent float64 `json:"percent"`
	Done    bool    `json:"done"`
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := s.status.Snapshot()
	respondJSON(w, s.log, http.StatusOK, progressResponse{
		ProgressState: snap.Progress,
		Percent:       snap.Percent,
		Done:          snap.Progress.Done(),
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if snap := s.status.Snapshot(); snap.Import != nil {
		respondJSON(w, s.log, http.StatusOK, snap.Import)
		return
	}
	if s.history != nil {
		last, err := s.history.LastImport(r.Context())
		if err == nil {
			respondJSON(w, s.log, http.StatusOK, last)
			return
		}
	}
	http.Error(w, "no import recorded", http.StatusNotFound)
}

func respondJSON(w http.ResponseWriter, log *zap.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn("encode response", zap.Error(err))
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Duration("took", time.Since(start)))
	})
}
