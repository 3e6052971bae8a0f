// Package api exposes the operational HTTP interface for the crawler.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openbizdata/dircrawler/internal/browser"
	"github.com/openbizdata/dircrawler/internal/crawler"
	"github.com/openbizdata/dircrawler/internal/health"
	"github.com/openbizdata/dircrawler/internal/metrics"
	"github.com/openbizdata/dircrawler/internal/middleware"
)

// PoolStatser reports browser pool occupancy.
type PoolStatser interface {
	Stats() browser.PoolStats
}

// HealthChecker produces health snapshots and rolling summaries.
type HealthChecker interface {
	Check(ctx context.Context) health.Snapshot
	Summary() health.Summary
}

// StatsReader is the slice of the record store the server needs.
type StatsReader interface {
	Stats(ctx context.Context) (crawler.StoreStats, error)
}

// Server wires HTTP handlers to the crawl collaborators.
type Server struct {
	router  chi.Router
	store   StatsReader
	pool    PoolStatser
	monitor HealthChecker
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. Any
// collaborator may be nil; its endpoints then report unavailable.
func NewServer(store StatsReader, pool PoolStatser, monitor HealthChecker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:   store,
		pool:    pool,
		monitor: monitor,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(middleware.Metrics)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/stats", s.stats)
	r.Get("/health", s.health)
	r.Get("/health/summary", s.healthSummary)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statsResponse struct {
	Store crawler.StoreStats `json:"store"`
	Pool  browser.PoolStats  `json:"pool"`
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "record store not configured")
		return
	}
	storeStats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("store stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read store stats")
		return
	}
	resp := statsResponse{Store: storeStats}
	if s.pool != nil {
		resp.Pool = s.pool.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		writeError(w, http.StatusServiceUnavailable, "health monitor not configured")
		return
	}
	snap := s.monitor.Check(r.Context())
	status := http.StatusOK
	if !snap.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, snap)
}

func (s *Server) healthSummary(w http.ResponseWriter, _ *http.Request) {
	if s.monitor == nil {
		writeError(w, http.StatusServiceUnavailable, "health monitor not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.monitor.Summary())
}

type requestIDKey struct{}

// RequestID extracts the request id injected by the middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", RequestID(r.Context())),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
