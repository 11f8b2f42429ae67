package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/entity-enricher/internal/config"
	"github.com/JakeFAU/entity-enricher/internal/enrichment"
	"github.com/JakeFAU/entity-enricher/internal/metrics"
)

// Queue is the part of the job queue the API needs.
type Queue interface {
	enrichment.Producer
	enrichment.QueueInspector
}

// ReadinessCheck reports whether downstream dependencies are reachable.
type ReadinessCheck func(ctx context.Context) error

// Server wires HTTP handlers to the job queue.
type Server struct {
	router          chi.Router
	queue           Queue
	ready           ReadinessCheck
	defaultPriority int
	sweepLimit      int
	logger          *zap.Logger
}

// NewServer constructs a Server with middleware and routes. ready may be nil.
func NewServer(queue Queue, ready ReadinessCheck, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		queue:           queue,
		ready:           ready,
		defaultPriority: cfg.Queue.DefaultPriority,
		sweepLimit:      cfg.Queue.SweepLimit,
		logger:          logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(recoverMiddleware(logger))
	if cfg.Server.RequestTimeout > 0 {
		r.Use(timeoutMiddleware(cfg.Server.RequestTimeout))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/jobs", s.enqueue)
		r.Post("/jobs/sweep", s.sweep)
		r.Get("/jobs/{job_id}", s.getJob)
		r.Get("/queue/stats", s.stats)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type enqueueRequest struct {
	EntityID string `json:"entity_id"`
	Priority *int   `json:"priority"`
}

type enqueueResponse struct {
	EntityID string `json:"entity_id"`
	Enqueued bool   `json:"enqueued"`
}

// enqueue answers 202 for a new job and 200 when the entity already has
// pending or processing work.
func (s *Server) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.EntityID = strings.TrimSpace(req.EntityID)
	if req.EntityID == "" {
		writeError(w, http.StatusBadRequest, "entity_id required")
		return
	}
	priority := valueOrDefault(req.Priority, s.defaultPriority)

	created, err := s.queue.Enqueue(r.Context(), req.EntityID, priority)
	if err != nil {
		s.logger.Error("enqueue failed", zap.String("entity_id", req.EntityID), zap.Error(err))
		writeError(w, statusFor(err), "enqueue failed")
		return
	}
	status := http.StatusAccepted
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, enqueueResponse{EntityID: req.EntityID, Enqueued: created})
}

type sweepRequest struct {
	Priority *int `json:"priority"`
	Limit    *int `json:"limit"`
}

func (s *Server) sweep(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	limit := valueOrDefault(req.Limit, s.sweepLimit)
	if limit <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be > 0")
		return
	}
	priority := valueOrDefault(req.Priority, s.defaultPriority)

	n, err := s.queue.EnqueueMissing(r.Context(), priority, limit)
	if err != nil {
		s.logger.Error("sweep failed", zap.Error(err))
		writeError(w, statusFor(err), "sweep failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int64{"enqueued": n})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.ParseInt(chi.URLParam(r, "job_id"), 10, 64)
	if err != nil || jobID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	job, err := s.queue.GetJob(r.Context(), jobID)
	if err != nil {
		if !errors.Is(err, enrichment.ErrNotFound) {
			s.logger.Error("get job failed", zap.Int64("job_id", jobID), zap.Error(err))
		}
		writeError(w, statusFor(err), "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		s.logger.Error("queue stats failed", zap.Error(err))
		writeError(w, statusFor(err), "stats unavailable")
		return
	}
	if stats.ActiveWorkers == nil {
		stats.ActiveWorkers = []enrichment.WorkerLoad{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats, "total": stats.Total()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, enrichment.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

type requestIDKey struct{}

// RequestID returns the id assigned to the request, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", RequestID(r.Context())),
						zap.Any("panic", rec),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
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

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; nothing useful can be done on failure.
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
