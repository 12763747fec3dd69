// Package server exposes the exercise workflow over HTTP.
//
// Routes:
//
//	POST /v1/evaluations                         evaluate one attempt
//	GET  /v1/users/{userID}/pronunciations       weakest words of a learner
//	GET  /healthz, /readyz                       probes
//	GET  /metrics                                Prometheus scrape endpoint
//
// Every route runs behind [observe.Middleware].
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/elocution/internal/exercise"
	"github.com/MrWong99/elocution/internal/health"
	"github.com/MrWong99/elocution/internal/observe"
	"github.com/MrWong99/elocution/internal/store"
)

// maxBodyBytes bounds request bodies. Base64 audio of a 30 s mono 16 kHz
// recording is roughly 1.3 MB.
const maxBodyBytes = 16 << 20

// Exercises is the workflow the HTTP layer drives.
type Exercises interface {
	Complete(ctx context.Context, a exercise.Attempt) (*exercise.Outcome, error)
	WeakestWords(ctx context.Context, userID, language string, limit int) ([]store.WordStat, error)
}

// Option configures a [Server].
type Option func(*Server)

// WithIdempotency enables Idempotency-Key handling backed by guard.
func WithIdempotency(guard store.IdempotencyGuard, ttl time.Duration) Option {
	return func(s *Server) {
		s.guard = guard
		s.idempotencyTTL = ttl
	}
}

// WithHealth mounts the probe routes of h.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) {
		s.health = h
	}
}

// WithGatherer sets the registry served on /metrics.
// Default: [prometheus.DefaultGatherer].
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithAttemptIDs overrides the attempt ID generator.
func WithAttemptIDs(next func() string) Option {
	return func(s *Server) {
		s.newAttemptID = next
	}
}

// Server holds the HTTP handlers.
type Server struct {
	exercises      Exercises
	guard          store.IdempotencyGuard
	idempotencyTTL time.Duration
	health         *health.Handler
	gatherer       prometheus.Gatherer
	metrics        *observe.Metrics
	newAttemptID   func() string
}

// New creates a [Server] serving ex.
func New(ex Exercises, opts ...Option) *Server {
	s := &Server{
		exercises:    ex,
		gatherer:     prometheus.DefaultGatherer,
		newAttemptID: newAttemptID,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.health == nil {
		s.health = health.New()
	}
	return s
}

// Handler returns the fully routed and instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/evaluations", s.handleEvaluate)
	mux.HandleFunc("GET /v1/users/{userID}/pronunciations", s.handleWeakestWords)
	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return observe.Middleware(s.metrics, "/healthz", "/readyz", "/metrics")(mux)
}
