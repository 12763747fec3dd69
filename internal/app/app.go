// Package app wires all elocution subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithPronunciationStore, WithTranscriber, etc.). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/elocution/internal/config"
	"github.com/MrWong99/elocution/internal/exercise"
	"github.com/MrWong99/elocution/internal/health"
	"github.com/MrWong99/elocution/internal/observe"
	"github.com/MrWong99/elocution/internal/server"
	"github.com/MrWong99/elocution/internal/store"
	"github.com/MrWong99/elocution/internal/store/postgres"
	"github.com/MrWong99/elocution/internal/store/redis"
	"github.com/MrWong99/elocution/internal/textnorm"
	"github.com/MrWong99/elocution/pkg/provider/stt"
)

// Timeouts of the HTTP listener.
const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

// App owns all subsystem lifetimes.
type App struct {
	cfg            *config.Config
	configPath     string
	reloadInterval time.Duration
	logLevel       *slog.LevelVar
	registry       *config.Registry
	metrics        *observe.Metrics
	gatherer       prometheus.Gatherer

	transcriber stt.Provider
	store       store.PronunciationStore
	guard       store.IdempotencyGuard
	checks      []health.Checker

	exercises *exercise.Service
	handler   http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTranscriber injects an STT provider instead of creating one from config.
func WithTranscriber(p stt.Provider) Option {
	return func(a *App) { a.transcriber = p }
}

// WithPronunciationStore injects a pronunciation store instead of opening
// PostgreSQL.
func WithPronunciationStore(s store.PronunciationStore) Option {
	return func(a *App) { a.store = s }
}

// WithIdempotencyGuard injects an idempotency guard instead of opening Redis.
func WithIdempotencyGuard(g store.IdempotencyGuard) Option {
	return func(a *App) { a.guard = g }
}

// WithRegistry sets the provider registry. Default: a registry holding the
// built-in providers.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGatherer sets the registry exposed on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// WithLogLevel hands the app the level variable of the process logger so that
// log level changes in the config file apply without a restart.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithConfigPath enables hot reload of the file at path during Run.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithReloadInterval sets how often the config file is polled.
func WithReloadInterval(d time.Duration) Option {
	return func(a *App) { a.reloadInterval = d }
}

// New creates an App by wiring all subsystems together. Storage backends
// are connected and verified synchronously.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.gatherer == nil {
		a.gatherer = prometheus.DefaultGatherer
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
		RegisterBuiltinProviders(a.registry)
	}

	if err := a.initTranscriber(); err != nil {
		return nil, err
	}
	if err := a.initStorage(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init storage: %w", err)
	}
	if err := a.initCache(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init cache: %w", err)
	}

	svcOpts := []exercise.Option{
		exercise.WithMetrics(a.metrics),
		exercise.WithPreprocessors(textnorm.NewRegistry()),
	}
	if a.transcriber != nil {
		svcOpts = append(svcOpts, exercise.WithTranscriber(a.transcriber))
	}
	if a.store != nil {
		svcOpts = append(svcOpts, exercise.WithStore(a.store))
	}
	svc, err := exercise.New(cfg.Scoring, svcOpts...)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init exercises: %w", err)
	}
	a.exercises = svc

	srvOpts := []server.Option{
		server.WithMetrics(a.metrics),
		server.WithGatherer(a.gatherer),
		server.WithHealth(health.New(a.checks...)),
	}
	if a.guard != nil {
		srvOpts = append(srvOpts, server.WithIdempotency(a.guard, cfg.Cache.IdempotencyTTL))
	}
	a.handler = server.New(svc, srvOpts...).Handler()

	return a, nil
}

func (a *App) initTranscriber() error {
	if a.transcriber != nil {
		return nil
	}
	t, err := buildTranscriber(a.cfg.Providers, a.registry, a.metrics)
	if err != nil {
		return err
	}
	a.transcriber = t.provider
	a.closers = append(a.closers, t.closers...)
	if t.check != nil {
		a.checks = append(a.checks, *t.check)
	}
	if a.transcriber == nil {
		slog.Warn("no stt provider configured; audio attempts will be rejected")
	}
	return nil
}

func (a *App) initStorage(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	dsn := a.cfg.Storage.PostgresDSN
	if dsn == "" {
		slog.Warn("storage.postgres_dsn not set; pronunciations will not be stored")
		return nil
	}
	s, err := postgres.Open(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = s
	a.checks = append(a.checks, health.PingCheck("postgres", s))
	a.closers = append(a.closers, func() error {
		s.Close()
		return nil
	})
	return nil
}

func (a *App) initCache(ctx context.Context) error {
	if a.guard != nil {
		return nil
	}
	c := a.cfg.Cache
	if c.RedisAddr == "" {
		slog.Debug("cache.redis_addr not set; Idempotency-Key is ignored")
		return nil
	}
	g, err := redis.Open(ctx, c.RedisAddr, c.RedisPassword, c.RedisDB)
	if err != nil {
		return err
	}
	a.guard = g
	a.checks = append(a.checks, health.PingCheck("redis", g))
	a.closers = append(a.closers, g.Close)
	return nil
}

// Handler returns the routed HTTP handler.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run serves HTTP on the configured address and blocks until ctx is
// cancelled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if a.configPath != "" {
		g.Go(func() error {
			return a.watchConfig(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// watchConfig applies hot-reloadable config changes until ctx is done.
func (a *App) watchConfig(ctx context.Context) error {
	w, err := config.NewWatcher(a.configPath, a.applyChange, config.WithInterval(a.reloadInterval))
	if err != nil {
		slog.Warn("config hot reload disabled", "path", a.configPath, "err", err)
		return nil
	}
	<-ctx.Done()
	w.Stop()
	return nil
}

func (a *App) applyChange(c config.Change) {
	if c.Diff.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(c.Diff.NewLogLevel))
		slog.Info("log level changed", "level", c.Diff.NewLogLevel)
	}
	if c.Diff.ScoringChanged {
		if err := a.exercises.Reconfigure(c.Diff.NewScoring); err != nil {
			slog.Error("scoring reload rejected", "err", err)
			return
		}
		slog.Info("scoring settings reloaded",
			"excellent_threshold", c.Diff.NewScoring.ExcellentThreshold,
			"mediocre_threshold", c.Diff.NewScoring.MediocreThreshold,
			"comparator", c.Diff.NewScoring.Comparator,
		)
	}
}

// Shutdown closes all subsystems in order. If ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
}

// SlogLevel converts a config log level to its slog equivalent.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
