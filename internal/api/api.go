// Package api provides the HTTP server for InterviewPipe.
//
// It exposes endpoints to open interviews, post messages, read session state,
// transcripts and saved profiles, plus Prometheus metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/InterviewPipe/internal/flow"
	"github.com/BTreeMap/InterviewPipe/internal/metrics"
	"github.com/BTreeMap/InterviewPipe/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Default server settings.
const (
	DefaultAddr            = ":8080"
	DefaultRateLimitRPS    = 2.0
	DefaultRateLimitBurst  = 5
	DefaultShutdownTimeout = 10 * time.Second

	// maxRequestBodyBytes leaves room for JSON escaping around a maximum-size message.
	maxRequestBodyBytes = 1 << 20
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr           string
	RateLimitRPS   float64
	RateLimitBurst int
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithRateLimit sets the per-session message rate. Non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *Opts) {
		o.RateLimitRPS = rps
		o.RateLimitBurst = burst
	}
}

// Server serves the interview API.
type Server struct {
	addr     string
	runner   *flow.SessionRunner
	sessions store.SessionStore
	records  store.Store
	recorder *metrics.Recorder
	limiter  *sessionLimiter
	router   chi.Router
}

// NewServer wires the HTTP surface. sessions may differ from records when
// session state lives in Redis; recorder may be nil to disable /metrics.
func NewServer(runner *flow.SessionRunner, sessions store.SessionStore, records store.Store, recorder *metrics.Recorder, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, RateLimitRPS: DefaultRateLimitRPS, RateLimitBurst: DefaultRateLimitBurst}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{
		addr:     cfg.Addr,
		runner:   runner,
		sessions: sessions,
		records:  records,
		recorder: recorder,
	}
	if cfg.RateLimitRPS > 0 {
		s.limiter = newSessionLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	s.router = s.routes()
	slog.Debug("Server.NewServer: configured", "addr", s.addr, "rateLimitRPS", cfg.RateLimitRPS, "rateLimitBurst", cfg.RateLimitBurst, "metrics", recorder != nil)
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/interviews", s.startInterviewHandler)
	r.Route("/interviews/{sessionID}", func(r chi.Router) {
		r.Get("/", s.sessionStateHandler)
		r.Post("/messages", s.messageHandler)
		r.Get("/history", s.historyHandler)
	})
	r.Get("/profiles/{sessionID}", s.profileHandler)
	if s.recorder != nil {
		r.Method(http.MethodGet, "/metrics", s.recorder.Handler())
	}
	return r
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SweepRateLimits drops per-session limiters of idle sessions until ctx is
// cancelled. It returns immediately when rate limiting is disabled.
func (s *Server) SweepRateLimits(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	s.limiter.sweep(ctx, limiterSweepInterval)
	return nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("InterviewPipe API listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		slog.Error("Server.Run: listener failed", "error", err)
		return err
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.Run: graceful shutdown failed", "error", err)
		return err
	}
	return nil
}
