package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/policyshield/policyshield/internal/domain/auth"
	"github.com/policyshield/policyshield/internal/domain/rule"
	"github.com/policyshield/policyshield/internal/engine"
)

// Server wires the shield engine to the HTTP surface described in
// spec.md §6: the /api/v1 check endpoints, admin routes, and the
// /healthz, /readyz, /metrics probes.
type Server struct {
	engine      *engine.Engine
	metrics     *Metrics
	logger      *slog.Logger
	authn       *auth.Authenticator
	lockout     *auth.AdminLockout
	version     string
	failMode    engine.FailMode
	rulesLoader func() (rule.RuleSet, error)
	debug       bool

	timeoutVerdictIsAllow bool

	httpServer   *http.Server
	shuttingDown atomic.Bool
}

// Options configures a Server.
type Options struct {
	Addr                string
	CORSOrigins         []string
	MaxRequestSize      int64
	MaxConcurrentChecks int
	RequestTimeout      time.Duration
	Version             string
	FailMode            engine.FailMode
	TimeoutVerdictAllow bool
	RulesLoader         func() (rule.RuleSet, error)

	// Debug enables verbose error detail (raw error text) in 4xx/5xx
	// responses. Internals stay hidden unless set (spec §7).
	Debug bool

	// IdempotencyCacheSize bounds the idempotency-key response cache.
	// Defaults to DefaultIdempotencyCacheSize when <= 0.
	IdempotencyCacheSize int

	// IdempotencyTTL is how long a cached response stays valid. Defaults
	// to DefaultIdempotencyTTL when <= 0.
	IdempotencyTTL time.Duration
}

// NewServer builds a Server ready for Start.
func NewServer(eng *engine.Engine, authn *auth.Authenticator, lockout *auth.AdminLockout, metrics *Metrics, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:                eng,
		metrics:               metrics,
		logger:                logger,
		authn:                 authn,
		lockout:               lockout,
		version:               opts.Version,
		failMode:              opts.FailMode,
		rulesLoader:           opts.RulesLoader,
		timeoutVerdictIsAllow: opts.TimeoutVerdictAllow,
		debug:                 opts.Debug,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux, opts)

	s.httpServer = &http.Server{
		Addr:    opts.Addr,
		Handler: mux,
	}
	return s
}

func (s *Server) registerRoutes(mux *http.ServeMux, opts Options) {
	apiAuth := RequireAPIToken(s.authn)
	adminAuth := RequireAdminToken(s.authn, s.lockout)

	mux.Handle("/api/v1/check", apiAuth(http.HandlerFunc(s.handleCheck)))
	mux.Handle("/api/v1/post-check", apiAuth(http.HandlerFunc(s.handlePostCheck)))
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.Handle("/api/v1/constraints", apiAuth(http.HandlerFunc(s.handleConstraints)))
	mux.Handle("/api/v1/reload", adminAuth(http.HandlerFunc(s.handleReload)))
	mux.Handle("/api/v1/kill", adminAuth(http.HandlerFunc(s.handleKill)))
	mux.Handle("/api/v1/resume", adminAuth(http.HandlerFunc(s.handleResume)))
	mux.Handle("/api/v1/status", apiAuth(http.HandlerFunc(s.handleStatus)))
	mux.Handle("/api/v1/check-approval", apiAuth(http.HandlerFunc(s.handleCheckApproval)))
	mux.Handle("/api/v1/respond-approval", adminAuth(http.HandlerFunc(s.handleRespondApproval)))
	mux.Handle("/api/v1/pending-approvals", adminAuth(http.HandlerFunc(s.handlePendingApprovals)))

	mux.HandleFunc("/healthz", s.handleLiveness)
	mux.HandleFunc("/readyz", s.handleReadiness)
	mux.Handle("/metrics", promhttp.Handler())
}

// Handler returns the fully wrapped handler (middleware chain over the
// route mux), for use by tests or an external *http.Server.
func (s *Server) Handler(opts Options) http.Handler {
	var h http.Handler = s.httpServer.Handler

	if opts.RequestTimeout > 0 {
		h = TimeoutMiddleware(opts.RequestTimeout)(h)
	}
	if opts.MaxConcurrentChecks > 0 {
		h = ConcurrencyLimitMiddleware(opts.MaxConcurrentChecks)(h)
	}
	if opts.MaxRequestSize > 0 {
		h = MaxBodySizeMiddleware(opts.MaxRequestSize)(h)
	}
	h = IdempotencyMiddleware(opts.IdempotencyCacheSize, opts.IdempotencyTTL)(h)
	h = MetricsMiddleware(s.metrics)(h)
	h = CORSMiddleware(opts.CORSOrigins)(h)
	h = RealIPMiddleware(h)
	h = RequestIDMiddleware(s.logger)(h)
	return h
}

// Start builds the middleware chain, binds the listener, and serves
// until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context, opts Options) error {
	s.httpServer.Handler = s.Handler(opts)
	s.httpServer.Addr = opts.Addr

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", opts.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.shuttingDown.Store(true)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Close immediately closes the underlying listener, bypassing graceful
// drain. Used by tests.
func (s *Server) Close() error {
	return s.httpServer.Close()
}
