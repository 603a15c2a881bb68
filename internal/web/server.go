// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

// Package web serves the keysmith JSON API.
package web

import (
	"context"
	cryptotls "crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keysmith/keysmith/internal/audit"
	"github.com/keysmith/keysmith/internal/auth"
	"github.com/keysmith/keysmith/internal/observability"
	"github.com/keysmith/keysmith/internal/password"
)

// AuthService is the account and session API the handlers drive.
// *auth.Service satisfies it.
type AuthService interface {
	Register(ctx context.Context, email, password, confirm string) (*auth.Account, error)
	Login(ctx context.Context, email, password string) (*auth.Session, string, error)
	Logout(ctx context.Context, token string) error
	CurrentAccount(ctx context.Context, token string) (*auth.Account, error)
}

// Auditor records authentication events. *audit.Logger satisfies it.
type Auditor interface {
	Log(ctx context.Context, entry audit.Entry)
}

type nopAuditor struct{}

func (nopAuditor) Log(context.Context, audit.Entry) {}

// Config controls cookies and the password endpoints.
type Config struct {
	CookieName   string
	CookieSecure bool
	ReadTimeout  time.Duration

	// GeneratorDefaults fills fields a generate request omits.
	GeneratorDefaults password.Spec
	// MaxLength bounds the length a client may request.
	MaxLength int
	// RequireSession gates the password endpoints behind a valid session.
	RequireSession bool
	// TLS, when set, serves HTTPS.
	TLS *cryptotls.Config
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records request and outcome counters on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the server logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithAuditor records register, login, and logout outcomes on a.
func WithAuditor(a Auditor) Option {
	return func(s *Server) {
		if a != nil {
			s.auditor = a
		}
	}
}

// WithGenerator replaces the password generator.
func WithGenerator(g *password.Generator) Option {
	return func(s *Server) { s.generator = g }
}

// Server is the API HTTP server.
type Server struct {
	addr       string
	cfg        Config
	auth       AuthService
	generator  *password.Generator
	metrics    *observability.Metrics
	auditor    Auditor
	logger     *slog.Logger
	handler    http.Handler
	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// NewServer creates an API server that will listen on addr.
func NewServer(addr string, svc AuthService, cfg Config, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, oops.Code("WEB_INVALID_DEPS").Errorf("auth service is required")
	}
	if cfg.CookieName == "" {
		return nil, oops.Code("WEB_INVALID_CONFIG").Errorf("cookie name is required")
	}
	if cfg.MaxLength < 1 {
		return nil, oops.Code("WEB_INVALID_CONFIG").With("max_length", cfg.MaxLength).Errorf("max length must be positive")
	}

	s := &Server{
		addr:      addr,
		cfg:       cfg,
		auth:      svc,
		generator: password.NewGenerator(),
		auditor:   nopAuditor{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the API handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving the API. The returned channel receives a serve
// error, if any, and is closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Code("WEB_RUNNING").Errorf("api server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("WEB_LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}
	if s.cfg.TLS != nil {
		listener = cryptotls.NewListener(listener, s.cfg.TLS)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("api server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("api server started", "addr", listener.Addr().String(), "tls", s.cfg.TLS != nil)
	return errCh, nil
}

// Stop gracefully shuts the server down. Stopping a stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.Code("WEB_SHUTDOWN_FAILED").With("operation", "shutdown api server").Wrap(err)
		}
	}
	s.logger.Info("api server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /api/register", s.instrument("register", s.handleRegister))
	mux.Handle("POST /api/login", s.instrument("login", s.handleLogin))
	mux.Handle("POST /api/logout", s.instrument("logout", s.handleLogout))
	mux.Handle("GET /api/profile", s.instrument("profile", s.handleProfile))
	mux.Handle("POST /api/passwords", s.instrument("generate", s.handleGenerate))
	mux.Handle("POST /api/passwords/strength", s.instrument("strength", s.handleStrength))
	return mux
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

var tracer = otel.Tracer("keysmith/web")

func (s *Server) instrument(route string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "api."+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.route", route),
				attribute.String("http.method", r.Method),
			),
		)
		defer span.End()
		r = r.WithContext(ctx)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		h(rec, r)
		span.SetAttributes(attribute.Int("http.status_code", rec.status))
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
		s.metrics.ObserveRequest(route, rec.status)
		s.logger.DebugContext(r.Context(), "api request",
			"route", route,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
