package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/keybridge/internal/auth"
	"github.com/mattjoyce/keybridge/internal/client"
	"github.com/mattjoyce/keybridge/internal/events"
	"github.com/mattjoyce/keybridge/internal/journal"
)

// Caller dispatches one API call to the binary.
type Caller interface {
	Call(ctx context.Context, call client.APICall) (any, error)
}

// History lists journaled calls.
type History interface {
	List(ctx context.Context, f journal.Filter) ([]journal.Entry, error)
}

type Config struct {
	Listen string
	// APIKey is a single bearer token with full access.
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// APIs names the callable APIs, used for the OpenAPI document.
	APIs []string
	// MaxBodyBytes caps POST /call bodies. Zero uses 1 MiB.
	MaxBodyBytes int64
}

// Server is the HTTP gateway in front of one client session.
type Server struct {
	config    Config
	auth      *auth.Authenticator
	caller    Caller
	history   History
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. history may be nil when the journal is disabled.
func New(config Config, caller Caller, history History, hub *events.Hub, logger *slog.Logger) (*Server, error) {
	authn, err := auth.NewAuthenticator(config.APIKey, config.Tokens)
	if err != nil {
		return nil, fmt.Errorf("gateway auth: %w", err)
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}
	if hub == nil {
		hub = events.NewHub(256)
	}
	return &Server{
		config:    config,
		auth:      authn,
		caller:    caller,
		history:   history,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
	}, nil
}

const shutdownGrace = 5 * time.Second

// Start binds the listen address and serves until ctx ends. Bind failures are
// returned before anything is served.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the gateway on ln until ctx ends, then drains open requests.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	// No WriteTimeout: /events streams indefinitely and calls carry their own deadline.
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.logger.Info("gateway listening", "addr", ln.Addr().String())

	served := make(chan error, 1)
	go func() { served <- s.server.Serve(ln) }()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("gateway draining", "grace", shutdownGrace)
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := s.server.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return ctx.Err()
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/openapi.json", s.handleOpenAPI)
		r.With(s.requireCallScope).Post("/call/{api}/{method}", s.handleCall)
		r.With(s.requireScope(auth.ScopeJournalRO)).Get("/calls", s.handleCalls)
		r.With(s.requireScope(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
	})

	return r
}

// accessLog records each request. Health probes are logged at debug.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		rec := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		if r.URL.Path == "/healthz" {
			level = slog.LevelDebug
		}
		s.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.Status(),
			"bytes", rec.BytesWritten(),
			"duration_ms", time.Since(began).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
