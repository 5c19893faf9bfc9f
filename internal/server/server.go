package server

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/subtrack/subtrack/internal/config"
	"github.com/subtrack/subtrack/internal/core/limiter"
	apperrors "github.com/subtrack/subtrack/internal/errors"
	"github.com/subtrack/subtrack/internal/observability"
	"github.com/subtrack/subtrack/internal/server/handlers"
	servermw "github.com/subtrack/subtrack/internal/server/middleware"
)

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	host   string
	port   int

	timeouts config.ServerConfig

	policies   map[string]*limiter.Policy
	limitOpts  []servermw.RateLimitOption
	routes     map[string][]func(chi.Router)
	adminToken string
	backend    limiter.Backend

	trustedProxies []netip.Prefix
}

// Option configures a Server.
type Option func(*Server)

// WithTimeouts applies read/write/idle timeouts from config. Zero values keep
// the defaults.
func WithTimeouts(cfg config.ServerConfig) Option {
	return func(s *Server) {
		if cfg.ReadTimeout > 0 {
			s.timeouts.ReadTimeout = cfg.ReadTimeout
		}
		if cfg.WriteTimeout > 0 {
			s.timeouts.WriteTimeout = cfg.WriteTimeout
		}
		if cfg.IdleTimeout > 0 {
			s.timeouts.IdleTimeout = cfg.IdleTimeout
		}
	}
}

// WithPolicies enables rate limiting on the API route groups. Policies are
// looked up by route class.
func WithPolicies(policies map[string]*limiter.Policy, opts ...servermw.RateLimitOption) Option {
	return func(s *Server) {
		s.policies = policies
		s.limitOpts = opts
	}
}

// WithRoutes registers handlers for a route class. The general class mounts
// on /api; the others mount on their /api/v1 group.
func WithRoutes(class string, register func(chi.Router)) Option {
	return func(s *Server) {
		if register == nil {
			return
		}
		s.routes[class] = append(s.routes[class], register)
	}
}

// WithAdmin enables the /admin rate limit endpoints behind bearer token auth.
func WithAdmin(token string, backend limiter.Backend) Option {
	return func(s *Server) {
		s.adminToken = token
		s.backend = backend
	}
}

// WithTrustedProxies lets the listed proxies supply the client address via
// X-Forwarded-For or X-Real-IP. Without it the socket peer is the client.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(s *Server) {
		s.trustedProxies = prefixes
	}
}

// New creates a new HTTP server instance
func New(host string, port int, opts ...Option) *Server {
	r := chi.NewRouter()

	s := &Server{
		router: r,
		host:   host,
		port:   port,
		timeouts: config.ServerConfig{
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		routes: make(map[string][]func(chi.Router)),
	}
	for _, opt := range opts {
		opt(s)
	}

	r.Use(servermw.ClientIP(s.trustedProxies))

	// Our custom middleware in correct order (RequestID → Metrics → Logging → Recovery)
	r.Use(servermw.RequestID)      // 1. Request ID (early for correlation)
	r.Use(servermw.RequestMetrics) // 2. Metrics (measure everything)
	r.Use(servermw.ErrorHandler)   // 3. Error handling (after metrics)
	r.Use(servermw.Recovery)       // 4. Panic recovery (outermost)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		err := apperrors.NewNotFoundError("The requested resource was not found")
		HandleError(w, req, err)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		err := apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource")
		HandleError(w, req, err)
	})

	// Ensure handlers use the centralized error responder
	handlers.SetHTTPErrorResponder(HandleError)

	// Register routes
	s.registerRoutes()

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.timeouts.ReadTimeout,
		WriteTimeout: s.timeouts.WriteTimeout,
		IdleTimeout:  s.timeouts.IdleTimeout,
	}

	observability.ServerLogger.Info("Starting HTTP server",
		zap.String("host", s.host),
		zap.Int("port", s.port),
		zap.String("addr", addr))

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	observability.ServerLogger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the server port for testing
func (s *Server) Port() int {
	return s.port
}
