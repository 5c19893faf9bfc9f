package server

import (
	"net/http"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/subtrack/subtrack/internal/core/limiter"
	apperrors "github.com/subtrack/subtrack/internal/errors"
	"github.com/subtrack/subtrack/internal/observability"
	"github.com/subtrack/subtrack/internal/server/handlers"
	servermw "github.com/subtrack/subtrack/internal/server/middleware"
)

// Route class groups nested under /api. Requests here are counted by the
// general policy and then by their own.
var classGroups = []struct {
	class string
	path  string
}{
	{class: limiter.ClassAuth, path: "/v1/auth"},
	{class: limiter.ClassSubscription, path: "/v1/subscriptions"},
	{class: limiter.ClassUserManagement, path: "/v1/users"},
}

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	// Health endpoints: aggregate plus liveness, readiness and startup probes
	s.router.Get("/health", handlers.HealthHandler)
	s.router.Get("/health/live", handlers.LivenessHandler)
	s.router.Get("/health/ready", handlers.ReadinessHandler)
	s.router.Get("/health/startup", handlers.StartupHandler)

	// Version endpoint
	s.router.Get("/version", handlers.VersionHandler)

	// Metrics endpoint (in server package to access HandleError)
	s.router.Get("/metrics", MetricsHandler)

	s.registerAPIRoutes()

	// Admin endpoints (optional, require admin token)
	s.registerAdminEndpoints()
}

func (s *Server) registerAPIRoutes() {
	if len(s.policies) > 0 {
		s.router.Get("/rate-limit", handlers.RateLimitStatus(s.orderedPolicies(), servermw.KeyByIP))
	}

	s.router.Route("/api", func(r chi.Router) {
		s.limit(r, limiter.ClassGeneral)
		for _, register := range s.routes[limiter.ClassGeneral] {
			register(r)
		}

		for _, group := range classGroups {
			r.Route(group.path, func(r chi.Router) {
				s.limit(r, group.class)
				for _, register := range s.routes[group.class] {
					register(r)
				}
			})
		}
	})
}

func (s *Server) limit(r chi.Router, class string) {
	policy, ok := s.policies[class]
	if !ok || policy == nil {
		return
	}
	r.Use(servermw.RateLimit(policy, s.limitOpts...))
}

func (s *Server) orderedPolicies() []*limiter.Policy {
	ordered := make([]*limiter.Policy, 0, len(s.policies))
	if p, ok := s.policies[limiter.ClassGeneral]; ok {
		ordered = append(ordered, p)
	}
	for _, group := range classGroups {
		if p, ok := s.policies[group.class]; ok {
			ordered = append(ordered, p)
		}
	}
	return ordered
}

// registerAdminEndpoints optionally registers the admin signal and rate limit
// endpoints
func (s *Server) registerAdminEndpoints() {
	logger := observability.ServerLogger

	if s.adminToken == "" {
		if logger != nil {
			logger.Debug("Admin endpoints disabled (no admin token configured)")
		}
		return
	}

	// Create HTTP signal handler with bearer token auth and rate limiting
	signalHandler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: s.adminToken,
		RateLimit: 10,  // 10 requests per minute
		RateBurst: 5,   // burst size
		Manager:   nil, // use default global manager
	})
	s.router.Post("/admin/signal", signalHandler.ServeHTTP)

	if s.backend != nil {
		admin := handlers.NewRateLimitAdmin(s.backend)
		s.router.Route("/admin/rate-limits", func(r chi.Router) {
			r.Use(servermw.RequireBearerToken(s.adminToken, func(w http.ResponseWriter, req *http.Request) {
				HandleError(w, req, apperrors.NewUnauthorizedError("missing or invalid bearer token"))
			}))
			r.Get("/", admin.List)
			r.Post("/cleanup", admin.Cleanup)
			r.Get("/{key}", admin.Get)
			r.Delete("/{key}", admin.Delete)
		})
	}

	if logger != nil {
		logger.Info("Admin endpoints enabled",
			zap.Strings("paths", []string{"/admin/signal", "/admin/rate-limits"}),
			zap.String("auth", "bearer token"))
		logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
	}
}
