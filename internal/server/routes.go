package server

import (
	"github.com/fulmenhq/gofulmen/signals"
	"go.uber.org/zap"

	"github.com/dripgate/dripgate/internal/observability"
	"github.com/dripgate/dripgate/internal/server/handlers"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	s.router.Get("/health", handlers.HealthHandler)
	s.router.Get("/health/live", handlers.LivenessHandler)
	s.router.Get("/health/ready", handlers.ReadinessHandler)
	s.router.Get("/health/startup", handlers.StartupHandler)

	s.router.Get("/version", handlers.VersionHandler)

	// Metrics endpoint (in server package to access HandleError)
	s.router.Get("/metrics", MetricsHandler)

	if s.api == nil {
		return
	}

	if s.api.Claims != nil {
		s.router.Method("POST", "/api/claim", s.api.Claims)
	}
	if s.api.Stats != nil {
		s.router.Method("GET", "/api/stats", s.api.Stats)
	}
	if s.api.LiveStats != nil {
		s.router.Method("GET", "/api/stats/live", s.api.LiveStats)
	}

	s.registerAdminEndpoints()
}

// registerAdminEndpoints registers the token-guarded endpoints when a token
// is configured.
func (s *Server) registerAdminEndpoints() {
	logger := observability.ServerLogger
	if s.api.AdminToken == "" {
		if logger != nil {
			logger.Debug("Admin endpoints disabled (no admin.token set)")
		}
		return
	}

	if s.api.LedgerWipe != nil {
		s.api.LedgerWipe.Token = s.api.AdminToken
		s.router.Method("POST", "/admin/ledger/reset", s.api.LedgerWipe)
	}

	// Create HTTP signal handler with bearer token auth and rate limiting
	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: s.api.AdminToken,
		RateLimit: 10,  // 10 requests per minute
		RateBurst: 5,   // burst size
		Manager:   nil, // use default global manager
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin endpoints enabled",
			zap.Strings("paths", []string{"/admin/ledger/reset", "/admin/signal"}),
			zap.String("auth", "bearer token"))
		logger.Warn("Admin endpoints enabled - ensure this server is not exposed to public internet")
	}
}
