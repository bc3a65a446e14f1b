package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/dripgate/dripgate/internal/config"
	apperrors "github.com/dripgate/dripgate/internal/errors"
	"github.com/dripgate/dripgate/internal/observability"
	"github.com/dripgate/dripgate/internal/server/handlers"
	servermw "github.com/dripgate/dripgate/internal/server/middleware"
)

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	host   string
	port   int
	api    *API
}

// API wires the faucet endpoints. A nil API serves only the service endpoints.
type API struct {
	Claims     *handlers.ClaimHandler
	Stats      *handlers.StatsHandler
	LiveStats  *handlers.LiveStatsHandler
	LedgerWipe *handlers.LedgerResetHandler

	// AdminToken guards /admin/ledger/reset and /admin/signal.
	AdminToken string
	// TrustProxyHeaders lets X-Forwarded-For and X-Real-IP set the client
	// address. Enable only behind a proxy that overwrites them.
	TrustProxyHeaders bool
}

// New creates a new HTTP server instance
func New(host string, port int, api *API) *Server {
	r := chi.NewRouter()

	if api != nil && api.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}

	// Request ID first so metrics, logs and audit events share it.
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	s := &Server{
		router: r,
		host:   host,
		port:   port,
		api:    api,
	}

	// No WriteTimeout: live stats connections are long-lived and manage
	// their own write deadlines.
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if cfg := config.GetConfig(); cfg != nil {
		if cfg.Server.ReadTimeout > 0 {
			s.server.ReadTimeout = cfg.Server.ReadTimeout
		}
		if cfg.Server.IdleTimeout > 0 {
			s.server.IdleTimeout = cfg.Server.IdleTimeout
		}
	}

	// Register routes
	s.registerRoutes()

	return s
}

// HandleError writes err as a standard error envelope.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}

// Start starts the HTTP server. After Shutdown it returns http.ErrServerClosed.
func (s *Server) Start() error {
	if logger := observability.ServerLogger; logger != nil {
		logger.Info("Starting HTTP server",
			zap.String("host", s.host),
			zap.Int("port", s.port),
			zap.String("addr", s.server.Addr))
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if logger := observability.ServerLogger; logger != nil {
		logger.Info("Shutting down HTTP server")
	}
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
