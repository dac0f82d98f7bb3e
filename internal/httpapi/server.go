// Package httpapi serves the chat, history, and auth endpoints over echo.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/answerd/internal/config"
	"github.com/fyrsmithlabs/answerd/internal/history"
	"github.com/fyrsmithlabs/answerd/internal/pipeline"
	"github.com/fyrsmithlabs/answerd/internal/tenant"
)

// principalKey is the echo context key the auth middleware stores the
// verified principal under.
const principalKey = "principal"

// TokenVerifier validates a raw bearer token and returns the principal it
// asserts.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (tenant.Principal, error)
}

// Server provides the HTTP endpoints for answerd.
type Server struct {
	echo     *echo.Echo
	logger   *zap.Logger
	config   *config.Config
	verifier TokenVerifier
	pipeline *pipeline.Pipeline
	store    *history.Store
}

// NewServer creates the HTTP server with all routes registered.
func NewServer(cfg *config.Config, verifier TokenVerifier, p *pipeline.Pipeline, store *history.Store, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if verifier == nil {
		return nil, fmt.Errorf("token verifier is required; the API must fail closed without one")
	}
	if p == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if store == nil {
		return nil, fmt.Errorf("history store is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})
	if cfg.Server.RateLimit > 0 {
		e.Use(middleware.RateLimiter(
			middleware.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit)),
		))
	}

	metrics := NewHTTPMetrics(logger)
	e.Use(metrics.Middleware())

	s := &Server{
		echo:     e,
		logger:   logger,
		config:   cfg,
		verifier: verifier,
		pipeline: p,
		store:    store,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	api := s.echo.Group("/api")
	// The SPA needs the auth configuration before it can sign in.
	api.GET("/auth_setup", s.handleAuthSetup)

	authed := api.Group("", s.requireAuth)
	authed.POST("/chat", s.handleChat)
	authed.GET("/history", s.handleListHistory)
	authed.GET("/history/:id", s.handleGetHistory)
	authed.POST("/history", s.handleSaveHistory)
	authed.GET("/checkcount", s.handleCheckCount)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// requireAuth verifies the bearer token and stores the principal on the
// request context. Requests without a verified identity are rejected: the
// API fails closed.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
		}

		principal, err := s.verifier.Verify(c.Request().Context(), token)
		if err != nil {
			s.logger.Warn("token verification failed", zap.Error(err))
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}

		c.Set(principalKey, principal)
		return next(c)
	}
}

// currentPrincipal returns the principal stored by requireAuth.
func currentPrincipal(c echo.Context) (tenant.Principal, bool) {
	principal, ok := c.Get(principalKey).(tenant.Principal)
	return principal, ok
}

// AuthSetupResponse is the client auth configuration for the SPA.
type AuthSetupResponse struct {
	ClientID  string   `json:"clientId"`
	Authority string   `json:"authority"`
	Scopes    []string `json:"scopes"`
}

// handleAuthSetup returns the identity-provider settings the SPA signs in
// with.
func (s *Server) handleAuthSetup(c echo.Context) error {
	return c.JSON(http.StatusOK, AuthSetupResponse{
		ClientID:  s.config.Auth.ClientID,
		Authority: fmt.Sprintf("https://login.microsoftonline.com/%s", s.config.Auth.TenantID),
		Scopes:    []string{fmt.Sprintf("api://%s/.default", s.config.Auth.ClientID)},
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
