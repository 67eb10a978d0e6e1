// Package api provides the HTTP API server for Roost.
// It uses Echo framework to serve REST endpoints for instance
// provisioning, job progress tracking and host capacity.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/roost-sh/roost/internal/config"
	"github.com/roost-sh/roost/internal/events"
	"github.com/roost-sh/roost/internal/instance"
	"github.com/roost-sh/roost/internal/reaper"
	"github.com/roost-sh/roost/internal/validation"
	"github.com/roost-sh/roost/internal/version"
	"github.com/roost-sh/roost/models"
)

// Enqueuer hands provisioning jobs to the work queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, tenant, version string) (models.Job, error)
}

// Server represents the Roost API server.
type Server struct {
	echo      *echo.Echo
	config    *config.Config
	store     events.Store
	instances *instance.Manager
	queue     Enqueuer
	reaper    *reaper.Reaper
	versions  *instance.VersionCatalog
	validate  *validation.Validator
}

// debugLog logs a message only if debug mode is enabled in config
func (s *Server) debugLog(format string, args ...interface{}) {
	if s.config.Server.Debug {
		log.Printf(format, args...)
	}
}

// New creates a new API server instance.
func New(cfg *config.Config, store events.Store, instances *instance.Manager, queue Enqueuer, rp *reaper.Reaper) *Server {
	e := echo.New()

	// Configure Echo
	e.HideBanner = true
	e.HidePort = true
	e.Debug = cfg.Server.Debug

	// Set custom error handler
	e.HTTPErrorHandler = HTTPErrorHandler

	// Create server instance
	server := &Server{
		echo:      e,
		config:    cfg,
		store:     store,
		instances: instances,
		queue:     queue,
		reaper:    rp,
		versions:  instance.NewVersionCatalog(cfg.Instance.TagsURL, cfg.Instance.Versions),
		validate:  validation.New(),
	}

	// Setup middleware
	server.setupMiddleware()

	// Setup routes
	server.setupRoutes()

	return server
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	// Logger middleware
	s.echo.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${time_rfc3339}] ${status} ${method} ${uri} (${latency_human})\n",
	}))

	// Recover middleware
	s.echo.Use(middleware.Recover())

	// Security headers middleware
	s.echo.Use(SecurityHeaders)

	// CORS middleware
	if len(s.config.Security.AllowedOrigins) > 0 {
		s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.config.Security.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}

	// Request ID middleware
	s.echo.Use(middleware.RequestID())

	// Rate limiting
	if s.config.Security.RateLimit > 0 {
		s.echo.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(
			rate.Limit(s.config.Security.RateLimit),
		)))
	}

	// Content-Type validation middleware for API routes
	s.echo.Use(ValidateContentType)

	// Accept header validation middleware
	s.echo.Use(ValidateAcceptHeader)
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	// Health check
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/", s.healthCheck)

	auth := RequireToken(s.config.Security.APIToken)

	// API v1 group
	v1 := s.echo.Group("/api/v1")

	// Instance routes
	instances := v1.Group("/instances")
	instances.GET("", s.listInstances, auth)
	instances.POST("", s.createInstance, auth)
	instances.GET("/:tenant", s.getInstance, ValidateTenantParam, auth)
	instances.GET("/:tenant/status", s.getInstance, ValidateTenantParam, auth)
	instances.DELETE("/:tenant", s.deleteInstance, ValidateTenantParam, auth)
	instances.POST("/:tenant/restart", s.restartInstance, ValidateTenantParam, auth)
	instances.POST("/:tenant/reset", s.resetInstance, ValidateTenantParam, auth)
	instances.PUT("/:tenant/version", s.updateInstanceVersion, ValidateTenantParam, auth)
	instances.POST("/:tenant/version", s.updateInstanceVersion, ValidateTenantParam, auth)

	// Job routes
	jobs := v1.Group("/jobs")
	jobs.GET("", s.listActiveJobs, auth)
	jobs.GET("/:id/events", s.getJobEvents, auth)
	jobs.GET("/:id/stream", s.streamJobEvents, auth)

	// Host routes
	v1.GET("/capacity", s.getCapacity, auth)
	v1.GET("/versions", s.listVersions, auth)

	// Cleanup routes
	cleanup := v1.Group("/cleanup")
	cleanup.GET("/preview", s.previewCleanup, auth)
	cleanup.POST("/run", s.runCleanup, auth)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	fmt.Printf("Starting Roost API Server\n")
	fmt.Printf("   Address: http://%s\n", addr)
	fmt.Printf("   Base domain: %s\n", s.config.Instance.BaseDomain)
	fmt.Printf("   Debug: %v\n", s.config.Server.Debug)
	fmt.Println()

	// Configure server timeouts. WriteTimeout stays at its configured
	// value even when zero: the event stream endpoint holds responses
	// open for minutes.
	s.echo.Server.ReadTimeout = s.config.Server.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.Server.WriteTimeout

	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	fmt.Println("\nShutting down Roost API Server...")

	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down server: %w", err)
	}

	fmt.Println("Server shutdown complete")
	return nil
}

// healthCheck handles health check requests.
func (s *Server) healthCheck(c echo.Context) error {
	// Ping the container runtime to verify connectivity
	if _, err := s.instances.Ping(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "unhealthy",
			"error":   "docker connection failed",
			"details": err.Error(),
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "roost",
		"version": version.Version,
	})
}

// ServeHTTP allows Server to implement http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
