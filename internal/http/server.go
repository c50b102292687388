// Package http provides the HTTP API for clinicd.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/clinicd/internal/discharge"
	"github.com/fyrsmithlabs/clinicd/internal/documents"
	"github.com/fyrsmithlabs/clinicd/internal/extraction"
	"github.com/fyrsmithlabs/clinicd/internal/logging"
	"github.com/fyrsmithlabs/clinicd/internal/phi"
)

const instrumentationName = "github.com/fyrsmithlabs/clinicd/internal/http"

// Server provides HTTP endpoints for clinicd.
type Server struct {
	echo      *echo.Echo
	docs      *documents.Service
	coord     *extraction.Coordinator
	formatter *discharge.Formatter
	scrubber  phi.Scrubber
	logger    *zap.Logger
	config    *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// MaxUploadMB bounds request bodies. Zero means 50.
	MaxUploadMB int
	// Meter records API metrics. Nil uses the otel global provider.
	Meter metric.Meter
}

func (c *Config) meter() metric.Meter {
	if c.Meter != nil {
		return c.Meter
	}
	return otel.Meter(instrumentationName)
}

// Deps are the services behind the API.
type Deps struct {
	Documents   *documents.Service
	Coordinator *extraction.Coordinator
	Formatter   *discharge.Formatter
	Scrubber    phi.Scrubber
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	if deps.Documents == nil {
		return nil, fmt.Errorf("documents service cannot be nil")
	}
	if deps.Scrubber == nil {
		return nil, fmt.Errorf("scrubber cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if deps.Coordinator == nil {
		deps.Coordinator = extraction.NewCoordinator(nil, nil, logger)
	}
	if deps.Formatter == nil {
		deps.Formatter = discharge.NewFormatter()
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 50
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", cfg.MaxUploadMB)))
	metrics, err := newAPIMetrics(cfg.meter())
	if err != nil {
		logger.Warn("some API metrics are unavailable", zap.Error(err))
	}
	e.Use(metrics.middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			if logging.ValidID(requestID) {
				req := c.Request()
				c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), requestID)))
			}

			err := next(c)
			duration := time.Since(start)

			logging.For(c.Request().Context(), logger).Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
			)

			return err
		}
	})

	s := &Server{
		echo:      e,
		docs:      deps.Documents,
		coord:     deps.Coordinator,
		formatter: deps.Formatter,
		scrubber:  deps.Scrubber,
		logger:    logger,
		config:    cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/documents", s.handleListDocuments)
	v1.POST("/documents", s.handleUpload)

	doc := v1.Group("/documents/:id", validateDocumentID)
	doc.GET("", s.handleGetDocument)
	doc.POST("/reextract", s.handleReextract)
	doc.GET("/discharge", s.handleDischarge)
	doc.GET("/sections", s.handleSections)

	v1.GET("/search", s.handleSearch)
	v1.POST("/extract", s.handleExtract)
	v1.POST("/scrub", s.handleScrub)
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
