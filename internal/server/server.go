// Package server provides the branchd HTTP API.
//
// It implements a graceful HTTP server with an Echo router, health and
// metrics endpoints, and the document fork routes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/branchd/internal/config"
	"github.com/fyrsmithlabs/branchd/internal/document"
)

// Server represents the HTTP server.
type Server struct {
	config    *config.ServerConfig
	documents document.Service
	logger    *zap.Logger
	echo      *echo.Echo
}

// HealthResponse is the JSON response for the /health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// ErrorResponse is the JSON body for error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ForkResponse is the JSON body returned when a fork is created.
type ForkResponse struct {
	DocumentID string `json:"documentId"`
}

// NewServer creates a new HTTP server with the given configuration.
func NewServer(cfg *config.ServerConfig, documents document.Service, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config is required")
	}
	if documents == nil {
		return nil, errors.New("document service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())
	e.Use(NewHTTPMetrics(logger).Middleware())

	s := &Server{
		config:    cfg,
		documents: documents,
		logger:    logger,
		echo:      e,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.GET("/documents/:tenantId/:documentId", s.handleGetDocument)
	s.echo.POST("/documents/:tenantId/:documentId", s.handleCreateDocument)
	s.echo.GET("/documents/:tenantId/:documentId/forks", s.handleGetForks)
	s.echo.POST("/documents/:tenantId/:documentId/forks", s.handleCreateFork)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Service: "branchd",
	})
}

func (s *Server) handleGetDocument(c echo.Context) error {
	tenantID := c.Param("tenantId")
	documentID := c.Param("documentId")

	record, err := s.documents.GetDocument(c.Request().Context(), tenantID, documentID)
	if err != nil {
		return s.errorResponse(c, err)
	}
	if record == nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "document not found"})
	}
	return c.JSON(http.StatusOK, record)
}

func (s *Server) handleCreateDocument(c echo.Context) error {
	tenantID := c.Param("tenantId")
	documentID := c.Param("documentId")

	existing, record, err := s.documents.GetOrCreateDocument(c.Request().Context(), tenantID, documentID)
	if err != nil {
		return s.errorResponse(c, err)
	}
	if existing {
		return c.JSON(http.StatusOK, record)
	}
	return c.JSON(http.StatusCreated, record)
}

func (s *Server) handleGetForks(c echo.Context) error {
	tenantID := c.Param("tenantId")
	documentID := c.Param("documentId")

	forks, err := s.documents.GetForks(c.Request().Context(), tenantID, documentID)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, forks)
}

func (s *Server) handleCreateFork(c echo.Context) error {
	tenantID := c.Param("tenantId")
	documentID := c.Param("documentId")

	forkID, err := s.documents.CreateFork(c.Request().Context(), tenantID, documentID)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, ForkResponse{DocumentID: forkID})
}

// errorResponse maps service errors to HTTP status codes.
func (s *Server) errorResponse(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, document.ErrCorruptHistory):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, document.ErrDuplicateDocumentID):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", c.Path()),
			zap.Error(err))
		// Internal details stay out of the response body.
		return c.JSON(status, ErrorResponse{Error: "internal server error"})
	}
	return c.JSON(status, ErrorResponse{Error: err.Error()})
}

// Start starts the HTTP server and blocks until the context is
// cancelled. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			s.config.ShutdownTimeout.Duration(),
		)
		defer cancel()

		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Echo returns the underlying Echo instance for registering additional
// routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
