// Package http provides the HTTP API for workspaced.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/workspaced/internal/docstore"
	"github.com/fyrsmithlabs/workspaced/internal/manifest"
	"github.com/fyrsmithlabs/workspaced/internal/project"
)

// Server provides HTTP endpoints for project lifecycle operations.
type Server struct {
	echo       *echo.Echo
	docs       docstore.Store
	fsys       billy.Filesystem
	projectCfg *project.Config
	logger     *zap.Logger
	config     *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(docs docstore.Store, fsys billy.Filesystem, projectCfg *project.Config, logger *zap.Logger, cfg *Config) (*Server, error) {
	if docs == nil {
		return nil, fmt.Errorf("document store cannot be nil")
	}
	if fsys == nil {
		return nil, fmt.Errorf("workspace filesystem cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if projectCfg == nil {
		projectCfg = project.DefaultConfig()
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9191,
		}
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

	s := &Server{
		echo:       e,
		docs:       docs,
		fsys:       fsys,
		projectCfg: projectCfg,
		logger:     logger,
		config:     cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	// Health check
	s.echo.GET("/health", s.handleHealth)

	// API v1 routes
	v1 := s.echo.Group("/api/v1")
	v1.POST("/projects", s.handleSave)
	v1.GET("/projects/:id", s.handleGet)
	v1.POST("/projects/:id/save", s.handleSaveExisting)
	v1.POST("/projects/:id/launch", s.handleLaunch)
	v1.POST("/projects/:id/export", s.handleExport)
	v1.POST("/projects/:id/copy", s.handleCopy)
	v1.DELETE("/projects/:id", s.handleDelete)
	v1.DELETE("/projects/:id/versions/:number", s.handleDeleteVersion)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// SaveRequest is the request body for POST /api/v1/projects and
// POST /api/v1/projects/:id/save.
type SaveRequest struct {
	Manifest      map[string]any `json:"manifest"`
	WorkspacePath string         `json:"workspace_path,omitempty"`
}

// LaunchRequest is the request body for POST /api/v1/projects/:id/launch.
type LaunchRequest struct {
	Workflow string `json:"workflow"`
	Version  int    `json:"version,omitempty"`
	New      bool   `json:"new"`
}

// ExportRequest is the request body for POST /api/v1/projects/:id/export.
type ExportRequest struct {
	Version int `json:"version,omitempty"`
}

// CopyRequest is the request body for POST /api/v1/projects/:id/copy.
type CopyRequest struct {
	Name    string `json:"name"`
	Version int    `json:"version,omitempty"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// openProject loads a persisted manifest and binds a lifecycle store to it.
func (s *Server) openProject(ctx context.Context, id string) (*project.Store, error) {
	doc, err := s.docs.FindOne(ctx, s.projectCfg.ProjectsCollection, id)
	if err != nil {
		return nil, err
	}
	return project.New(s.projectCfg, manifest.Manifest(doc), s.docs, s.fsys, s.logger)
}

// handleSave inserts a new project manifest.
func (s *Server) handleSave(c echo.Context) error {
	var req SaveRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid save request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Manifest) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "manifest is required")
	}

	store, err := project.New(s.projectCfg, manifest.Manifest(req.Manifest), s.docs, s.fsys, s.logger)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res := store.Save(c.Request().Context(), req.WorkspacePath)
	return respond(c, res.Result, res)
}

// handleSaveExisting saves an already-persisted project, optionally
// embedding a snapshot of a workspace path.
func (s *Server) handleSaveExisting(c echo.Context) error {
	store, err := s.openProject(c.Request().Context(), c.Param("id"))
	if err != nil {
		return projectError(err)
	}
	var req SaveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res := store.Save(c.Request().Context(), req.WorkspacePath)
	return respond(c, res.Result, res)
}

// handleGet returns the reduced manifest for a project.
func (s *Server) handleGet(c echo.Context) error {
	doc, err := s.docs.FindOne(c.Request().Context(), s.projectCfg.ProjectsCollection, c.Param("id"))
	if err != nil {
		return projectError(err)
	}
	return c.JSON(http.StatusOK, doc)
}

// handleLaunch materializes a project version in the workspace.
func (s *Server) handleLaunch(c echo.Context) error {
	store, err := s.openProject(c.Request().Context(), c.Param("id"))
	if err != nil {
		return projectError(err)
	}
	var req LaunchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res := store.Launch(c.Request().Context(), req.Workflow, req.Version, req.New)
	return respond(c, res.Result, res)
}

// handleExport writes a version archive into the exports directory.
func (s *Server) handleExport(c echo.Context) error {
	store, err := s.openProject(c.Request().Context(), c.Param("id"))
	if err != nil {
		return projectError(err)
	}
	var req ExportRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res := store.Export(c.Request().Context(), req.Version)
	return respond(c, res.Result, res)
}

// handleCopy inserts a copy of the project under a new name.
func (s *Server) handleCopy(c echo.Context) error {
	store, err := s.openProject(c.Request().Context(), c.Param("id"))
	if err != nil {
		return projectError(err)
	}
	var req CopyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res := store.Copy(c.Request().Context(), req.Name, req.Version)
	return respond(c, res.Result, res)
}

// handleDelete removes a whole project.
func (s *Server) handleDelete(c echo.Context) error {
	store, err := s.openProject(c.Request().Context(), c.Param("id"))
	if err != nil {
		return projectError(err)
	}
	res := store.Delete(c.Request().Context())
	return respond(c, res.Result, res)
}

// handleDeleteVersion removes one version from a project's history.
func (s *Server) handleDeleteVersion(c echo.Context) error {
	store, err := s.openProject(c.Request().Context(), c.Param("id"))
	if err != nil {
		return projectError(err)
	}
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "version number must be an integer")
	}
	res := store.DeleteVersion(c.Request().Context(), number)
	return respond(c, res.Result, res)
}

// respond serializes a result envelope. Failed operations report 422 so
// callers can distinguish them without parsing the body.
func respond(c echo.Context, result string, envelope any) error {
	status := http.StatusOK
	if result == project.StatusFail {
		status = http.StatusUnprocessableEntity
	}
	return c.JSON(status, envelope)
}

func projectError(err error) error {
	if errors.Is(err, docstore.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "project not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
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
