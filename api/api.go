// Package api exposes workflow control and inspection over HTTP with echo.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/engine"
)

// serviceName is the otelecho server name.
const serviceName = "conductor"

// API wires all HTTP handlers together for the conductor.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// New creates an API from a conductor Engine.
func New(eng *engine.Engine) *API {
	return &API{eng: eng, logger: eng.Conductor().Logger()}
}

// Handler returns a fully assembled echo instance with all routes.
func (a *API) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = a.errorHandler
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(otelecho.Middleware(serviceName))
	a.RegisterRoutes(e.Group("/v1"))
	return e
}

// RegisterRoutes registers all conductor routes into g.
func (a *API) RegisterRoutes(g *echo.Group) {
	a.registerWorkflowRoutes(g)
	a.registerTaskRoutes(g)
	a.registerPurgeRoutes(g)
	a.registerStatsRoutes(g)
}

func (a *API) registerWorkflowRoutes(g *echo.Group) {
	g.GET("/definitions", a.listDefinitions)
	g.GET("/workflows", a.listWorkflows)
	g.POST("/workflows", a.createWorkflow)
	g.GET("/workflows/:workflowId", a.getWorkflow)
	g.DELETE("/workflows/:workflowId", a.deleteWorkflow)
	g.GET("/workflows/:workflowId/status", a.workflowStatus)
	g.POST("/workflows/:workflowId/start", a.startWorkflow)
	g.POST("/workflows/:workflowId/pause", a.pauseWorkflow)
	g.POST("/workflows/:workflowId/resume", a.resumeWorkflow)
}

func (a *API) registerTaskRoutes(g *echo.Group) {
	g.GET("/tasks/counts", a.taskCounts)
	g.GET("/tasks/:taskId", a.getTask)
	g.POST("/tasks/:taskId/revoke", a.revokeTask)
}

func (a *API) registerPurgeRoutes(g *echo.Group) {
	g.POST("/purge", a.purge)
}

func (a *API) registerStatsRoutes(g *echo.Group) {
	g.GET("/stats", a.stats)
}

// errorHandler renders every error as ErrorResponse, mapping conductor
// errors to their HTTP status.
func (a *API) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, msg := statusOf(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			slog.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			slog.String("method", c.Request().Method),
			slog.String("path", c.Path()),
			slog.String("error", err.Error()),
		)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, ErrorResponse{Error: msg})
	}
	if err != nil {
		a.logger.Warn("failed to write error response", slog.String("error", err.Error()))
	}
}

func statusOf(err error) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if msg, ok := he.Message.(string); ok {
			return he.Code, msg
		}
		return he.Code, http.StatusText(he.Code)
	}

	switch {
	case errors.Is(err, conductor.ErrWorkflowNotFound),
		errors.Is(err, conductor.ErrTaskNotFound),
		errors.Is(err, conductor.ErrStepNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, conductor.ErrInvalidDefinition),
		errors.Is(err, conductor.ErrUnknownDefinition),
		errors.Is(err, conductor.ErrUnknownTask),
		errors.Is(err, conductor.ErrInvalidPurge):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, conductor.ErrConflict),
		errors.Is(err, conductor.ErrInvalidState),
		errors.Is(err, conductor.ErrWorkflowAlreadyExists):
		return http.StatusConflict, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}
