package http

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ignatij/todoflow/pkg/service"
	"github.com/ignatij/todoflow/pkg/storage"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
)

// UserHeader names the user performing a change. Requests without it act as AnonymousUser.
const (
	UserHeader    = "X-Todoflow-User"
	AnonymousUser = "anonymous"
)

type Server struct {
	svc    *service.TodoService
	logger service.Logger
	echo   *echo.Echo
}

func NewServer(svc *service.TodoService, logger service.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	s := &Server{svc: svc, logger: logger, echo: e}

	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.New().String() },
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Infof("%s %s -> %d in %s (request %s)", v.Method, v.URI, v.Status, v.Latency, v.RequestID)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo
	e.GET("/health", s.health)

	e.GET("/projects", s.listProjects)
	e.POST("/projects", s.createProject)
	e.GET("/actors", s.listActors)
	e.POST("/actors", s.createActor)

	e.GET("/protos", s.listProtos)
	e.POST("/protos", s.createProto)
	e.POST("/protos/:id/nestings", s.addNesting)

	e.POST("/trackers", s.spawnTracker)
	e.GET("/trackers/:id", s.getTracker)

	e.GET("/tasks", s.listTasks)
	e.POST("/tasks", s.spawnTask)
	e.POST("/tasks/batch", s.addTasks)
	e.GET("/tasks/:id", s.getTask)
	e.POST("/tasks/:id/activate", s.activateTask)
	e.POST("/tasks/:id/clone", s.cloneTask)
	e.POST("/tasks/:id/resolve", s.resolveTask)

	e.GET("/steps/next", s.listNextSteps)
	e.GET("/steps/overdue", s.listOverdueSteps)
	e.GET("/steps/:id", s.getStep)
	e.POST("/steps/:id/activate", s.activateStep)
	e.POST("/steps/:id/resolve", s.resolveStep)
	e.POST("/steps/:id/review", s.resolveReview)
	e.POST("/steps/:id/reset-time", s.resetStepTime)

	e.GET("/actions", s.listActions)
}

// Handler exposes the routes, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Infof("Starting todoflow server on %s", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Serve starts the server and shuts it down gracefully once ctx is done.
func (s *Server) Serve(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start(addr)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.logger.Infof("Shutting down todoflow server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusOf maps service and storage errors to HTTP status codes.
func statusOf(err error) int {
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Code
	case service.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, storage.ErrDuplicate):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := statusOf(err)
	message := err.Error()
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		if m, ok := httpErr.Message.(string); ok {
			message = m
		}
	}
	if code >= http.StatusInternalServerError {
		s.logger.Errorf("Request %s failed: %v", c.Response().Header().Get(echo.HeaderXRequestID), err)
		message = http.StatusText(code)
	}
	if err := c.JSON(code, errorResponse{Error: message}); err != nil {
		s.logger.Errorf("Failed to write error response: %v", err)
	}
}
