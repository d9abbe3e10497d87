// Package http serves the agentflow REST API.
package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/agentflow/internal/logging"
	"github.com/fyrsmithlabs/agentflow/internal/memory"
	"github.com/fyrsmithlabs/agentflow/internal/orchestrator"
	"github.com/fyrsmithlabs/agentflow/internal/sandbox"
	"github.com/fyrsmithlabs/agentflow/internal/secrets"
)

// Tasks is the orchestrator surface the API needs.
type Tasks interface {
	Create(ctx context.Context, req *orchestrator.CreateRequest) (*orchestrator.Task, error)
	Get(ctx context.Context, id int64) (*orchestrator.Task, error)
	List(ctx context.Context, filter orchestrator.ListFilter) ([]*orchestrator.Task, error)
	Delete(ctx context.Context, id int64) error
	Execute(ctx context.Context, id int64) (*orchestrator.Output, error)
	Cancel(ctx context.Context, id int64) (*orchestrator.Task, error)
	RunningIDs() []int64
	Health() orchestrator.HealthStatus
}

// SandboxInfo reports the workspace policy for health output.
type SandboxInfo interface {
	Summary() sandbox.Summary
}

// Server provides HTTP endpoints for agentflow.
type Server struct {
	echo     *echo.Echo
	tasks    Tasks
	memory   memory.Store
	scrubber *secrets.Scrubber
	sandbox  SandboxInfo
	metrics  *HTTPMetrics
	logger   *zap.Logger
	config   *Config
	started  time.Time
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// RateLimit is requests per second per client on /api/v1. Zero disables.
	RateLimit float64
	RateBurst int
	// APIToken, when set, is required as a bearer token on /api/v1.
	APIToken string
	Version  string
}

// Option configures a Server.
type Option func(*Server)

// WithSandbox includes the sandbox policy in health responses.
func WithSandbox(info SandboxInfo) Option {
	return func(s *Server) {
		s.sandbox = info
	}
}

// WithMetrics records request metrics with m.
func WithMetrics(m *HTTPMetrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithScrubber replaces the scrubber behind /api/v1/scrub.
func WithScrubber(sc *secrets.Scrubber) Option {
	return func(s *Server) {
		if sc != nil {
			s.scrubber = sc
		}
	}
}

// NewServer creates a new HTTP server.
func NewServer(tasks Tasks, store memory.Store, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if tasks == nil {
		return nil, fmt.Errorf("task service cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("memory store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 6767,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		tasks:    tasks,
		memory:   store,
		scrubber: secrets.MustNew(nil),
		logger:   logger.Named("http"),
		config:   cfg,
		started:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	e.HTTPErrorHandler = s.handleError

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger())
	if s.metrics != nil {
		e.Use(s.metrics.MetricsMiddleware())
	}

	s.registerRoutes()

	return s, nil
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), requestID)))

			err := next(c)
			if err != nil {
				// Resolve the status before logging it.
				c.Error(err)
			}

			s.logger.Info("http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestID),
			)
			return nil
		}
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	if s.config.RateLimit > 0 {
		burst := s.config.RateBurst
		if burst <= 0 {
			burst = int(s.config.RateLimit) + 1
		}
		store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(s.config.RateLimit),
			Burst:     burst,
			ExpiresIn: 3 * time.Minute,
		})
		v1.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Store: store,
			DenyHandler: func(c echo.Context, _ string, _ error) error {
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			},
		}))
	}
	if s.config.APIToken != "" {
		v1.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			Validator: func(key string, _ echo.Context) (bool, error) {
				return subtle.ConstantTimeCompare([]byte(key), []byte(s.config.APIToken)) == 1, nil
			},
		}))
	}

	v1.GET("/health", s.handleHealth)
	v1.POST("/scrub", s.handleScrub)

	tasks := v1.Group("/tasks")
	tasks.POST("", s.handleCreateTask)
	tasks.GET("", s.handleListTasks)
	tasks.GET("/running", s.handleRunningTasks)
	tasks.GET("/:id", s.handleGetTask)
	tasks.DELETE("/:id", s.handleDeleteTask)
	tasks.POST("/:id/execute", s.handleExecuteTask)
	tasks.POST("/:id/cancel", s.handleCancelTask)

	mem := v1.Group("/memory")
	mem.POST("", s.handleIndexMemory)
	mem.GET("/search", s.handleSearchMemory)
	mem.POST("/search", s.handleSearchMemory)
	mem.GET("/stats", s.handleMemoryStats)
	mem.POST("/cleanup", s.handleCleanupMemory)
	mem.GET("/snapshot", s.handleSnapshot)
	mem.GET("/:key", s.handleGetMemory)
	mem.DELETE("/:key", s.handleDeleteMemory)
}

// handleHealth reports orchestrator load, memory counts and sandbox policy.
func (s *Server) handleHealth(c echo.Context) error {
	h := s.tasks.Health()
	status := "healthy"
	switch {
	case h.IsShutdown:
		status = "shutting_down"
	case h.RunningCount >= h.MaxConcurrent:
		status = "busy"
	}

	resp := HealthResponse{
		Status:        status,
		Version:       s.config.Version,
		Mode:          "master",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Orchestrator:  h,
		Memory:        MemoryCounts(c.Request().Context(), s.memory),
	}
	if s.sandbox != nil {
		summary := s.sandbox.Summary()
		resp.Sandbox = &summary
	}
	return ok(c, http.StatusOK, resp)
}

// handleScrub redacts secrets from the provided content.
func (s *Server) handleScrub(c echo.Context) error {
	var req ScrubRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid scrub request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	result := s.scrubber.Scrub(req.Content)
	s.logger.Debug("scrubbed content", zap.Int("findings", result.Findings))

	return ok(c, http.StatusOK, ScrubResponse{
		Content:       result.Scrubbed,
		FindingsCount: result.Findings,
	})
}

// handleError renders every failure in the response envelope.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, msg := s.classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err))
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, Response{Success: false, Error: msg})
	}
	if err != nil {
		s.logger.Warn("writing error response", zap.Error(err))
	}
}

func (s *Server) classify(err error) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok && m != "" {
			msg = m
		}
		return he.Code, msg
	}

	switch {
	case errors.Is(err, memory.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, memory.ErrInvalidEntry):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, memory.ErrClosed):
		return http.StatusServiceUnavailable, err.Error()
	}
	return statusForKind(orchestrator.KindOf(err)), errorMessage(err)
}

func statusForKind(kind orchestrator.Kind) int {
	switch kind {
	case orchestrator.KindNotFound:
		return http.StatusNotFound
	case orchestrator.KindCapacity:
		return http.StatusTooManyRequests
	case orchestrator.KindInvalidTransition:
		return http.StatusConflict
	case orchestrator.KindValidation, orchestrator.KindSandboxViolation:
		return http.StatusBadRequest
	case orchestrator.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func errorMessage(err error) string {
	if orchestrator.KindOf(err) == orchestrator.KindUnknown {
		return "internal server error"
	}
	return strings.TrimSpace(err.Error())
}

// Echo returns the underlying router.
func (s *Server) Echo() *echo.Echo {
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
