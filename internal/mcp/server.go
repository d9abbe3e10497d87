package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentflow/internal/memory"
	"github.com/fyrsmithlabs/agentflow/internal/orchestrator"
	"github.com/fyrsmithlabs/agentflow/internal/secrets"
)

// Tasks is the orchestrator surface exposed as tools.
type Tasks interface {
	Create(ctx context.Context, req *orchestrator.CreateRequest) (*orchestrator.Task, error)
	Get(ctx context.Context, id int64) (*orchestrator.Task, error)
	Execute(ctx context.Context, id int64) (*orchestrator.Output, error)
	Cancel(ctx context.Context, id int64) (*orchestrator.Task, error)
	RunningIDs() []int64
}

// Server exposes the orchestrator and memory store as MCP tools.
type Server struct {
	mcp      *mcp.Server
	tasks    Tasks
	memory   memory.Store
	scrubber *secrets.Scrubber
	registry *ToolRegistry
	metrics  *Metrics
	logger   *zap.Logger

	// pending collects metadata until registerTools commits it.
	pending []*ToolMetadata
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "agentflow")
	Name string

	// Version is the server version (default: "0.1.0")
	Version string

	// Logger for structured logging
	Logger *zap.Logger

	// Metrics records tool invocations. Defaults to the global meter.
	Metrics *Metrics

	// Scrubber redacts secrets from agent output. Defaults to the built-in rules.
	Scrubber *secrets.Scrubber
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "agentflow",
		Version: "0.1.0",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates a new MCP server over tasks and store.
func NewServer(cfg *Config, tasks Tasks, store memory.Store) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if tasks == nil {
		return nil, fmt.Errorf("task service is required")
	}
	if store == nil {
		return nil, fmt.Errorf("memory store is required")
	}
	defaults := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = defaults.Name
	}
	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(otel.Meter(instrumentationName), logger)
	}
	scrubber := cfg.Scrubber
	if scrubber == nil {
		scrubber = secrets.MustNew(nil)
	}

	s := &Server{
		mcp:      mcp.NewServer(&mcp.Implementation{Name: cfg.Name, Version: cfg.Version}, nil),
		tasks:    tasks,
		memory:   store,
		scrubber: scrubber,
		registry: NewToolRegistry(),
		metrics:  metrics,
		logger:   logger.Named("mcp"),
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	return s, nil
}

func (s *Server) registerTools() error {
	s.registerTaskTools()
	s.registerMemoryTools()
	s.registerSearchTools()
	return s.registry.RegisterAll(s.pending)
}

// Registry returns the tool metadata registry.
func (s *Server) Registry() *ToolRegistry {
	return s.registry
}

// Run serves MCP on the stdio transport until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves one session on transport.
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, transport, nil)
}

// toolHandler is the body of a tool: it returns the structured result and a
// one-line summary for the text content.
type toolHandler[In, Out any] func(ctx context.Context, args In) (Out, string, error)

// addTool registers a tool with the SDK and the registry, wrapping the
// handler with invocation metrics and error logging.
func addTool[In, Out any](s *Server, meta *ToolMetadata, h toolHandler[In, Out]) {
	s.pending = append(s.pending, meta)
	name := meta.Name
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        name,
		Description: meta.Description,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, name)
		out, summary, err := h(ctx, args)
		s.metrics.DecrementActive(ctx, name)
		s.metrics.RecordInvocation(ctx, name, time.Since(start), err)
		if err != nil {
			s.logger.Debug("tool failed", zap.String("tool", name), zap.Error(err))
			var zero Out
			return nil, zero, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: summary}},
		}, out, nil
	})
}
