package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/agentflow/internal/config"
	"github.com/fyrsmithlabs/agentflow/internal/logging"
	"github.com/fyrsmithlabs/agentflow/internal/memory"
	"github.com/fyrsmithlabs/agentflow/internal/orchestrator"
	"github.com/fyrsmithlabs/agentflow/internal/sandbox"
	"github.com/fyrsmithlabs/agentflow/internal/secrets"
	"github.com/fyrsmithlabs/agentflow/internal/telemetry"
)

const instrumentationName = "github.com/fyrsmithlabs/agentflow/cmd/agentflowd"

// app holds the components shared by the HTTP and MCP front ends.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	scrubber  *secrets.Scrubber
	validator *sandbox.Validator
	memory    *memory.Service
	orch      *orchestrator.Orchestrator

	natsServer *natsserver.Server
	nc         *nats.Conn
}

// newApp wires configuration into running components. logWriter overrides
// stdout for log output.
func newApp(ctx context.Context, cfg *config.Config, logWriter zapcore.WriteSyncer) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	a.telemetry = tel

	logCfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logCfg.Output.Writer = logWriter
	logger, err := logging.NewLogger(logCfg, global.GetLoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	a.logger = logger
	zl := logger.Underlying()

	if !tel.Health().Healthy {
		logger.Warn(ctx, "telemetry degraded", zap.String("error", tel.Health().LastError))
	}

	a.scrubber, err = newScrubber(cfg.Secrets)
	if err != nil {
		return nil, fmt.Errorf("initializing scrubber: %w", err)
	}

	store, err := memory.Open(memory.FromAppConfig(cfg.Memory), memory.WithLogger(zl))
	if err != nil {
		return nil, fmt.Errorf("opening memory store: %w", err)
	}
	a.memory, err = memory.NewService(store, zl, memory.WithInstrumentation(tel))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.memory.StartJanitor(ctx, cfg.Memory.CleanupInterval.Duration())

	var validator orchestrator.PathValidator
	if cfg.Sandbox.Enabled {
		a.validator, err = newValidator(cfg.Sandbox, zl)
		if err != nil {
			return nil, err
		}
		validator = a.validator
	}

	if cfg.Events.Enabled || cfg.Orchestrator.TaskStore == "nats" {
		if err := a.connectNATS(ctx); err != nil {
			return nil, err
		}
	}

	repo, err := a.newRepository(ctx)
	if err != nil {
		return nil, err
	}

	metrics, err := orchestrator.NewMetrics(tel.Meter(instrumentationName))
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator metrics: %w", err)
	}
	opts := []orchestrator.Option{
		orchestrator.WithConfig(orchestrator.FromAppConfig(cfg.Orchestrator, cfg.Sandbox)),
		orchestrator.WithLogger(zl),
		orchestrator.WithMetrics(metrics),
		orchestrator.WithTracer(tel.Tracer(instrumentationName)),
		orchestrator.WithMemory(a.memory),
		orchestrator.WithCommandBuilder(orchestrator.NewCommandBuilder(cfg.Orchestrator.Command, cfg.Orchestrator.Args)),
		orchestrator.WithScrubber(a.scrubber),
	}
	if cfg.Events.Enabled {
		opts = append(opts, orchestrator.WithPublisher(orchestrator.NewNATSPublisher(a.nc, cfg.Events.SubjectPrefix)))
	}
	a.orch, err = orchestrator.New(repo, validator, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}

	logger.Info(ctx, "agentflow initialized",
		zap.String("version", version),
		zap.String("task_store", cfg.Orchestrator.TaskStore),
		zap.String("memory_backend", cfg.Memory.Backend),
		zap.Bool("sandbox", cfg.Sandbox.Enabled),
		zap.Bool("events", cfg.Events.Enabled),
		zap.Int("max_concurrent_tasks", a.orch.Config().MaxConcurrent),
		zap.String("command", cfg.Orchestrator.Command))
	return a, nil
}

// newValidator confines workspaces to the allowed directories, defaulting
// to the default workspace, which is created if missing.
func newScrubber(cfg config.SecretsConfig) (*secrets.Scrubber, error) {
	if !cfg.Gitleaks {
		return secrets.New(nil)
	}
	var allow *secrets.Allowlist
	if cfg.Allowlist != "" {
		var err error
		if allow, err = secrets.LoadAllowlist(config.ExpandHome(cfg.Allowlist)); err != nil {
			return nil, err
		}
	}
	return secrets.New(nil, secrets.WithGitleaks(allow))
}

func newValidator(cfg config.SandboxConfig, logger *zap.Logger) (*sandbox.Validator, error) {
	workspace := config.ExpandHome(cfg.DefaultWorkspace)
	if workspace != "" {
		if err := os.MkdirAll(workspace, 0o750); err != nil {
			return nil, fmt.Errorf("creating default workspace: %w", err)
		}
	}
	dirs := make([]string, 0, len(cfg.AllowedDirs)+1)
	for _, d := range cfg.AllowedDirs {
		dirs = append(dirs, config.ExpandHome(d))
	}
	if len(dirs) == 0 && workspace != "" {
		dirs = append(dirs, workspace)
	}
	v, err := sandbox.NewValidator(sandbox.Config{
		AllowedDirs:     dirs,
		StrictMode:      cfg.StrictMode,
		AllowSymlinks:   cfg.AllowSymlinks,
		MaxSymlinkDepth: cfg.MaxSymlinkDepth,
	}, sandbox.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("creating sandbox validator: %w", err)
	}
	return v, nil
}

func (a *app) newRepository(ctx context.Context) (orchestrator.Repository, error) {
	switch a.cfg.Orchestrator.TaskStore {
	case "", "memory":
		return orchestrator.NewMemoryRepository(), nil
	case "nats":
		repo, err := orchestrator.NewKVRepository(ctx, a.nc, a.cfg.Events.KVBucket)
		if err != nil {
			return nil, fmt.Errorf("opening task store: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown task store %q", a.cfg.Orchestrator.TaskStore)
	}
}

// shutdown stops executions, then releases everything newApp acquired.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if a.orch != nil {
		if err := a.orch.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("orchestrator shutdown: %w", err))
		}
	}
	a.close(ctx)
	return errors.Join(errs...)
}

func (a *app) close(ctx context.Context) {
	if a.memory != nil {
		if err := a.memory.Close(); err != nil && a.logger != nil {
			a.logger.Warn(ctx, "closing memory store", zap.Error(err))
		}
	}
	if a.nc != nil {
		_ = a.nc.Drain()
	}
	if a.natsServer != nil {
		a.natsServer.Shutdown()
		a.natsServer.WaitForShutdown()
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil && a.logger != nil {
			a.logger.Warn(ctx, "telemetry shutdown", zap.Error(err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync() // Best-effort sync on shutdown
	}
}
