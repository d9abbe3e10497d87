package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/agentflow/internal/config"
	"github.com/fyrsmithlabs/agentflow/internal/orchestrator"
	"github.com/fyrsmithlabs/agentflow/internal/secrets"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	root := t.TempDir()
	cfg.Sandbox.DefaultWorkspace = filepath.Join(root, "workspace")
	cfg.Sandbox.AllowedDirs = nil
	cfg.Memory.CleanupInterval = config.Duration(time.Minute)
	cfg.Events.StoreDir = filepath.Join(root, "nats")
	return cfg
}

func quietLogs() zapcore.WriteSyncer {
	return zapcore.AddSync(&bytes.Buffer{})
}

func TestNewApp_Defaults(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := newApp(ctx, cfg, quietLogs())
	require.NoError(t, err)
	defer func() { require.NoError(t, a.shutdown(ctx)) }()

	assert.NotNil(t, a.validator)
	assert.Nil(t, a.nc)
	assert.DirExists(t, cfg.Sandbox.DefaultWorkspace)
	assert.Equal(t, cfg.Orchestrator.MaxConcurrentTasks, a.orch.Config().MaxConcurrent)

	task, err := a.orch.Create(ctx, &orchestrator.CreateRequest{Title: "hello"})
	require.NoError(t, err)
	assert.Equal(t, cfg.Sandbox.DefaultWorkspace, task.WorkspaceDir)

	_, err = a.orch.Create(ctx, &orchestrator.CreateRequest{Title: "escape", WorkspaceDir: "/etc"})
	require.NoError(t, err, "workspaces are validated at execution time")
}

func TestNewApp_EmbeddedNATS(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Events.Enabled = true
	cfg.Events.Embedded = true
	cfg.Orchestrator.TaskStore = "nats"

	a, err := newApp(ctx, cfg, quietLogs())
	require.NoError(t, err)
	defer func() { require.NoError(t, a.shutdown(ctx)) }()

	require.NotNil(t, a.natsServer)
	require.NotNil(t, a.nc)

	sub, err := a.nc.SubscribeSync(cfg.Events.SubjectPrefix + ".>")
	require.NoError(t, err)

	task, err := a.orch.Create(ctx, &orchestrator.CreateRequest{Title: "persisted"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), task.ID)

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Contains(t, msg.Subject, task.UUID)

	got, err := a.orch.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Title)
}

func TestNewApp_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown task store", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Orchestrator.TaskStore = "postgres"
		_, err := newApp(ctx, cfg, quietLogs())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown task store")
	})

	t.Run("unknown memory backend", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Memory.Backend = "redis"
		_, err := newApp(ctx, cfg, quietLogs())
		require.Error(t, err)
	})
}

func TestNewValidator(t *testing.T) {
	root := t.TempDir()
	workspace := filepath.Join(root, "ws")

	t.Run("defaults to the workspace", func(t *testing.T) {
		v, err := newValidator(config.SandboxConfig{DefaultWorkspace: workspace, StrictMode: true}, zap.NewNop())
		require.NoError(t, err)
		assert.DirExists(t, workspace)
		assert.Equal(t, 1, v.Summary().AllowedDirs)

		_, err = v.ValidatePath(filepath.Join(workspace, "project"))
		assert.NoError(t, err)
		_, err = v.ValidatePath(filepath.Join(root, "elsewhere"))
		assert.Error(t, err)
	})

	t.Run("explicit allowed dirs", func(t *testing.T) {
		other := filepath.Join(root, "other")
		require.NoError(t, os.MkdirAll(other, 0o750))
		v, err := newValidator(config.SandboxConfig{
			DefaultWorkspace: workspace,
			AllowedDirs:      []string{workspace, other},
		}, zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, 2, v.Summary().AllowedDirs)
	})
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "Version:    dev")
}

func TestNewScrubber(t *testing.T) {
	s, err := newScrubber(config.SecretsConfig{})
	require.NoError(t, err)
	assert.True(t, s.Scrub("password=hunter2hunter2").HasFindings())

	_, err = newScrubber(config.SecretsConfig{
		Gitleaks:  true,
		Allowlist: filepath.Join(t.TempDir(), "missing.toml"),
	})
	assert.ErrorIs(t, err, secrets.ErrInvalidAllowlist)
}
