package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"zero capacity", func(c *Config) { c.Orchestrator.MaxConcurrentTasks = 0 }, "max_concurrent_tasks"},
		{"zero timeout", func(c *Config) { c.Orchestrator.TaskTimeout = 0 }, "task_timeout"},
		{"zero grace", func(c *Config) { c.Orchestrator.GracePeriod = 0 }, "grace_period"},
		{"empty command", func(c *Config) { c.Orchestrator.Command = "" }, "command is required"},
		{"nats store without events", func(c *Config) { c.Orchestrator.TaskStore = "nats" }, "requires events.enabled"},
		{"allowlist without gitleaks", func(c *Config) { c.Secrets.Allowlist = "/etc/agentflow/allow.toml" }, "requires secrets.gitleaks"},
		{"sandbox without dirs", func(c *Config) { c.Sandbox.AllowedDirs = nil }, "no allowed_dirs"},
		{"symlink depth", func(c *Config) { c.Sandbox.MaxSymlinkDepth = 0 }, "max_symlink_depth"},
		{"unknown backend", func(c *Config) { c.Memory.Backend = "redis" }, "unknown memory backend"},
		{"chromem without path", func(c *Config) {
			c.Memory.Backend = "chromem"
			c.Memory.Chromem.Path = ""
		}, "memory.chromem.path"},
		{"zero max entries", func(c *Config) { c.Memory.MaxEntries = 0 }, "max_entries"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging format"},
		{"telemetry without name", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.ServiceName = ""
		}, "service name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateNATSStore(t *testing.T) {
	cfg := Default()
	cfg.Orchestrator.TaskStore = "nats"
	cfg.Events.Enabled = true
	assert.NoError(t, cfg.Validate())
}

func TestDuration_UnmarshalText(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"5s", 5 * time.Second, false},
		{"1h30m", 90 * time.Minute, false},
		{"300", 300 * time.Second, false},
		{"-5s", 0, true},
		{"-1", 0, true},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var d Duration
			err := d.UnmarshalText([]byte(tt.in))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Duration())
		})
	}
}

func TestSecret_NeverPrints(t *testing.T) {
	s := Secret("hunter2")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "hunter2")
	assert.Equal(t, "hunter2", s.Value())
	assert.True(t, s.IsSet())

	out, err := json.Marshal(struct{ Token Secret }{s})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hunter2")

	assert.False(t, Secret("").IsSet())
	assert.Equal(t, "", Secret("").String())
}

func TestServerConfig_Addr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:6767", ServerConfig{Host: "127.0.0.1", Port: 6767}.Addr())
}
