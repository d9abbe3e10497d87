// Package config provides configuration loading for agentflow.
//
// Configuration is layered: hardcoded defaults, then an optional YAML file,
// then AGENTFLOW_* environment variables. See LoadWithFile.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete agentflow configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Sandbox      SandboxConfig      `koanf:"sandbox"`
	Memory       MemoryConfig       `koanf:"memory"`
	Events       EventsConfig       `koanf:"events"`
	Secrets      SecretsConfig      `koanf:"secrets"`
	Logging      LoggingConfig      `koanf:"logging"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
	MCP          MCPConfig          `koanf:"mcp"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// RateLimit is the sustained request rate per client on /api/v1 (0 disables).
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`
	APIToken  Secret  `koanf:"api_token"`
}

// OrchestratorConfig controls task execution.
type OrchestratorConfig struct {
	MaxConcurrentTasks int      `koanf:"max_concurrent_tasks"`
	TaskTimeout        Duration `koanf:"task_timeout"`
	GracePeriod        Duration `koanf:"grace_period"`
	// Command is the executable spawned for every task, Args precede the prompt.
	Command        string   `koanf:"command"`
	Args           []string `koanf:"args"`
	ContextEntries int      `koanf:"context_entries"`
	RecordOutcomes bool     `koanf:"record_outcomes"`
	// TaskStore selects the task repository: "memory" or "nats".
	TaskStore string `koanf:"task_store"`
}

// SandboxConfig holds workspace confinement settings.
type SandboxConfig struct {
	Enabled          bool     `koanf:"enabled"`
	DefaultWorkspace string   `koanf:"default_workspace"`
	AllowedDirs      []string `koanf:"allowed_dirs"`
	StrictMode       bool     `koanf:"strict_mode"`
	AllowSymlinks    bool     `koanf:"allow_symlinks"`
	MaxSymlinkDepth  int      `koanf:"max_symlink_depth"`
}

// MemoryConfig holds memory store settings.
type MemoryConfig struct {
	// Backend is "memory" or "chromem".
	Backend         string        `koanf:"backend"`
	DefaultTTL      Duration      `koanf:"default_ttl"`
	MaxEntries      int           `koanf:"max_entries"`
	CleanupInterval Duration      `koanf:"cleanup_interval"`
	Chromem         ChromemConfig `koanf:"chromem"`
}

// ChromemConfig configures the persisted memory backend.
type ChromemConfig struct {
	Path       string `koanf:"path"`
	Compress   bool   `koanf:"compress"`
	Collection string `koanf:"collection"`
}

// EventsConfig configures NATS task events and the NATS task store.
type EventsConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	// Embedded starts an in-process nats-server instead of dialing URL.
	Embedded      bool   `koanf:"embedded"`
	EmbeddedPort  int    `koanf:"embedded_port"`
	StoreDir      string `koanf:"store_dir"`
	SubjectPrefix string `koanf:"subject_prefix"`
	KVBucket      string `koanf:"kv_bucket"`
}

// SecretsConfig controls secret scrubbing.
type SecretsConfig struct {
	// Gitleaks adds the gitleaks default rule set on top of the built-in rules.
	Gitleaks bool `koanf:"gitleaks"`
	// Allowlist is an optional TOML file of gitleaks allowlist patterns.
	Allowlist string `koanf:"allowlist"`
}

// LoggingConfig is the subset of logging settings exposed through config files.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// MCPConfig configures the stdio MCP tool server.
type MCPConfig struct {
	Name    string `koanf:"name"`
	Version string `koanf:"version"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            6767,
			ShutdownTimeout: Duration(10 * time.Second),
			RateBurst:       20,
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrentTasks: 10,
			TaskTimeout:        Duration(300 * time.Second),
			GracePeriod:        Duration(5 * time.Second),
			Command:            "claude",
			Args:               []string{"-p"},
			ContextEntries:     5,
			RecordOutcomes:     true,
			TaskStore:          "memory",
		},
		Sandbox: SandboxConfig{
			Enabled:          true,
			DefaultWorkspace: "/tmp/agentflow/workspace",
			AllowedDirs:      []string{"/tmp/agentflow/workspace"},
			StrictMode:       true,
			MaxSymlinkDepth:  8,
		},
		Memory: MemoryConfig{
			Backend:         "memory",
			DefaultTTL:      Duration(time.Hour),
			MaxEntries:      10000,
			CleanupInterval: Duration(5 * time.Minute),
			Chromem: ChromemConfig{
				Path:       "~/.local/share/agentflow/memory",
				Compress:   true,
				Collection: "agentflow_memory",
			},
		},
		Events: EventsConfig{
			URL:           "nats://localhost:4222",
			EmbeddedPort:  -1,
			SubjectPrefix: "agentflow.tasks",
			KVBucket:      "agentflow_tasks",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			Insecure:    true,
			ServiceName: "agentflow",
			SampleRate:  1.0,
		},
		MCP: MCPConfig{
			Name:    "agentflow",
			Version: "0.1.0",
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Server.RateLimit < 0 {
		return errors.New("server rate_limit cannot be negative")
	}

	if c.Orchestrator.MaxConcurrentTasks < 1 {
		return fmt.Errorf("max_concurrent_tasks must be >= 1, got %d", c.Orchestrator.MaxConcurrentTasks)
	}
	if c.Orchestrator.TaskTimeout.Duration() <= 0 {
		return errors.New("task_timeout must be positive")
	}
	if c.Orchestrator.GracePeriod.Duration() <= 0 {
		return errors.New("grace_period must be positive")
	}
	if c.Orchestrator.Command == "" {
		return errors.New("orchestrator command is required")
	}
	switch c.Orchestrator.TaskStore {
	case "memory":
	case "nats":
		if !c.Events.Enabled {
			return errors.New("task_store \"nats\" requires events.enabled")
		}
	default:
		return fmt.Errorf("unknown task_store %q (want memory or nats)", c.Orchestrator.TaskStore)
	}

	if c.Sandbox.Enabled && len(c.Sandbox.AllowedDirs) == 0 {
		return errors.New("sandbox enabled but no allowed_dirs configured")
	}
	if c.Sandbox.MaxSymlinkDepth < 1 {
		return fmt.Errorf("max_symlink_depth must be >= 1, got %d", c.Sandbox.MaxSymlinkDepth)
	}

	switch c.Memory.Backend {
	case "memory":
	case "chromem":
		if c.Memory.Chromem.Path == "" {
			return errors.New("memory.chromem.path is required for the chromem backend")
		}
	default:
		return fmt.Errorf("unknown memory backend %q (want memory or chromem)", c.Memory.Backend)
	}
	if c.Memory.DefaultTTL.Duration() <= 0 {
		return errors.New("memory default_ttl must be positive")
	}
	if c.Memory.MaxEntries < 1 {
		return fmt.Errorf("memory max_entries must be >= 1, got %d", c.Memory.MaxEntries)
	}

	if c.Events.Enabled && !c.Events.Embedded && c.Events.URL == "" {
		return errors.New("events.url is required when events are enabled")
	}

	if c.Secrets.Allowlist != "" && !c.Secrets.Gitleaks {
		return errors.New("secrets.allowlist requires secrets.gitleaks")
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	return nil
}

// Addr returns the host:port the HTTP server listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
