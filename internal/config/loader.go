package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix is the prefix for every environment override.
	EnvPrefix = "AGENTFLOW_"
)

// listKeys are split on commas when set through the environment.
var listKeys = map[string]bool{
	"sandbox.allowed_dirs": true,
	"orchestrator.args":    true,
}

// Load loads configuration from the default file location and the environment.
func Load() (*Config, error) {
	return LoadWithFile("")
}

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Precedence (highest to lowest):
//  1. AGENTFLOW_* environment variables
//  2. YAML config file (~/.config/agentflow/config.yaml)
//  3. Default()
//
// The file must live under ~/.config/agentflow/ or /etc/agentflow/, be
// 0600 or 0400, and be at most 1MB. A missing file is not an error.
//
// Environment variables map to keys by splitting on the first underscore
// after the prefix:
//
//	AGENTFLOW_SERVER_PORT                     -> server.port
//	AGENTFLOW_ORCHESTRATOR_MAX_CONCURRENT_TASKS -> orchestrator.max_concurrent_tasks
//	AGENTFLOW_MEMORY_CHROMEM_PATH             -> memory.chromem.path
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "agentflow", "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}
	if _, err := os.Stat(configPath); err == nil {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envTransform maps AGENTFLOW_SECTION_FIELD_NAME to section.field_name.
func envTransform(key, value string) (string, interface{}) {
	lower := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower, value
	}

	path := parts[0] + "." + parts[1]
	// memory.chromem_* is the only nested section.
	if strings.HasPrefix(path, "memory.chromem_") {
		path = "memory.chromem." + strings.TrimPrefix(path, "memory.chromem_")
	}

	if listKeys[path] {
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return path, items
	}
	return path, value
}

// readConfigFile opens the file once and validates through the open descriptor.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// EnsureConfigDir creates ~/.config/agentflow with 0700 permissions.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(home, ".config", "agentflow")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}
	return nil
}

// validateConfigPath checks if path is in allowed directories.
// This validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "agentflow"),
		"/etc/agentflow",
	}
	for _, dir := range allowedDirs {
		if resolvedDir, err := filepath.EvalSymlinks(dir); err == nil {
			dir = resolvedDir
		}
		rel, err := filepath.Rel(dir, resolvedPath)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil
		}
	}

	return fmt.Errorf("config file must be in ~/.config/agentflow/ or /etc/agentflow/")
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults fills values that an override may have zeroed out.
func applyDefaults(cfg *Config) {
	def := Default()

	if cfg.Server.Host == "" {
		cfg.Server.Host = def.Server.Host
	}
	if cfg.Orchestrator.Command == "" {
		cfg.Orchestrator.Command = def.Orchestrator.Command
	}
	if cfg.Sandbox.DefaultWorkspace == "" {
		cfg.Sandbox.DefaultWorkspace = def.Sandbox.DefaultWorkspace
	}
	// The default workspace is always reachable.
	if len(cfg.Sandbox.AllowedDirs) == 0 {
		cfg.Sandbox.AllowedDirs = []string{cfg.Sandbox.DefaultWorkspace}
	}
	if cfg.Memory.Chromem.Collection == "" {
		cfg.Memory.Chromem.Collection = def.Memory.Chromem.Collection
	}
	if cfg.Memory.CleanupInterval == 0 {
		cfg.Memory.CleanupInterval = def.Memory.CleanupInterval
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = def.Events.SubjectPrefix
	}
	if cfg.Events.KVBucket == "" {
		cfg.Events.KVBucket = def.Events.KVBucket
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = def.Telemetry.ServiceName
	}
	if cfg.MCP.Name == "" {
		cfg.MCP.Name = def.MCP.Name
	}
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
