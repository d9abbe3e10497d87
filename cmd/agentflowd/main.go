// Agentflowd runs agent tasks behind an HTTP API, or as an MCP stdio server.
//
// Configuration is read from ~/.config/agentflow/config.yaml (or --config)
// and AGENTFLOW_* environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the HTTP daemon
//	agentflowd
//
//	# Serve MCP tools on stdin/stdout
//	agentflowd mcp
//
//	# Override settings through the environment
//	AGENTFLOW_SERVER_PORT=7000 AGENTFLOW_EVENTS_EMBEDDED=true agentflowd
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/agentflow/internal/config"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "agentflowd: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "agentflowd",
	Short: "Run agent tasks with sandboxed workspaces and shared memory",
	Long: `agentflowd executes AI agent commands as tasks. Each task runs in a
validated workspace with a timeout and a graceful-then-forced shutdown, and
draws context from a short-lived shared memory store.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runServe(cmd.Context(), cfg)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve agentflow tools over MCP on stdin/stdout",
	Long: `Serve the task and memory tools over the Model Context Protocol on the
stdio transport. Logs go to stderr.

Example Claude Code registration:
  claude mcp add agentflow -- agentflowd mcp`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runMCP(cmd.Context(), cfg)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "agentflowd by Fyrsmith Labs\n")
		fmt.Fprintf(out, "Version:    %s\n", version)
		fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
		fmt.Fprintf(out, "Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/agentflow/config.yaml)")
	rootCmd.AddCommand(mcpCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadWithFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
