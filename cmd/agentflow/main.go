// Package main implements the agentflow CLI for operating an agentflowd
// HTTP server.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/agentflow/internal/client"
)

var (
	// serverURL is the base URL for the agentflowd HTTP server
	serverURL string
	// apiToken is sent as a bearer token when set
	apiToken string
	// jsonOutput prints raw response data instead of text
	jsonOutput bool
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "agentflow",
	Short: "CLI for agentflowd task and memory operations",
	Long: `agentflow is a command-line interface for the agentflowd HTTP server.
It creates and runs agent tasks, manages shared memory, scrubs secrets and
shows a live dashboard of the daemon.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	defaultURL := os.Getenv("AGENTFLOW_URL")
	if defaultURL == "" {
		defaultURL = client.DefaultURL
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultURL, "agentflowd server URL (env AGENTFLOW_URL)")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("AGENTFLOW_TOKEN"), "API token (env AGENTFLOW_TOKEN)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON output")

	rootCmd.AddCommand(healthCmd, scrubCmd, taskCmd, memoryCmd, monitorCmd)
}

func newClient() *client.Client {
	var opts []client.Option
	if apiToken != "" {
		opts = append(opts, client.WithToken(apiToken))
	}
	return client.New(serverURL, opts...)
}

// printJSON writes v indented to w.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check agentflowd server health",
	Long: `Check the health status of the agentflowd HTTP server.

Examples:
  # Check health
  agentflow health

  # Check health on a different server
  agentflow health --server http://localhost:8080`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

func runHealth(cmd *cobra.Command, _ []string) error {
	h, err := newClient().Health(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, h)
	}

	fmt.Fprintf(out, "Server Status: %s\n", h.Status)
	fmt.Fprintf(out, "Server URL: %s\n", serverURL)
	if h.Version != "" {
		fmt.Fprintf(out, "Version: %s\n", h.Version)
	}
	fmt.Fprintf(out, "Running: %d/%d\n", h.Orchestrator.RunningCount, h.Orchestrator.MaxConcurrent)
	if h.Memory != nil {
		fmt.Fprintf(out, "Memory: %d active, %d expired\n", h.Memory.Active, h.Memory.Expired)
	}
	return nil
}

// scrubCmd scrubs secrets from files or stdin
var scrubCmd = &cobra.Command{
	Use:   "scrub [file]",
	Short: "Scrub secrets from a file or stdin",
	Long: `Scrub secrets from a file or stdin using the agentflowd server.

Examples:
  # Scrub a file
  agentflow scrub .env

  # Scrub from stdin
  cat output.log | agentflow scrub -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScrub,
}

func runScrub(cmd *cobra.Command, args []string) error {
	content, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	if len(content) == 0 {
		return fmt.Errorf("no content to scrub")
	}

	res, err := newClient().Scrub(cmd.Context(), string(content))
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), res)
	}

	fmt.Fprint(cmd.OutOrStdout(), res.Content)
	if res.FindingsCount > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "\n[agentflow] Scrubbed %d secret(s)\n", res.FindingsCount)
	}
	return nil
}

// readInput reads the named file, or stdin when the name is absent or "-".
func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		content, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
		return content, nil
	}
	content, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", args[0], err)
	}
	return content, nil
}
