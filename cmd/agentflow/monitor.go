package main

import (
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/agentflow/internal/monitor"
)

var monitorInterval time.Duration

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live dashboard of running tasks, the queue and memory",
	Long: `Show a live terminal dashboard of the agentflowd server.

Keys:
  q  quit
  r  refresh now`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		err := monitor.Run(cmd.Context(), newClient(), serverURL, monitorInterval)
		if errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		return err
	},
}

func init() {
	monitorCmd.Flags().DurationVarP(&monitorInterval, "interval", "i", 2*time.Second, "refresh interval")
}
