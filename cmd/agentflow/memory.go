package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/agentflow/internal/client"
	"github.com/fyrsmithlabs/agentflow/internal/memory"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Manage shared task memory",
}

var (
	indexCategory  string
	searchCategory string
	memTaskID      string
	memTTL         int64
	memLimit       int
	memOwner       string
)

func init() {
	indexCmd := &cobra.Command{
		Use:   "index <key> [value|-]",
		Short: "Store or replace a memory entry",
		Long: `Store or replace a memory entry. The value is stored as JSON when it
parses as JSON and as a JSON string otherwise. With no value or "-", the
value is read from stdin.

Examples:
  agentflow memory index build-notes '{"step":"compile"}' --category context
  git diff | agentflow memory index diff - --task 12 --ttl 600`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runMemoryIndex,
	}
	indexCmd.Flags().StringVarP(&indexCategory, "category", "c", string(memory.CategoryContext), "execution, context, result, error or checkpoint")
	indexCmd.Flags().StringVarP(&memTaskID, "task", "t", "", "associated task id")
	indexCmd.Flags().Int64Var(&memTTL, "ttl", 0, "time to live in seconds; negative never expires")

	searchCmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search active memory entries",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runMemorySearch,
	}
	searchCmd.Flags().StringVarP(&searchCategory, "category", "c", "", "filter by category")
	searchCmd.Flags().StringVarP(&memTaskID, "task", "t", "", "filter by task id")
	searchCmd.Flags().IntVarP(&memLimit, "limit", "n", 0, "maximum entries")

	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Copy all active entries",
		Args:  cobra.NoArgs,
		RunE:  runMemorySnapshot,
	}
	snapshotCmd.Flags().StringVar(&memOwner, "owner", "", "snapshot owner id")

	memoryCmd.AddCommand(
		indexCmd,
		searchCmd,
		snapshotCmd,
		&cobra.Command{
			Use:   "get <key>",
			Short: "Show a memory entry",
			Args:  cobra.ExactArgs(1),
			RunE:  runMemoryGet,
		},
		&cobra.Command{
			Use:   "delete <key>",
			Short: "Delete a memory entry",
			Args:  cobra.ExactArgs(1),
			RunE:  runMemoryDelete,
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Show memory entry counts",
			Args:  cobra.NoArgs,
			RunE:  runMemoryStats,
		},
		&cobra.Command{
			Use:   "cleanup",
			Short: "Purge expired entries",
			Args:  cobra.NoArgs,
			RunE:  runMemoryCleanup,
		},
	)
}

// toJSONValue keeps valid JSON as is and quotes anything else.
func toJSONValue(raw []byte) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), nil
	}
	quoted, err := json.Marshal(strings.TrimRight(string(raw), "\n"))
	if err != nil {
		return nil, err
	}
	return quoted, nil
}

func runMemoryIndex(cmd *cobra.Command, args []string) error {
	var raw []byte
	if len(args) == 2 && args[1] != "-" {
		raw = []byte(args[1])
	} else {
		var err error
		if raw, err = readInput(cmd, nil); err != nil {
			return err
		}
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return fmt.Errorf("no value to index")
	}
	value, err := toJSONValue(raw)
	if err != nil {
		return err
	}

	entry, err := newClient().IndexMemory(cmd.Context(), client.IndexMemoryRequest{
		Key:        args[0],
		Value:      value,
		Category:   memory.Category(indexCategory),
		TaskID:     memTaskID,
		TTLSeconds: memTTL,
	})
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), entry)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %s (%s, %s)\n", entry.Key, entry.Category, expiry(entry))
	return nil
}

func expiry(e *memory.Entry) string {
	if e.ExpiresAt == nil {
		return "never expires"
	}
	return "expires " + e.ExpiresAt.Local().Format(time.RFC3339)
}

func runMemorySearch(cmd *cobra.Command, args []string) error {
	req := client.SearchMemoryRequest{
		Category: memory.Category(searchCategory),
		TaskID:   memTaskID,
		Limit:    memLimit,
	}
	if len(args) == 1 {
		req.Query = args[0]
	}
	entries, err := newClient().SearchMemory(cmd.Context(), req)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No entries")
		return nil
	}
	writeEntryTable(cmd.OutOrStdout(), entries)
	return nil
}

func writeEntryTable(w io.Writer, entries []*memory.Entry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tCATEGORY\tTASK\tVALUE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Key, e.Category, e.TaskID, preview(e.Value, 60))
	}
	_ = tw.Flush()
}

func preview(v json.RawMessage, max int) string {
	s := strings.Join(strings.Fields(string(v)), " ")
	r := []rune(s)
	if len(r) > max {
		return string(r[:max-3]) + "..."
	}
	return s
}

func runMemoryGet(cmd *cobra.Command, args []string) error {
	entry, err := newClient().GetMemory(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), entry)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Key: %s\nCategory: %s\n", entry.Key, entry.Category)
	if entry.TaskID != "" {
		fmt.Fprintf(out, "Task: %s\n", entry.TaskID)
	}
	fmt.Fprintf(out, "Stored: %s (%s)\n", entry.Timestamp.Local().Format(time.RFC3339), expiry(entry))
	fmt.Fprintf(out, "\n%s\n", entry.Value)
	return nil
}

func runMemoryDelete(cmd *cobra.Command, args []string) error {
	if err := newClient().DeleteMemory(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
	return nil
}

func runMemoryStats(cmd *cobra.Command, _ []string) error {
	stats, err := newClient().MemoryStats(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), stats)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Total: %d\nActive: %d\nExpired: %d\n", stats.Total, stats.Active, stats.Expired)

	cats := make([]string, 0, len(stats.ByCategory))
	for c := range stats.ByCategory {
		cats = append(cats, string(c))
	}
	sort.Strings(cats)
	for _, c := range cats {
		fmt.Fprintf(out, "  %s: %d\n", c, stats.ByCategory[memory.Category(c)])
	}
	return nil
}

func runMemoryCleanup(cmd *cobra.Command, _ []string) error {
	removed, err := newClient().CleanupMemory(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]int{"removed": removed})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired entries\n", removed)
	return nil
}

func runMemorySnapshot(cmd *cobra.Command, _ []string) error {
	snap, err := newClient().Snapshot(cmd.Context(), memOwner)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), snap)
}
