package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/agentflow/internal/memory"
)

// Default agent command: `claude -p <prompt>`.
const DefaultCommand = "claude"

// DefaultArgs precede the prompt.
var DefaultArgs = []string{"-p"}

// CommandBuilder returns the unstarted command that executes prompt for task.
// The orchestrator sets Dir, the process group and output capture itself.
type CommandBuilder func(ctx context.Context, task *Task, prompt string) (*exec.Cmd, error)

// NewCommandBuilder runs command with args followed by the prompt, inheriting
// the parent environment.
func NewCommandBuilder(command string, args []string) CommandBuilder {
	if command == "" {
		command = DefaultCommand
	}
	fixed := append([]string(nil), args...)
	return func(_ context.Context, _ *Task, prompt string) (*exec.Cmd, error) {
		argv := append(append([]string(nil), fixed...), prompt)
		cmd := exec.Command(command, argv...)
		cmd.Env = os.Environ()
		return cmd, nil
	}
}

// relatedMemories returns up to limit active entries for t: entries recorded
// against the task first, then entries mentioning its title.
func relatedMemories(ctx context.Context, store memory.Store, t *Task, limit int) ([]*memory.Entry, error) {
	if store == nil || limit <= 0 {
		return nil, nil
	}

	own, err := store.Search(ctx, memory.Query{TaskID: strconv.FormatInt(t.ID, 10), Limit: limit})
	if err != nil {
		return nil, err
	}
	out := own
	if len(out) >= limit || strings.TrimSpace(t.Title) == "" {
		return out, nil
	}

	byTitle, err := store.Search(ctx, memory.Query{Text: t.Title, Limit: limit})
	if err != nil {
		return out, err
	}
	seen := make(map[string]bool, len(out))
	for _, e := range out {
		seen[e.Key] = true
	}
	for _, e := range byTitle {
		if len(out) >= limit {
			break
		}
		if !seen[e.Key] {
			seen[e.Key] = true
			out = append(out, e)
		}
	}
	return out, nil
}

// buildPrompt appends a context block listing entries to the task prompt.
func buildPrompt(t *Task, entries []*memory.Entry) string {
	prompt := t.Prompt()
	if len(entries) == 0 {
		return prompt
	}

	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\n## Related context\n")
	for i, e := range entries {
		fmt.Fprintf(&b, "\n### %s [%d]\n", e.Category, i+1)
		if e.TaskID != "" {
			fmt.Fprintf(&b, "- Task: %s\n", e.TaskID)
		}
		fmt.Fprintf(&b, "- Content: %s\n", formatValue(e.Value))
	}
	return b.String()
}

// formatValue renders strings bare and everything else as indented JSON.
func formatValue(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	var out bytes.Buffer
	if err := json.Indent(&out, v, "", "  "); err != nil {
		return string(v)
	}
	return out.String()
}
