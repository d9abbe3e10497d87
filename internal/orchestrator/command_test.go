package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agentflow/internal/memory"
)

func TestNewCommandBuilder(t *testing.T) {
	build := NewCommandBuilder("", nil)
	cmd, err := build(context.Background(), &Task{}, "fix the bug")
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultCommand, "fix the bug"}, cmd.Args)

	build = NewCommandBuilder("agent", []string{"-p", "--json"})
	cmd, err = build(context.Background(), &Task{}, "prompt")
	require.NoError(t, err)
	assert.Equal(t, []string{"agent", "-p", "--json", "prompt"}, cmd.Args)
	assert.NotEmpty(t, cmd.Env)

	// Args are not shared between builds.
	cmd2, err := build(context.Background(), &Task{}, "other")
	require.NoError(t, err)
	assert.Equal(t, "prompt", cmd.Args[3])
	assert.Equal(t, "other", cmd2.Args[3])
}

func TestBuildPrompt(t *testing.T) {
	task := &Task{Title: "title", Description: "describe"}
	assert.Equal(t, "describe", buildPrompt(task, nil))

	entries := []*memory.Entry{
		{Key: "a", Value: json.RawMessage(`"plain note"`), Category: memory.CategoryContext, TaskID: "4"},
		{Key: "b", Value: json.RawMessage(`{"k":1}`), Category: memory.CategoryResult},
	}
	prompt := buildPrompt(task, entries)

	assert.True(t, strings.HasPrefix(prompt, "describe\n\n## Related context\n"))
	assert.Contains(t, prompt, "### context [1]\n- Task: 4\n- Content: plain note\n")
	assert.Contains(t, prompt, "### result [2]\n- Content: {\n  \"k\": 1\n}\n")
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "text", formatValue(json.RawMessage(`"text"`)))
	assert.Equal(t, "[\n  1,\n  2\n]", formatValue(json.RawMessage(`[1,2]`)))
	assert.Equal(t, "not json", formatValue(json.RawMessage(`not json`)))
}

func TestRelatedMemories(t *testing.T) {
	store := memory.NewInMemoryStore(memory.Config{DefaultTTL: time.Hour, MaxEntries: 100})
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	index := func(key, value, taskID string) {
		_, err := store.Index(ctx, &memory.IndexRequest{
			Key:      key,
			Value:    json.RawMessage(value),
			Category: memory.CategoryContext,
			TaskID:   taskID,
		})
		require.NoError(t, err)
	}
	index("own", `"earlier attempt"`, "7")
	index("migration-notes", `"run migrations first"`, "")
	index("unrelated", `"nothing here"`, "")

	task := &Task{ID: 7, Title: "migration"}

	got, err := relatedMemories(ctx, store, task, 5)
	require.NoError(t, err)
	keys := make([]string, len(got))
	for i, e := range got {
		keys[i] = e.Key
	}
	assert.Equal(t, []string{"own", "migration-notes"}, keys)

	got, err = relatedMemories(ctx, store, task, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "own", got[0].Key)

	got, err = relatedMemories(ctx, nil, task, 5)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = relatedMemories(ctx, store, task, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}
