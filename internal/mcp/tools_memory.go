package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/agentflow/internal/memory"
)

type entryView struct {
	Key       string `json:"key" jsonschema:"Entry key"`
	Value     any    `json:"value,omitempty" jsonschema:"Stored JSON value"`
	Category  string `json:"category" jsonschema:"Entry category"`
	TaskID    string `json:"task_id,omitempty" jsonschema:"Owning task"`
	Timestamp string `json:"timestamp" jsonschema:"Last write time"`
	ExpiresAt string `json:"expires_at,omitempty" jsonschema:"Expiry time; empty if the entry never expires"`
}

func viewEntry(e *memory.Entry) entryView {
	v := entryView{
		Key:       e.Key,
		Category:  string(e.Category),
		TaskID:    e.TaskID,
		Timestamp: formatTime(&e.Timestamp),
		ExpiresAt: formatTime(e.ExpiresAt),
	}
	if len(e.Value) > 0 {
		// Values were validated as JSON on index.
		_ = json.Unmarshal(e.Value, &v.Value)
	}
	return v
}

type memoryIndexInput struct {
	Key        string `json:"key" jsonschema:"Entry key; indexing an existing key replaces it"`
	Value      any    `json:"value,omitempty" jsonschema:"Any JSON value"`
	Category   string `json:"category" jsonschema:"execution, context, result, error or checkpoint"`
	TaskID     string `json:"task_id,omitempty" jsonschema:"Task the entry belongs to"`
	TTLSeconds int64  `json:"ttl_seconds,omitempty" jsonschema:"Override of the default TTL; negative never expires"`
}

type memorySearchInput struct {
	Query    string `json:"query,omitempty" jsonschema:"Substring matched against keys and values"`
	Category string `json:"category,omitempty" jsonschema:"Restrict to one category"`
	TaskID   string `json:"task_id,omitempty" jsonschema:"Restrict to one task"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum results (default: 100)"`
}

type memorySearchOutput struct {
	Entries []entryView `json:"entries" jsonschema:"Matching entries, newest first"`
	Count   int         `json:"count" jsonschema:"Number of entries returned"`
}

type memoryKeyInput struct {
	Key string `json:"key" jsonschema:"Entry key"`
}

type memoryDeleteOutput struct {
	Key     string `json:"key" jsonschema:"Deleted key"`
	Deleted bool   `json:"deleted" jsonschema:"True once the key is gone"`
}

type memoryStatsOutput struct {
	Total      int            `json:"total" jsonschema:"Entries held, including expired ones awaiting cleanup"`
	Active     int            `json:"active" jsonschema:"Unexpired entries"`
	Expired    int            `json:"expired" jsonschema:"Expired entries awaiting cleanup"`
	ByCategory map[string]int `json:"by_category" jsonschema:"Active entries per category"`
}

func (s *Server) registerMemoryTools() {
	addTool(s, &ToolMetadata{
		Name:        "memory_index",
		Description: "Store a JSON value under a key in shared task memory",
		Category:    CategoryMemory,
		Keywords:    []string{"store", "save", "remember", "record"},
	}, func(ctx context.Context, args memoryIndexInput) (entryView, string, error) {
		req := &memory.IndexRequest{
			Key:      args.Key,
			Category: memory.Category(args.Category),
			TaskID:   args.TaskID,
			TTL:      time.Duration(args.TTLSeconds) * time.Second,
		}
		if args.Value != nil {
			raw, err := json.Marshal(args.Value)
			if err != nil {
				return entryView{}, "", fmt.Errorf("%w: %v", memory.ErrInvalidEntry, err)
			}
			req.Value = raw
		}
		entry, err := s.memory.Index(ctx, req)
		if err != nil {
			return entryView{}, "", err
		}
		return viewEntry(entry), fmt.Sprintf("Indexed %s", entry.Key), nil
	})

	addTool(s, &ToolMetadata{
		Name:        "memory_search",
		Description: "Search shared task memory by substring, category or task",
		Category:    CategoryMemory,
		Keywords:    []string{"find", "recall", "query"},
	}, func(ctx context.Context, args memorySearchInput) (memorySearchOutput, string, error) {
		category := memory.Category(args.Category)
		if category != "" && !category.Valid() {
			return memorySearchOutput{}, "", fmt.Errorf("%w: unknown category %q", memory.ErrInvalidEntry, args.Category)
		}
		entries, err := s.memory.Search(ctx, memory.Query{
			Text:     args.Query,
			Category: category,
			TaskID:   args.TaskID,
			Limit:    args.Limit,
		})
		if err != nil {
			return memorySearchOutput{}, "", err
		}
		out := memorySearchOutput{Entries: make([]entryView, 0, len(entries))}
		for _, e := range entries {
			out.Entries = append(out.Entries, viewEntry(e))
		}
		out.Count = len(out.Entries)
		return out, fmt.Sprintf("Found %d entr(ies)", out.Count), nil
	})

	addTool(s, &ToolMetadata{
		Name:        "memory_get",
		Description: "Get a memory entry by key",
		Category:    CategoryMemory,
		Keywords:    []string{"read", "lookup"},
	}, func(ctx context.Context, args memoryKeyInput) (entryView, string, error) {
		entry, err := s.memory.Get(ctx, args.Key)
		if err != nil {
			return entryView{}, "", err
		}
		return viewEntry(entry), entry.Key, nil
	})

	addTool(s, &ToolMetadata{
		Name:        "memory_delete",
		Description: "Delete a memory entry by key",
		Category:    CategoryMemory,
		Keywords:    []string{"remove", "forget"},
	}, func(ctx context.Context, args memoryKeyInput) (memoryDeleteOutput, string, error) {
		if err := s.memory.Delete(ctx, args.Key); err != nil {
			return memoryDeleteOutput{}, "", err
		}
		return memoryDeleteOutput{Key: args.Key, Deleted: true}, fmt.Sprintf("Deleted %s", args.Key), nil
	})

	addTool(s, &ToolMetadata{
		Name:        "memory_stats",
		Description: "Report entry counts of shared task memory",
		Category:    CategoryMemory,
		Keywords:    []string{"count", "usage"},
	}, func(ctx context.Context, _ struct{}) (memoryStatsOutput, string, error) {
		stats, err := s.memory.Stats(ctx)
		if err != nil {
			return memoryStatsOutput{}, "", err
		}
		out := memoryStatsOutput{
			Total:      stats.Total,
			Active:     stats.Active,
			Expired:    stats.Expired,
			ByCategory: make(map[string]int, len(stats.ByCategory)),
		}
		for c, n := range stats.ByCategory {
			out.ByCategory[string(c)] = n
		}
		return out, fmt.Sprintf("%d active entr(ies)", out.Active), nil
	})
}
