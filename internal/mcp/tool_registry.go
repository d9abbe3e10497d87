package mcp

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// ToolCategory represents the functional category of a tool.
type ToolCategory string

const (
	// CategoryTask is for task lifecycle tools.
	CategoryTask ToolCategory = "task"
	// CategoryMemory is for shared memory tools.
	CategoryMemory ToolCategory = "memory"
	// CategorySearch is for tool discovery (tool_search itself).
	CategorySearch ToolCategory = "search"
)

// ToolMetadata describes a registered MCP tool.
type ToolMetadata struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Category    ToolCategory `json:"category"`
	// Keywords are additional searchable terms for this tool.
	Keywords []string `json:"keywords,omitempty"`
}

func (m *ToolMetadata) validate() error {
	switch {
	case m == nil:
		return fmt.Errorf("tool metadata is required")
	case m.Name == "":
		return fmt.Errorf("tool name is required")
	case m.Description == "":
		return fmt.Errorf("tool description is required")
	case m.Category == "":
		return fmt.Errorf("tool category is required")
	}
	return nil
}

// ToolRegistry holds metadata for every registered tool so clients can
// discover tools by search.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*ToolMetadata
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]*ToolMetadata)}
}

// Register adds a tool. Names must be unique.
func (r *ToolRegistry) Register(tool *ToolMetadata) error {
	if err := tool.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool %q already registered", tool.Name)
	}
	r.tools[tool.Name] = tool
	return nil
}

// RegisterAll adds tools atomically: on any error nothing is registered.
func (r *ToolRegistry) RegisterAll(tools []*ToolMetadata) error {
	seen := make(map[string]bool, len(tools))
	for i, tool := range tools {
		if tool == nil || tool.Name == "" {
			return fmt.Errorf("tool at index %d has empty name", i)
		}
		if err := tool.validate(); err != nil {
			return fmt.Errorf("tool %q: %w", tool.Name, err)
		}
		if seen[tool.Name] {
			return fmt.Errorf("duplicate tool %q in batch", tool.Name)
		}
		seen[tool.Name] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tool := range tools {
		if _, exists := r.tools[tool.Name]; exists {
			return fmt.Errorf("tool %q already registered", tool.Name)
		}
	}
	for _, tool := range tools {
		r.tools[tool.Name] = tool
	}
	return nil
}

// Get returns the metadata for a tool.
func (r *ToolRegistry) Get(name string) (*ToolMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool %q not found", name)
	}
	return tool, nil
}

// List returns all tools sorted by name.
func (r *ToolRegistry) List() []*ToolMetadata {
	return r.filter(func(*ToolMetadata) bool { return true })
}

// ListByCategory returns the tools in category, sorted by name.
func (r *ToolRegistry) ListByCategory(category ToolCategory) []*ToolMetadata {
	return r.filter(func(t *ToolMetadata) bool { return t.Category == category })
}

func (r *ToolRegistry) filter(keep func(*ToolMetadata) bool) []*ToolMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*ToolMetadata, 0, len(r.tools))
	for _, tool := range r.tools {
		if keep(tool) {
			result = append(result, tool)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// SearchResult is one match from Search.
type SearchResult struct {
	Tool *ToolMetadata `json:"tool"`
	// Score is 3 for an exact name match, 2 for a name match and 1 for a
	// description or keyword match.
	Score       int    `json:"score"`
	MatchReason string `json:"match_reason"`
}

// Search matches query case-insensitively against names, descriptions and
// keywords. A query that compiles as a regular expression is also applied as
// one. Results are ordered by score, then name.
func (r *ToolRegistry) Search(query string) []*SearchResult {
	if query == "" {
		return nil
	}
	q := strings.ToLower(query)
	re, _ := regexp.Compile("(?i)" + query)
	matches := func(s string) bool {
		return strings.Contains(strings.ToLower(s), q) || (re != nil && re.MatchString(s))
	}

	var results []*SearchResult
	for _, tool := range r.List() {
		switch {
		case strings.ToLower(tool.Name) == q:
			results = append(results, &SearchResult{Tool: tool, Score: 3, MatchReason: "exact name match"})
		case matches(tool.Name):
			results = append(results, &SearchResult{Tool: tool, Score: 2, MatchReason: "name matches query"})
		case matches(tool.Description):
			results = append(results, &SearchResult{Tool: tool, Score: 1, MatchReason: "description matches query"})
		default:
			for _, kw := range tool.Keywords {
				if matches(kw) {
					results = append(results, &SearchResult{Tool: tool, Score: 1, MatchReason: "keyword matches query"})
					break
				}
			}
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}
