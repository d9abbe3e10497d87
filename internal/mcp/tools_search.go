package mcp

import (
	"context"
	"fmt"
	"strings"
)

type toolSearchInput struct {
	Query    string `json:"query" jsonschema:"Substring or regular expression matched against tool names, descriptions and keywords"`
	Category string `json:"category,omitempty" jsonschema:"Restrict to task, memory or search"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum results (default: 5)"`
}

type toolMatch struct {
	Name        string `json:"name" jsonschema:"Tool name"`
	Description string `json:"description" jsonschema:"Tool description"`
	Category    string `json:"category" jsonschema:"Tool category"`
	Score       int    `json:"score" jsonschema:"3 exact name, 2 name, 1 description or keyword"`
	MatchReason string `json:"match_reason" jsonschema:"Why the tool matched"`
}

type toolSearchOutput struct {
	Query      string      `json:"query" jsonschema:"Search query used"`
	Results    []toolMatch `json:"results" jsonschema:"Matching tools, best first"`
	Count      int         `json:"count" jsonschema:"Number of tools returned"`
	TotalTools int         `json:"total_tools" jsonschema:"Total number of registered tools"`
}

func (s *Server) registerSearchTools() {
	addTool(s, &ToolMetadata{
		Name:        "tool_search",
		Description: "Search the available agentflow tools by name, description or keyword",
		Category:    CategorySearch,
		Keywords:    []string{"discover", "help"},
	}, func(_ context.Context, args toolSearchInput) (toolSearchOutput, string, error) {
		if args.Query == "" {
			return toolSearchOutput{}, "", fmt.Errorf("query is required")
		}
		limit := args.Limit
		if limit <= 0 {
			limit = 5
		}

		out := toolSearchOutput{Query: args.Query, Results: []toolMatch{}, TotalTools: s.registry.Count()}
		var names []string
		for _, r := range s.registry.Search(args.Query) {
			if args.Category != "" && string(r.Tool.Category) != args.Category {
				continue
			}
			if len(out.Results) == limit {
				break
			}
			out.Results = append(out.Results, toolMatch{
				Name:        r.Tool.Name,
				Description: r.Tool.Description,
				Category:    string(r.Tool.Category),
				Score:       r.Score,
				MatchReason: r.MatchReason,
			})
			names = append(names, r.Tool.Name)
		}
		out.Count = len(out.Results)

		if len(names) == 0 {
			return out, fmt.Sprintf("No tools found matching: %s", args.Query), nil
		}
		return out, fmt.Sprintf("Found %d tool(s) for query '%s': %s", len(names), args.Query, strings.Join(names, ", ")), nil
	})
}
