package http

import (
	"encoding/json"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/agentflow/internal/memory"
	"github.com/fyrsmithlabs/agentflow/internal/orchestrator"
	"github.com/fyrsmithlabs/agentflow/internal/sandbox"
)

// Response is the envelope of every API response.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func ok(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, Response{Success: true, Data: data})
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string                    `json:"status"`
	Version       string                    `json:"version,omitempty"`
	Mode          string                    `json:"mode"`
	UptimeSeconds int64                     `json:"uptime_seconds"`
	Orchestrator  orchestrator.HealthStatus `json:"orchestrator"`
	Memory        *memory.Stats             `json:"memory,omitempty"`
	Sandbox       *sandbox.Summary          `json:"sandbox,omitempty"`
}

// ScrubRequest is the request body for POST /api/v1/scrub.
type ScrubRequest struct {
	Content string `json:"content"`
}

// ScrubResponse is the response body for POST /api/v1/scrub.
type ScrubResponse struct {
	Content       string `json:"content"`
	FindingsCount int    `json:"findings_count"`
}

// RunningResponse is the body of GET /api/v1/tasks/running.
type RunningResponse struct {
	Count   int     `json:"count"`
	TaskIDs []int64 `json:"task_ids"`
}

// IndexMemoryRequest is the body of POST /api/v1/memory.
type IndexMemoryRequest struct {
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value"`
	Category memory.Category `json:"category"`
	TaskID   string          `json:"task_id,omitempty"`
	// TTLSeconds overrides the default TTL. Negative means never expire.
	TTLSeconds int64 `json:"ttl_seconds,omitempty"`
}

// SearchMemoryRequest is the body of POST /api/v1/memory/search. GET takes
// the same fields as query parameters.
type SearchMemoryRequest struct {
	Query    string          `json:"q" query:"q"`
	Category memory.Category `json:"category" query:"category"`
	TaskID   string          `json:"task_id" query:"task_id"`
	Limit    int             `json:"limit" query:"limit"`
}

// CleanupResponse is the body of POST /api/v1/memory/cleanup.
type CleanupResponse struct {
	Removed int `json:"removed"`
}

// ExecuteEvent is one server-sent event of a streamed execution.
type ExecuteEvent struct {
	Type   string               `json:"type"`
	TaskID int64                `json:"task_id"`
	Output *orchestrator.Output `json:"output,omitempty"`
	Error  string               `json:"error,omitempty"`
}
