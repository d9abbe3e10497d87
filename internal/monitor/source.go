package monitor

import (
	"context"
	"time"

	httpserver "github.com/fyrsmithlabs/agentflow/internal/http"
	"github.com/fyrsmithlabs/agentflow/internal/memory"
	"github.com/fyrsmithlabs/agentflow/internal/orchestrator"
	"github.com/fyrsmithlabs/agentflow/internal/sandbox"
)

// queueSize is how many pending tasks the dashboard lists.
const queueSize = 5

const fetchTimeout = 5 * time.Second

// Source is the daemon API the dashboard polls. *client.Client satisfies it.
type Source interface {
	Health(ctx context.Context) (*httpserver.HealthResponse, error)
	ListTasks(ctx context.Context, filter orchestrator.ListFilter) ([]*orchestrator.Task, error)
}

// Snapshot holds the current daemon state
type Snapshot struct {
	Status        string
	Version       string
	UptimeSeconds int64
	Running       int
	MaxConcurrent int
	RunningIDs    []int64
	Memory        *memory.Stats
	Sandbox       *sandbox.Summary

	// Queue is the next pending tasks in execution order.
	Queue []*orchestrator.Task

	// Historical data for sparklines (last N points)
	RunningHistory []float64
	MemoryHistory  []float64
}

// fetchSnapshot polls health and the pending queue.
func fetchSnapshot(ctx context.Context, src Source) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	h, err := src.Health(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	queue, err := src.ListTasks(ctx, orchestrator.ListFilter{
		Status: orchestrator.StatusPending,
		Limit:  queueSize,
	})
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		Status:        h.Status,
		Version:       h.Version,
		UptimeSeconds: h.UptimeSeconds,
		Running:       h.Orchestrator.RunningCount,
		MaxConcurrent: h.Orchestrator.MaxConcurrent,
		RunningIDs:    h.Orchestrator.RunningIDs,
		Memory:        h.Memory,
		Sandbox:       h.Sandbox,
		Queue:         queue,
	}, nil
}
