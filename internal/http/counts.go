package http

import (
	"context"

	"github.com/fyrsmithlabs/agentflow/internal/memory"
)

// MemoryCounts returns store statistics for health output and refreshes the
// Prometheus entry gauges.
//
// Returns nil if:
//   - store is nil
//   - reading stats fails
func MemoryCounts(ctx context.Context, store memory.Store) *memory.Stats {
	if store == nil {
		return nil
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		return nil
	}
	memory.UpdateEntryMetrics(stats)
	return stats
}
