package memory

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EntriesGauge tracks stored entries.
	// Labels: state (active, expired)
	EntriesGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "agentflow",
			Subsystem: "memory",
			Name:      "entries",
			Help:      "Number of memory entries by state",
		},
		[]string{"state"},
	)

	// CleanupRemoved counts entries removed by expiry sweeps.
	CleanupRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "agentflow",
			Subsystem: "memory",
			Name:      "cleanup_removed_total",
			Help:      "Total number of expired memory entries removed",
		},
	)
)

// UpdateEntryMetrics publishes stats to the Prometheus gauges.
func UpdateEntryMetrics(stats *Stats) {
	if stats == nil {
		return
	}
	EntriesGauge.WithLabelValues("active").Set(float64(stats.Active))
	EntriesGauge.WithLabelValues("expired").Set(float64(stats.Expired))
}
