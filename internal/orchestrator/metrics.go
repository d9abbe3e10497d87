package orchestrator

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/agentflow/internal/orchestrator"

// RunningTasks is the Prometheus view of the running set.
var RunningTasks = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "agentflow",
		Subsystem: "orchestrator",
		Name:      "running_tasks",
		Help:      "Number of tasks currently executing",
	},
)

// Metrics provides OpenTelemetry metrics for the orchestrator.
type Metrics struct {
	executionsTotal metric.Int64Counter
	rejectedTotal   metric.Int64Counter
	runningCount    metric.Int64UpDownCounter
	duration        metric.Float64Histogram

	initialized bool
}

// NewMetrics creates metrics on meter, or on the global meter provider when
// meter is nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	m := &Metrics{}
	var err error

	m.executionsTotal, err = meter.Int64Counter(
		"agentflow.task.executions.total",
		metric.WithDescription("Total number of finished task executions by outcome"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return nil, err
	}

	m.rejectedTotal, err = meter.Int64Counter(
		"agentflow.task.rejected.total",
		metric.WithDescription("Total number of executions rejected at admission"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return nil, err
	}

	m.runningCount, err = meter.Int64UpDownCounter(
		"agentflow.task.running.count",
		metric.WithDescription("Number of currently running tasks"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, err
	}

	m.duration, err = meter.Float64Histogram(
		"agentflow.task.duration.seconds",
		metric.WithDescription("Duration of task execution in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600),
	)
	if err != nil {
		return nil, err
	}

	m.initialized = true
	return m, nil
}

// RecordStarted counts a task entering the running set.
func (m *Metrics) RecordStarted(ctx context.Context) {
	RunningTasks.Inc()
	if m == nil || !m.initialized {
		return
	}
	m.runningCount.Add(ctx, 1)
}

// RecordFinished counts a task leaving the running set with its final status.
func (m *Metrics) RecordFinished(ctx context.Context, status TaskStatus, timedOut bool, duration time.Duration) {
	RunningTasks.Dec()
	if m == nil || !m.initialized {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("status", string(status)),
		attribute.Bool("timed_out", timedOut),
	)
	m.runningCount.Add(ctx, -1)
	m.executionsTotal.Add(ctx, 1, attrs)
	m.duration.Record(ctx, duration.Seconds(), attrs)
}

// RecordRejected counts an admission rejection.
func (m *Metrics) RecordRejected(ctx context.Context, reason string) {
	if m == nil || !m.initialized {
		return
	}
	m.rejectedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
