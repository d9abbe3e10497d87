package http

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/agentflow/internal/http"

// HTTPMetrics records per-route traffic for the agentflowd API.
type HTTPMetrics struct {
	logger   *zap.Logger
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	bodySize metric.Int64Histogram
	inFlight metric.Int64UpDownCounter
}

// NewHTTPMetrics registers the instruments on meter, falling back to the
// global provider. Instruments that fail to register are skipped.
func NewHTTPMetrics(meter metric.Meter, logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	if meter == nil {
		meter = otel.Meter(httpInstrumentationName)
	}
	m := &HTTPMetrics{logger: logger}

	var err error
	m.requests, err = meter.Int64Counter("agentflow.http.requests_total",
		metric.WithDescription("Requests served by agentflowd, by method, route pattern and final status"),
		metric.WithUnit("{request}"))
	m.warn("agentflow.http.requests_total", err)

	// Task execution is synchronous, so the upper buckets cover long agent runs.
	m.latency, err = meter.Float64Histogram("agentflow.http.request_duration_seconds",
		metric.WithDescription("Time to complete a request, including synchronous task executions"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.5, 1, 5, 30, 120, 300, 600))
	m.warn("agentflow.http.request_duration_seconds", err)

	m.bodySize, err = meter.Int64Histogram("agentflow.http.response_size_bytes",
		metric.WithDescription("Response body size; large values usually mean captured agent output or memory snapshots"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(256, 1024, 8192, 65536, 262144, 1048576))
	m.warn("agentflow.http.response_size_bytes", err)

	m.inFlight, err = meter.Int64UpDownCounter("agentflow.http.active_requests",
		metric.WithDescription("Requests currently being handled, including executions waiting on an agent"),
		metric.WithUnit("{request}"))
	m.warn("agentflow.http.active_requests", err)

	return m
}

func (m *HTTPMetrics) warn(name string, err error) {
	if err != nil {
		m.logger.Warn("metric instrument unavailable", zap.String("instrument", name), zap.Error(err))
	}
}

// MetricsMiddleware records each request once its final status is known.
// Handler errors go through the echo error handler first, so a 404 or 429
// is labeled as such rather than as the 200 still on the response.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			if err := next(c); err != nil {
				c.Error(err)
			}

			res := c.Response()
			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", normalizePath(c.Path())),
				attribute.Int("status", res.Status),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.latency != nil {
				m.latency.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.bodySize != nil {
				m.bodySize.Record(ctx, res.Size, attrs)
			}
			return nil
		}
	}
}

// normalizePath maps the matched route onto a metric label. Echo reports
// the registered pattern (/api/v1/tasks/:id), so ids never reach the label;
// unmatched requests share one label.
func normalizePath(path string) string {
	if path == "" || path == "/*" {
		return "unmatched"
	}
	return path
}
