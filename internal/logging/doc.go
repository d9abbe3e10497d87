// Package logging provides structured logging for agentflow.
//
// Logger wraps Zap and injects correlation fields from the context on every
// call: trace and span ids from OpenTelemetry, the task being executed, and
// the HTTP request id.
//
//	ctx = logging.WithTaskID(ctx, task.ID)
//	logger.Info(ctx, "task started", zap.String("workspace", dir))
//
// Output can go to stdout, to an OpenTelemetry log provider through the
// otelzap bridge, or both. Sensitive keys and patterns are redacted at the
// encoder. Levels below Error are sampled when sampling is enabled.
//
// Tests use NewTestLogger and its assertion helpers.
package logging
