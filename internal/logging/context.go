package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type taskCtxKey struct{}
type requestCtxKey struct{}
type loggerCtxKey struct{}

const maxRequestIDLen = 128

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if id, ok := TaskIDFromContext(ctx); ok {
		fields = append(fields, zap.Int64("task.id", id))
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	return fields
}

// WithTaskID tags ctx with the task being worked on.
func WithTaskID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, taskCtxKey{}, id)
}

// TaskIDFromContext returns the task id set by WithTaskID.
func TaskIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(taskCtxKey{}).(int64)
	return id, ok
}

// WithRequestID tags ctx with an inbound request id. Empty or oversized ids
// are ignored, since they come from clients.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" || len(requestID) > maxRequestIDLen {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext extracts request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
