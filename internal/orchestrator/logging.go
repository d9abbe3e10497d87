package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Logger wraps zap.Logger with orchestrator-specific structured logging.
type Logger struct {
	logger *zap.Logger
}

// NewLogger creates a new Logger. If logger is nil, uses a no-op logger.
func NewLogger(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger.Named("orchestrator")}
}

// Zap returns the underlying logger.
func (l *Logger) Zap() *zap.Logger {
	if l == nil || l.logger == nil {
		return zap.NewNop()
	}
	return l.logger
}

// TaskCreated logs a task creation.
func (l *Logger) TaskCreated(ctx context.Context, t *Task) {
	if l == nil || l.logger == nil {
		return
	}
	fields := l.baseFields(ctx, t.ID, t.UUID)
	fields = append(fields,
		zap.String("group", t.GroupName),
		zap.Stringer("priority", t.Priority))
	l.logger.Info("task created", fields...)
}

// TaskStarted logs a task entering the running set.
func (l *Logger) TaskStarted(ctx context.Context, t *Task, workspace string, timeout time.Duration, running int) {
	if l == nil || l.logger == nil {
		return
	}
	fields := l.baseFields(ctx, t.ID, t.UUID)
	fields = append(fields,
		zap.String("workspace", workspace),
		zap.Duration("timeout", timeout),
		zap.Int("running", running))
	l.logger.Info("task started", fields...)
}

// TaskCompleted logs a successful execution.
func (l *Logger) TaskCompleted(ctx context.Context, t *Task, duration time.Duration) {
	if l == nil || l.logger == nil {
		return
	}
	fields := l.baseFields(ctx, t.ID, t.UUID)
	fields = append(fields, zap.Duration("duration", duration))
	l.logger.Info("task completed", fields...)
}

// TaskFailed logs a failed execution.
func (l *Logger) TaskFailed(ctx context.Context, t *Task, reason string, exitCode int, timedOut bool, duration time.Duration) {
	if l == nil || l.logger == nil {
		return
	}
	fields := l.baseFields(ctx, t.ID, t.UUID)
	fields = append(fields,
		zap.String("reason", reason),
		zap.Int("exit_code", exitCode),
		zap.Bool("timed_out", timedOut),
		zap.Duration("duration", duration))
	l.logger.Warn("task failed", fields...)
}

// TaskCancelled logs a cancel request.
func (l *Logger) TaskCancelled(ctx context.Context, t *Task) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Info("task cancelled", l.baseFields(ctx, t.ID, t.UUID)...)
}

// AdmissionRejected logs an execution refused at admission.
func (l *Logger) AdmissionRejected(ctx context.Context, taskID int64, reason string, running, max int) {
	if l == nil || l.logger == nil {
		return
	}
	fields := l.baseFields(ctx, taskID, "")
	fields = append(fields,
		zap.String("reason", reason),
		zap.Int("running", running),
		zap.Int("max_concurrent", max))
	l.logger.Warn("execution rejected", fields...)
}

// Error logs an error with context.
func (l *Logger) Error(ctx context.Context, msg string, err error, fields ...zap.Field) {
	if l == nil || l.logger == nil {
		return
	}
	allFields := append(l.traceFields(ctx), zap.Error(err))
	allFields = append(allFields, fields...)
	l.logger.Error(msg, allFields...)
}

// Warn logs a warning with context.
func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Warn(msg, append(l.traceFields(ctx), fields...)...)
}

// Debug logs a debug message with context.
func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Debug(msg, append(l.traceFields(ctx), fields...)...)
}

func (l *Logger) baseFields(ctx context.Context, taskID int64, uuid string) []zap.Field {
	fields := []zap.Field{zap.Int64("task_id", taskID)}
	if uuid != "" {
		fields = append(fields, zap.String("task_uuid", uuid))
	}
	return append(fields, l.traceFields(ctx)...)
}

// traceFields extracts trace context from the context.
func (l *Logger) traceFields(ctx context.Context) []zap.Field {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return nil
	}
	sc := span.SpanContext()
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}
