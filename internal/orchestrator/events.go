package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// EventType names a task lifecycle event.
type EventType string

const (
	EventCreated   EventType = "created"
	EventStarted   EventType = "started"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventCancelled EventType = "cancelled"
)

// TaskEvent is published on every lifecycle change.
type TaskEvent struct {
	Type      EventType  `json:"type"`
	TaskID    int64      `json:"task_id"`
	TaskUUID  string     `json:"task_uuid"`
	Status    TaskStatus `json:"status"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	Error     string     `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

func newTaskEvent(typ EventType, t *Task) TaskEvent {
	return TaskEvent{
		Type:      typ,
		TaskID:    t.ID,
		TaskUUID:  t.UUID,
		Status:    t.Status,
		Error:     t.Error,
		Timestamp: time.Now(),
	}
}

// Publisher emits task events. Publishing is best effort; the orchestrator
// logs failures and carries on.
type Publisher interface {
	Publish(ctx context.Context, event TaskEvent) error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, TaskEvent) error { return nil }

// DefaultSubjectPrefix roots every task subject.
const DefaultSubjectPrefix = "agentflow.tasks"

// NATSPublisher publishes JSON events to {prefix}.{uuid}.{event}.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSPublisher returns a publisher on nc. An empty prefix uses
// DefaultSubjectPrefix.
func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{nc: nc, prefix: prefix}
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(event TaskEvent) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, event.TaskUUID, event.Type)
}

func (p *NATSPublisher) Publish(_ context.Context, event TaskEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal task event: %w", err)
	}
	if err := p.nc.Publish(p.Subject(event), data); err != nil {
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}
	return nil
}
