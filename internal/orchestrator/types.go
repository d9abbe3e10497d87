package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusBlocked   TaskStatus = "blocked"
)

// ValidTransitions defines allowed state transitions.
var ValidTransitions = map[TaskStatus][]TaskStatus{
	StatusPending:   {StatusRunning},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusBlocked},
	StatusCompleted: {}, // terminal
	StatusFailed:    {}, // terminal
	StatusBlocked:   {}, // terminal
}

// CanTransitionTo checks if a transition from current status to target is valid.
func (s TaskStatus) CanTransitionTo(target TaskStatus) bool {
	allowed, ok := ValidTransitions[s]
	if !ok {
		return false
	}
	for _, t := range allowed {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal state.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusBlocked
}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	_, ok := ValidTransitions[s]
	return ok
}

// TaskPriority orders tasks. It encodes as its name in JSON.
type TaskPriority int

const (
	PriorityLow TaskPriority = iota
	PriorityMedium
	PriorityHigh
)

func (p TaskPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority accepts a priority name. Empty means medium.
func ParsePriority(s string) (TaskPriority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "", "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	default:
		return PriorityMedium, fmt.Errorf("%w: unknown priority %q", ErrInvalidRequest, s)
	}
}

func (p TaskPriority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts either the name or the numeric level.
func (p *TaskPriority) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		if n < int(PriorityLow) || n > int(PriorityHigh) {
			return fmt.Errorf("%w: priority %d out of range", ErrInvalidRequest, n)
		}
		*p = TaskPriority(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// LockHolderMaster is the lease owner recorded while the orchestrator runs a task.
const LockHolderMaster = "master"

// DefaultGroup is the group of tasks created without one.
const DefaultGroup = "default"

// Task is one unit of agent work.
type Task struct {
	ID                 int64        `json:"id"`
	UUID               string       `json:"uuid"`
	ParentID           *int64       `json:"parent_id,omitempty"`
	Title              string       `json:"title"`
	Description        string       `json:"description,omitempty"`
	GroupName          string       `json:"group_name"`
	CompletionCriteria string       `json:"completion_criteria,omitempty"`
	Status             TaskStatus   `json:"status"`
	Priority           TaskPriority `json:"priority"`
	LockHolder         string       `json:"lock_holder,omitempty"`
	LockTime           *time.Time   `json:"lock_time,omitempty"`
	Result             string       `json:"result,omitempty"`
	Error              string       `json:"error,omitempty"`
	WorkspaceDir       string       `json:"workspace_dir,omitempty"`
	Sandboxed          bool         `json:"sandboxed"`
	AllowNetwork       bool         `json:"allow_network"`
	MaxMemory          string       `json:"max_memory,omitempty"`
	MaxCPU             int          `json:"max_cpu,omitempty"`
	TimeoutSeconds     int          `json:"timeout_seconds,omitempty"`
	CreatedBy          string       `json:"created_by,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	StartedAt          *time.Time   `json:"started_at,omitempty"`
	CompletedAt        *time.Time   `json:"completed_at,omitempty"`
}

// Clone returns a deep copy.
func (t *Task) Clone() *Task {
	c := *t
	if t.ParentID != nil {
		v := *t.ParentID
		c.ParentID = &v
	}
	c.LockTime = cloneTime(t.LockTime)
	c.StartedAt = cloneTime(t.StartedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Prompt is the text handed to the agent command.
func (t *Task) Prompt() string {
	if strings.TrimSpace(t.Description) != "" {
		return t.Description
	}
	return t.Title
}

// Input limits.
const (
	MaxTitleLength       = 500
	MaxDescriptionLength = 100000
	MaxTimeoutSeconds    = 24 * 60 * 60
)

// CreateRequest describes a new task.
type CreateRequest struct {
	Title              string        `json:"title"`
	Description        string        `json:"description,omitempty"`
	ParentID           *int64        `json:"parent_id,omitempty"`
	GroupName          string        `json:"group_name,omitempty"`
	CompletionCriteria string        `json:"completion_criteria,omitempty"`
	Priority           *TaskPriority `json:"priority,omitempty"`
	WorkspaceDir       string        `json:"workspace_dir,omitempty"`
	Sandboxed          bool          `json:"sandboxed,omitempty"`
	AllowNetwork       bool          `json:"allow_network,omitempty"`
	MaxMemory          string        `json:"max_memory,omitempty"`
	MaxCPU             int           `json:"max_cpu,omitempty"`
	TimeoutSeconds     int           `json:"timeout_seconds,omitempty"`
	CreatedBy          string        `json:"created_by,omitempty"`
}

// Validate checks the request shape.
func (r *CreateRequest) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidRequest)
	}
	if len(r.Title) > MaxTitleLength {
		return fmt.Errorf("%w: title exceeds %d bytes", ErrInvalidRequest, MaxTitleLength)
	}
	if len(r.Description) > MaxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d bytes", ErrInvalidRequest, MaxDescriptionLength)
	}
	if r.Priority != nil && (*r.Priority < PriorityLow || *r.Priority > PriorityHigh) {
		return fmt.Errorf("%w: priority %d out of range", ErrInvalidRequest, int(*r.Priority))
	}
	if r.TimeoutSeconds < 0 || r.TimeoutSeconds > MaxTimeoutSeconds {
		return fmt.Errorf("%w: timeout_seconds must be between 0 and %d", ErrInvalidRequest, MaxTimeoutSeconds)
	}
	if r.MaxCPU < 0 {
		return fmt.Errorf("%w: max_cpu must not be negative", ErrInvalidRequest)
	}
	return nil
}

// ApplyDefaults sets default values for optional fields.
func (r *CreateRequest) ApplyDefaults(defaultWorkspace string) {
	if r.GroupName == "" {
		r.GroupName = DefaultGroup
	}
	if r.WorkspaceDir == "" {
		r.WorkspaceDir = defaultWorkspace
	}
	if r.Priority == nil {
		p := PriorityMedium
		r.Priority = &p
	}
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	Status    TaskStatus `json:"status,omitempty"`
	GroupName string     `json:"group_name,omitempty"`
	ParentID  *int64     `json:"parent_id,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

// Matches reports whether t passes the filter.
func (f ListFilter) Matches(t *Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.GroupName != "" && t.GroupName != f.GroupName {
		return false
	}
	if f.ParentID != nil && (t.ParentID == nil || *t.ParentID != *f.ParentID) {
		return false
	}
	return true
}

// Output is the outcome of one execution.
type Output struct {
	TaskID      int64         `json:"task_id"`
	Status      TaskStatus    `json:"status"`
	ExitCode    int           `json:"exit_code"`
	Stdout      string        `json:"stdout,omitempty"`
	Stderr      string        `json:"stderr,omitempty"`
	TimedOut    bool          `json:"timed_out"`
	Cancelled   bool          `json:"cancelled"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
	ContextKeys []string      `json:"context_keys,omitempty"`
}

// HealthStatus represents the health state of the orchestrator.
type HealthStatus struct {
	Healthy       bool    `json:"healthy"`
	RunningCount  int     `json:"running_count"`
	MaxConcurrent int     `json:"max_concurrent"`
	IsShutdown    bool    `json:"is_shutdown"`
	RunningIDs    []int64 `json:"running_ids,omitempty"`
}
