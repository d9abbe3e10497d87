package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/agentflow/internal/orchestrator"
)

// taskView is the tool representation of a task. Times are RFC 3339.
type taskView struct {
	ID             int64  `json:"id" jsonschema:"Task ID"`
	UUID           string `json:"uuid" jsonschema:"External task UUID"`
	ParentID       int64  `json:"parent_id,omitempty" jsonschema:"Parent task ID"`
	Title          string `json:"title" jsonschema:"Task title"`
	Description    string `json:"description,omitempty" jsonschema:"Task description"`
	GroupName      string `json:"group_name" jsonschema:"Task group"`
	Status         string `json:"status" jsonschema:"pending, running, completed, failed or blocked"`
	Priority       string `json:"priority" jsonschema:"low, medium or high"`
	Result         string `json:"result,omitempty" jsonschema:"Agent output of a completed task"`
	Error          string `json:"error,omitempty" jsonschema:"Failure reason"`
	WorkspaceDir   string `json:"workspace_dir,omitempty" jsonschema:"Working directory of the agent"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" jsonschema:"Per-task timeout override"`
	CreatedAt      string `json:"created_at" jsonschema:"Creation time"`
	StartedAt      string `json:"started_at,omitempty" jsonschema:"Start of the last execution"`
	CompletedAt    string `json:"completed_at,omitempty" jsonschema:"End of the last execution"`
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (s *Server) viewTask(t *orchestrator.Task) taskView {
	v := taskView{
		ID:             t.ID,
		UUID:           t.UUID,
		Title:          t.Title,
		Description:    t.Description,
		GroupName:      t.GroupName,
		Status:         string(t.Status),
		Priority:       t.Priority.String(),
		Result:         s.scrubber.String(t.Result),
		Error:          s.scrubber.String(t.Error),
		WorkspaceDir:   t.WorkspaceDir,
		TimeoutSeconds: t.TimeoutSeconds,
		CreatedAt:      formatTime(&t.CreatedAt),
		StartedAt:      formatTime(t.StartedAt),
		CompletedAt:    formatTime(t.CompletedAt),
	}
	if t.ParentID != nil {
		v.ParentID = *t.ParentID
	}
	return v
}

type taskCreateInput struct {
	Title              string `json:"title" jsonschema:"Task title, used as the prompt when description is empty"`
	Description        string `json:"description,omitempty" jsonschema:"Prompt handed to the agent"`
	ParentID           int64  `json:"parent_id,omitempty" jsonschema:"Parent task ID"`
	GroupName          string `json:"group_name,omitempty" jsonschema:"Task group (default: default)"`
	CompletionCriteria string `json:"completion_criteria,omitempty" jsonschema:"What done looks like"`
	Priority           string `json:"priority,omitempty" jsonschema:"low, medium or high (default: medium)"`
	WorkspaceDir       string `json:"workspace_dir,omitempty" jsonschema:"Working directory inside the sandbox"`
	TimeoutSeconds     int    `json:"timeout_seconds,omitempty" jsonschema:"Execution timeout override in seconds"`
}

type taskIDInput struct {
	TaskID int64 `json:"task_id" jsonschema:"Task ID"`
}

type taskExecuteOutput struct {
	TaskID      int64    `json:"task_id" jsonschema:"Task ID"`
	Status      string   `json:"status" jsonschema:"Terminal status of the execution"`
	ExitCode    int      `json:"exit_code" jsonschema:"Agent exit code"`
	Stdout      string   `json:"stdout,omitempty" jsonschema:"Agent standard output, secrets redacted"`
	Stderr      string   `json:"stderr,omitempty" jsonschema:"Agent standard error, secrets redacted"`
	TimedOut    bool     `json:"timed_out" jsonschema:"True if the execution hit its timeout"`
	Cancelled   bool     `json:"cancelled" jsonschema:"True if the execution was cancelled"`
	DurationMS  int64    `json:"duration_ms" jsonschema:"Wall time in milliseconds"`
	Error       string   `json:"error,omitempty" jsonschema:"Failure reason"`
	ContextKeys []string `json:"context_keys,omitempty" jsonschema:"Memory keys injected into the prompt"`
}

type taskRunningOutput struct {
	Count   int     `json:"count" jsonschema:"Number of running tasks"`
	TaskIDs []int64 `json:"task_ids" jsonschema:"IDs of running tasks"`
}

func (s *Server) registerTaskTools() {
	addTool(s, &ToolMetadata{
		Name:        "task_create",
		Description: "Create a pending agent task",
		Category:    CategoryTask,
		Keywords:    []string{"new", "add", "submit"},
	}, func(ctx context.Context, args taskCreateInput) (taskView, string, error) {
		req := &orchestrator.CreateRequest{
			Title:              args.Title,
			Description:        args.Description,
			GroupName:          args.GroupName,
			CompletionCriteria: args.CompletionCriteria,
			WorkspaceDir:       args.WorkspaceDir,
			TimeoutSeconds:     args.TimeoutSeconds,
			CreatedBy:          "mcp",
		}
		if args.ParentID != 0 {
			parent := args.ParentID
			req.ParentID = &parent
		}
		if args.Priority != "" {
			p, err := orchestrator.ParsePriority(args.Priority)
			if err != nil {
				return taskView{}, "", err
			}
			req.Priority = &p
		}
		task, err := s.tasks.Create(ctx, req)
		if err != nil {
			return taskView{}, "", err
		}
		return s.viewTask(task), fmt.Sprintf("Task %d created", task.ID), nil
	})

	addTool(s, &ToolMetadata{
		Name:        "task_execute",
		Description: "Run a pending task's agent and wait for it to finish",
		Category:    CategoryTask,
		Keywords:    []string{"run", "start", "agent"},
	}, func(ctx context.Context, args taskIDInput) (taskExecuteOutput, string, error) {
		out, err := s.tasks.Execute(ctx, args.TaskID)
		if out == nil {
			return taskExecuteOutput{}, "", err
		}
		res := taskExecuteOutput{
			TaskID:      out.TaskID,
			Status:      string(out.Status),
			ExitCode:    out.ExitCode,
			Stdout:      s.scrubber.String(out.Stdout),
			Stderr:      s.scrubber.String(out.Stderr),
			TimedOut:    out.TimedOut,
			Cancelled:   out.Cancelled,
			DurationMS:  out.Duration.Milliseconds(),
			Error:       out.Error,
			ContextKeys: out.ContextKeys,
		}
		if err != nil {
			res.Error = err.Error()
		}
		summary := fmt.Sprintf("Task %d %s", out.TaskID, out.Status)
		if res.Error != "" {
			summary += ": " + res.Error
		}
		return res, summary, nil
	})

	addTool(s, &ToolMetadata{
		Name:        "task_cancel",
		Description: "Cancel a running task; it is left blocked",
		Category:    CategoryTask,
		Keywords:    []string{"stop", "kill", "abort"},
	}, func(ctx context.Context, args taskIDInput) (taskView, string, error) {
		task, err := s.tasks.Cancel(ctx, args.TaskID)
		if err != nil {
			return taskView{}, "", err
		}
		return s.viewTask(task), fmt.Sprintf("Task %d cancelled", task.ID), nil
	})

	addTool(s, &ToolMetadata{
		Name:        "task_get",
		Description: "Get a task by ID",
		Category:    CategoryTask,
		Keywords:    []string{"status", "show", "lookup"},
	}, func(ctx context.Context, args taskIDInput) (taskView, string, error) {
		task, err := s.tasks.Get(ctx, args.TaskID)
		if err != nil {
			return taskView{}, "", err
		}
		return s.viewTask(task), fmt.Sprintf("Task %d is %s", task.ID, task.Status), nil
	})

	addTool(s, &ToolMetadata{
		Name:        "task_running",
		Description: "List the IDs of tasks currently executing",
		Category:    CategoryTask,
		Keywords:    []string{"active", "in progress", "list"},
	}, func(_ context.Context, _ struct{}) (taskRunningOutput, string, error) {
		ids := s.tasks.RunningIDs()
		if ids == nil {
			ids = []int64{}
		}
		return taskRunningOutput{Count: len(ids), TaskIDs: ids}, fmt.Sprintf("%d task(s) running", len(ids)), nil
	})
}
