package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentflow/internal/logging"
	"github.com/fyrsmithlabs/agentflow/internal/orchestrator"
)

// sseKeepAlive is the comment interval on streamed executions.
const sseKeepAlive = time.Second

func taskID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid task id %q", c.Param("id")))
	}
	return id, nil
}

func (s *Server) handleCreateTask(c echo.Context) error {
	var req orchestrator.CreateRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid create request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	task, err := s.tasks.Create(c.Request().Context(), &req)
	if err != nil {
		return err
	}
	return ok(c, http.StatusCreated, task)
}

func (s *Server) handleListTasks(c echo.Context) error {
	filter := orchestrator.ListFilter{
		Status:    orchestrator.TaskStatus(c.QueryParam("status")),
		GroupName: c.QueryParam("group"),
	}
	if filter.GroupName == "" {
		filter.GroupName = c.QueryParam("group_name")
	}
	if v := c.QueryParam("parent_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid parent_id")
		}
		filter.ParentID = &id
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		filter.Limit = n
	}

	tasks, err := s.tasks.List(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	if tasks == nil {
		tasks = []*orchestrator.Task{}
	}
	return ok(c, http.StatusOK, tasks)
}

func (s *Server) handleRunningTasks(c echo.Context) error {
	ids := s.tasks.RunningIDs()
	return ok(c, http.StatusOK, RunningResponse{Count: len(ids), TaskIDs: ids})
}

func (s *Server) handleGetTask(c echo.Context) error {
	id, err := taskID(c)
	if err != nil {
		return err
	}
	task, err := s.tasks.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(c echo.Context) error {
	id, err := taskID(c)
	if err != nil {
		return err
	}
	if err := s.tasks.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return ok(c, http.StatusOK, map[string]int64{"deleted": id})
}

func (s *Server) handleCancelTask(c echo.Context) error {
	id, err := taskID(c)
	if err != nil {
		return err
	}
	task, err := s.tasks.Cancel(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, task)
}

// handleExecuteTask runs a task synchronously. Clients that accept
// text/event-stream get start and complete (or error) events instead, with
// keep-alive comments while the agent runs. A disconnecting client does not
// stop the execution; use the cancel endpoint.
func (s *Server) handleExecuteTask(c echo.Context) error {
	id, err := taskID(c)
	if err != nil {
		return err
	}
	ctx := logging.WithTaskID(context.WithoutCancel(c.Request().Context()), id)

	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), "text/event-stream") {
		return s.streamExecution(ctx, c, id)
	}

	out, err := s.tasks.Execute(ctx, id)
	if out == nil {
		return err
	}
	resp := Response{Success: err == nil && out.Status == orchestrator.StatusCompleted, Data: out}
	if err != nil {
		resp.Error = err.Error()
	} else if out.Error != "" {
		resp.Error = out.Error
	}
	return c.JSON(http.StatusOK, resp)
}

type executeResult struct {
	out *orchestrator.Output
	err error
}

func (s *Server) streamExecution(ctx context.Context, c echo.Context, id int64) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(ev ExecuteEvent) {
		data, err := json.Marshal(ev)
		if err != nil {
			s.logger.Warn("encoding execute event", zap.Error(err))
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
		w.Flush()
	}

	send(ExecuteEvent{Type: "start", TaskID: id})

	done := make(chan executeResult, 1)
	go func() {
		out, err := s.tasks.Execute(ctx, id)
		done <- executeResult{out, err}
	}()

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()
	clientGone := c.Request().Context().Done()
	for {
		select {
		case r := <-done:
			ev := ExecuteEvent{Type: "complete", TaskID: id, Output: r.out}
			if r.err != nil {
				ev.Type = "error"
				_, ev.Error = s.classify(r.err)
			} else if r.out != nil && r.out.Status != orchestrator.StatusCompleted {
				ev.Type = "error"
				ev.Error = r.out.Error
			}
			send(ev)
			return nil
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			w.Flush()
		case <-clientGone:
			s.logger.Debug("execute stream client disconnected", zap.Int64("task_id", id))
			return nil
		}
	}
}
