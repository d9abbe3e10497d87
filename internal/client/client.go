// Package client is a Go client for the agentflowd HTTP API.
//
// Every response from the daemon is wrapped in an envelope of the form
// {"success": bool, "data": ..., "error": "..."}; the client unwraps it and
// returns *APIError for unsuccessful responses.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	httpserver "github.com/fyrsmithlabs/agentflow/internal/http"
	"github.com/fyrsmithlabs/agentflow/internal/memory"
	"github.com/fyrsmithlabs/agentflow/internal/orchestrator"
)

const (
	// DefaultURL is where agentflowd listens by default.
	DefaultURL = "http://localhost:6767"

	// DefaultTimeout bounds every request except task execution.
	DefaultTimeout = 30 * time.Second
)

// APIError is a non-successful response from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to one agentflowd instance.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New returns a client for the daemon at baseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the daemon address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do sends a request and returns the decoded envelope. Transport failures
// and undecodable bodies are returned as plain errors; the caller decides
// what an unsuccessful envelope means.
func (c *Client) do(hc *http.Client, req *http.Request) (int, *envelope, error) {
	resp, err := hc.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return resp.StatusCode, nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		}
		return resp.StatusCode, nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return resp.StatusCode, &env, nil
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	status, env, err := c.do(c.http, req)
	if err != nil {
		return err
	}
	if status >= http.StatusBadRequest || !env.Success {
		return &APIError{StatusCode: status, Message: env.Error}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to parse response data: %w", err)
	}
	return nil
}

// Health returns the daemon health report.
func (c *Client) Health(ctx context.Context) (*httpserver.HealthResponse, error) {
	var h httpserver.HealthResponse
	if err := c.call(ctx, http.MethodGet, "/api/v1/health", nil, nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Scrub redacts secrets from content on the server.
func (c *Client) Scrub(ctx context.Context, content string) (*httpserver.ScrubResponse, error) {
	var res httpserver.ScrubResponse
	if err := c.call(ctx, http.MethodPost, "/api/v1/scrub", nil, httpserver.ScrubRequest{Content: content}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func taskPath(id int64, suffix string) string {
	return "/api/v1/tasks/" + strconv.FormatInt(id, 10) + suffix
}

// CreateTask registers a new pending task.
func (c *Client) CreateTask(ctx context.Context, req *orchestrator.CreateRequest) (*orchestrator.Task, error) {
	var t orchestrator.Task
	if err := c.call(ctx, http.MethodPost, "/api/v1/tasks", nil, req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTasks returns tasks matching filter.
func (c *Client) ListTasks(ctx context.Context, filter orchestrator.ListFilter) ([]*orchestrator.Task, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.GroupName != "" {
		q.Set("group", filter.GroupName)
	}
	if filter.ParentID != nil {
		q.Set("parent_id", strconv.FormatInt(*filter.ParentID, 10))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	var tasks []*orchestrator.Task
	if err := c.call(ctx, http.MethodGet, "/api/v1/tasks", q, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetTask fetches one task.
func (c *Client) GetTask(ctx context.Context, id int64) (*orchestrator.Task, error) {
	var t orchestrator.Task
	if err := c.call(ctx, http.MethodGet, taskPath(id, ""), nil, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// DeleteTask removes a task that is not running.
func (c *Client) DeleteTask(ctx context.Context, id int64) error {
	return c.call(ctx, http.MethodDelete, taskPath(id, ""), nil, nil, nil)
}

// CancelTask stops a running task, or blocks a pending one.
func (c *Client) CancelTask(ctx context.Context, id int64) (*orchestrator.Task, error) {
	var t orchestrator.Task
	if err := c.call(ctx, http.MethodPost, taskPath(id, "/cancel"), nil, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// RunningTasks lists the ids currently executing.
func (c *Client) RunningTasks(ctx context.Context) (*httpserver.RunningResponse, error) {
	var r httpserver.RunningResponse
	if err := c.call(ctx, http.MethodGet, "/api/v1/tasks/running", nil, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ExecuteTask runs a task and waits for it to finish. Executions outlive the
// client's default timeout, so this call is bounded by ctx alone. A task
// that ran but did not complete returns its output together with an error.
func (c *Client) ExecuteTask(ctx context.Context, id int64) (*orchestrator.Output, error) {
	req, err := c.newRequest(ctx, http.MethodPost, taskPath(id, "/execute"), nil, nil)
	if err != nil {
		return nil, err
	}
	hc := *c.http
	hc.Timeout = 0
	status, env, err := c.do(&hc, req)
	if err != nil {
		return nil, err
	}

	var out *orchestrator.Output
	if len(env.Data) > 0 && string(env.Data) != "null" {
		out = &orchestrator.Output{}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, fmt.Errorf("failed to parse response data: %w", err)
		}
	}
	if status >= http.StatusBadRequest || !env.Success {
		return out, &APIError{StatusCode: status, Message: env.Error}
	}
	return out, nil
}

// IndexMemoryRequest mirrors the index endpoint body.
type IndexMemoryRequest = httpserver.IndexMemoryRequest

// SearchMemoryRequest mirrors the search endpoint body.
type SearchMemoryRequest = httpserver.SearchMemoryRequest

// IndexMemory stores or replaces an entry.
func (c *Client) IndexMemory(ctx context.Context, req IndexMemoryRequest) (*memory.Entry, error) {
	var e memory.Entry
	if err := c.call(ctx, http.MethodPost, "/api/v1/memory", nil, req, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// SearchMemory returns active entries matching req.
func (c *Client) SearchMemory(ctx context.Context, req SearchMemoryRequest) ([]*memory.Entry, error) {
	var entries []*memory.Entry
	if err := c.call(ctx, http.MethodPost, "/api/v1/memory/search", nil, req, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetMemory fetches an active entry by key.
func (c *Client) GetMemory(ctx context.Context, key string) (*memory.Entry, error) {
	var e memory.Entry
	if err := c.call(ctx, http.MethodGet, "/api/v1/memory/"+url.PathEscape(key), nil, nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// DeleteMemory removes an entry.
func (c *Client) DeleteMemory(ctx context.Context, key string) error {
	return c.call(ctx, http.MethodDelete, "/api/v1/memory/"+url.PathEscape(key), nil, nil, nil)
}

// MemoryStats returns entry counts.
func (c *Client) MemoryStats(ctx context.Context) (*memory.Stats, error) {
	var s memory.Stats
	if err := c.call(ctx, http.MethodGet, "/api/v1/memory/stats", nil, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// CleanupMemory purges expired entries and returns how many were removed.
func (c *Client) CleanupMemory(ctx context.Context) (int, error) {
	var r httpserver.CleanupResponse
	if err := c.call(ctx, http.MethodPost, "/api/v1/memory/cleanup", nil, nil, &r); err != nil {
		return 0, err
	}
	return r.Removed, nil
}

// Snapshot copies the active entries under owner.
func (c *Client) Snapshot(ctx context.Context, owner string) (*memory.Snapshot, error) {
	q := url.Values{}
	if owner != "" {
		q.Set("owner", owner)
	}
	var s memory.Snapshot
	if err := c.call(ctx, http.MethodGet, "/api/v1/memory/snapshot", q, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
