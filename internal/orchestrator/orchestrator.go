package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/agentflow/internal/config"
	"github.com/fyrsmithlabs/agentflow/internal/lifecycle"
	"github.com/fyrsmithlabs/agentflow/internal/memory"
	"github.com/fyrsmithlabs/agentflow/internal/secrets"
)

// Defaults used when Config leaves a field zero.
const (
	DefaultMaxConcurrent = 10
	DefaultTaskTimeout   = 300 * time.Second
	DefaultContextLimit  = 5

	// MaxRecordedOutput bounds the output copied into memory per outcome.
	MaxRecordedOutput = 10000
)

// PathValidator confines workspaces. *sandbox.Validator satisfies it.
type PathValidator interface {
	ValidatePath(path string) (string, error)
}

// Config controls execution.
type Config struct {
	MaxConcurrent    int
	TaskTimeout      time.Duration
	GracePeriod      time.Duration
	DefaultWorkspace string
	ContextEntries   int
	RecordOutcomes   bool
	OutputLimit      int
}

// DefaultConfig returns the built-in execution settings.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:  DefaultMaxConcurrent,
		TaskTimeout:    DefaultTaskTimeout,
		GracePeriod:    lifecycle.DefaultGracePeriod,
		ContextEntries: DefaultContextLimit,
		RecordOutcomes: true,
		OutputLimit:    lifecycle.DefaultOutputLimit,
	}
}

// FromAppConfig maps the application config onto Config.
func FromAppConfig(o config.OrchestratorConfig, sb config.SandboxConfig) Config {
	return Config{
		MaxConcurrent:    o.MaxConcurrentTasks,
		TaskTimeout:      o.TaskTimeout.Duration(),
		GracePeriod:      o.GracePeriod.Duration(),
		DefaultWorkspace: config.ExpandHome(sb.DefaultWorkspace),
		ContextEntries:   o.ContextEntries,
		RecordOutcomes:   o.RecordOutcomes,
		OutputLimit:      lifecycle.DefaultOutputLimit,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = d.TaskTimeout
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = d.GracePeriod
	}
	if c.ContextEntries < 0 {
		c.ContextEntries = 0
	}
	if c.OutputLimit <= 0 {
		c.OutputLimit = d.OutputLimit
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig sets execution settings.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		o.cfg = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = NewLogger(l)
	}
}

// WithMetrics sets the OpenTelemetry instruments.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTracer sets the tracer used for operation spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

// WithMemory enables context injection and outcome recording.
func WithMemory(store memory.Store) Option {
	return func(o *Orchestrator) {
		o.memory = store
	}
}

// WithPublisher sets the lifecycle event publisher.
func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.publisher = p
		}
	}
}

// WithCommandBuilder replaces the agent command.
func WithCommandBuilder(b CommandBuilder) Option {
	return func(o *Orchestrator) {
		if b != nil {
			o.build = b
		}
	}
}

// WithScrubber sets the scrubber applied to outcomes before they are recorded.
func WithScrubber(s *secrets.Scrubber) Option {
	return func(o *Orchestrator) {
		o.scrubber = s
	}
}

// execution is one entry in the running set.
type execution struct {
	cancel context.CancelFunc
	done   chan struct{}

	// mu serializes the terminal write between Execute and Cancel.
	mu        sync.Mutex
	finished  bool
	cancelled bool
}

// Orchestrator runs tasks as supervised agent processes under a concurrency
// ceiling. It is safe for concurrent use.
type Orchestrator struct {
	repo      Repository
	validator PathValidator
	cfg       Config
	logger    *Logger
	metrics   *Metrics
	tracer    trace.Tracer
	memory    memory.Store
	publisher Publisher
	build     CommandBuilder
	scrubber  *secrets.Scrubber

	mu         sync.RWMutex
	running    map[int64]*execution
	isShutdown bool
}

// New creates an Orchestrator over repo. A nil validator disables workspace
// confinement.
func New(repo Repository, validator PathValidator, opts ...Option) (*Orchestrator, error) {
	if repo == nil {
		return nil, errors.New("task repository is required")
	}
	o := &Orchestrator{
		repo:      repo,
		validator: validator,
		cfg:       DefaultConfig(),
		logger:    NewLogger(nil),
		publisher: NopPublisher{},
		build:     NewCommandBuilder(DefaultCommand, DefaultArgs),
		running:   make(map[int64]*execution),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.cfg.applyDefaults()
	if o.tracer == nil {
		o.tracer = otel.Tracer(instrumentationName)
	}
	if o.scrubber == nil {
		o.scrubber = secrets.MustNew(nil)
	}
	return o, nil
}

// Create validates req, applies defaults and stores a pending task.
func (o *Orchestrator) Create(ctx context.Context, req *CreateRequest) (*Task, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.create")
	defer span.End()

	if err := o.checkShutdown(); err != nil {
		return nil, newError(KindCapacity, "create", 0, err)
	}
	if req == nil {
		return nil, newError(KindValidation, "create", 0, fmt.Errorf("%w: empty request", ErrInvalidRequest))
	}
	r := *req
	if err := r.Validate(); err != nil {
		return nil, newError(KindValidation, "create", 0, err)
	}
	r.ApplyDefaults(o.cfg.DefaultWorkspace)

	if r.ParentID != nil {
		if _, err := o.repo.Get(ctx, *r.ParentID); err != nil {
			if errors.Is(err, ErrTaskNotFound) {
				return nil, newError(KindValidation, "create", 0,
					fmt.Errorf("%w: parent task %d not found", ErrInvalidRequest, *r.ParentID))
			}
			return nil, newError(KindPersistence, "create", 0, err)
		}
	}

	t := &Task{
		UUID:               uuid.NewString(),
		ParentID:           r.ParentID,
		Title:              r.Title,
		Description:        r.Description,
		GroupName:          r.GroupName,
		CompletionCriteria: r.CompletionCriteria,
		Status:             StatusPending,
		Priority:           *r.Priority,
		WorkspaceDir:       r.WorkspaceDir,
		Sandboxed:          r.Sandboxed,
		AllowNetwork:       r.AllowNetwork,
		MaxMemory:          r.MaxMemory,
		MaxCPU:             r.MaxCPU,
		TimeoutSeconds:     r.TimeoutSeconds,
		CreatedBy:          r.CreatedBy,
		CreatedAt:          time.Now().UTC(),
	}
	if err := o.repo.Create(ctx, t); err != nil {
		recordSpanError(span, err)
		return nil, newError(KindPersistence, "create", 0, err)
	}
	span.SetAttributes(attribute.Int64("task.id", t.ID))

	o.logger.TaskCreated(ctx, t)
	o.publish(ctx, EventCreated, t, nil)
	return t, nil
}

// Get returns a task by id.
func (o *Orchestrator) Get(ctx context.Context, id int64) (*Task, error) {
	t, err := o.repo.Get(ctx, id)
	if err != nil {
		return nil, o.repoError("get", id, err)
	}
	return t, nil
}

// List returns tasks matching filter, highest priority first.
func (o *Orchestrator) List(ctx context.Context, filter ListFilter) ([]*Task, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, newError(KindValidation, "list", 0,
			fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, filter.Status))
	}
	if filter.Limit < 0 {
		return nil, newError(KindValidation, "list", 0,
			fmt.Errorf("%w: limit must not be negative", ErrInvalidRequest))
	}
	tasks, err := o.repo.List(ctx, filter)
	if err != nil {
		return nil, newError(KindPersistence, "list", 0, err)
	}
	return tasks, nil
}

// Delete removes a task that is not running.
func (o *Orchestrator) Delete(ctx context.Context, id int64) error {
	t, err := o.repo.Get(ctx, id)
	if err != nil {
		return o.repoError("delete", id, err)
	}
	if t.Status == StatusRunning || o.isRunning(id) {
		return newError(KindInvalidTransition, "delete", id, ErrTaskRunning)
	}
	if err := o.repo.Delete(ctx, id); err != nil {
		return o.repoError("delete", id, err)
	}
	o.logger.Debug(ctx, "task deleted", zap.Int64("task_id", id))
	return nil
}

// Execute runs a pending task to completion and returns its output.
//
// Admission is immediate: at the concurrency ceiling the call fails with a
// KindCapacity error instead of queueing. Once the task has been marked
// running the returned Output is non-nil, even when an error is also
// returned for a timeout, sandbox rejection or spawn failure. A non-zero exit
// is reported through Output alone.
func (o *Orchestrator) Execute(ctx context.Context, id int64) (*Output, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.execute",
		trace.WithAttributes(attribute.Int64("task.id", id)))
	defer span.End()

	t, err := o.repo.Get(ctx, id)
	if err != nil {
		err = o.repoError("execute", id, err)
		recordSpanError(span, err)
		return nil, err
	}
	if !t.Status.CanTransitionTo(StatusRunning) {
		err := newError(KindInvalidTransition, "execute", id,
			fmt.Errorf("%w: task is %s", ErrInvalidTransition, t.Status))
		recordSpanError(span, err)
		return nil, err
	}

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ex, running, err := o.admit(id, cancel)
	if err != nil {
		o.logger.AdmissionRejected(ctx, id, err.Error(), running, o.cfg.MaxConcurrent)
		o.metrics.RecordRejected(ctx, admissionReason(err))
		err = newError(KindCapacity, "execute", id, err)
		recordSpanError(span, err)
		return nil, err
	}
	defer o.release(id, ex)

	// Another caller may have run or cancelled the task between the read
	// above and admission, so decide on the row as it is now.
	if t, err = o.repo.Get(ctx, id); err != nil {
		err = o.repoError("execute", id, err)
	} else if !t.Status.CanTransitionTo(StatusRunning) {
		err = newError(KindInvalidTransition, "execute", id,
			fmt.Errorf("%w: task is %s", ErrInvalidTransition, t.Status))
	}
	if err != nil {
		ex.finished = true
		ex.mu.Unlock()
		recordSpanError(span, err)
		return nil, err
	}

	now := time.Now().UTC()
	t.Status = StatusRunning
	t.LockHolder = LockHolderMaster
	t.LockTime = &now
	t.StartedAt = &now
	err = o.repo.Update(ctx, t)
	if err != nil {
		ex.finished = true
	}
	ex.mu.Unlock()
	if err != nil {
		err = newError(KindPersistence, "execute", id, err)
		recordSpanError(span, err)
		return nil, err
	}

	timeout := o.cfg.TaskTimeout
	if t.TimeoutSeconds > 0 {
		timeout = time.Duration(t.TimeoutSeconds) * time.Second
	}
	o.metrics.RecordStarted(ctx)
	o.logger.TaskStarted(ctx, t, t.WorkspaceDir, timeout, running)
	o.publish(ctx, EventStarted, t, nil)

	out, runErr := o.run(ctx, execCtx, t, timeout)
	err = o.finish(ctx, ex, t, out)
	o.metrics.RecordFinished(ctx, out.Status, out.TimedOut, out.Duration)
	if err != nil {
		recordSpanError(span, err)
		return out, err
	}
	span.SetAttributes(
		attribute.String("task.status", string(out.Status)),
		attribute.Int("task.exit_code", out.ExitCode))
	if runErr != nil {
		recordSpanError(span, runErr)
		return out, runErr
	}
	return out, nil
}

// run prepares the workspace and command and supervises the process. It
// always returns an Output describing the outcome.
func (o *Orchestrator) run(ctx, execCtx context.Context, t *Task, timeout time.Duration) (*Output, error) {
	out := &Output{TaskID: t.ID, Status: StatusFailed, ExitCode: -1}
	fail := func(err error) (*Output, error) {
		out.Error = err.Error()
		return out, err
	}

	workspace, err := o.prepareWorkspace(t)
	if err != nil {
		return fail(err)
	}

	entries, err := relatedMemories(ctx, o.memory, t, o.cfg.ContextEntries)
	if err != nil {
		o.logger.Warn(ctx, "memory context unavailable", zap.Int64("task_id", t.ID), zap.Error(err))
	}
	for _, e := range entries {
		out.ContextKeys = append(out.ContextKeys, e.Key)
	}

	cmd, err := o.build(ctx, t, buildPrompt(t, entries))
	if err != nil {
		return fail(newError(KindProcessControl, "execute", t.ID, fmt.Errorf("building command: %w", err)))
	}
	stdout := lifecycle.NewOutputBuffer(o.cfg.OutputLimit)
	stderr := lifecycle.NewOutputBuffer(o.cfg.OutputLimit)
	cmd.Dir = workspace
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Grandchildren holding the pipes open must not block Wait forever.
	cmd.WaitDelay = o.cfg.GracePeriod + lifecycle.ForceKillWait

	ctrl, err := lifecycle.Start(cmd,
		lifecycle.WithTimeout(timeout),
		lifecycle.WithGracePeriod(o.cfg.GracePeriod),
		lifecycle.WithLogger(o.logger.Zap()))
	if err != nil {
		return fail(newError(KindProcessControl, "execute", t.ID, fmt.Errorf("spawning agent: %w", err)))
	}
	o.logger.Debug(ctx, "agent spawned", zap.Int64("task_id", t.ID), zap.Int("pid", ctrl.PID()))

	status, waitErr := ctrl.WaitWithTimeout(execCtx)
	out.Stdout = stdout.String()
	out.Stderr = stderr.String()
	if waitErr != nil {
		return fail(newError(KindProcessControl, "execute", t.ID, waitErr))
	}
	out.ExitCode = status.Code
	out.TimedOut = status.TimedOut
	out.Cancelled = status.Cancelled
	out.Duration = status.Duration

	switch {
	case status.Success():
		out.Status = StatusCompleted
		return out, nil
	case status.Cancelled:
		out.TimedOut = false
		out.Error = "execution cancelled"
		return out, nil
	case status.TimedOut:
		return fail(newError(KindTimeout, "execute", t.ID, fmt.Errorf("%w after %s", ErrTimeout, timeout)))
	case status.Signal != "":
		out.Error = fmt.Sprintf("terminated by signal %s", status.Signal)
	default:
		out.Error = fmt.Sprintf("exit code %d", status.Code)
	}
	if tail := lastLine(out.Stderr); tail != "" {
		out.Error += ": " + tail
	}
	return out, nil
}

func (o *Orchestrator) prepareWorkspace(t *Task) (string, error) {
	dir := t.WorkspaceDir
	if dir == "" {
		dir = o.cfg.DefaultWorkspace
	}
	if dir == "" {
		return "", newError(KindValidation, "execute", t.ID, ErrNoWorkspace)
	}
	dir = config.ExpandHome(dir)

	var err error
	if o.validator != nil {
		dir, err = o.validator.ValidatePath(dir)
		if err != nil {
			return "", newError(KindSandboxViolation, "execute", t.ID, err)
		}
	} else if dir, err = filepath.Abs(dir); err != nil {
		return "", newError(KindValidation, "execute", t.ID, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", newError(KindProcessControl, "execute", t.ID, fmt.Errorf("creating workspace: %w", err))
	}
	return dir, nil
}

// finish persists the terminal state unless a cancel already recorded
// Blocked, then records the outcome and publishes the matching event.
func (o *Orchestrator) finish(ctx context.Context, ex *execution, t *Task, out *Output) error {
	ex.mu.Lock()
	if ex.cancelled {
		ex.mu.Unlock()
		out.Status = StatusBlocked
		out.Cancelled = true
		if out.Error == "" {
			out.Error = "execution cancelled"
		}
		return nil
	}
	ex.finished = true

	now := time.Now().UTC()
	t.Status = out.Status
	t.CompletedAt = &now
	t.LockHolder = ""
	t.LockTime = nil
	t.Result = out.Stdout
	t.Error = out.Error
	err := o.repo.Update(context.WithoutCancel(ctx), t)
	ex.mu.Unlock()
	if err != nil {
		o.logger.Error(ctx, "persisting task outcome", err, zap.Int64("task_id", t.ID))
		return newError(KindPersistence, "execute", t.ID, err)
	}

	if out.Status == StatusCompleted {
		o.logger.TaskCompleted(ctx, t, out.Duration)
		o.publish(ctx, EventCompleted, t, &out.ExitCode)
	} else {
		o.logger.TaskFailed(ctx, t, out.Error, out.ExitCode, out.TimedOut, out.Duration)
		o.publish(ctx, EventFailed, t, &out.ExitCode)
	}
	o.recordOutcome(ctx, t, out)
	return nil
}

// outcomeRecord is the memory value written after each execution.
type outcomeRecord struct {
	TaskID   int64      `json:"task_id"`
	TaskUUID string     `json:"task_uuid"`
	Title    string     `json:"title"`
	Status   TaskStatus `json:"status"`
	ExitCode int        `json:"exit_code"`
	TimedOut bool       `json:"timed_out,omitempty"`
	Output   string     `json:"output,omitempty"`
	Error    string     `json:"error,omitempty"`
}

func (o *Orchestrator) recordOutcome(ctx context.Context, t *Task, out *Output) {
	if o.memory == nil || !o.cfg.RecordOutcomes {
		return
	}
	category := memory.CategoryResult
	suffix := "result"
	text := out.Stdout
	if out.Status != StatusCompleted {
		category = memory.CategoryError
		suffix = "error"
		if out.Stderr != "" {
			text = out.Stderr
		}
	}

	rec := outcomeRecord{
		TaskID:   t.ID,
		TaskUUID: t.UUID,
		Title:    t.Title,
		Status:   out.Status,
		ExitCode: out.ExitCode,
		TimedOut: out.TimedOut,
		Output:   truncate(o.scrubber.String(text), MaxRecordedOutput),
		Error:    o.scrubber.String(out.Error),
	}
	value, err := json.Marshal(rec)
	if err != nil {
		o.logger.Warn(ctx, "encoding task outcome", zap.Int64("task_id", t.ID), zap.Error(err))
		return
	}
	_, err = o.memory.Index(context.WithoutCancel(ctx), &memory.IndexRequest{
		Key:      fmt.Sprintf("task_%d_%s", t.ID, suffix),
		Value:    value,
		Category: category,
		TaskID:   strconv.FormatInt(t.ID, 10),
	})
	if err != nil {
		o.logger.Warn(ctx, "recording task outcome", zap.Int64("task_id", t.ID), zap.Error(err))
	}
}

// Cancel stops a running task. The Blocked state is persisted before the
// process group is signalled.
func (o *Orchestrator) Cancel(ctx context.Context, id int64) (*Task, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.cancel",
		trace.WithAttributes(attribute.Int64("task.id", id)))
	defer span.End()

	t, err := o.cancel(ctx, id)
	if errors.Is(err, errExecutionStarted) {
		t, err = o.cancel(ctx, id)
	}
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	o.logger.TaskCancelled(ctx, t)
	o.publish(ctx, EventCancelled, t, nil)
	return t, nil
}

// errExecutionStarted reports that an execution was admitted between the
// running set lookup and the state read.
var errExecutionStarted = errors.New("execution started during cancel")

func (o *Orchestrator) cancel(ctx context.Context, id int64) (*Task, error) {
	// An admitted execution holds ex.mu until its Running state is stored,
	// so the read below sees the current state.
	o.mu.RLock()
	ex := o.running[id]
	o.mu.RUnlock()
	if ex != nil {
		ex.mu.Lock()
		defer ex.mu.Unlock()
		if ex.finished || ex.cancelled {
			return nil, newError(KindInvalidTransition, "cancel", id,
				fmt.Errorf("%w: task is finishing", ErrInvalidTransition))
		}
	}

	t, err := o.repo.Get(ctx, id)
	if err != nil {
		return nil, o.repoError("cancel", id, err)
	}
	if t.Status != StatusRunning {
		return nil, newError(KindInvalidTransition, "cancel", id,
			fmt.Errorf("%w: task is %s", ErrInvalidTransition, t.Status))
	}
	if ex == nil && o.isRunning(id) {
		return nil, errExecutionStarted
	}

	now := time.Now().UTC()
	t.Status = StatusBlocked
	t.CompletedAt = &now
	t.LockHolder = ""
	t.LockTime = nil
	t.Error = "cancelled"
	if err := o.repo.Update(ctx, t); err != nil {
		return nil, newError(KindPersistence, "cancel", id, err)
	}
	if ex != nil {
		ex.cancelled = true
		ex.cancel()
	}
	return t, nil
}

// RunningIDs returns the ids in the running set in ascending order.
func (o *Orchestrator) RunningIDs() []int64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ids := make([]int64, 0, len(o.running))
	for id := range o.running {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Health reports the running set and shutdown state.
func (o *Orchestrator) Health() HealthStatus {
	ids := o.RunningIDs()
	o.mu.RLock()
	defer o.mu.RUnlock()
	return HealthStatus{
		Healthy:       !o.isShutdown,
		RunningCount:  len(ids),
		MaxConcurrent: o.cfg.MaxConcurrent,
		IsShutdown:    o.isShutdown,
		RunningIDs:    ids,
	}
}

// Config returns the effective execution settings.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Shutdown refuses new work, cancels every in-flight execution and waits for
// them to exit or ctx to end.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.isShutdown {
		o.mu.Unlock()
		return nil
	}
	o.isShutdown = true
	inflight := make(map[int64]*execution, len(o.running))
	for id, ex := range o.running {
		inflight[id] = ex
	}
	o.mu.Unlock()

	o.logger.Zap().Info("shutting down", zap.Int("running", len(inflight)))

	g, gctx := errgroup.WithContext(ctx)
	for id, ex := range inflight {
		g.Go(func() error {
			if _, err := o.Cancel(gctx, id); err != nil && KindOf(err) != KindInvalidTransition {
				o.logger.Error(gctx, "cancelling task on shutdown", err, zap.Int64("task_id", id))
				ex.cancel()
			}
			select {
			case <-ex.done:
				return nil
			case <-gctx.Done():
				return fmt.Errorf("waiting for task %d: %w", id, gctx.Err())
			}
		})
	}
	return g.Wait()
}

func (o *Orchestrator) checkShutdown() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.isShutdown {
		return ErrShutdown
	}
	return nil
}

// admit inserts id into the running set under a single lock. It returns the
// running count after the attempt and the execution with its mutex held.
func (o *Orchestrator) admit(id int64, cancel context.CancelFunc) (*execution, int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case o.isShutdown:
		return nil, len(o.running), ErrShutdown
	case o.running[id] != nil:
		return nil, len(o.running), ErrAlreadyRunning
	case len(o.running) >= o.cfg.MaxConcurrent:
		return nil, len(o.running), fmt.Errorf("%w (%d)", ErrCapacity, o.cfg.MaxConcurrent)
	}
	ex := &execution{cancel: cancel, done: make(chan struct{})}
	// Released by Execute once the Running state is stored.
	ex.mu.Lock()
	o.running[id] = ex
	return ex, len(o.running), nil
}

func (o *Orchestrator) release(id int64, ex *execution) {
	o.mu.Lock()
	if o.running[id] == ex {
		delete(o.running, id)
	}
	o.mu.Unlock()
	close(ex.done)
}

func (o *Orchestrator) isRunning(id int64) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.running[id] != nil
}

func (o *Orchestrator) repoError(op string, id int64, err error) error {
	if errors.Is(err, ErrTaskNotFound) {
		return newError(KindNotFound, op, id, err)
	}
	return newError(KindPersistence, op, id, err)
}

func (o *Orchestrator) publish(ctx context.Context, typ EventType, t *Task, exitCode *int) {
	ev := newTaskEvent(typ, t)
	if exitCode != nil {
		code := *exitCode
		ev.ExitCode = &code
	}
	if err := o.publisher.Publish(ctx, ev); err != nil {
		o.logger.Warn(ctx, "publishing task event",
			zap.Int64("task_id", t.ID),
			zap.String("event", string(typ)),
			zap.Error(err))
	}
}

func admissionReason(err error) string {
	switch {
	case errors.Is(err, ErrShutdown):
		return "shutdown"
	case errors.Is(err, ErrAlreadyRunning):
		return "already_running"
	default:
		return "capacity"
	}
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String("error.kind", KindOf(err).String()))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.ToValidUTF8(s[:max], "") + "\n...[truncated]"
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
