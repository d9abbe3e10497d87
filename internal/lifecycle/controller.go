// Package lifecycle owns a spawned process for its whole life: it waits for
// it under a deadline and, when the deadline passes, terminates its process
// group with a SIGTERM then SIGKILL cascade.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultGracePeriod is the wait between SIGTERM and SIGKILL.
	DefaultGracePeriod = 5 * time.Second

	// ForceKillWait bounds the wait for exit after SIGKILL.
	ForceKillWait = time.Second

	// TimedOutCode is the synthetic exit code of a timed-out process.
	TimedOutCode = 256
)

var (
	// ErrNoProcess means the command was never started or was already reaped.
	ErrNoProcess = errors.New("lifecycle: no live process")

	// ErrProcessControl marks failures of wait or signal primitives.
	ErrProcessControl = errors.New("lifecycle: process control failed")
)

// ProcessControlError wraps a failed OS primitive.
type ProcessControlError struct {
	Op  string
	PID int
	Err error
}

func (e *ProcessControlError) Error() string {
	return fmt.Sprintf("lifecycle: %s pid %d: %v", e.Op, e.PID, e.Err)
}

func (e *ProcessControlError) Unwrap() []error {
	return []error{ErrProcessControl, e.Err}
}

// ExitStatus describes how a process ended.
type ExitStatus struct {
	Code     int
	Signal   string
	TimedOut bool
	// Cancelled is set when the caller's context ended before the deadline.
	Cancelled bool
	Duration  time.Duration
}

// Success reports a clean zero exit.
func (s *ExitStatus) Success() bool {
	return s != nil && s.Code == 0 && !s.TimedOut && s.Signal == ""
}

// Option configures a Controller.
type Option func(*Controller)

// WithTimeout sets the total execution budget. Zero means no deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) { c.timeout = d }
}

// WithGracePeriod sets the SIGTERM to SIGKILL delay.
func WithGracePeriod(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.grace = d
		}
	}
}

// WithLogger sets the controller logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// Controller owns one started command. It is not reusable.
type Controller struct {
	cmd     *exec.Cmd
	pid     int
	started time.Time
	timeout time.Duration
	grace   time.Duration
	logger  *zap.Logger

	done    chan struct{}
	waitErr error

	killOnce sync.Once
	killErr  error
}

// Start puts cmd in a new process group, starts it and returns its Controller.
func Start(cmd *exec.Cmd, opts ...Option) (*Controller, error) {
	setProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cmd.Path, err)
	}
	return New(cmd, opts...)
}

// New takes ownership of an already started cmd. The controller is the only
// caller of cmd.Wait from here on.
func New(cmd *exec.Cmd, opts ...Option) (*Controller, error) {
	if cmd == nil || cmd.Process == nil || cmd.ProcessState != nil {
		return nil, ErrNoProcess
	}

	c := &Controller{
		cmd:     cmd,
		pid:     cmd.Process.Pid,
		started: time.Now(),
		grace:   DefaultGracePeriod,
		logger:  zap.NewNop(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("lifecycle").With(zap.Int("pid", c.pid))

	go func() {
		c.waitErr = cmd.Wait()
		close(c.done)
	}()
	return c, nil
}

// PID returns the process id.
func (c *Controller) PID() int {
	return c.pid
}

// Done is closed once the process has been reaped.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// WaitWithTimeout waits for the process to exit. When the timeout elapses, or
// ctx ends, it runs the kill cascade and returns a synthetic timed-out
// status. It returns within timeout + grace + ForceKillWait.
func (c *Controller) WaitWithTimeout(ctx context.Context) (*ExitStatus, error) {
	var deadline <-chan time.Time
	if c.timeout > 0 {
		timer := time.NewTimer(c.timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	cancelled := false
	select {
	case <-c.done:
		return c.exitStatus()
	case <-deadline:
		c.logger.Warn("process timed out", zap.Duration("timeout", c.timeout))
	case <-ctx.Done():
		cancelled = true
		c.logger.Info("process cancelled", zap.Error(ctx.Err()))
	}

	if err := c.KillWithTimeout(context.Background()); err != nil {
		if !errors.Is(err, ErrNoProcess) {
			return nil, err
		}
		// Exited on its own before the cascade began.
		st, err := c.exitStatus()
		if err != nil {
			return nil, err
		}
		st.Cancelled = cancelled
		return st, nil
	}
	return &ExitStatus{
		Code:      TimedOutCode,
		TimedOut:  true,
		Cancelled: cancelled,
		Duration:  time.Since(c.started),
	}, nil
}

// KillWithTimeout runs the termination cascade: SIGTERM to the process
// group, wait for the grace period, then SIGKILL and wait ForceKillWait.
// An unconfirmed SIGKILL still counts as success. A process that was
// already reaped fails with ErrNoProcess. Only the first call runs the
// cascade; later calls return its result.
func (c *Controller) KillWithTimeout(ctx context.Context) error {
	c.killOnce.Do(func() {
		c.killErr = c.kill(ctx)
	})
	return c.killErr
}

func (c *Controller) kill(ctx context.Context) error {
	if c.exited() {
		return &ProcessControlError{Op: "kill", PID: c.pid, Err: ErrNoProcess}
	}

	if groupSignals {
		if err := terminate(c.cmd.Process); err != nil {
			c.logger.Warn("SIGTERM failed, escalating", zap.Error(err))
		} else {
			grace := time.NewTimer(c.grace)
			defer grace.Stop()
			select {
			case <-c.done:
				c.logger.Debug("process exited after SIGTERM")
				return nil
			case <-grace.C:
			case <-ctx.Done():
			}
		}
	}

	if err := forceKill(c.cmd.Process); err != nil {
		if c.exited() {
			return nil
		}
		return &ProcessControlError{Op: "kill", PID: c.pid, Err: err}
	}

	confirm := time.NewTimer(ForceKillWait)
	defer confirm.Stop()
	select {
	case <-c.done:
		c.logger.Debug("process exited after SIGKILL")
	case <-confirm.C:
		c.logger.Warn("SIGKILL sent but exit not observed")
	}
	return nil
}

func (c *Controller) exitStatus() (*ExitStatus, error) {
	st := &ExitStatus{Duration: time.Since(c.started)}
	state := c.cmd.ProcessState
	if c.waitErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(c.waitErr, &exitErr):
			state = exitErr.ProcessState
		case errors.Is(c.waitErr, exec.ErrWaitDelay) && state != nil:
			// Exited, but a descendant kept the output pipes open.
		default:
			return nil, &ProcessControlError{Op: "wait", PID: c.pid, Err: c.waitErr}
		}
	}
	if state == nil {
		return nil, &ProcessControlError{Op: "wait", PID: c.pid, Err: errors.New("no process state")}
	}

	st.Code = state.ExitCode()
	st.Signal = signalOf(state)
	return st, nil
}
