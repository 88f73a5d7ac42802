// Package worker is the task execution substrate: an Executor that runs a
// claimed task's body through step hooks and middleware and records the
// outcome in the ledger, and a Pool of goroutines that claim tasks, keep
// them alive with heartbeats and honor revocations.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/backoff"
	"github.com/xraph/conductor/ext"
	"github.com/xraph/conductor/middleware"
	"github.com/xraph/conductor/task"
)

// TaskHook is a step hook attached to every task. Unlike observer
// extensions, a hook error changes the task's outcome: a failed
// BeforeStart fails the task before its body runs, and a failed OnSuccess
// turns a successful task into FAILURE with the hook's error.
type TaskHook interface {
	BeforeStart(ctx context.Context, t *task.Task) error
	OnSuccess(ctx context.Context, t *task.Task, result task.Result) error
}

// ResultValidator is an optional TaskHook extension. ValidateResult runs
// after the body returns and before SUCCESS is recorded; an error records
// the task as FAILURE instead, so a recorded SUCCESS is never overturned by
// a malformed result.
type ResultValidator interface {
	ValidateResult(ctx context.Context, t *task.Task, result task.Result) error
}

// errRevoked reports that the ledger refused an update because the task
// was revoked while it ran.
var errRevoked = errors.New("task revoked")

// Executor runs a single task through its hooks, the middleware chain and
// the registered body, then records SUCCESS, RETRY or FAILURE.
type Executor struct {
	registry   *task.Registry
	extensions *ext.Registry
	ledger     task.Ledger
	backoff    backoff.Strategy
	mw         middleware.Middleware
	hooks      []TaskHook
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *task.Registry,
	extensions *ext.Registry,
	ledger task.Ledger,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if bo == nil {
		bo = backoff.Default()
	}
	return &Executor{
		registry:   registry,
		extensions: extensions,
		ledger:     ledger,
		backoff:    bo,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// AddHook attaches a step hook. Hooks run in the order they were added.
func (e *Executor) AddHook(h TaskHook) { e.hooks = append(e.hooks, h) }

// Execute runs a claimed (STARTED) task.
//
// A body error is retried with backoff while retries remain, otherwise the
// task becomes FAILURE. A body that exceeds its timeout becomes FAILURE
// without retry. A task revoked while running stays REVOKED: its result is
// dropped and OnSuccess hooks do not run.
func (e *Executor) Execute(ctx context.Context, t *task.Task) error {
	handler, ok := e.registry.Get(t.Name)
	if !ok {
		return e.fail(ctx, t, fmt.Errorf("%w: no body registered for %q", conductor.ErrUnknownTask, t.Name))
	}

	ctx = task.WithCurrent(ctx, t)
	ctx = task.WithReporter(ctx, &progressReporter{executor: e, task: t})

	for _, h := range e.hooks {
		if err := h.BeforeStart(ctx, t); err != nil {
			return e.fail(ctx, t, fmt.Errorf("before start: %w", err))
		}
	}

	start := time.Now()
	var result task.Result
	terminal := func(ctx context.Context) error {
		var err error
		result, err = handler(ctx, t.Args, t.Kwargs)
		return err
	}

	err := e.mw(ctx, t, terminal)
	elapsed := time.Since(start)

	if err != nil {
		if e.revoked(ctx, t) {
			return errRevoked
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return e.fail(ctx, t, fmt.Errorf("timed out after %s: %w", t.Timeout, err))
		}
		return e.handleFailure(ctx, t, err)
	}
	for _, h := range e.hooks {
		if v, ok := h.(ResultValidator); ok {
			if err := v.ValidateResult(ctx, t, result); err != nil {
				return e.fail(ctx, t, err)
			}
		}
	}
	return e.handleSuccess(ctx, t, result, elapsed)
}

// handleSuccess records the result, then runs OnSuccess hooks.
func (e *Executor) handleSuccess(ctx context.Context, t *task.Task, result task.Result, elapsed time.Duration) error {
	now := time.Now().UTC()
	t.Status = task.StatusSuccess
	t.Result = result
	t.Error = ""
	t.CompletedAt = &now

	if err := e.update(ctx, t); err != nil {
		return err
	}
	e.extensions.EmitTaskSucceeded(ctx, t, elapsed)

	for _, h := range e.hooks {
		if err := h.OnSuccess(ctx, t, result); err != nil {
			e.logger.Error("success hook failed",
				slog.String("task_id", t.ID.String()),
				slog.String("task_name", t.Name),
				slog.String("error", err.Error()),
			)
			return e.fail(ctx, t, err)
		}
	}
	return nil
}

// handleFailure increments the retry counter and either retries or fails.
func (e *Executor) handleFailure(ctx context.Context, t *task.Task, bodyErr error) error {
	t.Retries++
	if t.Retries > t.MaxRetries {
		return e.fail(ctx, t, bodyErr)
	}

	delay := e.backoff.Delay(t.Retries)
	nextRunAt := time.Now().UTC().Add(delay)
	t.Status = task.StatusRetry
	t.Error = bodyErr.Error()
	t.RunAt = nextRunAt
	t.HeartbeatAt = nil

	if err := e.update(ctx, t); err != nil {
		return err
	}
	e.extensions.EmitTaskRetrying(ctx, t, t.Retries, nextRunAt)

	e.logger.Info("task scheduled for retry",
		slog.String("task_id", t.ID.String()),
		slog.String("task_name", t.Name),
		slog.Int("attempt", t.Retries),
		slog.Int("max_retries", t.MaxRetries),
		slog.Duration("delay", delay),
	)
	return fmt.Errorf("task %s retry %d/%d: %w", t.Name, t.Retries, t.MaxRetries, bodyErr)
}

// fail records the task as FAILURE.
func (e *Executor) fail(ctx context.Context, t *task.Task, cause error) error {
	now := time.Now().UTC()
	t.Status = task.StatusFailure
	t.Error = cause.Error()
	t.CompletedAt = &now

	if err := e.update(ctx, t); err != nil {
		return err
	}
	e.extensions.EmitTaskFailed(ctx, t, cause)

	e.logger.Warn("task failed",
		slog.String("task_id", t.ID.String()),
		slog.String("task_name", t.Name),
		slog.Int("retries", t.Retries),
		slog.String("error", cause.Error()),
	)
	return cause
}

// update persists t. The ledger context is detached from the body's
// context so a cancelled body can still record its outcome.
func (e *Executor) update(ctx context.Context, t *task.Task) error {
	t.UpdatedAt = time.Now().UTC()
	err := e.ledger.UpdateTask(context.WithoutCancel(ctx), t)
	if errors.Is(err, conductor.ErrInvalidState) {
		e.logger.Info("task revoked while running, outcome dropped",
			slog.String("task_id", t.ID.String()),
			slog.String("task_name", t.Name),
			slog.String("outcome", string(t.Status)),
		)
		t.Status = task.StatusRevoked
		return errRevoked
	}
	if err != nil {
		e.logger.Error("failed to record task outcome",
			slog.String("task_id", t.ID.String()),
			slog.String("status", string(t.Status)),
			slog.String("error", err.Error()),
		)
	}
	return err
}

// revoked re-reads the ledger to tell a revocation apart from a failure.
func (e *Executor) revoked(ctx context.Context, t *task.Task) bool {
	cur, err := e.ledger.GetTask(context.WithoutCancel(ctx), t.ID)
	if err != nil || cur.Status != task.StatusRevoked {
		return false
	}
	t.Status = task.StatusRevoked
	t.Error = cur.Error
	e.logger.Info("task body stopped after revoke",
		slog.String("task_id", t.ID.String()),
		slog.String("task_name", t.Name),
	)
	return true
}

// progressReporter stores progress on the task executing under a context.
type progressReporter struct {
	executor *Executor
	task     *task.Task
}

// ReportProgress writes only the progress columns, leaving the heartbeat
// the pool keeps fresh untouched.
func (r *progressReporter) ReportProgress(ctx context.Context, progress any) error {
	t := r.task
	if err := r.executor.ledger.ReportProgress(context.WithoutCancel(ctx), t.ID, progress); err != nil {
		return fmt.Errorf("report progress: %w", err)
	}
	t.Progress = progress
	t.Status = task.StatusProgress
	t.UpdatedAt = time.Now().UTC()
	return nil
}
