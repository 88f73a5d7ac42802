package ext

import (
	"context"
	"time"

	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/task"
	"github.com/xraph/conductor/workflow"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Task lifecycle hooks
// ──────────────────────────────────────────────────

// TaskSubmitted is called after a task is written to the ledger.
type TaskSubmitted interface {
	OnTaskSubmitted(ctx context.Context, t *task.Task) error
}

// TaskStarted is called when a worker begins executing a task body.
type TaskStarted interface {
	OnTaskStarted(ctx context.Context, t *task.Task) error
}

// TaskSucceeded is called after a task is recorded as SUCCESS.
type TaskSucceeded interface {
	OnTaskSucceeded(ctx context.Context, t *task.Task, elapsed time.Duration) error
}

// TaskFailed is called when a task is recorded as FAILURE.
type TaskFailed interface {
	OnTaskFailed(ctx context.Context, t *task.Task, err error) error
}

// TaskRetrying is called when a failed task is scheduled for another
// attempt.
type TaskRetrying interface {
	OnTaskRetrying(ctx context.Context, t *task.Task, attempt int, nextRunAt time.Time) error
}

// TaskRevoked is called after a task is revoked.
type TaskRevoked interface {
	OnTaskRevoked(ctx context.Context, taskID id.TaskID, terminate bool) error
}

// ──────────────────────────────────────────────────
// Workflow lifecycle hooks
// ──────────────────────────────────────────────────

// WorkflowCreated is called after an instance is persisted.
type WorkflowCreated interface {
	OnWorkflowCreated(ctx context.Context, inst *workflow.Instance) error
}

// WorkflowStepSubmitted is called after a step is submitted, whether by
// start, chaining or resume.
type WorkflowStepSubmitted interface {
	OnWorkflowStepSubmitted(ctx context.Context, inst *workflow.Instance, step string, taskID id.TaskID) error
}

// WorkflowCompleted is called when the last step of an instance succeeds.
type WorkflowCompleted interface {
	OnWorkflowCompleted(ctx context.Context, inst *workflow.Instance) error
}

// WorkflowStalled is called when a step succeeded but its result could
// not seed the next step.
type WorkflowStalled interface {
	OnWorkflowStalled(ctx context.Context, inst *workflow.Instance, step string, err error) error
}

// WorkflowPaused is called after the pending step's task was revoked.
type WorkflowPaused interface {
	OnWorkflowPaused(ctx context.Context, inst *workflow.Instance, step string) error
}

// WorkflowResumed is called after the pending step was resubmitted.
type WorkflowResumed interface {
	OnWorkflowResumed(ctx context.Context, inst *workflow.Instance, step string, taskID id.TaskID) error
}

// WorkflowsPurged is called after a purge pass deleted instances.
type WorkflowsPurged interface {
	OnWorkflowsPurged(ctx context.Context, report *workflow.PurgeReport) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
