package workflow

import (
	"context"

	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/task"
)

// Dispatcher submits task bodies to the worker pool and revokes them.
type Dispatcher interface {
	// Submit enqueues a task and returns its id.
	Submit(ctx context.Context, name string, args []any, kwargs map[string]any, opts ...task.Option) (id.TaskID, error)

	// Revoke stops a task. With terminate, a running body is cancelled.
	Revoke(ctx context.Context, taskID id.TaskID, terminate bool) error
}

// Ledger is the read and delete side of the task ledger used by the
// projection and the purger.
type Ledger interface {
	GetTask(ctx context.Context, taskID id.TaskID) (*task.Task, error)
	DeleteTasks(ctx context.Context, taskIDs []id.TaskID) (int64, error)
}

// LiveSource lists the workflow instances an owner still tracks.
type LiveSource interface {
	WorkflowIDs(ctx context.Context, ownerTag string) ([]id.WorkflowID, error)
}

// Emitter receives workflow lifecycle notifications.
type Emitter interface {
	EmitWorkflowCreated(ctx context.Context, inst *Instance)
	EmitWorkflowStepSubmitted(ctx context.Context, inst *Instance, step string, taskID id.TaskID)
	EmitWorkflowCompleted(ctx context.Context, inst *Instance)
	EmitWorkflowStalled(ctx context.Context, inst *Instance, step string, err error)
	EmitWorkflowPaused(ctx context.Context, inst *Instance, step string)
	EmitWorkflowResumed(ctx context.Context, inst *Instance, step string, taskID id.TaskID)
	EmitWorkflowsPurged(ctx context.Context, report *PurgeReport)
}

type nopEmitter struct{}

func (nopEmitter) EmitWorkflowCreated(context.Context, *Instance) {}
func (nopEmitter) EmitWorkflowStepSubmitted(context.Context, *Instance, string, id.TaskID) {}
func (nopEmitter) EmitWorkflowCompleted(context.Context, *Instance) {}
func (nopEmitter) EmitWorkflowStalled(context.Context, *Instance, string, error) {}
func (nopEmitter) EmitWorkflowPaused(context.Context, *Instance, string) {}
func (nopEmitter) EmitWorkflowResumed(context.Context, *Instance, string, id.TaskID) {}
func (nopEmitter) EmitWorkflowsPurged(context.Context, *PurgeReport) {}
