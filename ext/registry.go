package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/task"
	"github.com/xraph/conductor/workflow"
)

// entry pairs a hook implementation with the extension name captured at
// registration time.
type entry[H any] struct {
	name string
	hook H
}

// hooks is a type-cached list of extensions implementing H.
type hooks[H any] []entry[H]

func (hs *hooks[H]) add(e Extension) {
	if h, ok := e.(H); ok {
		*hs = append(*hs, entry[H]{name: e.Name(), hook: h})
	}
}

func (hs hooks[H]) each(r *Registry, hookName string, call func(H) error) {
	for _, e := range hs {
		if err := call(e.hook); err != nil {
			r.logHookError(hookName, e.name, err)
		}
	}
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. Extensions are type-cached at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	taskSubmitted         hooks[TaskSubmitted]
	taskStarted           hooks[TaskStarted]
	taskSucceeded         hooks[TaskSucceeded]
	taskFailed            hooks[TaskFailed]
	taskRetrying          hooks[TaskRetrying]
	taskRevoked           hooks[TaskRevoked]
	workflowCreated       hooks[WorkflowCreated]
	workflowStepSubmitted hooks[WorkflowStepSubmitted]
	workflowCompleted     hooks[WorkflowCompleted]
	workflowStalled       hooks[WorkflowStalled]
	workflowPaused        hooks[WorkflowPaused]
	workflowResumed       hooks[WorkflowResumed]
	workflowsPurged       hooks[WorkflowsPurged]
	shutdown              hooks[Shutdown]
}

var _ workflow.Emitter = (*Registry)(nil)

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension to every hook list it implements.
// Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)

	r.taskSubmitted.add(e)
	r.taskStarted.add(e)
	r.taskSucceeded.add(e)
	r.taskFailed.add(e)
	r.taskRetrying.add(e)
	r.taskRevoked.add(e)
	r.workflowCreated.add(e)
	r.workflowStepSubmitted.add(e)
	r.workflowCompleted.add(e)
	r.workflowStalled.add(e)
	r.workflowPaused.add(e)
	r.workflowResumed.add(e)
	r.workflowsPurged.add(e)
	r.shutdown.add(e)
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Task event emitters
// ──────────────────────────────────────────────────

// EmitTaskSubmitted notifies TaskSubmitted extensions.
func (r *Registry) EmitTaskSubmitted(ctx context.Context, t *task.Task) {
	r.taskSubmitted.each(r, "OnTaskSubmitted", func(h TaskSubmitted) error {
		return h.OnTaskSubmitted(ctx, t)
	})
}

// EmitTaskStarted notifies TaskStarted extensions.
func (r *Registry) EmitTaskStarted(ctx context.Context, t *task.Task) {
	r.taskStarted.each(r, "OnTaskStarted", func(h TaskStarted) error {
		return h.OnTaskStarted(ctx, t)
	})
}

// EmitTaskSucceeded notifies TaskSucceeded extensions.
func (r *Registry) EmitTaskSucceeded(ctx context.Context, t *task.Task, elapsed time.Duration) {
	r.taskSucceeded.each(r, "OnTaskSucceeded", func(h TaskSucceeded) error {
		return h.OnTaskSucceeded(ctx, t, elapsed)
	})
}

// EmitTaskFailed notifies TaskFailed extensions.
func (r *Registry) EmitTaskFailed(ctx context.Context, t *task.Task, taskErr error) {
	r.taskFailed.each(r, "OnTaskFailed", func(h TaskFailed) error {
		return h.OnTaskFailed(ctx, t, taskErr)
	})
}

// EmitTaskRetrying notifies TaskRetrying extensions.
func (r *Registry) EmitTaskRetrying(ctx context.Context, t *task.Task, attempt int, nextRunAt time.Time) {
	r.taskRetrying.each(r, "OnTaskRetrying", func(h TaskRetrying) error {
		return h.OnTaskRetrying(ctx, t, attempt, nextRunAt)
	})
}

// EmitTaskRevoked notifies TaskRevoked extensions.
func (r *Registry) EmitTaskRevoked(ctx context.Context, taskID id.TaskID, terminate bool) {
	r.taskRevoked.each(r, "OnTaskRevoked", func(h TaskRevoked) error {
		return h.OnTaskRevoked(ctx, taskID, terminate)
	})
}

// ──────────────────────────────────────────────────
// Workflow event emitters
// ──────────────────────────────────────────────────

// EmitWorkflowCreated notifies WorkflowCreated extensions.
func (r *Registry) EmitWorkflowCreated(ctx context.Context, inst *workflow.Instance) {
	r.workflowCreated.each(r, "OnWorkflowCreated", func(h WorkflowCreated) error {
		return h.OnWorkflowCreated(ctx, inst)
	})
}

// EmitWorkflowStepSubmitted notifies WorkflowStepSubmitted extensions.
func (r *Registry) EmitWorkflowStepSubmitted(ctx context.Context, inst *workflow.Instance, step string, taskID id.TaskID) {
	r.workflowStepSubmitted.each(r, "OnWorkflowStepSubmitted", func(h WorkflowStepSubmitted) error {
		return h.OnWorkflowStepSubmitted(ctx, inst, step, taskID)
	})
}

// EmitWorkflowCompleted notifies WorkflowCompleted extensions.
func (r *Registry) EmitWorkflowCompleted(ctx context.Context, inst *workflow.Instance) {
	r.workflowCompleted.each(r, "OnWorkflowCompleted", func(h WorkflowCompleted) error {
		return h.OnWorkflowCompleted(ctx, inst)
	})
}

// EmitWorkflowStalled notifies WorkflowStalled extensions.
func (r *Registry) EmitWorkflowStalled(ctx context.Context, inst *workflow.Instance, step string, stallErr error) {
	r.workflowStalled.each(r, "OnWorkflowStalled", func(h WorkflowStalled) error {
		return h.OnWorkflowStalled(ctx, inst, step, stallErr)
	})
}

// EmitWorkflowPaused notifies WorkflowPaused extensions.
func (r *Registry) EmitWorkflowPaused(ctx context.Context, inst *workflow.Instance, step string) {
	r.workflowPaused.each(r, "OnWorkflowPaused", func(h WorkflowPaused) error {
		return h.OnWorkflowPaused(ctx, inst, step)
	})
}

// EmitWorkflowResumed notifies WorkflowResumed extensions.
func (r *Registry) EmitWorkflowResumed(ctx context.Context, inst *workflow.Instance, step string, taskID id.TaskID) {
	r.workflowResumed.each(r, "OnWorkflowResumed", func(h WorkflowResumed) error {
		return h.OnWorkflowResumed(ctx, inst, step, taskID)
	})
}

// EmitWorkflowsPurged notifies WorkflowsPurged extensions.
func (r *Registry) EmitWorkflowsPurged(ctx context.Context, report *workflow.PurgeReport) {
	r.workflowsPurged.each(r, "OnWorkflowsPurged", func(h WorkflowsPurged) error {
		return h.OnWorkflowsPurged(ctx, report)
	})
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies Shutdown extensions.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.shutdown.each(r, "OnShutdown", func(h Shutdown) error {
		return h.OnShutdown(ctx)
	})
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from observers are never propagated.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
