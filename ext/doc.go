// Package ext defines the observer extension system.
//
// Extensions are notified of task and workflow lifecycle events and can
// react to them: recording metrics, writing audit logs, paging an
// operator when a pipeline stalls. Each lifecycle hook is a separate
// interface so extensions opt in only to the events they care about.
// Observer errors are logged and never change a task's outcome.
//
// # Implementing an Extension
//
//	type Pager struct{}
//
//	func (p *Pager) Name() string { return "pager" }
//
//	func (p *Pager) OnWorkflowStalled(ctx context.Context, inst *workflow.Instance, step string, err error) error {
//	    return page(ctx, inst.ID, step, err)
//	}
//
// # Task Hooks
//
//   - [TaskSubmitted], [TaskStarted], [TaskSucceeded]
//   - [TaskFailed], [TaskRetrying], [TaskRevoked]
//
// # Workflow Hooks
//
//   - [WorkflowCreated], [WorkflowStepSubmitted], [WorkflowCompleted]
//   - [WorkflowStalled] fires when a step's result breaks the chaining contract
//   - [WorkflowPaused], [WorkflowResumed], [WorkflowsPurged]
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
