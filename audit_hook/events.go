package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionTaskSubmitted         = "task.submitted"
	ActionTaskStarted           = "task.started"
	ActionTaskSucceeded         = "task.succeeded"
	ActionTaskFailed            = "task.failed"
	ActionTaskRetrying          = "task.retrying"
	ActionTaskRevoked           = "task.revoked"
	ActionWorkflowCreated       = "workflow.created"
	ActionWorkflowStepSubmitted = "workflow.step_submitted"
	ActionWorkflowCompleted     = "workflow.completed"
	ActionWorkflowStalled       = "workflow.stalled"
	ActionWorkflowPaused        = "workflow.paused"
	ActionWorkflowResumed       = "workflow.resumed"
	ActionWorkflowsPurged       = "workflow.purged"
)

// Audit event categories group related actions.
const (
	CategoryTask     = "conductor.task"
	CategoryWorkflow = "conductor.workflow"
	CategoryPurge    = "conductor.purge"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceTask     = "task"
	ResourceWorkflow = "workflow"
	ResourceOwner    = "owner"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionTaskSubmitted,
		ActionTaskStarted,
		ActionTaskSucceeded,
		ActionTaskFailed,
		ActionTaskRetrying,
		ActionTaskRevoked,
		ActionWorkflowCreated,
		ActionWorkflowStepSubmitted,
		ActionWorkflowCompleted,
		ActionWorkflowStalled,
		ActionWorkflowPaused,
		ActionWorkflowResumed,
		ActionWorkflowsPurged,
	}
}
