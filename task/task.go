package task

import (
	"maps"
	"slices"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
)

// Status is the ledger status of a task. The set is closed.
type Status string

const (
	// StatusPending means the task is waiting to be picked up by a worker.
	StatusPending Status = "PENDING"
	// StatusStarted means a worker is executing the task body.
	StatusStarted Status = "STARTED"
	// StatusRetry means the body failed and another attempt is scheduled.
	StatusRetry Status = "RETRY"
	// StatusProgress means the running body reported intermediate progress.
	StatusProgress Status = "PROGRESS"
	// StatusFailure means the task failed for good. Timeouts and lost
	// workers end here too.
	StatusFailure Status = "FAILURE"
	// StatusRevoked means an operator revoked the task.
	StatusRevoked Status = "REVOKED"
	// StatusSuccess means the body returned a result.
	StatusSuccess Status = "SUCCESS"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	switch s {
	case StatusFailure, StatusRevoked, StatusSuccess:
		return true
	default:
		return false
	}
}

// InFlight reports whether the task is queued, running or awaiting retry.
func (s Status) InFlight() bool {
	switch s {
	case StatusPending, StatusStarted, StatusRetry, StatusProgress:
		return true
	default:
		return false
	}
}

// Running reports whether a worker has claimed the task and not yet
// recorded an outcome.
func (s Status) Running() bool {
	return s == StatusStarted || s == StatusProgress
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s.Terminal() || s.InFlight()
}

// Kwarg keys carrying workflow metadata on a task.
const (
	KwargWorkflowID = "workflow_id"
	KwargStep       = "step"
)

// Task is a ledger record: one submission of a step body to the worker
// pool.
type Task struct {
	conductor.Entity

	ID          id.TaskID      `json:"id"`
	Name        string         `json:"name"`
	Queue       string         `json:"queue"`
	Args        []any          `json:"args"`
	Kwargs      map[string]any `json:"kwargs,omitempty"`
	Status      Status         `json:"status"`
	Result      Result         `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	Progress    any            `json:"progress,omitempty"`
	Priority    int            `json:"priority"`
	MaxRetries  int            `json:"max_retries"`
	Retries     int            `json:"retries"`
	Owner       string         `json:"owner,omitempty"`
	WorkerID    id.WorkerID    `json:"worker_id,omitempty"`
	RunAt       time.Time      `json:"run_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	HeartbeatAt *time.Time     `json:"heartbeat_at,omitempty"`
	Timeout     time.Duration  `json:"timeout,omitempty"`
}

// WorkflowRef returns the workflow instance and step a task belongs to.
// ok is false for tasks submitted outside a workflow.
func (t *Task) WorkflowRef() (workflowID id.WorkflowID, step string, ok bool) {
	raw, _ := t.Kwargs[KwargWorkflowID].(string)
	step, _ = t.Kwargs[KwargStep].(string)
	if raw == "" || step == "" {
		return id.Nil, "", false
	}
	wfID, err := id.ParseWorkflowID(raw)
	if err != nil {
		return id.Nil, "", false
	}
	return wfID, step, true
}

// Clone returns a copy whose argument containers can be modified without
// affecting t.
func (t *Task) Clone() *Task {
	cp := *t
	cp.Args = slices.Clone(t.Args)
	cp.Kwargs = maps.Clone(t.Kwargs)
	cp.Result = slices.Clone(t.Result)
	return &cp
}

// StepKwargs builds the kwargs that tie a task to a workflow step.
func StepKwargs(workflowID id.WorkflowID, step string) map[string]any {
	return map[string]any{
		KwargWorkflowID: workflowID.String(),
		KwargStep:       step,
	}
}
