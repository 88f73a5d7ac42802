package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/conductor/ext"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/task"
	"github.com/xraph/conductor/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension             = (*Extension)(nil)
	_ ext.TaskSubmitted         = (*Extension)(nil)
	_ ext.TaskStarted           = (*Extension)(nil)
	_ ext.TaskSucceeded         = (*Extension)(nil)
	_ ext.TaskFailed            = (*Extension)(nil)
	_ ext.TaskRetrying          = (*Extension)(nil)
	_ ext.TaskRevoked           = (*Extension)(nil)
	_ ext.WorkflowCreated       = (*Extension)(nil)
	_ ext.WorkflowStepSubmitted = (*Extension)(nil)
	_ ext.WorkflowCompleted     = (*Extension)(nil)
	_ ext.WorkflowStalled       = (*Extension)(nil)
	_ ext.WorkflowPaused        = (*Extension)(nil)
	_ ext.WorkflowResumed       = (*Extension)(nil)
	_ ext.WorkflowsPurged       = (*Extension)(nil)
)

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Owner      string         `json:"owner,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// LogRecorder writes each event as one structured log line. Critical
// events are logged at error level, warnings at warn level.
func LogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityCritical:
			level = slog.LevelError
		}
		attrs := []slog.Attr{
			slog.String("action", evt.Action),
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
		}
		if evt.Owner != "" {
			attrs = append(attrs, slog.String("owner", evt.Owner))
		}
		if evt.Reason != "" {
			attrs = append(attrs, slog.String("reason", evt.Reason))
		}
		if len(evt.Metadata) > 0 {
			attrs = append(attrs, slog.Any("metadata", evt.Metadata))
		}
		logger.LogAttrs(ctx, level, "audit", attrs...)
		return nil
	})
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges conductor lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Task lifecycle hooks ────────────────────────────

// OnTaskSubmitted implements ext.TaskSubmitted.
func (e *Extension) OnTaskSubmitted(ctx context.Context, t *task.Task) error {
	return e.record(ctx, event{
		action: ActionTaskSubmitted, severity: SeverityInfo, outcome: OutcomeSuccess,
		resource: ResourceTask, resourceID: t.ID.String(), category: CategoryTask, owner: t.Owner,
	},
		"task_name", t.Name,
		"queue", t.Queue,
	)
}

// OnTaskStarted implements ext.TaskStarted.
func (e *Extension) OnTaskStarted(ctx context.Context, t *task.Task) error {
	return e.record(ctx, event{
		action: ActionTaskStarted, severity: SeverityInfo, outcome: OutcomeSuccess,
		resource: ResourceTask, resourceID: t.ID.String(), category: CategoryTask, owner: t.Owner,
	},
		"task_name", t.Name,
		"queue", t.Queue,
		"worker_id", t.WorkerID.String(),
	)
}

// OnTaskSucceeded implements ext.TaskSucceeded.
func (e *Extension) OnTaskSucceeded(ctx context.Context, t *task.Task, elapsed time.Duration) error {
	return e.record(ctx, event{
		action: ActionTaskSucceeded, severity: SeverityInfo, outcome: OutcomeSuccess,
		resource: ResourceTask, resourceID: t.ID.String(), category: CategoryTask, owner: t.Owner,
	},
		"task_name", t.Name,
		"queue", t.Queue,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnTaskFailed implements ext.TaskFailed.
func (e *Extension) OnTaskFailed(ctx context.Context, t *task.Task, taskErr error) error {
	return e.record(ctx, event{
		action: ActionTaskFailed, severity: SeverityCritical, outcome: OutcomeFailure,
		resource: ResourceTask, resourceID: t.ID.String(), category: CategoryTask, owner: t.Owner,
		err: taskErr,
	},
		"task_name", t.Name,
		"queue", t.Queue,
		"retries", t.Retries,
		"max_retries", t.MaxRetries,
	)
}

// OnTaskRetrying implements ext.TaskRetrying.
func (e *Extension) OnTaskRetrying(ctx context.Context, t *task.Task, attempt int, nextRunAt time.Time) error {
	return e.record(ctx, event{
		action: ActionTaskRetrying, severity: SeverityWarning, outcome: OutcomeFailure,
		resource: ResourceTask, resourceID: t.ID.String(), category: CategoryTask, owner: t.Owner,
	},
		"task_name", t.Name,
		"queue", t.Queue,
		"attempt", attempt,
		"next_run_at", nextRunAt.Format(time.RFC3339),
	)
}

// OnTaskRevoked implements ext.TaskRevoked.
func (e *Extension) OnTaskRevoked(ctx context.Context, taskID id.TaskID, terminate bool) error {
	return e.record(ctx, event{
		action: ActionTaskRevoked, severity: SeverityWarning, outcome: OutcomeSuccess,
		resource: ResourceTask, resourceID: taskID.String(), category: CategoryTask,
	},
		"terminate", terminate,
	)
}

// ── Workflow lifecycle hooks ────────────────────────

// OnWorkflowCreated implements ext.WorkflowCreated.
func (e *Extension) OnWorkflowCreated(ctx context.Context, inst *workflow.Instance) error {
	return e.record(ctx, workflowEvent(ActionWorkflowCreated, SeverityInfo, OutcomeSuccess, inst, nil),
		"definition", inst.DefinitionName,
		"steps", len(inst.Steps),
	)
}

// OnWorkflowStepSubmitted implements ext.WorkflowStepSubmitted.
func (e *Extension) OnWorkflowStepSubmitted(ctx context.Context, inst *workflow.Instance, step string, taskID id.TaskID) error {
	return e.record(ctx, workflowEvent(ActionWorkflowStepSubmitted, SeverityInfo, OutcomeSuccess, inst, nil),
		"definition", inst.DefinitionName,
		"step", step,
		"task_id", taskID.String(),
	)
}

// OnWorkflowCompleted implements ext.WorkflowCompleted.
func (e *Extension) OnWorkflowCompleted(ctx context.Context, inst *workflow.Instance) error {
	return e.record(ctx, workflowEvent(ActionWorkflowCompleted, SeverityInfo, OutcomeSuccess, inst, nil),
		"definition", inst.DefinitionName,
	)
}

// OnWorkflowStalled implements ext.WorkflowStalled.
func (e *Extension) OnWorkflowStalled(ctx context.Context, inst *workflow.Instance, step string, stallErr error) error {
	return e.record(ctx, workflowEvent(ActionWorkflowStalled, SeverityCritical, OutcomeFailure, inst, stallErr),
		"definition", inst.DefinitionName,
		"step", step,
	)
}

// OnWorkflowPaused implements ext.WorkflowPaused.
func (e *Extension) OnWorkflowPaused(ctx context.Context, inst *workflow.Instance, step string) error {
	return e.record(ctx, workflowEvent(ActionWorkflowPaused, SeverityWarning, OutcomeSuccess, inst, nil),
		"definition", inst.DefinitionName,
		"step", step,
	)
}

// OnWorkflowResumed implements ext.WorkflowResumed.
func (e *Extension) OnWorkflowResumed(ctx context.Context, inst *workflow.Instance, step string, taskID id.TaskID) error {
	return e.record(ctx, workflowEvent(ActionWorkflowResumed, SeverityInfo, OutcomeSuccess, inst, nil),
		"definition", inst.DefinitionName,
		"step", step,
		"task_id", taskID.String(),
	)
}

// OnWorkflowsPurged implements ext.WorkflowsPurged.
func (e *Extension) OnWorkflowsPurged(ctx context.Context, report *workflow.PurgeReport) error {
	severity := SeverityInfo
	if report.Truncated {
		severity = SeverityWarning
	}
	return e.record(ctx, event{
		action: ActionWorkflowsPurged, severity: severity, outcome: OutcomeSuccess,
		resource: ResourceOwner, resourceID: report.OwnerTag, category: CategoryPurge, owner: report.OwnerTag,
	},
		"candidates", report.Candidates,
		"deleted", report.Deleted,
		"tasks_deleted", report.TasksDeleted,
		"truncated", report.Truncated,
	)
}

// ── Internal helpers ────────────────────────────────

type event struct {
	action, severity, outcome      string
	resource, resourceID, category string
	owner                          string
	err                            error
}

func workflowEvent(action, severity, outcome string, inst *workflow.Instance, err error) event {
	return event{
		action: action, severity: severity, outcome: outcome,
		resource: ResourceWorkflow, resourceID: inst.ID.String(), category: CategoryWorkflow,
		owner: inst.OwnerTag, err: err,
	}
}

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
// Recorder failures are logged and never fail the hook.
func (e *Extension) record(ctx context.Context, ev event, kvPairs ...any) error {
	if e.enabled != nil && !e.enabled[ev.action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if ev.err != nil {
		reason = ev.err.Error()
		meta["error"] = ev.err.Error()
	}

	evt := &AuditEvent{
		Action:     ev.action,
		Resource:   ev.resource,
		Category:   ev.category,
		ResourceID: ev.resourceID,
		Owner:      ev.owner,
		Metadata:   meta,
		Outcome:    ev.outcome,
		Severity:   ev.severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", ev.action),
			slog.String("resource_id", ev.resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
