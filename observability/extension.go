package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/conductor/ext"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/task"
	"github.com/xraph/conductor/workflow"
)

// meterName is the instrumentation scope of the lifecycle counters.
const meterName = "github.com/xraph/conductor/observability"

// Compile-time interface checks.
var (
	_ ext.Extension             = (*MetricsExtension)(nil)
	_ ext.TaskSubmitted         = (*MetricsExtension)(nil)
	_ ext.TaskSucceeded         = (*MetricsExtension)(nil)
	_ ext.TaskFailed            = (*MetricsExtension)(nil)
	_ ext.TaskRetrying          = (*MetricsExtension)(nil)
	_ ext.TaskRevoked           = (*MetricsExtension)(nil)
	_ ext.WorkflowCreated       = (*MetricsExtension)(nil)
	_ ext.WorkflowStepSubmitted = (*MetricsExtension)(nil)
	_ ext.WorkflowCompleted     = (*MetricsExtension)(nil)
	_ ext.WorkflowStalled       = (*MetricsExtension)(nil)
	_ ext.WorkflowPaused        = (*MetricsExtension)(nil)
	_ ext.WorkflowResumed       = (*MetricsExtension)(nil)
	_ ext.WorkflowsPurged       = (*MetricsExtension)(nil)
)

// MetricsExtension records process-wide lifecycle counters. Register it as
// an extension to track submission rates, outcomes, retries, revocations,
// workflow progress and purges.
type MetricsExtension struct {
	TaskSubmitted metric.Int64Counter
	TaskSucceeded metric.Int64Counter
	TaskFailed    metric.Int64Counter
	TaskRetried   metric.Int64Counter
	TaskRevoked   metric.Int64Counter

	WorkflowCreated   metric.Int64Counter
	StepSubmitted     metric.Int64Counter
	WorkflowCompleted metric.Int64Counter
	WorkflowStalled   metric.Int64Counter
	WorkflowPaused    metric.Int64Counter
	WorkflowResumed   metric.Int64Counter

	WorkflowsPurged metric.Int64Counter
	TasksPurged     metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// On error the OTel API hands back a noop instrument.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	return &MetricsExtension{
		TaskSubmitted: counter("conductor.task.submitted", "Tasks submitted to the ledger"),
		TaskSucceeded: counter("conductor.task.succeeded", "Tasks that finished with SUCCESS"),
		TaskFailed:    counter("conductor.task.failed", "Tasks that finished with FAILURE"),
		TaskRetried:   counter("conductor.task.retried", "Task attempts scheduled for retry"),
		TaskRevoked:   counter("conductor.task.revoked", "Tasks revoked"),

		WorkflowCreated:   counter("conductor.workflow.created", "Workflow instances created"),
		StepSubmitted:     counter("conductor.workflow.step_submitted", "Workflow steps submitted"),
		WorkflowCompleted: counter("conductor.workflow.completed", "Workflow instances whose last step succeeded"),
		WorkflowStalled:   counter("conductor.workflow.stalled", "Chaining failures that left an instance stalled"),
		WorkflowPaused:    counter("conductor.workflow.paused", "Pause requests that revoked a step"),
		WorkflowResumed:   counter("conductor.workflow.resumed", "Resume requests that resubmitted a step"),

		WorkflowsPurged: counter("conductor.purge.workflows", "Orphaned workflow instances deleted"),
		TasksPurged:     counter("conductor.purge.tasks", "Ledger records deleted by purges"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Task lifecycle hooks ─────────────────────────────

func taskAttrs(t *task.Task) metric.AddOption {
	return metric.WithAttributes(
		attribute.String("task_name", t.Name),
		attribute.String("queue", t.Queue),
	)
}

// OnTaskSubmitted implements ext.TaskSubmitted.
func (m *MetricsExtension) OnTaskSubmitted(ctx context.Context, t *task.Task) error {
	m.TaskSubmitted.Add(ctx, 1, taskAttrs(t))
	return nil
}

// OnTaskSucceeded implements ext.TaskSucceeded.
func (m *MetricsExtension) OnTaskSucceeded(ctx context.Context, t *task.Task, _ time.Duration) error {
	m.TaskSucceeded.Add(ctx, 1, taskAttrs(t))
	return nil
}

// OnTaskFailed implements ext.TaskFailed.
func (m *MetricsExtension) OnTaskFailed(ctx context.Context, t *task.Task, _ error) error {
	m.TaskFailed.Add(ctx, 1, taskAttrs(t))
	return nil
}

// OnTaskRetrying implements ext.TaskRetrying.
func (m *MetricsExtension) OnTaskRetrying(ctx context.Context, t *task.Task, _ int, _ time.Time) error {
	m.TaskRetried.Add(ctx, 1, taskAttrs(t))
	return nil
}

// OnTaskRevoked implements ext.TaskRevoked.
func (m *MetricsExtension) OnTaskRevoked(ctx context.Context, _ id.TaskID, terminate bool) error {
	m.TaskRevoked.Add(ctx, 1, metric.WithAttributes(attribute.Bool("terminate", terminate)))
	return nil
}

// ── Workflow lifecycle hooks ─────────────────────────

func workflowAttrs(inst *workflow.Instance) metric.AddOption {
	return metric.WithAttributes(attribute.String("definition", inst.DefinitionName))
}

// OnWorkflowCreated implements ext.WorkflowCreated.
func (m *MetricsExtension) OnWorkflowCreated(ctx context.Context, inst *workflow.Instance) error {
	m.WorkflowCreated.Add(ctx, 1, workflowAttrs(inst))
	return nil
}

// OnWorkflowStepSubmitted implements ext.WorkflowStepSubmitted.
func (m *MetricsExtension) OnWorkflowStepSubmitted(ctx context.Context, inst *workflow.Instance, step string, _ id.TaskID) error {
	m.StepSubmitted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("definition", inst.DefinitionName),
		attribute.String("step", step),
	))
	return nil
}

// OnWorkflowCompleted implements ext.WorkflowCompleted.
func (m *MetricsExtension) OnWorkflowCompleted(ctx context.Context, inst *workflow.Instance) error {
	m.WorkflowCompleted.Add(ctx, 1, workflowAttrs(inst))
	return nil
}

// OnWorkflowStalled implements ext.WorkflowStalled.
func (m *MetricsExtension) OnWorkflowStalled(ctx context.Context, inst *workflow.Instance, step string, _ error) error {
	m.WorkflowStalled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("definition", inst.DefinitionName),
		attribute.String("step", step),
	))
	return nil
}

// OnWorkflowPaused implements ext.WorkflowPaused.
func (m *MetricsExtension) OnWorkflowPaused(ctx context.Context, inst *workflow.Instance, _ string) error {
	m.WorkflowPaused.Add(ctx, 1, workflowAttrs(inst))
	return nil
}

// OnWorkflowResumed implements ext.WorkflowResumed.
func (m *MetricsExtension) OnWorkflowResumed(ctx context.Context, inst *workflow.Instance, _ string, _ id.TaskID) error {
	m.WorkflowResumed.Add(ctx, 1, workflowAttrs(inst))
	return nil
}

// ── Purge hooks ──────────────────────────────────────

// OnWorkflowsPurged implements ext.WorkflowsPurged.
func (m *MetricsExtension) OnWorkflowsPurged(ctx context.Context, report *workflow.PurgeReport) error {
	attrs := metric.WithAttributes(attribute.String("owner", report.OwnerTag))
	m.WorkflowsPurged.Add(ctx, report.Deleted, attrs)
	m.TasksPurged.Add(ctx, report.TasksDeleted, attrs)
	return nil
}
