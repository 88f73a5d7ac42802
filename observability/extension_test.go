package observability_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/conductor/ext"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/observability"
	"github.com/xraph/conductor/task"
	"github.com/xraph/conductor/workflow"
)

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func newTestExtension(t *testing.T) (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

func newTestTask() *task.Task {
	return &task.Task{
		ID:    id.NewTaskID(),
		Name:  "copy_files",
		Queue: "default",
	}
}

func newTestInstance() *workflow.Instance {
	return &workflow.Instance{
		ID:             id.NewWorkflowID(),
		DefinitionName: "ingest",
		OwnerTag:       "app-1",
	}
}

// sum collects the reader and returns the total of the named Int64 sum
// across all attribute sets, or -1 when the metric is absent.
func sum(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			data, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s data = %T, want metricdata.Sum[int64]", name, m.Data)
			}
			var total int64
			for _, dp := range data.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return -1
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension(t)
	if e.Name() != "observability-metrics" {
		t.Errorf("Name() = %q, want %q", e.Name(), "observability-metrics")
	}
}

func TestMetricsExtension_TaskHooks(t *testing.T) {
	ctx := context.Background()
	e, reader := newTestExtension(t)
	tk := newTestTask()

	_ = e.OnTaskSubmitted(ctx, tk)
	_ = e.OnTaskSubmitted(ctx, tk)
	_ = e.OnTaskSucceeded(ctx, tk, 10*time.Millisecond)
	_ = e.OnTaskFailed(ctx, tk, errors.New("boom"))
	_ = e.OnTaskRetrying(ctx, tk, 1, time.Now())
	_ = e.OnTaskRevoked(ctx, tk.ID, true)

	want := map[string]int64{
		"conductor.task.submitted": 2,
		"conductor.task.succeeded": 1,
		"conductor.task.failed":    1,
		"conductor.task.retried":   1,
		"conductor.task.revoked":   1,
	}
	for name, n := range want {
		if got := sum(t, reader, name); got != n {
			t.Errorf("%s = %d, want %d", name, got, n)
		}
	}
}

func TestMetricsExtension_TaskAttributes(t *testing.T) {
	ctx := context.Background()
	e, reader := newTestExtension(t)
	_ = e.OnTaskSubmitted(ctx, newTestTask())

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	data := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Sum[int64])
	attrs := data.DataPoints[0].Attributes
	if v, ok := attrs.Value(attribute.Key("task_name")); !ok || v.AsString() != "copy_files" {
		t.Errorf("task_name = %v, want %q", v.AsString(), "copy_files")
	}
	if v, ok := attrs.Value(attribute.Key("queue")); !ok || v.AsString() != "default" {
		t.Errorf("queue = %v, want %q", v.AsString(), "default")
	}
}

func TestMetricsExtension_WorkflowHooks(t *testing.T) {
	ctx := context.Background()
	e, reader := newTestExtension(t)
	inst := newTestInstance()

	_ = e.OnWorkflowCreated(ctx, inst)
	_ = e.OnWorkflowStepSubmitted(ctx, inst, "copy", id.NewTaskID())
	_ = e.OnWorkflowStepSubmitted(ctx, inst, "index", id.NewTaskID())
	_ = e.OnWorkflowCompleted(ctx, inst)
	_ = e.OnWorkflowStalled(ctx, inst, "copy", errors.New("bad result"))
	_ = e.OnWorkflowPaused(ctx, inst, "copy")
	_ = e.OnWorkflowResumed(ctx, inst, "copy", id.NewTaskID())

	want := map[string]int64{
		"conductor.workflow.created":        1,
		"conductor.workflow.step_submitted": 2,
		"conductor.workflow.completed":      1,
		"conductor.workflow.stalled":        1,
		"conductor.workflow.paused":         1,
		"conductor.workflow.resumed":        1,
	}
	for name, n := range want {
		if got := sum(t, reader, name); got != n {
			t.Errorf("%s = %d, want %d", name, got, n)
		}
	}
}

func TestMetricsExtension_Purge(t *testing.T) {
	ctx := context.Background()
	e, reader := newTestExtension(t)

	_ = e.OnWorkflowsPurged(ctx, &workflow.PurgeReport{OwnerTag: "app-1", Deleted: 3, TasksDeleted: 7})

	if got := sum(t, reader, "conductor.purge.workflows"); got != 3 {
		t.Errorf("conductor.purge.workflows = %d, want 3", got)
	}
	if got := sum(t, reader, "conductor.purge.tasks"); got != 7 {
		t.Errorf("conductor.purge.tasks = %d, want 7", got)
	}
}

func TestMetricsExtension_ThroughRegistry(t *testing.T) {
	ctx := context.Background()
	e, reader := newTestExtension(t)
	reg := ext.NewRegistry(slog.Default())
	reg.Register(e)

	reg.EmitTaskSubmitted(ctx, newTestTask())
	reg.EmitWorkflowCreated(ctx, newTestInstance())

	if got := sum(t, reader, "conductor.task.submitted"); got != 1 {
		t.Errorf("conductor.task.submitted = %d, want 1", got)
	}
	if got := sum(t, reader, "conductor.workflow.created"); got != 1 {
		t.Errorf("conductor.workflow.created = %d, want 1", got)
	}
}

func TestNewMetricsExtension_GlobalMeter(t *testing.T) {
	e := observability.NewMetricsExtension()
	if err := e.OnTaskSubmitted(context.Background(), newTestTask()); err != nil {
		t.Fatalf("OnTaskSubmitted: %v", err)
	}
}

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := observability.Setup(context.Background(), observability.SetupConfig{})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestResource_ServiceName(t *testing.T) {
	res, err := observability.Resource("conductor-test")
	if err != nil {
		t.Fatalf("Resource: %v", err)
	}
	v, ok := res.Set().Value(attribute.Key("service.name"))
	if !ok || v.AsString() != "conductor-test" {
		t.Errorf("service.name = %q, want %q", v.AsString(), "conductor-test")
	}
}
