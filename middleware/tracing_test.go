package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/conductor/id"
	mw "github.com/xraph/conductor/middleware"
	"github.com/xraph/conductor/task"
)

func setupTestTracer() (*tracetest.SpanRecorder, trace.Tracer) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return sr, tp.Tracer("test")
}

var testWorkflowID = id.NewWorkflowID()

func newTestTask() *task.Task {
	return &task.Task{
		ID:      id.NewTaskID(),
		Name:    "archive_dataset",
		Queue:   "default",
		Retries: 2,
		Owner:   "bioloop-prod",
		Kwargs:  task.StepKwargs(testWorkflowID, "archive"),
	}
}

func TestTracing_SpanAttributes(t *testing.T) {
	sr, tracer := setupTestTracer()
	tk := newTestTask()

	if err := mw.TracingWithTracer(tracer)(context.Background(), tk, func(_ context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "conductor.task.execute" {
		t.Errorf("span name = %q, want %q", spans[0].Name(), "conductor.task.execute")
	}
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("expected status Ok, got %v", spans[0].Status().Code)
	}

	attrMap := make(map[string]any)
	for _, a := range spans[0].Attributes() {
		switch a.Value.Type() {
		case attribute.STRING:
			attrMap[string(a.Key)] = a.Value.AsString()
		case attribute.INT64:
			attrMap[string(a.Key)] = a.Value.AsInt64()
		}
	}

	expected := map[string]any{
		"conductor.task.id":       tk.ID.String(),
		"conductor.task.name":     "archive_dataset",
		"conductor.queue":         "default",
		"conductor.retries":       int64(2),
		"conductor.owner":         "bioloop-prod",
		"conductor.workflow.id":   testWorkflowID.String(),
		"conductor.workflow.step": "archive",
	}
	for key, want := range expected {
		got, ok := attrMap[key]
		if !ok {
			t.Errorf("missing attribute %q", key)
			continue
		}
		if got != want {
			t.Errorf("attribute %q = %v, want %v", key, got, want)
		}
	}
}

func TestTracing_Error_SetsErrorStatus(t *testing.T) {
	sr, tracer := setupTestTracer()

	bodyErr := errors.New("body failed")
	err := mw.TracingWithTracer(tracer)(context.Background(), newTestTask(), func(_ context.Context) error {
		return bodyErr
	})
	if !errors.Is(err, bodyErr) {
		t.Fatalf("expected body error, got %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("expected status Error, got %v", spans[0].Status().Code)
	}
	found := false
	for _, ev := range spans[0].Events() {
		if ev.Name == "exception" {
			found = true
		}
	}
	if !found {
		t.Error("expected 'exception' event to be recorded on span")
	}
}

func TestTracing_PropagatesContext(t *testing.T) {
	sr, tracer := setupTestTracer()

	var bodySpan trace.SpanContext
	_ = mw.TracingWithTracer(tracer)(context.Background(), newTestTask(), func(ctx context.Context) error {
		bodySpan = trace.SpanFromContext(ctx).SpanContext()
		return nil
	})

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if !bodySpan.IsValid() {
		t.Fatal("expected valid span context in body")
	}
	if bodySpan.TraceID() != spans[0].SpanContext().TraceID() {
		t.Error("body span context trace ID does not match middleware span")
	}
}

func TestTracing_DefaultNoopSafe(t *testing.T) {
	called := false
	err := mw.Tracing()(context.Background(), newTestTask(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("called=%v err=%v", called, err)
	}
}
