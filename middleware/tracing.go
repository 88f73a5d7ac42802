package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/conductor/task"
)

// tracerName is the instrumentation scope name for conductor tracing.
const tracerName = "github.com/xraph/conductor"

// Tracing returns middleware that wraps body execution in an OpenTelemetry
// span using the global TracerProvider (noop when none is installed).
//
// Span attributes: conductor.task.id, conductor.task.name,
// conductor.queue, conductor.retries, conductor.owner, and for workflow
// steps conductor.workflow.id and conductor.workflow.step.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) error {
		attrs := []attribute.KeyValue{
			attribute.String("conductor.task.id", t.ID.String()),
			attribute.String("conductor.task.name", t.Name),
			attribute.String("conductor.queue", t.Queue),
			attribute.Int("conductor.retries", t.Retries),
			attribute.String("conductor.owner", t.Owner),
		}
		if wfID, step := stepOf(t); step != "" {
			attrs = append(attrs,
				attribute.String("conductor.workflow.id", wfID),
				attribute.String("conductor.workflow.step", step),
			)
		}

		ctx, span := tracer.Start(ctx, "conductor.task.execute",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
