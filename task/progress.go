package task

import "context"

// ProgressReporter records intermediate progress for the task executing
// under a context.
type ProgressReporter interface {
	ReportProgress(ctx context.Context, progress any) error
}

type reporterKey struct{}

type currentKey struct{}

// WithReporter returns a context carrying r for ReportProgress.
func WithReporter(ctx context.Context, r ProgressReporter) context.Context {
	return context.WithValue(ctx, reporterKey{}, r)
}

// ReportProgress attaches progress to the task currently executing under
// ctx and moves it to PROGRESS. It is a no-op when the body was invoked
// directly rather than by a worker.
func ReportProgress(ctx context.Context, progress any) error {
	r, ok := ctx.Value(reporterKey{}).(ProgressReporter)
	if !ok || r == nil {
		return nil
	}
	return r.ReportProgress(ctx, progress)
}

// WithCurrent returns a context carrying the executing task.
func WithCurrent(ctx context.Context, t *Task) context.Context {
	return context.WithValue(ctx, currentKey{}, t)
}

// Current returns the task executing under ctx, if any.
func Current(ctx context.Context) (*Task, bool) {
	t, ok := ctx.Value(currentKey{}).(*Task)
	return t, ok
}
