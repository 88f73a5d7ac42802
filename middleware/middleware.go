package middleware

import (
	"context"

	"github.com/xraph/conductor/task"
)

// Handler is the terminal function that runs the step body.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. It MUST call next
// to continue the chain unless short-circuiting on error.
type Middleware func(ctx context.Context, t *task.Task, next Handler) error

// Chain composes multiple middleware into a single Middleware. The first
// middleware in the list is the outermost wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, t, prev)
			}
		}
		return h(ctx)
	}
}

// stepOf returns the workflow step a task belongs to, or empty strings.
func stepOf(t *task.Task) (workflowID, step string) {
	wfID, s, ok := t.WorkflowRef()
	if !ok {
		return "", ""
	}
	return wfID.String(), s
}
