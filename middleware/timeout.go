package middleware

import (
	"context"

	"github.com/xraph/conductor/task"
)

// Timeout returns middleware that enforces the task's execution deadline.
// When the deadline passes the body's context is cancelled and the body
// should return context.DeadlineExceeded.
func Timeout() Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) error {
		if t.Timeout <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, t.Timeout)
		defer cancel()
		return next(ctx)
	}
}
