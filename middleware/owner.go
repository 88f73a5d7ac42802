package middleware

import (
	"context"

	"github.com/xraph/conductor/scope"
	"github.com/xraph/conductor/task"
)

// Owner returns middleware that restores the task's owner tag into the
// context, so bodies see the same owner as the submitting caller.
func Owner() Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) error {
		return next(scope.WithOwner(ctx, t.Owner))
	}
}
