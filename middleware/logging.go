package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/conductor/task"
)

// Logging returns middleware that logs body start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) error {
		wfID, step := stepOf(t)
		attrs := []any{
			slog.String("task_name", t.Name),
			slog.String("task_id", t.ID.String()),
			slog.String("queue", t.Queue),
		}
		if step != "" {
			attrs = append(attrs, slog.String("workflow_id", wfID), slog.String("step", step))
		}

		logger.Info("task started", attrs...)

		start := time.Now()
		err := next(ctx)
		attrs = append(attrs, slog.Duration("elapsed", time.Since(start)))

		if err != nil {
			logger.Error("task failed", append(attrs, slog.String("error", err.Error()))...)
		} else {
			logger.Info("task completed", attrs...)
		}
		return err
	}
}
