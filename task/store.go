package task

import (
	"context"
	"time"

	"github.com/xraph/conductor/id"
)

// ListOpts controls pagination and filtering for task list queries.
type ListOpts struct {
	// Limit is the maximum number of tasks to return. Zero means no limit.
	Limit int
	// Offset is the number of tasks to skip.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
}

// CountOpts controls filtering for task count queries.
type CountOpts struct {
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// Status filters by status. Empty means all statuses.
	Status Status
}

// Ledger defines the persistence contract for task records.
type Ledger interface {
	// EnqueueTask persists a new task in PENDING status.
	EnqueueTask(ctx context.Context, t *Task) error

	// DequeueTasks atomically claims up to limit PENDING or RETRY tasks
	// whose RunAt has passed from the given queues, marks them STARTED and
	// returns them. Tasks are ordered by priority (descending) then RunAt
	// (ascending).
	DequeueTasks(ctx context.Context, queues []string, limit int) ([]*Task, error)

	// GetTask retrieves a task by ID.
	GetTask(ctx context.Context, taskID id.TaskID) (*Task, error)

	// UpdateTask persists changes to an existing task. A revoked record is
	// final: updating it returns conductor.ErrInvalidState.
	UpdateTask(ctx context.Context, t *Task) error

	// RevokeTask marks a task REVOKED unless it is already terminal.
	// It reports whether the record changed.
	RevokeTask(ctx context.Context, taskID id.TaskID, reason string) (bool, error)

	// DeleteTasks removes the given tasks and returns how many existed.
	DeleteTasks(ctx context.Context, taskIDs []id.TaskID) (int64, error)

	// ListTasksByStatus returns tasks with the given status.
	ListTasksByStatus(ctx context.Context, status Status, opts ListOpts) ([]*Task, error)

	// ReportProgress stores progress on a running task and marks it
	// PROGRESS. Only the progress, status and updated_at fields are
	// written. A task that is no longer STARTED or PROGRESS returns
	// conductor.ErrInvalidState.
	ReportProgress(ctx context.Context, taskID id.TaskID, progress any) error

	// HeartbeatTask updates the heartbeat timestamp for a running task,
	// indicating the worker is still alive.
	HeartbeatTask(ctx context.Context, taskID id.TaskID, workerID id.WorkerID) error

	// ReapStaleTasks returns STARTED or PROGRESS tasks whose last heartbeat
	// is older than the given threshold, indicating the worker may have
	// crashed.
	ReapStaleTasks(ctx context.Context, threshold time.Duration) ([]*Task, error)

	// RecoverStaleTask replaces a stale task with t, which carries the
	// recovered state. The write applies only while the stored record is
	// still STARTED or PROGRESS with a heartbeat older than threshold; it
	// reports whether it applied.
	RecoverStaleTask(ctx context.Context, t *Task, threshold time.Duration) (bool, error)

	// CountTasks returns the number of tasks matching the given options.
	CountTasks(ctx context.Context, opts CountOpts) (int64, error)
}
