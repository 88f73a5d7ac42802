package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/task"
)

const taskColumns = `
	id, name, queue, args, kwargs, status, result, error, progress,
	priority, max_retries, retries, owner, worker_id,
	run_at, started_at, completed_at, heartbeat_at, timeout,
	created_at, updated_at`

// taskParams holds the JSON-encoded columns of a task.
type taskParams struct {
	args, kwargs, result, progress []byte
}

func encodeTask(t *task.Task) (taskParams, error) {
	var (
		p   taskParams
		err error
	)
	if p.args, err = toJSON(t.Args); err != nil {
		return p, fmt.Errorf("encode args: %w", err)
	}
	if t.Kwargs != nil {
		if p.kwargs, err = toJSON(t.Kwargs); err != nil {
			return p, fmt.Errorf("encode kwargs: %w", err)
		}
	}
	if t.Result != nil {
		if p.result, err = toJSON(t.Result); err != nil {
			return p, fmt.Errorf("encode result: %w", err)
		}
	}
	if p.progress, err = toJSON(t.Progress); err != nil {
		return p, fmt.Errorf("encode progress: %w", err)
	}
	return p, nil
}

// EnqueueTask persists a new task in PENDING status.
func (s *Store) EnqueueTask(ctx context.Context, t *task.Task) error {
	p, err := encodeTask(t)
	if err != nil {
		return fmt.Errorf("conductor/postgres: enqueue task: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO conductor_tasks (`+taskColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19,
			$20, $21
		)`,
		t.ID.String(), t.Name, t.Queue, p.args, p.kwargs, string(t.Status), p.result, t.Error, p.progress,
		t.Priority, t.MaxRetries, t.Retries, t.Owner, t.WorkerID,
		t.RunAt, t.StartedAt, t.CompletedAt, t.HeartbeatAt, t.Timeout.Nanoseconds(),
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conductor.ErrTaskAlreadyExists
		}
		return fmt.Errorf("conductor/postgres: enqueue task: %w", err)
	}
	return nil
}

// DequeueTasks atomically claims up to limit PENDING or RETRY tasks from
// the given queues, sets them to STARTED, and returns them. Uses SELECT
// FOR UPDATE SKIP LOCKED for concurrent-safe dequeue.
func (s *Store) DequeueTasks(ctx context.Context, queues []string, limit int) ([]*task.Task, error) {
	rows, err := s.pool.Query(ctx, `
		WITH dequeued AS (
			UPDATE conductor_tasks
			SET status = 'STARTED', started_at = NOW(), heartbeat_at = NOW(), updated_at = NOW()
			WHERE id IN (
				SELECT id FROM conductor_tasks
				WHERE status IN ('PENDING', 'RETRY')
				  AND queue = ANY($1)
				  AND run_at <= NOW()
				ORDER BY priority DESC, run_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $2
			)
			RETURNING `+taskColumns+`
		)
		SELECT * FROM dequeued ORDER BY priority DESC, run_at ASC`,
		queues, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("conductor/postgres: dequeue tasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM conductor_tasks WHERE id = $1`,
		taskID.String(),
	)

	t, err := scanTask(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conductor.ErrTaskNotFound
		}
		return nil, fmt.Errorf("conductor/postgres: get task: %w", err)
	}
	return t, nil
}

// UpdateTask persists changes to an existing task. A revoked record is
// final and returns conductor.ErrInvalidState.
func (s *Store) UpdateTask(ctx context.Context, t *task.Task) error {
	p, err := encodeTask(t)
	if err != nil {
		return fmt.Errorf("conductor/postgres: update task: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE conductor_tasks SET
			name = $2, queue = $3, args = $4, kwargs = $5, status = $6,
			result = $7, error = $8, progress = $9, priority = $10,
			max_retries = $11, retries = $12, owner = $13, worker_id = $14,
			run_at = $15, started_at = $16, completed_at = $17,
			heartbeat_at = $18, timeout = $19, updated_at = NOW()
		WHERE id = $1 AND status <> 'REVOKED'`,
		t.ID.String(), t.Name, t.Queue, p.args, p.kwargs, string(t.Status),
		p.result, t.Error, p.progress, t.Priority,
		t.MaxRetries, t.Retries, t.Owner, t.WorkerID,
		t.RunAt, t.StartedAt, t.CompletedAt,
		t.HeartbeatAt, t.Timeout.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("conductor/postgres: update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrRevoked(ctx, t.ID)
	}
	return nil
}

// missOrRevoked explains why a conditional task update touched no row.
func (s *Store) missOrRevoked(ctx context.Context, taskID id.TaskID) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM conductor_tasks WHERE id = $1)`, taskID.String(),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("conductor/postgres: check task: %w", err)
	}
	if !exists {
		return conductor.ErrTaskNotFound
	}
	return conductor.ErrInvalidState
}

// RevokeTask marks a task REVOKED unless it is already terminal.
func (s *Store) RevokeTask(ctx context.Context, taskID id.TaskID, reason string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conductor_tasks
		SET status = 'REVOKED', error = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('SUCCESS', 'FAILURE', 'REVOKED')`,
		taskID.String(), reason,
	)
	if err != nil {
		return false, fmt.Errorf("conductor/postgres: revoke task: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return false, err
	}
	return false, nil
}

// DeleteTasks removes the given tasks and returns how many existed.
func (s *Store) DeleteTasks(ctx context.Context, taskIDs []id.TaskID) (int64, error) {
	if len(taskIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM conductor_tasks WHERE id = ANY($1)`,
		idStrings(taskIDs),
	)
	if err != nil {
		return 0, fmt.Errorf("conductor/postgres: delete tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListTasksByStatus returns tasks with the given status.
func (s *Store) ListTasksByStatus(ctx context.Context, status task.Status, opts task.ListOpts) ([]*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM conductor_tasks WHERE status = $1`
	args := []any{string(status)}
	argIdx := 2

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}

	query += " ORDER BY created_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conductor/postgres: list tasks by status: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// ReportProgress stores progress on a running task.
func (s *Store) ReportProgress(ctx context.Context, taskID id.TaskID, progress any) error {
	raw, err := toJSON(progress)
	if err != nil {
		return fmt.Errorf("conductor/postgres: encode progress: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE conductor_tasks
		SET progress = $2, status = 'PROGRESS', updated_at = NOW()
		WHERE id = $1 AND status IN ('STARTED', 'PROGRESS')`,
		taskID.String(), raw,
	)
	if err != nil {
		return fmt.Errorf("conductor/postgres: report progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrRevoked(ctx, taskID)
	}
	return nil
}

// HeartbeatTask updates the heartbeat timestamp for a running task.
func (s *Store) HeartbeatTask(ctx context.Context, taskID id.TaskID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conductor_tasks
		SET heartbeat_at = NOW(), worker_id = $2, updated_at = NOW()
		WHERE id = $1`,
		taskID.String(), workerID,
	)
	if err != nil {
		return fmt.Errorf("conductor/postgres: heartbeat task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conductor.ErrTaskNotFound
	}
	return nil
}

// ReapStaleTasks returns STARTED or PROGRESS tasks whose last heartbeat is
// older than the given threshold.
func (s *Store) ReapStaleTasks(ctx context.Context, threshold time.Duration) ([]*task.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM conductor_tasks
		WHERE status IN ('STARTED', 'PROGRESS')
		  AND heartbeat_at IS NOT NULL
		  AND heartbeat_at < NOW() - make_interval(secs => $1)`,
		threshold.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("conductor/postgres: reap stale tasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// RecoverStaleTask replaces a task that is still running with a stale
// heartbeat.
func (s *Store) RecoverStaleTask(ctx context.Context, t *task.Task, threshold time.Duration) (bool, error) {
	p, err := encodeTask(t)
	if err != nil {
		return false, fmt.Errorf("conductor/postgres: recover stale task: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE conductor_tasks SET
			status = $2, error = $3, retries = $4, worker_id = $5,
			run_at = $6, completed_at = $7, heartbeat_at = $8,
			progress = $9, updated_at = NOW()
		WHERE id = $1
		  AND status IN ('STARTED', 'PROGRESS')
		  AND heartbeat_at IS NOT NULL
		  AND heartbeat_at < NOW() - make_interval(secs => $10)`,
		t.ID.String(), string(t.Status), t.Error, t.Retries, t.WorkerID,
		t.RunAt, t.CompletedAt, t.HeartbeatAt,
		p.progress, threshold.Seconds(),
	)
	if err != nil {
		return false, fmt.Errorf("conductor/postgres: recover stale task: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CountTasks returns the number of tasks matching the given options.
func (s *Store) CountTasks(ctx context.Context, opts task.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM conductor_tasks WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}
	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("conductor/postgres: count tasks: %w", err)
	}
	return count, nil
}

// scanTask scans a single task row.
func scanTask(row pgx.Row) (*task.Task, error) {
	var (
		t         task.Task
		idStr     string
		statusStr string
		workerStr *string
		timeoutNs int64
		p         taskParams
	)
	err := row.Scan(
		&idStr, &t.Name, &t.Queue, &p.args, &p.kwargs, &statusStr, &p.result, &t.Error, &p.progress,
		&t.Priority, &t.MaxRetries, &t.Retries, &t.Owner, &workerStr,
		&t.RunAt, &t.StartedAt, &t.CompletedAt, &t.HeartbeatAt, &timeoutNs,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = task.Status(statusStr)
	t.Timeout = time.Duration(timeoutNs)

	parsedID, err := id.ParseTaskID(idStr)
	if err != nil {
		return nil, fmt.Errorf("conductor/postgres: parse task id %q: %w", idStr, err)
	}
	t.ID = parsedID

	if workerStr != nil && *workerStr != "" {
		if parsedWorker, workerErr := id.ParseWorkerID(*workerStr); workerErr == nil {
			t.WorkerID = parsedWorker
		}
	}

	if err := fromJSON(p.args, &t.Args); err != nil {
		return nil, fmt.Errorf("conductor/postgres: decode args: %w", err)
	}
	if err := fromJSON(p.kwargs, &t.Kwargs); err != nil {
		return nil, fmt.Errorf("conductor/postgres: decode kwargs: %w", err)
	}
	if err := fromJSON(p.result, &t.Result); err != nil {
		return nil, fmt.Errorf("conductor/postgres: decode result: %w", err)
	}
	if err := fromJSON(p.progress, &t.Progress); err != nil {
		return nil, fmt.Errorf("conductor/postgres: decode progress: %w", err)
	}

	return &t, nil
}

// collectTasks collects all tasks from query rows.
func collectTasks(rows pgx.Rows) ([]*task.Task, error) {
	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("conductor/postgres: scan task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conductor/postgres: iterate task rows: %w", err)
	}
	return tasks, nil
}
