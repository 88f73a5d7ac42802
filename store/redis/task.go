package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/task"
)

// maxWatchRetries bounds optimistic transaction retries on contended keys.
const maxWatchRetries = 8

// EnqueueTask stores the task as a Hash and, when it is claimable, adds it
// to its queue's Sorted Set.
func (s *Store) EnqueueTask(ctx context.Context, t *task.Task) error {
	tID := t.ID.String()
	key := taskKey(tID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("conductor/redis: enqueue check exists: %w", err)
	}
	if exists > 0 {
		return conductor.ErrTaskAlreadyExists
	}

	fields, err := taskToMap(t)
	if err != nil {
		return fmt.Errorf("conductor/redis: enqueue task: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.SAdd(ctx, taskIDsKey, tID)
	if claimable(t.Status) {
		pipe.ZAdd(ctx, queueKey(t.Queue), goredis.Z{Score: taskScore(t.Priority, t.RunAt), Member: tID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conductor/redis: enqueue task: %w", err)
	}
	return nil
}

// DequeueTasks claims up to limit due PENDING or RETRY tasks from the
// given queues in priority order. Each claim is a WATCH transaction on the
// task hash, so a concurrent claim or revoke makes this worker skip it.
func (s *Store) DequeueTasks(ctx context.Context, queues []string, limit int) ([]*task.Task, error) {
	var candidates []goredis.Z
	for _, q := range queues {
		members, err := s.client.ZRangeWithScores(ctx, queueKey(q), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("conductor/redis: dequeue range: %w", err)
		}
		candidates = append(candidates, members...)
	}
	sort.SliceStable(candidates, func(i, k int) bool {
		return candidates[i].Score < candidates[k].Score
	})

	now := time.Now().UTC()
	tasks := make([]*task.Task, 0, limit)
	for _, z := range candidates {
		if len(tasks) >= limit {
			break
		}
		tID, ok := z.Member.(string)
		if !ok {
			continue
		}
		t, err := s.claim(ctx, tID, now)
		if err != nil {
			return nil, err
		}
		if t != nil {
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// claim marks one task STARTED. It returns nil when the task is gone, not
// yet due, or no longer claimable.
func (s *Store) claim(ctx context.Context, tID string, now time.Time) (*task.Task, error) {
	key := taskKey(tID)
	var claimed *task.Task

	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(vals) == 0 {
			return nil
		}
		t, err := mapToTask(vals)
		if err != nil {
			return err
		}
		if !claimable(t.Status) || t.RunAt.After(now) {
			return nil
		}

		started := now
		beat := now
		t.Status = task.StatusStarted
		t.StartedAt = &started
		t.HeartbeatAt = &beat
		t.UpdatedAt = now

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"status", string(task.StatusStarted),
				"started_at", formatTime(now),
				"heartbeat_at", formatTime(now),
				"updated_at", formatTime(now),
			)
			pipe.ZRem(ctx, queueKey(t.Queue), tID)
			return nil
		})
		if err != nil {
			return err
		}
		claimed = t
		return nil
	}, key)

	if errors.Is(err, goredis.TxFailedErr) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("conductor/redis: claim task: %w", err)
	}
	return claimed, nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	vals, err := s.client.HGetAll(ctx, taskKey(taskID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("conductor/redis: get task: %w", err)
	}
	if len(vals) == 0 {
		return nil, conductor.ErrTaskNotFound
	}
	return mapToTask(vals)
}

// UpdateTask persists changes to an existing task. A revoked record is
// final and returns conductor.ErrInvalidState.
func (s *Store) UpdateTask(ctx context.Context, t *task.Task) error {
	tID := t.ID.String()
	key := taskKey(tID)

	fields, err := taskToMap(t)
	if err != nil {
		return fmt.Errorf("conductor/redis: update task: %w", err)
	}
	fields["updated_at"] = formatTime(time.Now())

	err = s.watch(ctx, func(tx *goredis.Tx) error {
		cur, err := tx.HMGet(ctx, key, "status", "queue").Result()
		if err != nil {
			return err
		}
		status, _ := cur[0].(string)
		oldQueue, _ := cur[1].(string)
		if status == "" {
			return conductor.ErrTaskNotFound
		}
		if task.Status(status) == task.StatusRevoked {
			return conductor.ErrInvalidState
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, fields)
			pipe.ZRem(ctx, queueKey(oldQueue), tID)
			if claimable(t.Status) {
				pipe.ZAdd(ctx, queueKey(t.Queue), goredis.Z{Score: taskScore(t.Priority, t.RunAt), Member: tID})
			}
			return nil
		})
		return err
	}, key)
	if err != nil {
		if errors.Is(err, conductor.ErrTaskNotFound) || errors.Is(err, conductor.ErrInvalidState) {
			return err
		}
		return fmt.Errorf("conductor/redis: update task: %w", err)
	}
	return nil
}

// RevokeTask marks a task REVOKED unless it is already terminal.
func (s *Store) RevokeTask(ctx context.Context, taskID id.TaskID, reason string) (bool, error) {
	tID := taskID.String()
	key := taskKey(tID)
	var revoked bool

	err := s.watch(ctx, func(tx *goredis.Tx) error {
		revoked = false
		cur, err := tx.HMGet(ctx, key, "status", "queue").Result()
		if err != nil {
			return err
		}
		status, _ := cur[0].(string)
		queue, _ := cur[1].(string)
		if status == "" {
			return conductor.ErrTaskNotFound
		}
		if task.Status(status).Terminal() {
			return nil
		}

		now := formatTime(time.Now())
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"status", string(task.StatusRevoked),
				"error", reason,
				"completed_at", now,
				"updated_at", now,
			)
			pipe.ZRem(ctx, queueKey(queue), tID)
			return nil
		})
		if err != nil {
			return err
		}
		revoked = true
		return nil
	}, key)
	if err != nil {
		if errors.Is(err, conductor.ErrTaskNotFound) {
			return false, err
		}
		return false, fmt.Errorf("conductor/redis: revoke task: %w", err)
	}
	return revoked, nil
}

// DeleteTasks removes the given tasks and returns how many existed.
func (s *Store) DeleteTasks(ctx context.Context, taskIDs []id.TaskID) (int64, error) {
	var n int64
	for _, taskID := range taskIDs {
		tID := taskID.String()
		key := taskKey(tID)

		q, err := s.client.HGet(ctx, key, "queue").Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				continue
			}
			return n, fmt.Errorf("conductor/redis: delete task get queue: %w", err)
		}

		pipe := s.client.TxPipeline()
		del := pipe.Del(ctx, key)
		pipe.SRem(ctx, taskIDsKey, tID)
		pipe.ZRem(ctx, queueKey(q), tID)
		if _, err := pipe.Exec(ctx); err != nil {
			return n, fmt.Errorf("conductor/redis: delete task: %w", err)
		}
		n += del.Val()
	}
	return n, nil
}

// ListTasksByStatus returns tasks with the given status, oldest first.
func (s *Store) ListTasksByStatus(ctx context.Context, status task.Status, opts task.ListOpts) ([]*task.Task, error) {
	all, err := s.scanTasks(ctx)
	if err != nil {
		return nil, err
	}

	tasks := make([]*task.Task, 0, len(all))
	for _, t := range all {
		if t.Status != status {
			continue
		}
		if opts.Queue != "" && t.Queue != opts.Queue {
			continue
		}
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, k int) bool {
		return tasks[i].CreatedAt.Before(tasks[k].CreatedAt)
	})

	return paginate(tasks, opts.Offset, opts.Limit), nil
}

// ReportProgress stores progress on a running task. The status check and
// the write share a WATCH transaction.
func (s *Store) ReportProgress(ctx context.Context, taskID id.TaskID, progress any) error {
	key := taskKey(taskID.String())
	packed, err := pack(progress)
	if err != nil {
		return fmt.Errorf("conductor/redis: encode progress: %w", err)
	}

	err = s.watch(ctx, func(tx *goredis.Tx) error {
		status, err := tx.HGet(ctx, key, "status").Result()
		if errors.Is(err, goredis.Nil) {
			return conductor.ErrTaskNotFound
		}
		if err != nil {
			return err
		}
		if !task.Status(status).Running() {
			return conductor.ErrInvalidState
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"progress", packed,
				"status", string(task.StatusProgress),
				"updated_at", formatTime(time.Now()),
			)
			return nil
		})
		return err
	}, key)
	if err != nil {
		if errors.Is(err, conductor.ErrTaskNotFound) || errors.Is(err, conductor.ErrInvalidState) {
			return err
		}
		return fmt.Errorf("conductor/redis: report progress: %w", err)
	}
	return nil
}

// HeartbeatTask updates the heartbeat timestamp for a running task.
func (s *Store) HeartbeatTask(ctx context.Context, taskID id.TaskID, workerID id.WorkerID) error {
	key := taskKey(taskID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("conductor/redis: heartbeat exists: %w", err)
	}
	if exists == 0 {
		return conductor.ErrTaskNotFound
	}

	now := formatTime(time.Now())
	_, err = s.client.HSet(ctx, key,
		"heartbeat_at", now,
		"worker_id", workerID.String(),
		"updated_at", now,
	).Result()
	if err != nil {
		return fmt.Errorf("conductor/redis: heartbeat task: %w", err)
	}
	return nil
}

// ReapStaleTasks returns STARTED or PROGRESS tasks whose last heartbeat is
// older than the given threshold.
func (s *Store) ReapStaleTasks(ctx context.Context, threshold time.Duration) ([]*task.Task, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	all, err := s.scanTasks(ctx)
	if err != nil {
		return nil, err
	}

	var stale []*task.Task
	for _, t := range all {
		if !t.Status.Running() {
			continue
		}
		if t.HeartbeatAt != nil && t.HeartbeatAt.Before(cutoff) {
			stale = append(stale, t)
		}
	}
	return stale, nil
}

// RecoverStaleTask replaces a task that is still running with a stale
// heartbeat. A heartbeat or outcome written after the reaper's scan makes
// the WATCH check fail and the task is left alone.
func (s *Store) RecoverStaleTask(ctx context.Context, t *task.Task, threshold time.Duration) (bool, error) {
	tID := t.ID.String()
	key := taskKey(tID)

	fields, err := taskToMap(t)
	if err != nil {
		return false, fmt.Errorf("conductor/redis: recover stale task: %w", err)
	}
	fields["updated_at"] = formatTime(time.Now())

	var recovered bool
	err = s.watch(ctx, func(tx *goredis.Tx) error {
		recovered = false
		cur, err := tx.HMGet(ctx, key, "status", "queue", "heartbeat_at").Result()
		if err != nil {
			return err
		}
		status, _ := cur[0].(string)
		oldQueue, _ := cur[1].(string)
		beat, _ := cur[2].(string)
		if status == "" {
			return conductor.ErrTaskNotFound
		}
		cutoff := time.Now().UTC().Add(-threshold)
		if !task.Status(status).Running() || beat == "" || !parseTime(beat).Before(cutoff) {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, fields)
			pipe.ZRem(ctx, queueKey(oldQueue), tID)
			if claimable(t.Status) {
				pipe.ZAdd(ctx, queueKey(t.Queue), goredis.Z{Score: taskScore(t.Priority, t.RunAt), Member: tID})
			}
			return nil
		})
		if err != nil {
			return err
		}
		recovered = true
		return nil
	}, key)
	if err != nil {
		if errors.Is(err, conductor.ErrTaskNotFound) {
			return false, err
		}
		return false, fmt.Errorf("conductor/redis: recover stale task: %w", err)
	}
	return recovered, nil
}

// CountTasks returns the number of tasks matching the given options.
func (s *Store) CountTasks(ctx context.Context, opts task.CountOpts) (int64, error) {
	all, err := s.scanTasks(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	for _, t := range all {
		if opts.Status != "" && t.Status != opts.Status {
			continue
		}
		if opts.Queue != "" && t.Queue != opts.Queue {
			continue
		}
		count++
	}
	return count, nil
}

// ── helpers ──

// watch runs fn in a WATCH transaction over keys, retrying when another
// client modified a watched key first.
func (s *Store) watch(ctx context.Context, fn func(*goredis.Tx) error, keys ...string) error {
	var err error
	for range maxWatchRetries {
		err = s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
	}
	return err
}

func (s *Store) scanTasks(ctx context.Context) ([]*task.Task, error) {
	ids, err := s.client.SMembers(ctx, taskIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("conductor/redis: scan tasks smembers: %w", err)
	}

	tasks := make([]*task.Task, 0, len(ids))
	for _, tID := range ids {
		vals, getErr := s.client.HGetAll(ctx, taskKey(tID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue // skip missing
		}
		t, convErr := mapToTask(vals)
		if convErr != nil {
			s.logger.Warn("skipping undecodable task", "task_id", tID, "error", convErr)
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func claimable(st task.Status) bool {
	return st == task.StatusPending || st == task.StatusRetry
}

// taskScore computes a sorted-set score from priority and run_at.
// Lower score = dequeued first.
func taskScore(priority int, runAt time.Time) float64 {
	// Negative priority so higher priority sorts first, plus a fractional
	// time component for FIFO within the same priority.
	return float64(-priority) + float64(runAt.UnixMilli())/1e15
}

func taskToMap(t *task.Task) (map[string]any, error) {
	args, err := pack(t.Args)
	if err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}
	kwargs, err := pack(t.Kwargs)
	if err != nil {
		return nil, fmt.Errorf("encode kwargs: %w", err)
	}
	result, err := pack(t.Result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	progress, err := pack(t.Progress)
	if err != nil {
		return nil, fmt.Errorf("encode progress: %w", err)
	}

	m := map[string]any{
		"id":          t.ID.String(),
		"name":        t.Name,
		"queue":       t.Queue,
		"args":        args,
		"kwargs":      kwargs,
		"status":      string(t.Status),
		"result":      result,
		"error":       t.Error,
		"progress":    progress,
		"priority":    strconv.Itoa(t.Priority),
		"max_retries": strconv.Itoa(t.MaxRetries),
		"retries":     strconv.Itoa(t.Retries),
		"owner":       t.Owner,
		"worker_id":   t.WorkerID.String(),
		"run_at":      formatTime(t.RunAt),
		"timeout":     strconv.FormatInt(int64(t.Timeout), 10),
		"created_at":  formatTime(t.CreatedAt),
		"updated_at":  formatTime(t.UpdatedAt),
	}
	if t.StartedAt != nil {
		m["started_at"] = formatTime(*t.StartedAt)
	}
	if t.CompletedAt != nil {
		m["completed_at"] = formatTime(*t.CompletedAt)
	}
	if t.HeartbeatAt != nil {
		m["heartbeat_at"] = formatTime(*t.HeartbeatAt)
	}
	return m, nil
}

func mapToTask(m map[string]string) (*task.Task, error) {
	tID, err := id.ParseTaskID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("conductor/redis: parse task id: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])           //nolint:errcheck // best-effort parse from trusted Redis data
	maxRetries, _ := strconv.Atoi(m["max_retries"])      //nolint:errcheck // best-effort parse from trusted Redis data
	retries, _ := strconv.Atoi(m["retries"])             //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data

	t := &task.Task{
		Entity: conductor.Entity{
			CreatedAt: parseTime(m["created_at"]),
			UpdatedAt: parseTime(m["updated_at"]),
		},
		ID:          tID,
		Name:        m["name"],
		Queue:       m["queue"],
		Status:      task.Status(m["status"]),
		Error:       m["error"],
		Priority:    priority,
		MaxRetries:  maxRetries,
		Retries:     retries,
		Owner:       m["owner"],
		RunAt:       parseTime(m["run_at"]),
		StartedAt:   parseTimePtr(m["started_at"]),
		CompletedAt: parseTimePtr(m["completed_at"]),
		HeartbeatAt: parseTimePtr(m["heartbeat_at"]),
		Timeout:     time.Duration(timeout),
	}

	if wid := m["worker_id"]; wid != "" {
		t.WorkerID, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if err := unpack(m["args"], &t.Args); err != nil {
		return nil, fmt.Errorf("conductor/redis: decode args: %w", err)
	}
	if err := unpack(m["kwargs"], &t.Kwargs); err != nil {
		return nil, fmt.Errorf("conductor/redis: decode kwargs: %w", err)
	}
	if err := unpack(m["result"], &t.Result); err != nil {
		return nil, fmt.Errorf("conductor/redis: decode result: %w", err)
	}
	if err := unpack(m["progress"], &t.Progress); err != nil {
		return nil, fmt.Errorf("conductor/redis: decode progress: %w", err)
	}
	return t, nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
