package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/task"
)

var terminalStatuses = bson.A{
	string(task.StatusSuccess),
	string(task.StatusFailure),
	string(task.StatusRevoked),
}

var runningStatuses = bson.A{
	string(task.StatusStarted),
	string(task.StatusProgress),
}

// EnqueueTask persists a new task in PENDING status.
func (s *Store) EnqueueTask(ctx context.Context, t *task.Task) error {
	_, err := s.db.Collection(colTasks).InsertOne(ctx, toTaskModel(t))
	if err != nil {
		if isDuplicateKey(err) {
			return conductor.ErrTaskAlreadyExists
		}
		return fmt.Errorf("conductor/mongo: enqueue task: %w", err)
	}
	return nil
}

// DequeueTasks atomically claims up to limit PENDING or RETRY tasks from
// the given queues. MongoDB has no multi-document SKIP LOCKED, so each
// claim is a separate FindOneAndUpdate that only one worker can win.
func (s *Store) DequeueTasks(ctx context.Context, queues []string, limit int) ([]*task.Task, error) {
	col := s.db.Collection(colTasks)
	result := make([]*task.Task, 0, limit)

	for range limit {
		t := now()
		filter := bson.M{
			"status": bson.M{"$in": bson.A{string(task.StatusPending), string(task.StatusRetry)}},
			"run_at": bson.M{"$lte": t},
		}
		if len(queues) > 0 {
			filter["queue"] = bson.M{"$in": queues}
		}

		update := bson.M{"$set": bson.M{
			"status":       string(task.StatusStarted),
			"started_at":   t,
			"heartbeat_at": t,
			"updated_at":   t,
		}}

		opts := options.FindOneAndUpdate().
			SetSort(bson.D{{Key: "priority", Value: -1}, {Key: "run_at", Value: 1}}).
			SetReturnDocument(options.After)

		var m taskModel
		err := col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
		if err != nil {
			if isNoDocuments(err) {
				break
			}
			return nil, fmt.Errorf("conductor/mongo: dequeue tasks: %w", err)
		}

		claimed, err := fromTaskModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, claimed)
	}

	return result, nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	var m taskModel
	err := s.db.Collection(colTasks).FindOne(ctx, bson.M{"_id": taskID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, conductor.ErrTaskNotFound
		}
		return nil, fmt.Errorf("conductor/mongo: get task: %w", err)
	}
	return fromTaskModel(&m)
}

// UpdateTask persists changes to an existing task. A revoked record is
// final and returns conductor.ErrInvalidState.
func (s *Store) UpdateTask(ctx context.Context, t *task.Task) error {
	m := toTaskModel(t)
	m.UpdatedAt = now()

	res, err := s.db.Collection(colTasks).ReplaceOne(ctx,
		bson.M{"_id": m.ID, "status": bson.M{"$ne": string(task.StatusRevoked)}},
		m,
	)
	if err != nil {
		return fmt.Errorf("conductor/mongo: update task: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, getErr := s.GetTask(ctx, t.ID); getErr != nil {
			return getErr
		}
		return conductor.ErrInvalidState
	}
	return nil
}

// RevokeTask marks a task REVOKED unless it is already terminal.
func (s *Store) RevokeTask(ctx context.Context, taskID id.TaskID, reason string) (bool, error) {
	t := now()
	res, err := s.db.Collection(colTasks).UpdateOne(ctx,
		bson.M{"_id": taskID.String(), "status": bson.M{"$nin": terminalStatuses}},
		bson.M{"$set": bson.M{
			"status":       string(task.StatusRevoked),
			"error":        reason,
			"completed_at": t,
			"updated_at":   t,
		}},
	)
	if err != nil {
		return false, fmt.Errorf("conductor/mongo: revoke task: %w", err)
	}
	if res.MatchedCount > 0 {
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
	ids := make(bson.A, len(taskIDs))
	for i, tid := range taskIDs {
		ids[i] = tid.String()
	}
	res, err := s.db.Collection(colTasks).DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, fmt.Errorf("conductor/mongo: delete tasks: %w", err)
	}
	return res.DeletedCount, nil
}

// ListTasksByStatus returns tasks with the given status, oldest first.
func (s *Store) ListTasksByStatus(ctx context.Context, status task.Status, opts task.ListOpts) ([]*task.Task, error) {
	filter := bson.M{"status": string(status)}
	if opts.Queue != "" {
		filter["queue"] = opts.Queue
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	return s.findTasks(ctx, filter, findOpts)
}

// ReportProgress stores progress on a running task.
func (s *Store) ReportProgress(ctx context.Context, taskID id.TaskID, progress any) error {
	res, err := s.db.Collection(colTasks).UpdateOne(ctx,
		bson.M{"_id": taskID.String(), "status": bson.M{"$in": runningStatuses}},
		bson.M{"$set": bson.M{
			"progress":   progress,
			"status":     string(task.StatusProgress),
			"updated_at": now(),
		}},
	)
	if err != nil {
		return fmt.Errorf("conductor/mongo: report progress: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, getErr := s.GetTask(ctx, taskID); getErr != nil {
			return getErr
		}
		return conductor.ErrInvalidState
	}
	return nil
}

// HeartbeatTask updates the heartbeat timestamp for a running task.
func (s *Store) HeartbeatTask(ctx context.Context, taskID id.TaskID, workerID id.WorkerID) error {
	t := now()
	res, err := s.db.Collection(colTasks).UpdateOne(ctx,
		bson.M{"_id": taskID.String()},
		bson.M{"$set": bson.M{
			"heartbeat_at": t,
			"worker_id":    workerID.String(),
			"updated_at":   t,
		}},
	)
	if err != nil {
		return fmt.Errorf("conductor/mongo: heartbeat task: %w", err)
	}
	if res.MatchedCount == 0 {
		return conductor.ErrTaskNotFound
	}
	return nil
}

// ReapStaleTasks returns STARTED or PROGRESS tasks whose last heartbeat is
// older than the given threshold.
func (s *Store) ReapStaleTasks(ctx context.Context, threshold time.Duration) ([]*task.Task, error) {
	filter := bson.M{
		"status":       bson.M{"$in": runningStatuses},
		"heartbeat_at": bson.M{"$lt": now().Add(-threshold)},
	}
	return s.findTasks(ctx, filter, options.Find())
}

// RecoverStaleTask replaces a task that is still running with a stale
// heartbeat.
func (s *Store) RecoverStaleTask(ctx context.Context, t *task.Task, threshold time.Duration) (bool, error) {
	m := toTaskModel(t)
	m.UpdatedAt = now()

	res, err := s.db.Collection(colTasks).ReplaceOne(ctx,
		bson.M{
			"_id":          m.ID,
			"status":       bson.M{"$in": runningStatuses},
			"heartbeat_at": bson.M{"$lt": now().Add(-threshold)},
		},
		m,
	)
	if err != nil {
		return false, fmt.Errorf("conductor/mongo: recover stale task: %w", err)
	}
	return res.MatchedCount > 0, nil
}

// CountTasks returns the number of tasks matching the given options.
func (s *Store) CountTasks(ctx context.Context, opts task.CountOpts) (int64, error) {
	filter := bson.M{}
	if opts.Queue != "" {
		filter["queue"] = opts.Queue
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	count, err := s.db.Collection(colTasks).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("conductor/mongo: count tasks: %w", err)
	}
	return count, nil
}

func (s *Store) findTasks(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]*task.Task, error) {
	cur, err := s.db.Collection(colTasks).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("conductor/mongo: find tasks: %w", err)
	}

	var models []taskModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("conductor/mongo: decode tasks: %w", err)
	}

	tasks := make([]*task.Task, 0, len(models))
	for i := range models {
		t, err := fromTaskModel(&models[i])
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
