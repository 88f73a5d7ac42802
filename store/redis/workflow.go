package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/workflow"
)

// stepRecord is the msgpack shape of one step and its run history.
type stepRecord struct {
	Name       string      `msgpack:"name"`
	Task       string      `msgpack:"task"`
	Queue      string      `msgpack:"queue,omitempty"`
	RunHistory []runRecord `msgpack:"run_history"`
}

type runRecord struct {
	TaskID    string     `msgpack:"task_id"`
	DateStart time.Time  `msgpack:"date_start"`
	DateEnd   *time.Time `msgpack:"date_end,omitempty"`
}

// InsertWorkflow persists a new instance and indexes it by age.
func (s *Store) InsertWorkflow(ctx context.Context, inst *workflow.Instance) error {
	wID := inst.ID.String()
	key := workflowKey(wID)

	fields, err := workflowToMap(inst)
	if err != nil {
		return fmt.Errorf("conductor/redis: insert workflow: %w", err)
	}

	err = s.watch(ctx, func(tx *goredis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return conductor.ErrWorkflowAlreadyExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			pipe.ZAdd(ctx, workflowsByAgeKey, goredis.Z{
				Score:  float64(inst.CreatedAt.UnixMilli()),
				Member: wID,
			})
			return nil
		})
		return err
	}, key)
	if err != nil {
		if errors.Is(err, conductor.ErrWorkflowAlreadyExists) {
			return err
		}
		return fmt.Errorf("conductor/redis: insert workflow: %w", err)
	}
	return nil
}

// GetWorkflow retrieves an instance by ID.
func (s *Store) GetWorkflow(ctx context.Context, wfID id.WorkflowID) (*workflow.Instance, error) {
	vals, err := s.client.HGetAll(ctx, workflowKey(wfID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("conductor/redis: get workflow: %w", err)
	}
	if len(vals) == 0 {
		return nil, conductor.ErrWorkflowNotFound
	}
	return mapToWorkflow(vals)
}

// UpdateWorkflow replaces an instance when the stored revision matches
// inst.Revision, then advances inst.Revision. The compare and the write
// share one WATCH transaction.
func (s *Store) UpdateWorkflow(ctx context.Context, inst *workflow.Instance) error {
	key := workflowKey(inst.ID.String())

	next := *inst
	next.Revision = inst.Revision + 1
	fields, err := workflowToMap(&next)
	if err != nil {
		return fmt.Errorf("conductor/redis: update workflow: %w", err)
	}

	err = s.client.Watch(ctx, func(tx *goredis.Tx) error {
		cur, err := tx.HGet(ctx, key, "revision").Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return conductor.ErrWorkflowNotFound
			}
			return err
		}
		rev, _ := strconv.ParseInt(cur, 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data
		if rev != inst.Revision {
			return conductor.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		inst.Revision++
		return nil
	case errors.Is(err, goredis.TxFailedErr):
		// Another writer touched the instance between compare and write.
		return conductor.ErrConflict
	case errors.Is(err, conductor.ErrWorkflowNotFound), errors.Is(err, conductor.ErrConflict):
		return err
	default:
		return fmt.Errorf("conductor/redis: update workflow: %w", err)
	}
}

// DeleteWorkflows removes the given instances and returns how many
// existed.
func (s *Store) DeleteWorkflows(ctx context.Context, wfIDs []id.WorkflowID) (int64, error) {
	if len(wfIDs) == 0 {
		return 0, nil
	}

	pipe := s.client.TxPipeline()
	dels := make([]*goredis.IntCmd, len(wfIDs))
	for i, wfID := range wfIDs {
		wID := wfID.String()
		dels[i] = pipe.Del(ctx, workflowKey(wID))
		pipe.ZRem(ctx, workflowsByAgeKey, wID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("conductor/redis: delete workflows: %w", err)
	}

	var n int64
	for _, d := range dels {
		n += d.Val()
	}
	return n, nil
}

// ListWorkflows returns instances matching the options, newest first.
func (s *Store) ListWorkflows(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Instance, error) {
	ids, err := s.client.ZRevRange(ctx, workflowsByAgeKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("conductor/redis: list workflows: %w", err)
	}

	var result []*workflow.Instance
	err = s.eachWorkflow(ctx, ids, func(inst *workflow.Instance) bool {
		if opts.OwnerTag != "" && inst.OwnerTag != opts.OwnerTag {
			return true
		}
		if opts.DefinitionName != "" && inst.DefinitionName != opts.DefinitionName {
			return true
		}
		result = append(result, inst)
		return true
	})
	if err != nil {
		return nil, err
	}
	return paginate(result, opts.Offset, opts.Limit), nil
}

// FindStaleWorkflows returns purge candidates, oldest first. The age
// index bounds the scan to instances created before q.CreatedBefore.
func (s *Store) FindStaleWorkflows(ctx context.Context, q workflow.StaleQuery) ([]*workflow.Instance, error) {
	ids, err := s.client.ZRangeByScore(ctx, workflowsByAgeKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(q.CreatedBefore.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("conductor/redis: find stale workflows: %w", err)
	}

	var result []*workflow.Instance
	err = s.eachWorkflow(ctx, ids, func(inst *workflow.Instance) bool {
		if inst.OwnerTag != q.OwnerTag {
			return true
		}
		if len(q.DefinitionNames) > 0 && !slices.Contains(q.DefinitionNames, inst.DefinitionName) {
			return true
		}
		if slices.Contains(q.Exclude, inst.ID) {
			return true
		}
		result = append(result, inst)
		return q.Limit <= 0 || len(result) < q.Limit
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// eachWorkflow loads ids in order and calls fn until it returns false.
func (s *Store) eachWorkflow(ctx context.Context, ids []string, fn func(*workflow.Instance) bool) error {
	for _, wID := range ids {
		vals, err := s.client.HGetAll(ctx, workflowKey(wID)).Result()
		if err != nil {
			return fmt.Errorf("conductor/redis: load workflow: %w", err)
		}
		if len(vals) == 0 {
			continue
		}
		inst, err := mapToWorkflow(vals)
		if err != nil {
			s.logger.Warn("skipping undecodable workflow", "workflow_id", wID, "error", err)
			continue
		}
		if !fn(inst) {
			return nil
		}
	}
	return nil
}

// ── helpers ──

func workflowToMap(inst *workflow.Instance) (map[string]any, error) {
	steps := make([]stepRecord, len(inst.Steps))
	for i, st := range inst.Steps {
		runs := make([]runRecord, len(st.RunHistory))
		for k, r := range st.RunHistory {
			runs[k] = runRecord{TaskID: r.TaskID.String(), DateStart: r.DateStart, DateEnd: r.DateEnd}
		}
		steps[i] = stepRecord{Name: st.Name, Task: st.Task, Queue: st.Queue, RunHistory: runs}
	}

	packedSteps, err := pack(steps)
	if err != nil {
		return nil, fmt.Errorf("encode steps: %w", err)
	}
	packedArgs, err := pack(inst.InitialArgs)
	if err != nil {
		return nil, fmt.Errorf("encode initial args: %w", err)
	}

	return map[string]any{
		"id":              inst.ID.String(),
		"definition_name": inst.DefinitionName,
		"owner_tag":       inst.OwnerTag,
		"initial_args":    packedArgs,
		"revision":        strconv.FormatInt(inst.Revision, 10),
		"steps":           packedSteps,
		"created_at":      formatTime(inst.CreatedAt),
		"updated_at":      formatTime(inst.UpdatedAt),
	}, nil
}

func mapToWorkflow(m map[string]string) (*workflow.Instance, error) {
	wID, err := id.ParseWorkflowID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("conductor/redis: parse workflow id: %w", err)
	}
	rev, _ := strconv.ParseInt(m["revision"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data

	inst := &workflow.Instance{
		Entity: conductor.Entity{
			CreatedAt: parseTime(m["created_at"]),
			UpdatedAt: parseTime(m["updated_at"]),
		},
		ID:             wID,
		DefinitionName: m["definition_name"],
		OwnerTag:       m["owner_tag"],
		Revision:       rev,
	}
	if err := unpack(m["initial_args"], &inst.InitialArgs); err != nil {
		return nil, fmt.Errorf("conductor/redis: decode initial args: %w", err)
	}

	var steps []stepRecord
	if err := unpack(m["steps"], &steps); err != nil {
		return nil, fmt.Errorf("conductor/redis: decode steps: %w", err)
	}
	inst.Steps = make([]workflow.Step, len(steps))
	for i, st := range steps {
		runs := make([]workflow.RunRecord, len(st.RunHistory))
		for k, r := range st.RunHistory {
			taskID, err := id.ParseTaskID(r.TaskID)
			if err != nil {
				return nil, fmt.Errorf("conductor/redis: parse run task id: %w", err)
			}
			runs[k] = workflow.RunRecord{TaskID: taskID, DateStart: r.DateStart.UTC()}
			if r.DateEnd != nil {
				end := r.DateEnd.UTC()
				runs[k].DateEnd = &end
			}
		}
		inst.Steps[i] = workflow.Step{
			StepDef:    workflow.StepDef{Name: st.Name, Task: st.Task, Queue: st.Queue},
			RunHistory: runs,
		}
	}
	return inst, nil
}
