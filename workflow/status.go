package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/task"
)

// PendingStep is the first step of an instance that has not succeeded.
type PendingStep struct {
	Index  int
	Step   *Step
	Status task.Status
}

// Project maps the pending step's position and ledger status to the
// aggregate status of the instance. Queued, running and retrying steps
// collapse to STARTED, except that an untouched first step is still
// PENDING. PROGRESS and final statuses are reported as they are.
func Project(idx int, status task.Status) task.Status {
	switch status {
	case task.StatusPending:
		if idx == 0 {
			return task.StatusPending
		}
		return task.StatusStarted
	case task.StatusStarted, task.StatusRetry:
		return task.StatusStarted
	default:
		return status
	}
}

// StepStatus returns the ledger status of the step's latest run. A step
// that was never submitted, or whose ledger record no longer exists, is
// PENDING.
func StepStatus(ctx context.Context, ledger Ledger, s *Step) (task.Status, error) {
	t, err := latestTask(ctx, ledger, nil, s, false)
	if err != nil {
		return "", err
	}
	return statusOf(t), nil
}

// FindPendingStep returns the first step whose latest run has not
// succeeded, or nil when every step succeeded.
func FindPendingStep(ctx context.Context, ledger Ledger, inst *Instance) (*PendingStep, error) {
	return findPendingStep(ctx, ledger, nil, inst)
}

// ProjectStatus returns the aggregate status of inst.
func ProjectStatus(ctx context.Context, ledger Ledger, inst *Instance) (task.Status, error) {
	p, err := FindPendingStep(ctx, ledger, inst)
	if err != nil {
		return "", err
	}
	return projectPending(p), nil
}

func projectPending(p *PendingStep) task.Status {
	if p == nil {
		return task.StatusSuccess
	}
	return Project(p.Index, p.Status)
}

func findPendingStep(ctx context.Context, ledger Ledger, cache *statusCache, inst *Instance) (*PendingStep, error) {
	for i := range inst.Steps {
		s := &inst.Steps[i]
		t, err := latestTask(ctx, ledger, cache, s, settled(inst, i))
		if err != nil {
			return nil, err
		}
		if st := statusOf(t); st != task.StatusSuccess {
			return &PendingStep{Index: i, Step: s, Status: st}, nil
		}
	}
	return nil, nil
}

// settled reports whether a SUCCESS record of step i can no longer change:
// its successor was submitted, or it is the last step and its run was
// closed.
func settled(inst *Instance, i int) bool {
	if i+1 < len(inst.Steps) {
		return len(inst.Steps[i+1].RunHistory) > 0
	}
	r := inst.Steps[i].LatestRun()
	return r != nil && r.DateEnd != nil
}

// latestTask loads the ledger record of the step's latest run. It returns
// nil when the step has no run or the record is gone.
func latestTask(ctx context.Context, ledger Ledger, cache *statusCache, s *Step, successFinal bool) (*task.Task, error) {
	r := s.LatestRun()
	if r == nil {
		return nil, nil
	}
	return lookupTask(ctx, ledger, cache, r, successFinal)
}

func lookupTask(ctx context.Context, ledger Ledger, cache *statusCache, r *RunRecord, successFinal bool) (*task.Task, error) {
	if t, ok := cache.get(r.TaskID); ok {
		return t, nil
	}
	t, err := ledger.GetTask(ctx, r.TaskID)
	if errors.Is(err, conductor.ErrTaskNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", r.TaskID, err)
	}
	switch t.Status {
	case task.StatusFailure, task.StatusRevoked:
		cache.put(t)
	case task.StatusSuccess:
		if successFinal {
			cache.put(t)
		}
	}
	return t, nil
}

func statusOf(t *task.Task) task.Status {
	if t == nil {
		return task.StatusPending
	}
	return t.Status
}
