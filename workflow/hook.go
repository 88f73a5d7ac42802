package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/task"
)

// Hook advances workflow instances from inside the worker pool. Attach it
// to the executor; it ignores tasks that carry no workflow metadata.
type Hook struct {
	m *Manager
}

// NewHook returns the step hook for instances managed by m.
func NewHook(m *Manager) *Hook {
	return &Hook{m: m}
}

// BeforeStart records the run on its step with the actual start time. A
// record appended at submission is updated in place. The task fails when
// its instance no longer exists.
func (h *Hook) BeforeStart(ctx context.Context, t *task.Task) error {
	wfID, step, ok := t.WorkflowRef()
	if !ok {
		return nil
	}
	start := time.Now().UTC()
	if t.StartedAt != nil {
		start = *t.StartedAt
	}
	if _, err := h.m.recordRun(ctx, wfID, step, t.ID, start); err != nil {
		return fmt.Errorf("record run of step %q: %w", step, err)
	}
	return nil
}

// ValidateResult checks the chaining contract before the result is
// recorded, so a malformed result fails the task instead of succeeding
// without a successor.
func (h *Hook) ValidateResult(ctx context.Context, t *task.Task, result task.Result) error {
	wfID, step, ok := t.WorkflowRef()
	if !ok {
		return nil
	}
	if _, err := result.Subject(); err != nil {
		cerr := chainError(t, step, err)
		if inst, lerr := h.m.store.GetWorkflow(ctx, wfID); lerr == nil {
			h.m.emitter.EmitWorkflowStalled(ctx, inst, step, cerr)
		}
		return cerr
	}
	return nil
}

// OnSuccess closes the run record and submits the next step with the
// first element of result as its only argument. A success of a run that
// is no longer the step's latest, such as a revoked attempt that finished
// after a resume, closes its record but chains nothing.
func (h *Hook) OnSuccess(ctx context.Context, t *task.Task, result task.Result) error {
	wfID, stepName, ok := t.WorkflowRef()
	if !ok {
		return nil
	}
	subject, err := result.Subject()
	if err != nil {
		return chainError(t, stepName, err)
	}

	end := time.Now().UTC()
	latest := false
	inst, err := h.m.mutate(ctx, wfID, func(inst *Instance) error {
		s := inst.Step(stepName)
		if s == nil {
			return fmt.Errorf("%w: %q in workflow %s", conductor.ErrStepNotFound, stepName, wfID)
		}
		start := end
		if t.StartedAt != nil {
			start = *t.StartedAt
		}
		s.recordRun(t.ID, start)
		s.Run(t.ID).DateEnd = &end
		latest = s.LatestRun().TaskID == t.ID
		return nil
	})
	if err != nil {
		return fmt.Errorf("close run of step %q: %w", stepName, err)
	}

	logger := h.m.logger.With(
		slog.String("workflow_id", wfID.String()),
		slog.String("step", stepName),
		slog.String("task_id", t.ID.String()),
	)
	if !latest {
		logger.Info("superseded run succeeded, not chaining")
		return nil
	}

	next := inst.NextStep(stepName)
	if next == nil {
		logger.Info("workflow completed")
		h.m.emitter.EmitWorkflowCompleted(ctx, inst)
		return nil
	}

	var observed id.TaskID
	if r := next.LatestRun(); r != nil {
		observed = r.TaskID
	}
	step := *next
	taskID, err := h.m.submitStep(ctx, inst, &step, []any{subject}, latestRunIs(step.Name, observed))
	if errors.Is(err, errResubmitted) {
		logger.Info("next step already submitted, not chaining", slog.String("next_step", step.Name))
		return nil
	}
	if err != nil {
		h.m.emitter.EmitWorkflowStalled(ctx, inst, stepName, err)
		return err
	}
	h.m.emitter.EmitWorkflowStepSubmitted(ctx, inst, step.Name, taskID)
	return nil
}

// UpdateProgress attaches progress to the task running under ctx. Called
// outside the worker pool it does nothing.
func UpdateProgress(ctx context.Context, progress any) error {
	return task.ReportProgress(ctx, progress)
}

func chainError(t *task.Task, step string, err error) error {
	var cerr *conductor.ChainError
	if !errors.As(err, &cerr) {
		return err
	}
	out := *cerr
	out.TaskID = t.ID.String()
	out.Step = step
	return &out
}
