package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/task"
)

// PauseResult reports the outcome of Manager.Pause.
type PauseResult struct {
	Paused      bool      `json:"paused"`
	RevokedStep string    `json:"revoked_step,omitempty"`
	TaskID      id.TaskID `json:"task_id,omitempty"`
}

// ResumeOpts controls Manager.Resume.
type ResumeOpts struct {
	// Force resubmits the pending step whatever its status.
	Force bool
	// OverrideArgs replaces the arguments of the latest run.
	OverrideArgs []any
}

// ResumeResult reports the outcome of Manager.Resume.
type ResumeResult struct {
	Resumed bool      `json:"resumed"`
	Step    string    `json:"step,omitempty"`
	TaskID  id.TaskID `json:"task_id,omitempty"`
}

// Pause revokes the latest run of the pending step with terminate. It
// does nothing and reports Paused false when the pipeline is complete,
// when the pending step already reached a final status, or when the
// pending step was never submitted. Pausing twice is therefore harmless.
func (m *Manager) Pause(ctx context.Context, inst *Instance) (PauseResult, error) {
	if err := m.Refresh(ctx, inst); err != nil {
		return PauseResult{}, err
	}
	p, err := m.PendingStep(ctx, inst)
	if err != nil {
		return PauseResult{}, err
	}
	if p == nil || p.Status.Terminal() {
		return PauseResult{}, nil
	}
	run := p.Step.LatestRun()
	if run == nil {
		return PauseResult{}, nil
	}

	if err := m.dispatcher.Revoke(ctx, run.TaskID, true); err != nil {
		return PauseResult{}, fmt.Errorf("revoke step %q of workflow %s: %w", p.Step.Name, inst.ID, err)
	}

	m.emitter.EmitWorkflowPaused(ctx, inst, p.Step.Name)
	m.logger.Info("workflow paused",
		slog.String("workflow_id", inst.ID.String()),
		slog.String("step", p.Step.Name),
		slog.String("task_id", run.TaskID.String()),
	)
	return PauseResult{Paused: true, RevokedStep: p.Step.Name, TaskID: run.TaskID}, nil
}

// Resume resubmits the pending step when its latest run failed or was
// revoked, or unconditionally with Force. The arguments are those of the
// latest run unless OverrideArgs is set. When there is nothing to resume,
// or no arguments can be determined, it reports Resumed false. A step
// resubmitted by a concurrent Resume returns conductor.ErrInvalidState.
func (m *Manager) Resume(ctx context.Context, inst *Instance, opts ResumeOpts) (ResumeResult, error) {
	if err := m.Refresh(ctx, inst); err != nil {
		return ResumeResult{}, err
	}
	p, err := m.PendingStep(ctx, inst)
	if err != nil {
		return ResumeResult{}, err
	}
	if p == nil {
		return ResumeResult{}, nil
	}
	if !opts.Force && p.Status != task.StatusFailure && p.Status != task.StatusRevoked {
		return ResumeResult{}, nil
	}

	args := opts.OverrideArgs
	if args == nil {
		var ok bool
		args, ok, err = m.lastArgs(ctx, p.Step)
		if err != nil {
			return ResumeResult{}, err
		}
		if !ok {
			m.logger.Info("nothing to resume from",
				slog.String("workflow_id", inst.ID.String()),
				slog.String("step", p.Step.Name),
			)
			return ResumeResult{}, nil
		}
	}

	stepName := p.Step.Name
	var observed id.TaskID
	if r := p.Step.LatestRun(); r != nil {
		observed = r.TaskID
	}
	step := *inst.Step(stepName)
	taskID, err := m.submitStep(ctx, inst, &step, args, latestRunIs(stepName, observed))
	if err != nil {
		return ResumeResult{}, err
	}

	m.emitter.EmitWorkflowResumed(ctx, inst, stepName, taskID)
	m.logger.Info("workflow resumed",
		slog.String("workflow_id", inst.ID.String()),
		slog.String("step", stepName),
		slog.String("task_id", taskID.String()),
		slog.Bool("forced", opts.Force),
	)
	return ResumeResult{Resumed: true, Step: stepName, TaskID: taskID}, nil
}

// lastArgs returns the arguments of the step's latest run.
func (m *Manager) lastArgs(ctx context.Context, s *Step) ([]any, bool, error) {
	r := s.LatestRun()
	if r == nil {
		return nil, false, nil
	}
	t, err := lookupTask(ctx, m.ledger, m.cache, r, false)
	if err != nil || t == nil {
		return nil, false, err
	}
	return slices.Clone(t.Args), true, nil
}
