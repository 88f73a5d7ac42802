package workflow

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/task"
)

// maxLedgerReads bounds concurrent ledger reads for one read-model.
const maxLedgerReads = 8

// EmbellishOpts selects which ledger records the read-model includes.
type EmbellishOpts struct {
	// LastTaskRun includes the ledger record of each step's latest run.
	LastTaskRun bool
	// PrevTaskRuns includes the ledger records of earlier runs.
	PrevTaskRuns bool
}

// EmbellishedStep is a step with its derived status.
type EmbellishedStep struct {
	Name         string       `json:"name"`
	Task         string       `json:"task"`
	Queue        string       `json:"queue,omitempty"`
	Status       task.Status  `json:"status"`
	RunHistory   []RunRecord  `json:"run_history"`
	LastTaskRun  *task.Task   `json:"last_task_run,omitempty"`
	PrevTaskRuns []*task.Task `json:"prev_task_runs,omitempty"`
}

// EmbellishedWorkflow is the read-model of an instance rendered for
// operators.
type EmbellishedWorkflow struct {
	ID             id.WorkflowID     `json:"id"`
	DefinitionName string            `json:"definition_name"`
	OwnerTag       string            `json:"owner_tag"`
	InitialArgs    []any             `json:"initial_args,omitempty"`
	Revision       int64             `json:"revision"`
	Status         task.Status       `json:"status"`
	PendingStep    string            `json:"pending_step,omitempty"`
	Steps          []EmbellishedStep `json:"steps"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Embellish loads an instance and joins it with the ledger. The aggregate
// status follows the same rule as Status.
func (m *Manager) Embellish(ctx context.Context, wfID id.WorkflowID, opts EmbellishOpts) (*EmbellishedWorkflow, error) {
	inst, err := m.store.GetWorkflow(ctx, wfID)
	if err != nil {
		return nil, err
	}

	steps := make([]EmbellishedStep, len(inst.Steps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxLedgerReads)
	for i := range inst.Steps {
		g.Go(func() error {
			es, err := m.embellishStep(gctx, inst, i, opts)
			if err != nil {
				return err
			}
			steps[i] = es
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	view := &EmbellishedWorkflow{
		ID:             inst.ID,
		DefinitionName: inst.DefinitionName,
		OwnerTag:       inst.OwnerTag,
		InitialArgs:    inst.InitialArgs,
		Revision:       inst.Revision,
		Status:         task.StatusSuccess,
		Steps:          steps,
		CreatedAt:      inst.CreatedAt,
		UpdatedAt:      inst.UpdatedAt,
	}
	for i, s := range steps {
		if s.Status != task.StatusSuccess {
			view.Status = Project(i, s.Status)
			view.PendingStep = s.Name
			break
		}
	}
	return view, nil
}

func (m *Manager) embellishStep(ctx context.Context, inst *Instance, i int, opts EmbellishOpts) (EmbellishedStep, error) {
	s := &inst.Steps[i]
	es := EmbellishedStep{
		Name:       s.Name,
		Task:       s.Task,
		Queue:      s.Queue,
		RunHistory: s.RunHistory,
	}

	latest, err := latestTask(ctx, m.ledger, m.cache, s, settled(inst, i))
	if err != nil {
		return es, err
	}
	es.Status = statusOf(latest)
	if opts.LastTaskRun {
		es.LastTaskRun = latest
	}

	if opts.PrevTaskRuns && len(s.RunHistory) > 1 {
		for j := range s.RunHistory[:len(s.RunHistory)-1] {
			// Earlier runs were superseded and their records no longer change
			// once final.
			t, err := lookupTask(ctx, m.ledger, m.cache, &s.RunHistory[j], true)
			if err != nil {
				return es, err
			}
			if t != nil {
				es.PrevTaskRuns = append(es.PrevTaskRuns, t)
			}
		}
	}
	return es, nil
}
