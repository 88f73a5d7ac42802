package workflow_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/task"
	"github.com/xraph/conductor/workflow"
)

func TestHook_ChainsPrimaryIdentifier(t *testing.T) {
	h := newHarness(t)
	inst := h.create(t, "fetch", "load")
	first, err := h.manager.Start(context.Background(), inst, "X")
	if err != nil {
		t.Fatal(err)
	}

	h.run(t, first, task.Result{"X", map[string]any{"k": 1}})

	subs := h.dispatcher.submissions()
	if len(subs) != 2 {
		t.Fatalf("%d submissions, want 2", len(subs))
	}
	next := subs[1]
	if next.Name != "load" {
		t.Errorf("chained %q, want %q", next.Name, "load")
	}
	if len(next.Args) != 1 || next.Args[0] != "X" {
		t.Errorf("chained args = %v, want [X]", next.Args)
	}
	if next.Kwargs[task.KwargWorkflowID] != inst.ID.String() || next.Kwargs[task.KwargStep] != "load" {
		t.Errorf("chained kwargs = %v, want workflow_id=%s step=load", next.Kwargs, inst.ID)
	}

	got := h.load(t, inst)
	if r := got.Steps[0].LatestRun(); r == nil || r.DateEnd == nil {
		t.Fatal("first step's run was not closed")
	}
	if r := got.Steps[1].LatestRun(); r == nil || r.TaskID != next.TaskID {
		t.Fatalf("second step run = %+v, want task %s", r, next.TaskID)
	}
}

func TestHook_ChainingContractViolation(t *testing.T) {
	tests := []struct {
		name   string
		result task.Result
	}{
		{"empty result", task.Result{}},
		{"nil subject", task.Result{nil, "aux"}},
		{"map subject", task.Result{map[string]any{"id": "X"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			inst := h.create(t, "fetch", "load")
			first, err := h.manager.Start(context.Background(), inst, "X")
			if err != nil {
				t.Fatal(err)
			}

			err = h.succeed(t, h.claim(t, first), tt.result)
			if !errors.Is(err, conductor.ErrChainContract) {
				t.Fatalf("error = %v, want %v", err, conductor.ErrChainContract)
			}
			var cerr *conductor.ChainError
			if !errors.As(err, &cerr) || cerr.Step != "fetch" || cerr.TaskID != first.String() {
				t.Fatalf("error = %#v, want a ChainError for step fetch task %s", err, first)
			}

			if n := len(h.dispatcher.submissions()); n != 1 {
				t.Fatalf("%d submissions, want 1", n)
			}
			if st := h.status(t, inst); st != task.StatusFailure {
				t.Fatalf("status = %q, want %q", st, task.StatusFailure)
			}
		})
	}
}

func TestHook_LastStepCompletes(t *testing.T) {
	h := newHarness(t)
	inst := h.create(t, "fetch")
	first, err := h.manager.Start(context.Background(), inst, "X")
	if err != nil {
		t.Fatal(err)
	}
	h.run(t, first, task.Result{"X"})

	if n := len(h.dispatcher.submissions()); n != 1 {
		t.Fatalf("%d submissions, want 1", n)
	}
	if st := h.status(t, inst); st != task.StatusSuccess {
		t.Fatalf("status = %q, want %q", st, task.StatusSuccess)
	}
}

func TestHook_BeforeStartIsIdempotent(t *testing.T) {
	h := newHarness(t)
	inst := h.create(t, "fetch")
	first, err := h.manager.Start(context.Background(), inst, "X")
	if err != nil {
		t.Fatal(err)
	}
	submittedAt := h.load(t, inst).Steps[0].RunHistory[0].DateStart

	tk := h.claim(t, first)
	if err := h.hook.BeforeStart(context.Background(), tk); err != nil {
		t.Fatal(err)
	}

	runs := h.load(t, inst).Steps[0].RunHistory
	if len(runs) != 1 {
		t.Fatalf("run history has %d records, want 1", len(runs))
	}
	if runs[0].DateStart.Before(submittedAt) {
		t.Fatalf("date_start %v moved before submission %v", runs[0].DateStart, submittedAt)
	}
}

func TestHook_IgnoresPlainTasks(t *testing.T) {
	h := newHarness(t)
	tk := &task.Task{ID: id.NewTaskID(), Name: "fetch"}
	ctx := context.Background()

	if err := h.hook.BeforeStart(ctx, tk); err != nil {
		t.Fatalf("BeforeStart: %v", err)
	}
	if err := h.hook.ValidateResult(ctx, tk, task.Result{}); err != nil {
		t.Fatalf("ValidateResult: %v", err)
	}
	if err := h.hook.OnSuccess(ctx, tk, task.Result{}); err != nil {
		t.Fatalf("OnSuccess: %v", err)
	}
	if n := len(h.dispatcher.submissions()); n != 0 {
		t.Fatalf("%d submissions, want 0", n)
	}
}

func TestHook_BeforeStartFailsForDeletedWorkflow(t *testing.T) {
	h := newHarness(t)
	tk := &task.Task{ID: id.NewTaskID(), Kwargs: task.StepKwargs(id.NewWorkflowID(), "fetch")}

	err := h.hook.BeforeStart(context.Background(), tk)
	if !errors.Is(err, conductor.ErrWorkflowNotFound) {
		t.Fatalf("BeforeStart = %v, want %v", err, conductor.ErrWorkflowNotFound)
	}
}

func TestHook_SupersededRunDoesNotChain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inst := h.create(t, "fetch", "load")
	first, err := h.manager.Start(ctx, inst, "X")
	if err != nil {
		t.Fatal(err)
	}
	old := h.claim(t, first)

	res, err := h.manager.Resume(ctx, inst, workflow.ResumeOpts{Force: true})
	if err != nil || !res.Resumed {
		t.Fatalf("forced Resume = %+v, %v, want resumed", res, err)
	}

	// The original attempt finishes after being superseded.
	if err := h.succeed(t, old, task.Result{"X"}); err != nil {
		t.Fatalf("superseded success: %v", err)
	}
	if n := len(h.dispatcher.submissions()); n != 2 {
		t.Fatalf("%d submissions, want 2 (start and resume only)", n)
	}

	// The current attempt chains normally.
	h.run(t, res.TaskID, task.Result{"X"})
	subs := h.dispatcher.submissions()
	if len(subs) != 3 || subs[2].Name != "load" {
		t.Fatalf("submissions = %d, want the next step chained once", len(subs))
	}
}

func TestHook_SubmitFailureStallsVisibly(t *testing.T) {
	h := newHarness(t)
	inst := h.create(t, "fetch", "load")
	first, err := h.manager.Start(context.Background(), inst, "X")
	if err != nil {
		t.Fatal(err)
	}
	tk := h.claim(t, first)

	boom := errors.New("broker unreachable")
	h.dispatcher.submitErr = boom
	if err := h.succeed(t, tk, task.Result{"X"}); !errors.Is(err, boom) {
		t.Fatalf("OnSuccess = %v, want %v", err, boom)
	}
	if st := h.status(t, inst); st != task.StatusFailure {
		t.Fatalf("status = %q, want %q", st, task.StatusFailure)
	}
}

func TestUpdateProgress_OutsideWorker(t *testing.T) {
	if err := workflow.UpdateProgress(context.Background(), map[string]int{"done": 1}); err != nil {
		t.Fatalf("UpdateProgress = %v, want nil", err)
	}
}
