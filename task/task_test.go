package task_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/task"
)

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		status   task.Status
		terminal bool
	}{
		{task.StatusPending, false},
		{task.StatusStarted, false},
		{task.StatusRetry, false},
		{task.StatusProgress, false},
		{task.StatusFailure, true},
		{task.StatusRevoked, true},
		{task.StatusSuccess, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.terminal)
		}
		if got := tt.status.InFlight(); got == tt.terminal {
			t.Errorf("%s.InFlight() = %v, want %v", tt.status, got, !tt.terminal)
		}
		if !tt.status.Valid() {
			t.Errorf("%s.Valid() = false", tt.status)
		}
	}
	if task.Status("QUEUED").Valid() {
		t.Error("unknown status reported valid")
	}
}

func TestResultSubject(t *testing.T) {
	if got, err := (task.Result{42, "aux"}).Subject(); err != nil || got != 42 {
		t.Fatalf("Subject() = %v, %v; want 42, nil", got, err)
	}

	bad := []task.Result{
		nil,
		{},
		{nil, "aux"},
		{map[string]any{"id": 1}},
		{[]any{1, 2}},
	}
	for _, r := range bad {
		_, err := r.Subject()
		if !errors.Is(err, conductor.ErrChainContract) {
			t.Errorf("Subject(%v) err = %v, want ErrChainContract", r, err)
		}
		var ce *conductor.ChainError
		if !errors.As(err, &ce) {
			t.Errorf("Subject(%v) err is %T, want *conductor.ChainError", r, err)
		}
	}
}

func TestWorkflowRef(t *testing.T) {
	wfID := id.NewWorkflowID()
	tk := &task.Task{Kwargs: task.StepKwargs(wfID, "archive")}

	got, step, ok := tk.WorkflowRef()
	if !ok {
		t.Fatal("WorkflowRef() ok = false, want true")
	}
	if got != wfID || step != "archive" {
		t.Errorf("WorkflowRef() = %s, %q; want %s, %q", got, step, wfID, "archive")
	}

	for _, kw := range []map[string]any{
		nil,
		{task.KwargStep: "archive"},
		{task.KwargWorkflowID: wfID.String()},
		{task.KwargWorkflowID: "garbage", task.KwargStep: "archive"},
	} {
		if _, _, ok := (&task.Task{Kwargs: kw}).WorkflowRef(); ok {
			t.Errorf("WorkflowRef(%v) ok = true, want false", kw)
		}
	}
}

func TestClone(t *testing.T) {
	orig := &task.Task{Args: []any{1}, Kwargs: map[string]any{"a": 1}}
	cp := orig.Clone()
	cp.Args[0] = 2
	cp.Kwargs["a"] = 2
	if orig.Args[0] != 1 || orig.Kwargs["a"] != 1 {
		t.Fatal("Clone shares argument containers with the original")
	}
}

type recordingReporter struct {
	got []any
}

func (r *recordingReporter) ReportProgress(_ context.Context, p any) error {
	r.got = append(r.got, p)
	return nil
}

func TestReportProgress(t *testing.T) {
	// Direct invocation is a no-op.
	if err := task.ReportProgress(context.Background(), "ignored"); err != nil {
		t.Fatalf("ReportProgress without reporter: %v", err)
	}

	rep := &recordingReporter{}
	ctx := task.WithReporter(context.Background(), rep)
	if err := task.ReportProgress(ctx, map[string]int{"done": 5}); err != nil {
		t.Fatalf("ReportProgress: %v", err)
	}
	if len(rep.got) != 1 {
		t.Fatalf("reports = %d, want 1", len(rep.got))
	}
}
