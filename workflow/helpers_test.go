package workflow_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/store/memory"
	"github.com/xraph/conductor/task"
	"github.com/xraph/conductor/workflow"
)

// ──────────────────────────────────────────────────
// Fakes
// ──────────────────────────────────────────────────

type submission struct {
	Name   string
	Args   []any
	Kwargs map[string]any
	Opts   task.Options
	TaskID id.TaskID
}

// fakeDispatcher enqueues into the memory ledger and records every call.
type fakeDispatcher struct {
	ledger *memory.Store

	mu        sync.Mutex
	submitted []submission
	revoked   []id.TaskID
	submitErr error

	// beforeSubmit runs at the start of every Submit, outside the lock.
	beforeSubmit func()
}

func (d *fakeDispatcher) Submit(ctx context.Context, name string, args []any, kwargs map[string]any, opts ...task.Option) (id.TaskID, error) {
	if d.beforeSubmit != nil {
		d.beforeSubmit()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.submitErr != nil {
		return id.Nil, d.submitErr
	}

	o := task.DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	taskID := o.ID
	if taskID.IsNil() {
		taskID = id.NewTaskID()
	}
	t := &task.Task{
		Entity:     conductor.NewEntity(),
		ID:         taskID,
		Name:       name,
		Queue:      o.Queue,
		Args:       args,
		Kwargs:     kwargs,
		Status:     task.StatusPending,
		MaxRetries: o.MaxRetries,
		Owner:      o.Owner,
		RunAt:      time.Now().UTC(),
	}
	if err := d.ledger.EnqueueTask(ctx, t); err != nil {
		return id.Nil, err
	}
	d.submitted = append(d.submitted, submission{Name: name, Args: args, Kwargs: kwargs, Opts: o, TaskID: t.ID})
	return t.ID, nil
}

func (d *fakeDispatcher) Revoke(ctx context.Context, taskID id.TaskID, _ bool) error {
	d.mu.Lock()
	d.revoked = append(d.revoked, taskID)
	d.mu.Unlock()
	_, err := d.ledger.RevokeTask(ctx, taskID, "revoked")
	return err
}

func (d *fakeDispatcher) submissions() []submission {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]submission(nil), d.submitted...)
}

func (d *fakeDispatcher) revocations() []id.TaskID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]id.TaskID(nil), d.revoked...)
}

// countingLedger counts ledger reads.
type countingLedger struct {
	workflow.Ledger

	mu    sync.Mutex
	reads int
}

func (l *countingLedger) GetTask(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	l.mu.Lock()
	l.reads++
	l.mu.Unlock()
	return l.Ledger.GetTask(ctx, taskID)
}

func (l *countingLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reads
}

type staticLive struct {
	ids []id.WorkflowID
	err error
}

func (s staticLive) WorkflowIDs(context.Context, string) ([]id.WorkflowID, error) {
	return s.ids, s.err
}

// ──────────────────────────────────────────────────
// Harness
// ──────────────────────────────────────────────────

type harness struct {
	store      *memory.Store
	dispatcher *fakeDispatcher
	registry   *task.Registry
	manager    *workflow.Manager
	hook       *workflow.Hook
}

func noopHandler(_ context.Context, args []any, _ map[string]any) (task.Result, error) {
	return task.Result{args[0], nil}, nil
}

func newHarness(t *testing.T, opts ...workflow.ManagerOption) *harness {
	t.Helper()
	s := memory.New()
	reg := task.NewRegistry()
	for _, name := range []string{"fetch", "transform", "load", "index"} {
		task.RegisterFunc(reg, name, noopHandler)
	}
	d := &fakeDispatcher{ledger: s}
	m := workflow.NewManager(s, d, s, reg, nil, quietLogger(), opts...)
	return &harness{store: s, dispatcher: d, registry: reg, manager: m, hook: workflow.NewHook(m)}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// create persists an instance of a definition named "pipeline" with the
// given steps.
func (h *harness) create(t *testing.T, steps ...string) *workflow.Instance {
	t.Helper()
	inst, err := h.manager.Create(context.Background(), workflow.NewDefinition("pipeline", steps...), []any{"dataset-1"}, "app")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return inst
}

// claim simulates a worker picking up the task: STARTED plus the
// before-start hook.
func (h *harness) claim(t *testing.T, taskID id.TaskID) *task.Task {
	t.Helper()
	ctx := context.Background()
	tk, err := h.store.GetTask(ctx, taskID)
	if err != nil {
		t.Fatalf("GetTask(%s): %v", taskID, err)
	}
	now := time.Now().UTC()
	tk.Status = task.StatusStarted
	tk.StartedAt = &now
	if err := h.store.UpdateTask(ctx, tk); err != nil {
		t.Fatalf("UpdateTask(STARTED): %v", err)
	}
	if err := h.hook.BeforeStart(ctx, tk); err != nil {
		t.Fatalf("BeforeStart: %v", err)
	}
	return tk
}

// succeed simulates the rest of a worker run ending in SUCCESS with
// result. It returns the error the worker would record instead, if any.
func (h *harness) succeed(t *testing.T, tk *task.Task, result task.Result) error {
	t.Helper()
	ctx := context.Background()
	if err := h.hook.ValidateResult(ctx, tk, result); err != nil {
		h.setStatus(t, tk.ID, task.StatusFailure)
		return err
	}
	tk.Status = task.StatusSuccess
	tk.Result = result
	if err := h.store.UpdateTask(ctx, tk); err != nil {
		return err
	}
	if err := h.hook.OnSuccess(ctx, tk, result); err != nil {
		h.setStatus(t, tk.ID, task.StatusFailure)
		return err
	}
	return nil
}

// run claims and succeeds a task in one go.
func (h *harness) run(t *testing.T, taskID id.TaskID, result task.Result) {
	t.Helper()
	if err := h.succeed(t, h.claim(t, taskID), result); err != nil {
		t.Fatalf("run %s: %v", taskID, err)
	}
}

func (h *harness) setStatus(t *testing.T, taskID id.TaskID, status task.Status) {
	t.Helper()
	ctx := context.Background()
	tk, err := h.store.GetTask(ctx, taskID)
	if err != nil {
		t.Fatalf("GetTask(%s): %v", taskID, err)
	}
	tk.Status = status
	if err := h.store.UpdateTask(ctx, tk); err != nil && !errors.Is(err, conductor.ErrInvalidState) {
		t.Fatalf("UpdateTask(%s): %v", status, err)
	}
}

func (h *harness) status(t *testing.T, inst *workflow.Instance) task.Status {
	t.Helper()
	st, err := h.manager.Status(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	return st
}

func (h *harness) load(t *testing.T, inst *workflow.Instance) *workflow.Instance {
	t.Helper()
	got, err := h.manager.Load(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return got
}
