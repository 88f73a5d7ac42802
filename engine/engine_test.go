package engine_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/engine"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/scope"
	"github.com/xraph/conductor/store/memory"
	"github.com/xraph/conductor/task"
	"github.com/xraph/conductor/workflow"
)

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func newEngine(t *testing.T, opts ...engine.Option) (*engine.Engine, *memory.Store) {
	t.Helper()
	s := memory.New()
	cfg := conductor.DefaultConfig()
	cfg.Concurrency = 2
	cfg.PollInterval = 10 * time.Millisecond
	cfg.HeartbeatInterval = 50 * time.Millisecond
	c, err := conductor.New(
		conductor.WithStore(s),
		conductor.WithConfig(cfg),
		conductor.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("conductor.New: %v", err)
	}
	eng, err := engine.Build(c, opts...)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	return eng, s
}

func start(t *testing.T, eng *engine.Engine) {
	t.Helper()
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func waitStatus(t *testing.T, eng *engine.Engine, wfID id.WorkflowID, want task.Status) {
	t.Helper()
	waitFor(t, fmt.Sprintf("workflow status %s", want), func() bool {
		st, err := eng.Workflows().Status(context.Background(), wfID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		return st == want
	})
}

// recorder captures the arguments each step body received.
type recorder struct {
	mu   sync.Mutex
	args map[string][][]any
}

func (r *recorder) record(name string, args []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.args == nil {
		r.args = make(map[string][][]any)
	}
	r.args[name] = append(r.args[name], args)
}

func (r *recorder) calls(name string) [][]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]any(nil), r.args[name]...)
}

// registerPipeline registers copy_files and index_files. copy_files turns
// its subject "x" into "x/copied"; index_files returns "indexed".
func registerPipeline(eng *engine.Engine, rec *recorder) {
	eng.RegisterFunc("copy_files", func(_ context.Context, args []any, _ map[string]any) (task.Result, error) {
		rec.record("copy_files", args)
		subject, _ := args[0].(string)
		return task.Result{subject + "/copied", map[string]any{"files": 3}}, nil
	})
	eng.RegisterFunc("index_files", func(_ context.Context, args []any, _ map[string]any) (task.Result, error) {
		rec.record("index_files", args)
		return task.Result{"indexed", nil}, nil
	})
}

// ──────────────────────────────────────────────────
// End-to-end: two-step pipeline
// ──────────────────────────────────────────────────

func TestEngine_TwoStepPipeline(t *testing.T) {
	eng, s := newEngine(t)
	rec := &recorder{}
	registerPipeline(eng, rec)
	start(t, eng)

	ctx := context.Background()
	def := workflow.NewDefinition("ingest", "copy_files", "index_files")
	inst, err := eng.Workflows().Create(ctx, def, []any{"ds-1"}, "app-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	st, err := eng.Workflows().Status(ctx, inst.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st != task.StatusPending {
		t.Errorf("status before start = %s, want %s", st, task.StatusPending)
	}

	if _, err := eng.Workflows().Start(ctx, inst); err != nil {
		t.Fatalf("Start workflow: %v", err)
	}
	waitStatus(t, eng, inst.ID, task.StatusSuccess)

	copies := rec.calls("copy_files")
	if len(copies) != 1 || copies[0][0] != "ds-1" {
		t.Errorf("copy_files calls = %v, want one call with ds-1", copies)
	}
	indexes := rec.calls("index_files")
	if len(indexes) != 1 || len(indexes[0]) != 1 || indexes[0][0] != "ds-1/copied" {
		t.Errorf("index_files calls = %v, want one call with (ds-1/copied)", indexes)
	}

	got, err := eng.Workflows().Load(ctx, inst.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, step := range got.Steps {
		if len(step.RunHistory) != 1 {
			t.Errorf("step %s run history = %d, want 1", step.Name, len(step.RunHistory))
		}
	}

	last := got.Steps[1].LatestRun()
	tk, err := s.GetTask(ctx, last.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if tk.Owner != "app-1" {
		t.Errorf("task owner = %q, want %q", tk.Owner, "app-1")
	}
	if wfID, step, ok := tk.WorkflowRef(); !ok || wfID != inst.ID || step != "index_files" {
		t.Errorf("WorkflowRef = (%s, %q, %v), want (%s, index_files, true)", wfID, step, ok, inst.ID)
	}
}

func TestEngine_StepFailureStallsPipeline(t *testing.T) {
	eng, _ := newEngine(t)
	var indexed atomic.Bool
	eng.RegisterFunc("copy_files", func(context.Context, []any, map[string]any) (task.Result, error) {
		return nil, errors.New("disk full")
	}, task.WithMaxRetries(0))
	eng.RegisterFunc("index_files", func(context.Context, []any, map[string]any) (task.Result, error) {
		indexed.Store(true)
		return task.Result{"indexed", nil}, nil
	})
	start(t, eng)

	ctx := context.Background()
	inst, err := eng.Workflows().Create(ctx, workflow.NewDefinition("ingest", "copy_files", "index_files"), []any{"ds-1"}, "app-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := eng.Workflows().Start(ctx, inst); err != nil {
		t.Fatalf("Start workflow: %v", err)
	}
	waitStatus(t, eng, inst.ID, task.StatusFailure)

	if indexed.Load() {
		t.Error("index_files ran after copy_files failed")
	}
}

func TestEngine_ChainContractViolation(t *testing.T) {
	eng, _ := newEngine(t)
	eng.RegisterFunc("copy_files", func(context.Context, []any, map[string]any) (task.Result, error) {
		return task.Result{map[string]any{"copied": 3}}, nil
	}, task.WithMaxRetries(0))
	eng.RegisterFunc("index_files", func(context.Context, []any, map[string]any) (task.Result, error) {
		return task.Result{"indexed", nil}, nil
	})
	start(t, eng)

	ctx := context.Background()
	inst, err := eng.Workflows().Create(ctx, workflow.NewDefinition("ingest", "copy_files", "index_files"), []any{"ds-1"}, "app-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := eng.Workflows().Start(ctx, inst); err != nil {
		t.Fatalf("Start workflow: %v", err)
	}
	waitStatus(t, eng, inst.ID, task.StatusFailure)

	got, _ := eng.Workflows().Load(ctx, inst.ID)
	if n := len(got.Steps[1].RunHistory); n != 0 {
		t.Errorf("index_files runs = %d, want 0", n)
	}
}

// ──────────────────────────────────────────────────
// Pause / resume
// ──────────────────────────────────────────────────

func TestEngine_PauseResume(t *testing.T) {
	eng, _ := newEngine(t)
	var block atomic.Bool
	block.Store(true)
	var running atomic.Int32
	eng.RegisterFunc("copy_files", func(ctx context.Context, args []any, _ map[string]any) (task.Result, error) {
		if block.Load() {
			running.Add(1)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		subject, _ := args[0].(string)
		return task.Result{subject + "/copied", nil}, nil
	})
	eng.RegisterFunc("index_files", func(context.Context, []any, map[string]any) (task.Result, error) {
		return task.Result{"indexed", nil}, nil
	})
	start(t, eng)

	ctx := context.Background()
	inst, err := eng.Workflows().Create(ctx, workflow.NewDefinition("ingest", "copy_files", "index_files"), []any{"ds-1"}, "app-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := eng.Workflows().Start(ctx, inst); err != nil {
		t.Fatalf("Start workflow: %v", err)
	}
	waitFor(t, "copy_files to run", func() bool { return running.Load() == 1 })

	res, err := eng.Workflows().Pause(ctx, inst)
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if !res.Paused || res.RevokedStep != "copy_files" {
		t.Fatalf("Pause = %+v, want paused copy_files", res)
	}
	waitStatus(t, eng, inst.ID, task.StatusRevoked)

	// A second pause finds the step already final.
	res, err = eng.Workflows().Pause(ctx, inst)
	if err != nil {
		t.Fatalf("second Pause: %v", err)
	}
	if res.Paused {
		t.Error("second Pause reported paused")
	}

	block.Store(false)
	rr, err := eng.Workflows().Resume(ctx, inst, workflow.ResumeOpts{})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !rr.Resumed || rr.Step != "copy_files" {
		t.Fatalf("Resume = %+v, want resumed copy_files", rr)
	}
	waitStatus(t, eng, inst.ID, task.StatusSuccess)

	got, _ := eng.Workflows().Load(ctx, inst.ID)
	if n := len(got.Steps[0].RunHistory); n != 2 {
		t.Errorf("copy_files runs = %d, want 2", n)
	}
}

// ──────────────────────────────────────────────────
// Dispatcher
// ──────────────────────────────────────────────────

func TestEngine_SubmitUnknownTask(t *testing.T) {
	eng, _ := newEngine(t)
	_, err := eng.Submit(context.Background(), "nope", nil, nil)
	if !errors.Is(err, conductor.ErrUnknownTask) {
		t.Fatalf("Submit error = %v, want ErrUnknownTask", err)
	}
}

func TestEngine_SubmitOptions(t *testing.T) {
	eng, s := newEngine(t)
	eng.RegisterFunc("copy_files", func(context.Context, []any, map[string]any) (task.Result, error) {
		return task.Result{nil, nil}, nil
	}, task.WithQueue("bulk"), task.WithMaxRetries(7))

	ctx := scope.WithOwner(context.Background(), "app-9")
	runAt := time.Now().Add(time.Hour).UTC()
	taskID, err := eng.Submit(ctx, "copy_files", []any{"ds-1"}, nil, task.WithPriority(5), task.WithRunAt(runAt))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	tk, err := s.GetTask(context.Background(), taskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if tk.Status != task.StatusPending {
		t.Errorf("Status = %s, want %s", tk.Status, task.StatusPending)
	}
	if tk.Queue != "bulk" {
		t.Errorf("Queue = %q, want %q", tk.Queue, "bulk")
	}
	if tk.MaxRetries != 7 {
		t.Errorf("MaxRetries = %d, want 7", tk.MaxRetries)
	}
	if tk.Priority != 5 {
		t.Errorf("Priority = %d, want 5", tk.Priority)
	}
	if tk.Owner != "app-9" {
		t.Errorf("Owner = %q, want %q", tk.Owner, "app-9")
	}
	if !tk.RunAt.Equal(runAt) {
		t.Errorf("RunAt = %v, want %v", tk.RunAt, runAt)
	}
}

func TestEngine_Revoke(t *testing.T) {
	eng, s := newEngine(t)
	eng.RegisterFunc("copy_files", func(context.Context, []any, map[string]any) (task.Result, error) {
		return task.Result{nil, nil}, nil
	})
	ctx := context.Background()

	taskID, err := eng.Submit(ctx, "copy_files", []any{"ds-1"}, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := eng.Revoke(ctx, taskID, false); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	tk, _ := s.GetTask(ctx, taskID)
	if tk.Status != task.StatusRevoked {
		t.Errorf("Status = %s, want %s", tk.Status, task.StatusRevoked)
	}

	// Revoking a final task leaves it untouched.
	if err := eng.Revoke(ctx, taskID, true); err != nil {
		t.Fatalf("second Revoke: %v", err)
	}

	if err := eng.Revoke(ctx, id.NewTaskID(), false); !errors.Is(err, conductor.ErrTaskNotFound) {
		t.Errorf("Revoke missing = %v, want ErrTaskNotFound", err)
	}
}

// ──────────────────────────────────────────────────
// Extension lifecycle events
// ──────────────────────────────────────────────────

type lifecycleTracker struct {
	submitted   atomic.Int32
	started     atomic.Int32
	succeeded   atomic.Int32
	created     atomic.Bool
	steps       atomic.Int32
	completed   atomic.Bool
	shutdown    atomic.Bool
	revokedTerm atomic.Bool
}

func (e *lifecycleTracker) Name() string { return "lifecycle-tracker" }

func (e *lifecycleTracker) OnTaskSubmitted(context.Context, *task.Task) error {
	e.submitted.Add(1)
	return nil
}

func (e *lifecycleTracker) OnTaskStarted(context.Context, *task.Task) error {
	e.started.Add(1)
	return nil
}

func (e *lifecycleTracker) OnTaskSucceeded(context.Context, *task.Task, time.Duration) error {
	e.succeeded.Add(1)
	return nil
}

func (e *lifecycleTracker) OnTaskRevoked(_ context.Context, _ id.TaskID, terminate bool) error {
	e.revokedTerm.Store(terminate)
	return nil
}

func (e *lifecycleTracker) OnWorkflowCreated(context.Context, *workflow.Instance) error {
	e.created.Store(true)
	return nil
}

func (e *lifecycleTracker) OnWorkflowStepSubmitted(context.Context, *workflow.Instance, string, id.TaskID) error {
	e.steps.Add(1)
	return nil
}

func (e *lifecycleTracker) OnWorkflowCompleted(context.Context, *workflow.Instance) error {
	e.completed.Store(true)
	return nil
}

func (e *lifecycleTracker) OnShutdown(context.Context) error {
	e.shutdown.Store(true)
	return nil
}

func TestEngine_ExtensionLifecycleEvents(t *testing.T) {
	tracker := &lifecycleTracker{}
	eng, _ := newEngine(t, engine.WithExtension(tracker))
	registerPipeline(eng, &recorder{})
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx := context.Background()
	inst, err := eng.Workflows().Create(ctx, workflow.NewDefinition("ingest", "copy_files", "index_files"), []any{"ds-1"}, "app-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := eng.Workflows().Start(ctx, inst); err != nil {
		t.Fatalf("Start workflow: %v", err)
	}
	waitFor(t, "workflow completion event", tracker.completed.Load)

	stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := eng.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if !tracker.created.Load() {
		t.Error("OnWorkflowCreated not called")
	}
	if n := tracker.submitted.Load(); n != 2 {
		t.Errorf("OnTaskSubmitted calls = %d, want 2", n)
	}
	if n := tracker.steps.Load(); n != 2 {
		t.Errorf("OnWorkflowStepSubmitted calls = %d, want 2", n)
	}
	if n := tracker.succeeded.Load(); n != 2 {
		t.Errorf("OnTaskSucceeded calls = %d, want 2", n)
	}
	if !tracker.shutdown.Load() {
		t.Error("OnShutdown not called")
	}
}

// ──────────────────────────────────────────────────
// Catalog
// ──────────────────────────────────────────────────

const catalogYAML = `
workflows:
  - name: ingest
    steps:
      - copy_files
      - name: index
        task: index_files
`

func TestEngine_CreateWorkflowFromCatalog(t *testing.T) {
	cat, err := workflow.ParseCatalog([]byte(catalogYAML))
	if err != nil {
		t.Fatalf("ParseCatalog: %v", err)
	}
	eng, _ := newEngine(t, engine.WithCatalog(cat))
	registerPipeline(eng, &recorder{})
	start(t, eng)

	ctx := context.Background()
	inst, err := eng.CreateWorkflow(ctx, "ingest", []any{"ds-1"}, "app-1")
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	if len(inst.Steps) != 2 || inst.Steps[1].Name != "index" {
		t.Fatalf("steps = %+v, want copy_files then index", inst.Steps)
	}
	if _, err := eng.Workflows().Start(ctx, inst); err != nil {
		t.Fatalf("Start workflow: %v", err)
	}
	waitStatus(t, eng, inst.ID, task.StatusSuccess)

	if _, err := eng.CreateWorkflow(ctx, "missing", nil, "app-1"); !errors.Is(err, conductor.ErrUnknownDefinition) {
		t.Errorf("CreateWorkflow missing = %v, want ErrUnknownDefinition", err)
	}
}

func TestEngine_StartRejectsUnregisteredCatalogTask(t *testing.T) {
	cat, err := workflow.ParseCatalog([]byte(catalogYAML))
	if err != nil {
		t.Fatalf("ParseCatalog: %v", err)
	}
	eng, _ := newEngine(t, engine.WithCatalog(cat))

	err = eng.Start(context.Background())
	if !errors.Is(err, conductor.ErrInvalidDefinition) {
		t.Fatalf("Start error = %v, want ErrInvalidDefinition", err)
	}
}

func TestEngine_CreateWorkflowWithoutCatalog(t *testing.T) {
	eng, _ := newEngine(t)
	_, err := eng.CreateWorkflow(context.Background(), "ingest", nil, "app-1")
	if !errors.Is(err, conductor.ErrUnknownDefinition) {
		t.Fatalf("CreateWorkflow = %v, want ErrUnknownDefinition", err)
	}
}

// ──────────────────────────────────────────────────
// Purge and cluster
// ──────────────────────────────────────────────────

type staticLive struct {
	ids []id.WorkflowID
}

func (l *staticLive) WorkflowIDs(context.Context, string) ([]id.WorkflowID, error) {
	return l.ids, nil
}

func TestEngine_Purge(t *testing.T) {
	live := &staticLive{}
	eng, s := newEngine(t, engine.WithLiveSource(live))
	registerPipeline(eng, &recorder{})
	start(t, eng)

	ctx := context.Background()
	def := workflow.NewDefinition("ingest", "copy_files", "index_files")
	orphan, err := eng.Workflows().Create(ctx, def, []any{"ds-1"}, "app-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	kept, err := eng.Workflows().Create(ctx, def, []any{"ds-2"}, "app-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	live.ids = []id.WorkflowID{kept.ID}

	if _, err := eng.Workflows().Start(ctx, orphan); err != nil {
		t.Fatalf("Start workflow: %v", err)
	}
	waitStatus(t, eng, orphan.ID, task.StatusSuccess)
	done, _ := eng.Workflows().Load(ctx, orphan.ID)
	taskIDs := done.TaskIDs()

	report, err := eng.Purger().Purge(ctx, workflow.PurgeRequest{OwnerTag: "app-1", MaxPurgeCount: 10})
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if report.Deleted != 1 || report.TasksDeleted != int64(len(taskIDs)) {
		t.Errorf("report = %+v, want 1 workflow and %d tasks", report, len(taskIDs))
	}
	if _, err := s.GetWorkflow(ctx, orphan.ID); !errors.Is(err, conductor.ErrWorkflowNotFound) {
		t.Errorf("orphan GetWorkflow = %v, want ErrWorkflowNotFound", err)
	}
	for _, tid := range taskIDs {
		if _, err := s.GetTask(ctx, tid); !errors.Is(err, conductor.ErrTaskNotFound) {
			t.Errorf("GetTask(%s) = %v, want ErrTaskNotFound", tid, err)
		}
	}
	if _, err := s.GetWorkflow(ctx, kept.ID); err != nil {
		t.Errorf("live GetWorkflow: %v", err)
	}
}

func TestEngine_PurgeWithoutLiveSource(t *testing.T) {
	eng, _ := newEngine(t)
	_, err := eng.Purger().Purge(context.Background(), workflow.PurgeRequest{OwnerTag: "app-1", MaxPurgeCount: 1})
	if !errors.Is(err, conductor.ErrInvalidPurge) {
		t.Fatalf("Purge = %v, want ErrInvalidPurge", err)
	}
}

func TestEngine_SchedulePurge(t *testing.T) {
	eng, s := newEngine(t, engine.WithLiveSource(&staticLive{}))
	registerPipeline(eng, &recorder{})

	ctx := context.Background()
	inst, err := eng.Workflows().Create(ctx, workflow.NewDefinition("ingest", "copy_files", "index_files"), nil, "app-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	req := workflow.PurgeRequest{OwnerTag: "app-1", MaxPurgeCount: 5}
	if err := eng.SchedulePurge("@every 1s", req); err != nil {
		t.Fatalf("SchedulePurge: %v", err)
	}
	if err := eng.SchedulePurge("@every 1s", req); err == nil {
		t.Error("second SchedulePurge for the same owner succeeded")
	}
	start(t, eng)

	waitFor(t, "scheduled purge", func() bool {
		_, err := s.GetWorkflow(ctx, inst.ID)
		return errors.Is(err, conductor.ErrWorkflowNotFound)
	})
}

func TestEngine_ClusterMembership(t *testing.T) {
	eng, s := newEngine(t)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx := context.Background()
	workers, err := s.ListWorkers(ctx)
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(workers) != 1 || workers[0].ID != eng.WorkerID() {
		t.Fatalf("workers = %v, want only %s", workers, eng.WorkerID())
	}

	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := eng.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	workers, _ = s.ListWorkers(ctx)
	if len(workers) != 0 {
		t.Errorf("workers after Stop = %d, want 0", len(workers))
	}
}

func TestEngine_SeparateClusterStore(t *testing.T) {
	members := memory.New()
	eng, s := newEngine(t, engine.WithClusterStore(members))
	start(t, eng)

	ctx := context.Background()
	workers, err := members.ListWorkers(ctx)
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(workers) != 1 || workers[0].ID != eng.WorkerID() {
		t.Fatalf("cluster store workers = %v, want only %s", workers, eng.WorkerID())
	}
	if taskSide, _ := s.ListWorkers(ctx); len(taskSide) != 0 {
		t.Fatalf("task store workers = %d, want 0", len(taskSide))
	}

	waitFor(t, "leadership in the cluster store", func() bool {
		leader, err := members.GetLeader(ctx)
		return err == nil && leader != nil && leader.ID == eng.WorkerID()
	})
	if leader, _ := s.GetLeader(ctx); leader != nil {
		t.Fatalf("task store leader = %s, want none", leader.ID)
	}
}

func TestEngine_ControlPlane(t *testing.T) {
	cat, err := workflow.ParseCatalog([]byte(catalogYAML))
	if err != nil {
		t.Fatalf("ParseCatalog: %v", err)
	}
	eng, s := newEngine(t, engine.WithCatalog(cat), engine.WithControlPlane())
	start(t, eng)

	ctx := context.Background()
	inst, err := eng.CreateWorkflow(ctx, "ingest", []any{"ds-1"}, "app-1")
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	taskID, err := eng.Workflows().Start(ctx, inst)
	if err != nil {
		t.Fatalf("Start workflow: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	tk, err := s.GetTask(ctx, taskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if tk.Status != task.StatusPending {
		t.Errorf("step status = %s, want %s", tk.Status, task.StatusPending)
	}
	workers, _ := s.ListWorkers(ctx)
	if len(workers) != 0 {
		t.Errorf("workers = %d, want 0", len(workers))
	}
}

// ──────────────────────────────────────────────────
// Build errors
// ──────────────────────────────────────────────────

func TestEngine_BuildNoStore(t *testing.T) {
	c, err := conductor.New()
	if err != nil {
		t.Fatalf("conductor.New: %v", err)
	}
	if _, err := engine.Build(c); !errors.Is(err, conductor.ErrNoStore) {
		t.Fatalf("Build = %v, want ErrNoStore", err)
	}
}

type badStore struct{}

func (badStore) Migrate(context.Context) error { return nil }
func (badStore) Ping(context.Context) error    { return nil }
func (badStore) Close() error                  { return nil }

func TestEngine_BuildBadStore(t *testing.T) {
	c, err := conductor.New(conductor.WithStore(badStore{}))
	if err != nil {
		t.Fatalf("conductor.New: %v", err)
	}
	if _, err := engine.Build(c); err == nil {
		t.Fatal("Build with incomplete store succeeded")
	}
}
