// Package storetest is a conformance suite for store.Store backends. Each
// backend's tests call Run with a factory returning a fresh, migrated store.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/cluster"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/store"
	"github.com/xraph/conductor/task"
	"github.com/xraph/conductor/workflow"
)

// Factory returns an empty, migrated store. It registers its own cleanup.
type Factory func(t *testing.T) store.Store

// Run executes the whole suite against stores built by open.
func Run(t *testing.T, open Factory) {
	t.Helper()

	t.Run("Ping", func(t *testing.T) {
		if err := open(t).Ping(context.Background()); err != nil {
			t.Fatalf("ping failed: %v", err)
		}
	})
	t.Run("MigrateIdempotent", func(t *testing.T) {
		if err := open(t).Migrate(context.Background()); err != nil {
			t.Fatalf("second migrate: %v", err)
		}
	})

	t.Run("TaskRoundTrip", func(t *testing.T) { testTaskRoundTrip(t, open(t)) })
	t.Run("TaskDequeue", func(t *testing.T) { testTaskDequeue(t, open(t)) })
	t.Run("TaskRevoke", func(t *testing.T) { testTaskRevoke(t, open(t)) })
	t.Run("TaskDeleteListCount", func(t *testing.T) { testTaskDeleteListCount(t, open(t)) })
	t.Run("TaskHeartbeatAndReap", func(t *testing.T) { testTaskHeartbeatAndReap(t, open(t)) })
	t.Run("TaskProgress", func(t *testing.T) { testTaskProgress(t, open(t)) })
	t.Run("TaskRecoverStale", func(t *testing.T) { testTaskRecoverStale(t, open(t)) })

	t.Run("WorkflowRoundTrip", func(t *testing.T) { testWorkflowRoundTrip(t, open(t)) })
	t.Run("WorkflowCompareAndSwap", func(t *testing.T) { testWorkflowCompareAndSwap(t, open(t)) })
	t.Run("WorkflowListAndDelete", func(t *testing.T) { testWorkflowListAndDelete(t, open(t)) })
	t.Run("WorkflowFindStale", func(t *testing.T) { testWorkflowFindStale(t, open(t)) })

	t.Run("ClusterWorkers", func(t *testing.T) { testClusterWorkers(t, open(t)) })
	t.Run("ClusterLeadership", func(t *testing.T) { testClusterLeadership(t, open(t)) })
}

// ──────────────────────────────────────────────────
// Fixtures
// ──────────────────────────────────────────────────

// NewTask returns an unsaved PENDING task eligible for immediate dequeue.
func NewTask(name, queue string, priority int) *task.Task {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &task.Task{
		Entity:     conductor.Entity{CreatedAt: now, UpdatedAt: now},
		ID:         id.NewTaskID(),
		Name:       name,
		Queue:      queue,
		Args:       []any{"dataset-1"},
		Status:     task.StatusPending,
		Priority:   priority,
		MaxRetries: 3,
		RunAt:      now.Add(-time.Second),
		Timeout:    time.Minute,
	}
}

// NewInstance returns an unsaved two-step instance created at createdAt.
func NewInstance(owner, definition string, createdAt time.Time) *workflow.Instance {
	createdAt = createdAt.UTC().Truncate(time.Millisecond)
	return &workflow.Instance{
		Entity:         conductor.Entity{CreatedAt: createdAt, UpdatedAt: createdAt},
		ID:             id.NewWorkflowID(),
		DefinitionName: definition,
		OwnerTag:       owner,
		InitialArgs:    []any{"dataset-1"},
		Steps: []workflow.Step{
			{StepDef: workflow.StepDef{Name: "fetch", Task: "fetch"}, RunHistory: []workflow.RunRecord{}},
			{StepDef: workflow.StepDef{Name: "load", Task: "load", Queue: "heavy"}, RunHistory: []workflow.RunRecord{}},
		},
	}
}

func enqueue(t *testing.T, s store.Store, tk *task.Task) {
	t.Helper()
	if err := s.EnqueueTask(context.Background(), tk); err != nil {
		t.Fatalf("enqueue %s: %v", tk.Name, err)
	}
}

func insert(t *testing.T, s store.Store, inst *workflow.Instance) {
	t.Helper()
	if err := s.InsertWorkflow(context.Background(), inst); err != nil {
		t.Fatalf("insert workflow: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Task ledger
// ──────────────────────────────────────────────────

func testTaskRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	wfID := id.NewWorkflowID()
	tk := NewTask("fetch", "default", 0)
	tk.Kwargs = task.StepKwargs(wfID, "fetch")
	tk.Owner = "app"
	enqueue(t, s, tk)

	if err := s.EnqueueTask(ctx, tk); !errors.Is(err, conductor.ErrTaskAlreadyExists) {
		t.Fatalf("duplicate enqueue = %v, want %v", err, conductor.ErrTaskAlreadyExists)
	}

	got, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Name != "fetch" || got.Status != task.StatusPending || got.Owner != "app" || got.Timeout != time.Minute {
		t.Fatalf("task = %+v", got)
	}
	if len(got.Args) != 1 || got.Args[0] != "dataset-1" {
		t.Fatalf("args = %v, want [dataset-1]", got.Args)
	}
	if gotWF, step, ok := got.WorkflowRef(); !ok || gotWF != wfID || step != "fetch" {
		t.Fatalf("WorkflowRef = %s, %q, %v", gotWF, step, ok)
	}

	got.Status = task.StatusSuccess
	got.Result = task.Result{"dataset-1", map[string]any{"rows": "10"}}
	if err := s.UpdateTask(ctx, got); err != nil {
		t.Fatalf("update task: %v", err)
	}
	again, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Status != task.StatusSuccess || len(again.Result) != 2 || again.Result[0] != "dataset-1" {
		t.Fatalf("after update = %q %v", again.Status, again.Result)
	}

	if _, err := s.GetTask(ctx, id.NewTaskID()); !errors.Is(err, conductor.ErrTaskNotFound) {
		t.Fatalf("get missing = %v, want %v", err, conductor.ErrTaskNotFound)
	}
	if err := s.UpdateTask(ctx, NewTask("ghost", "default", 0)); !errors.Is(err, conductor.ErrTaskNotFound) {
		t.Fatalf("update missing = %v, want %v", err, conductor.ErrTaskNotFound)
	}
}

func testTaskDequeue(t *testing.T, s store.Store) {
	ctx := context.Background()
	low := NewTask("low", "default", 1)
	high := NewTask("high", "default", 10)
	other := NewTask("other", "heavy", 100)
	future := NewTask("future", "default", 100)
	future.RunAt = time.Now().UTC().Add(time.Hour)
	for _, tk := range []*task.Task{low, high, other, future} {
		enqueue(t, s, tk)
	}

	claimed, err := s.DequeueTasks(ctx, []string{"default"}, 1)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != high.ID {
		t.Fatalf("dequeued %d tasks, want the high-priority one", len(claimed))
	}
	if claimed[0].Status != task.StatusStarted || claimed[0].StartedAt == nil {
		t.Fatalf("claimed task = %q started_at %v", claimed[0].Status, claimed[0].StartedAt)
	}

	claimed, err = s.DequeueTasks(ctx, []string{"default"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 1 || claimed[0].ID != low.ID {
		t.Fatalf("second dequeue = %d tasks, want only low", len(claimed))
	}

	claimed, err = s.DequeueTasks(ctx, []string{"default"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 0 {
		t.Fatalf("third dequeue = %d tasks, want none", len(claimed))
	}
}

func testTaskRevoke(t *testing.T, s store.Store) {
	ctx := context.Background()
	tk := NewTask("fetch", "default", 0)
	enqueue(t, s, tk)

	ok, err := s.RevokeTask(ctx, tk.ID, "operator")
	if err != nil || !ok {
		t.Fatalf("revoke = %v, %v, want true", ok, err)
	}
	ok, err = s.RevokeTask(ctx, tk.ID, "operator")
	if err != nil || ok {
		t.Fatalf("second revoke = %v, %v, want false", ok, err)
	}

	got, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusRevoked || got.Error != "operator" {
		t.Fatalf("revoked task = %q %q", got.Status, got.Error)
	}

	got.Status = task.StatusSuccess
	if err := s.UpdateTask(ctx, got); !errors.Is(err, conductor.ErrInvalidState) {
		t.Fatalf("update revoked = %v, want %v", err, conductor.ErrInvalidState)
	}

	done := NewTask("done", "default", 0)
	done.Status = task.StatusSuccess
	enqueue(t, s, done)
	if ok, err := s.RevokeTask(ctx, done.ID, "late"); err != nil || ok {
		t.Fatalf("revoke terminal = %v, %v, want false", ok, err)
	}

	if _, err := s.RevokeTask(ctx, id.NewTaskID(), "x"); !errors.Is(err, conductor.ErrTaskNotFound) {
		t.Fatalf("revoke missing = %v, want %v", err, conductor.ErrTaskNotFound)
	}
}

func testTaskDeleteListCount(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := NewTask("a", "default", 0)
	b := NewTask("b", "heavy", 0)
	c := NewTask("c", "default", 0)
	c.Status = task.StatusFailure
	for _, tk := range []*task.Task{a, b, c} {
		enqueue(t, s, tk)
	}

	pending, err := s.ListTasksByStatus(ctx, task.StatusPending, task.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	heavy, err := s.ListTasksByStatus(ctx, task.StatusPending, task.ListOpts{Queue: "heavy"})
	if err != nil {
		t.Fatal(err)
	}
	if len(heavy) != 1 || heavy[0].ID != b.ID {
		t.Fatalf("heavy pending = %d, want b", len(heavy))
	}

	n, err := s.CountTasks(ctx, task.CountOpts{Queue: "default"})
	if err != nil || n != 2 {
		t.Fatalf("count default = %d, %v, want 2", n, err)
	}
	n, err = s.CountTasks(ctx, task.CountOpts{Status: task.StatusFailure})
	if err != nil || n != 1 {
		t.Fatalf("count failed = %d, %v, want 1", n, err)
	}

	deleted, err := s.DeleteTasks(ctx, []id.TaskID{a.ID, c.ID, id.NewTaskID()})
	if err != nil || deleted != 2 {
		t.Fatalf("delete = %d, %v, want 2", deleted, err)
	}
	if _, err := s.GetTask(ctx, a.ID); !errors.Is(err, conductor.ErrTaskNotFound) {
		t.Fatalf("deleted task still readable: %v", err)
	}
	if deleted, err := s.DeleteTasks(ctx, nil); err != nil || deleted != 0 {
		t.Fatalf("delete none = %d, %v", deleted, err)
	}
}

func testTaskHeartbeatAndReap(t *testing.T, s store.Store) {
	ctx := context.Background()
	tk := NewTask("fetch", "default", 0)
	enqueue(t, s, tk)
	if _, err := s.DequeueTasks(ctx, []string{"default"}, 1); err != nil {
		t.Fatal(err)
	}

	workerID := id.NewWorkerID()
	if err := s.HeartbeatTask(ctx, tk.ID, workerID); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	stale, err := s.ReapStaleTasks(ctx, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 0 {
		t.Fatalf("fresh task reaped: %d", len(stale))
	}

	time.Sleep(50 * time.Millisecond)
	stale, err = s.ReapStaleTasks(ctx, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || stale[0].ID != tk.ID {
		t.Fatalf("reaped %d tasks, want the silent one", len(stale))
	}

	if err := s.HeartbeatTask(ctx, id.NewTaskID(), workerID); !errors.Is(err, conductor.ErrTaskNotFound) {
		t.Fatalf("heartbeat missing = %v, want %v", err, conductor.ErrTaskNotFound)
	}
}

func testTaskProgress(t *testing.T, s store.Store) {
	ctx := context.Background()
	tk := NewTask("archive", "default", 0)
	enqueue(t, s, tk)

	if err := s.ReportProgress(ctx, tk.ID, 1); !errors.Is(err, conductor.ErrInvalidState) {
		t.Fatalf("progress on PENDING = %v, want %v", err, conductor.ErrInvalidState)
	}
	if _, err := s.DequeueTasks(ctx, []string{"default"}, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.HeartbeatTask(ctx, tk.ID, id.NewWorkerID()); err != nil {
		t.Fatal(err)
	}
	before, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.ReportProgress(ctx, tk.ID, map[string]any{"bytes": 4096}); err != nil {
		t.Fatalf("report progress: %v", err)
	}
	got, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusProgress || got.Progress == nil {
		t.Fatalf("after progress = %q %v, want PROGRESS with progress", got.Status, got.Progress)
	}
	if got.HeartbeatAt == nil || !got.HeartbeatAt.Equal(*before.HeartbeatAt) {
		t.Fatalf("heartbeat = %v, want unchanged %v", got.HeartbeatAt, before.HeartbeatAt)
	}
	if got.WorkerID != before.WorkerID {
		t.Fatalf("worker = %v, want unchanged %v", got.WorkerID, before.WorkerID)
	}

	if _, err := s.RevokeTask(ctx, tk.ID, "stop"); err != nil {
		t.Fatal(err)
	}
	if err := s.ReportProgress(ctx, tk.ID, 2); !errors.Is(err, conductor.ErrInvalidState) {
		t.Fatalf("progress on REVOKED = %v, want %v", err, conductor.ErrInvalidState)
	}
	if err := s.ReportProgress(ctx, id.NewTaskID(), 1); !errors.Is(err, conductor.ErrTaskNotFound) {
		t.Fatalf("progress on missing = %v, want %v", err, conductor.ErrTaskNotFound)
	}
}

func testTaskRecoverStale(t *testing.T, s store.Store) {
	ctx := context.Background()
	silent := NewTask("archive", "default", 1)
	finished := NewTask("archive", "default", 0)
	enqueue(t, s, silent)
	enqueue(t, s, finished)
	claimed, err := s.DequeueTasks(ctx, []string{"default"}, 2)
	if err != nil || len(claimed) != 2 {
		t.Fatalf("dequeue = %d, %v", len(claimed), err)
	}

	lost := func(tk *task.Task) *task.Task {
		cp := tk.Clone()
		cp.Status = task.StatusRetry
		cp.Retries++
		cp.Error = "worker lost"
		cp.WorkerID = id.Nil
		cp.HeartbeatAt = nil
		cp.RunAt = time.Now().UTC()
		return cp
	}

	if ok, err := s.RecoverStaleTask(ctx, lost(silent), time.Hour); err != nil || ok {
		t.Fatalf("recover fresh = %v, %v, want false", ok, err)
	}

	time.Sleep(50 * time.Millisecond)

	// An outcome recorded after the reaper's scan wins.
	done, err := s.GetTask(ctx, finished.ID)
	if err != nil {
		t.Fatal(err)
	}
	done.Status = task.StatusSuccess
	done.Result = task.Result{"ok"}
	if err := s.UpdateTask(ctx, done); err != nil {
		t.Fatal(err)
	}
	if ok, err := s.RecoverStaleTask(ctx, lost(finished), 10*time.Millisecond); err != nil || ok {
		t.Fatalf("recover finished = %v, %v, want false", ok, err)
	}
	if got, _ := s.GetTask(ctx, finished.ID); got.Status != task.StatusSuccess {
		t.Fatalf("finished task = %q, want SUCCESS", got.Status)
	}

	if ok, err := s.RecoverStaleTask(ctx, lost(silent), 10*time.Millisecond); err != nil || !ok {
		t.Fatalf("recover stale = %v, %v, want true", ok, err)
	}
	got, err := s.GetTask(ctx, silent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusRetry || got.Retries != 1 || got.HeartbeatAt != nil {
		t.Fatalf("recovered = %q retries %d heartbeat %v, want RETRY/1/nil", got.Status, got.Retries, got.HeartbeatAt)
	}
	if ok, _ := s.RecoverStaleTask(ctx, lost(silent), 10*time.Millisecond); ok {
		t.Fatal("recovered a task that is no longer running")
	}
}

// ──────────────────────────────────────────────────
// Workflow instances
// ──────────────────────────────────────────────────

func testWorkflowRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	inst := NewInstance("app", "ingest", time.Now())
	insert(t, s, inst)

	if err := s.InsertWorkflow(ctx, inst); !errors.Is(err, conductor.ErrWorkflowAlreadyExists) {
		t.Fatalf("duplicate insert = %v, want %v", err, conductor.ErrWorkflowAlreadyExists)
	}

	got, err := s.GetWorkflow(ctx, inst.ID)
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if got.DefinitionName != "ingest" || got.OwnerTag != "app" || len(got.Steps) != 2 {
		t.Fatalf("workflow = %+v", got)
	}
	if got.Steps[1].Name != "load" || got.Steps[1].Queue != "heavy" {
		t.Fatalf("second step = %+v", got.Steps[1])
	}
	if len(got.InitialArgs) != 1 || got.InitialArgs[0] != "dataset-1" {
		t.Fatalf("initial args = %v", got.InitialArgs)
	}

	if _, err := s.GetWorkflow(ctx, id.NewWorkflowID()); !errors.Is(err, conductor.ErrWorkflowNotFound) {
		t.Fatalf("get missing = %v, want %v", err, conductor.ErrWorkflowNotFound)
	}
}

func testWorkflowCompareAndSwap(t *testing.T, s store.Store) {
	ctx := context.Background()
	inst := NewInstance("app", "ingest", time.Now())
	insert(t, s, inst)

	a, err := s.GetWorkflow(ctx, inst.ID)
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.GetWorkflow(ctx, inst.ID)
	if err != nil {
		t.Fatal(err)
	}

	taskID := id.NewTaskID()
	start := time.Now().UTC().Truncate(time.Millisecond)
	a.Steps[0].RunHistory = append(a.Steps[0].RunHistory, workflow.RunRecord{TaskID: taskID, DateStart: start})
	if err := s.UpdateWorkflow(ctx, a); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if a.Revision != 1 {
		t.Fatalf("revision after update = %d, want 1", a.Revision)
	}

	b.OwnerTag = "stale-writer"
	if err := s.UpdateWorkflow(ctx, b); !errors.Is(err, conductor.ErrConflict) {
		t.Fatalf("stale update = %v, want %v", err, conductor.ErrConflict)
	}

	got, err := s.GetWorkflow(ctx, inst.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.OwnerTag != "app" || got.Revision != 1 {
		t.Fatalf("stored = owner %q revision %d, want app/1", got.OwnerTag, got.Revision)
	}
	if r := got.Steps[0].LatestRun(); r == nil || r.TaskID != taskID || !r.DateStart.Equal(start) {
		t.Fatalf("run history = %+v", got.Steps[0].RunHistory)
	}

	if err := s.UpdateWorkflow(ctx, NewInstance("app", "ingest", time.Now())); !errors.Is(err, conductor.ErrWorkflowNotFound) {
		t.Fatalf("update missing = %v, want %v", err, conductor.ErrWorkflowNotFound)
	}
}

func testWorkflowListAndDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now()
	older := NewInstance("app", "ingest", now.Add(-2*time.Hour))
	newer := NewInstance("app", "ingest", now.Add(-time.Hour))
	foreign := NewInstance("other", "export", now)
	for _, inst := range []*workflow.Instance{older, newer, foreign} {
		insert(t, s, inst)
	}

	mine, err := s.ListWorkflows(ctx, workflow.ListOpts{OwnerTag: "app"})
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 2 || mine[0].ID != newer.ID || mine[1].ID != older.ID {
		t.Fatalf("list by owner = %d, want newer then older", len(mine))
	}
	page, err := s.ListWorkflows(ctx, workflow.ListOpts{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].ID != newer.ID {
		t.Fatalf("second page = %d instances, want newer", len(page))
	}
	exports, err := s.ListWorkflows(ctx, workflow.ListOpts{DefinitionName: "export"})
	if err != nil {
		t.Fatal(err)
	}
	if len(exports) != 1 || exports[0].ID != foreign.ID {
		t.Fatalf("list by definition = %d, want foreign", len(exports))
	}

	n, err := s.DeleteWorkflows(ctx, []id.WorkflowID{older.ID, id.NewWorkflowID()})
	if err != nil || n != 1 {
		t.Fatalf("delete = %d, %v, want 1", n, err)
	}
	if _, err := s.GetWorkflow(ctx, older.ID); !errors.Is(err, conductor.ErrWorkflowNotFound) {
		t.Fatalf("deleted workflow still readable: %v", err)
	}
}

func testWorkflowFindStale(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now()
	oldest := NewInstance("app", "ingest", now.Add(-3*time.Hour))
	old := NewInstance("app", "ingest", now.Add(-2*time.Hour))
	live := NewInstance("app", "ingest", now.Add(-2*time.Hour))
	export := NewInstance("app", "export", now.Add(-2*time.Hour))
	young := NewInstance("app", "ingest", now)
	foreign := NewInstance("other", "ingest", now.Add(-3*time.Hour))
	for _, inst := range []*workflow.Instance{oldest, old, live, export, young, foreign} {
		insert(t, s, inst)
	}

	cutoff := now.Add(-time.Hour)
	got, err := s.FindStaleWorkflows(ctx, workflow.StaleQuery{
		OwnerTag:        "app",
		DefinitionNames: []string{"ingest"},
		CreatedBefore:   cutoff,
		Exclude:         []id.WorkflowID{live.ID},
	})
	if err != nil {
		t.Fatalf("find stale: %v", err)
	}
	if len(got) != 2 || got[0].ID != oldest.ID || got[1].ID != old.ID {
		t.Fatalf("stale = %d instances, want oldest then old", len(got))
	}

	got, err = s.FindStaleWorkflows(ctx, workflow.StaleQuery{OwnerTag: "app", CreatedBefore: cutoff, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != oldest.ID {
		t.Fatalf("limited stale = %d, want 2 starting with oldest", len(got))
	}

	got, err = s.FindStaleWorkflows(ctx, workflow.StaleQuery{OwnerTag: "app", CreatedBefore: cutoff})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("all stale for app = %d, want 4", len(got))
	}
}

// ──────────────────────────────────────────────────
// Cluster
// ──────────────────────────────────────────────────

func testClusterWorkers(t *testing.T, s store.Store) {
	ctx := context.Background()
	w := cluster.NewWorker(id.NewWorkerID(), []string{"default", "heavy"}, 4)
	w.Metadata = map[string]string{"version": "1"}
	if err := s.RegisterWorker(ctx, w); err != nil {
		t.Fatalf("register: %v", err)
	}

	workers, err := s.ListWorkers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(workers) != 1 || workers[0].ID != w.ID || len(workers[0].Queues) != 2 || workers[0].Metadata["version"] != "1" {
		t.Fatalf("workers = %+v", workers)
	}

	if err := s.HeartbeatWorker(ctx, w.ID); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	dead, err := s.ReapDeadWorkers(ctx, time.Hour)
	if err != nil || len(dead) != 0 {
		t.Fatalf("reap fresh = %d, %v", len(dead), err)
	}
	time.Sleep(50 * time.Millisecond)
	dead, err = s.ReapDeadWorkers(ctx, 10*time.Millisecond)
	if err != nil || len(dead) != 1 {
		t.Fatalf("reap silent = %d, %v, want 1", len(dead), err)
	}

	if err := s.DeregisterWorker(ctx, w.ID); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	if err := s.DeregisterWorker(ctx, w.ID); !errors.Is(err, conductor.ErrWorkerNotFound) {
		t.Fatalf("second deregister = %v, want %v", err, conductor.ErrWorkerNotFound)
	}
	if err := s.HeartbeatWorker(ctx, w.ID); !errors.Is(err, conductor.ErrWorkerNotFound) {
		t.Fatalf("heartbeat deregistered = %v, want %v", err, conductor.ErrWorkerNotFound)
	}
}

func testClusterLeadership(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := cluster.NewWorker(id.NewWorkerID(), []string{"default"}, 1)
	b := cluster.NewWorker(id.NewWorkerID(), []string{"default"}, 1)
	for _, w := range []*cluster.Worker{a, b} {
		if err := s.RegisterWorker(ctx, w); err != nil {
			t.Fatal(err)
		}
	}

	if leader, err := s.GetLeader(ctx); err != nil || leader != nil {
		t.Fatalf("leader before election = %v, %v, want none", leader, err)
	}

	ok, err := s.AcquireLeadership(ctx, a.ID, 200*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("a acquire = %v, %v, want true", ok, err)
	}
	ok, err = s.AcquireLeadership(ctx, b.ID, 200*time.Millisecond)
	if err != nil || ok {
		t.Fatalf("b acquire while a leads = %v, %v, want false", ok, err)
	}
	if ok, err := s.RenewLeadership(ctx, a.ID, 200*time.Millisecond); err != nil || !ok {
		t.Fatalf("a renew = %v, %v, want true", ok, err)
	}
	if ok, err := s.RenewLeadership(ctx, b.ID, 200*time.Millisecond); err != nil || ok {
		t.Fatalf("b renew = %v, %v, want false", ok, err)
	}

	leader, err := s.GetLeader(ctx)
	if err != nil || leader == nil || leader.ID != a.ID {
		t.Fatalf("leader = %v, %v, want a", leader, err)
	}

	time.Sleep(300 * time.Millisecond)
	if ok, err := s.RenewLeadership(ctx, a.ID, time.Second); err != nil || ok {
		t.Fatalf("renew expired = %v, %v, want false", ok, err)
	}
	ok, err = s.AcquireLeadership(ctx, b.ID, time.Second)
	if err != nil || !ok {
		t.Fatalf("b takeover after expiry = %v, %v, want true", ok, err)
	}
	leader, err = s.GetLeader(ctx)
	if err != nil || leader == nil || leader.ID != b.ID {
		t.Fatalf("leader after takeover = %v, %v, want b", leader, err)
	}
}
