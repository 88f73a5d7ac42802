package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/cluster"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/store"
	"github.com/xraph/conductor/store/storetest"
	"github.com/xraph/conductor/task"
	"github.com/xraph/conductor/workflow"
)

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping returned error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, conductor.ErrStoreClosed) {
		t.Fatalf("Ping after Close = %v, want %v", err, conductor.ErrStoreClosed)
	}
}

// ──────────────────────────────────────────────────
// Task Ledger tests
// ──────────────────────────────────────────────────

func newTask(name, queue string, status task.Status, priority int) *task.Task {
	return &task.Task{
		Entity:     conductor.NewEntity(),
		ID:         id.NewTaskID(),
		Name:       name,
		Queue:      queue,
		Args:       []any{"dataset-1"},
		Status:     status,
		Priority:   priority,
		MaxRetries: 3,
		RunAt:      time.Now().UTC().Add(-time.Second), // eligible immediately
	}
}

func TestTaskEnqueueAndGet(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tk := newTask("fetch", "default", task.StatusPending, 0)
	if err := s.EnqueueTask(ctx, tk); err != nil {
		t.Fatalf("EnqueueTask: %v", err)
	}
	if err := s.EnqueueTask(ctx, tk); !errors.Is(err, conductor.ErrTaskAlreadyExists) {
		t.Fatalf("duplicate EnqueueTask = %v, want %v", err, conductor.ErrTaskAlreadyExists)
	}

	got, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Name != "fetch" || got.Args[0] != "dataset-1" {
		t.Fatalf("GetTask = %+v, want the enqueued task", got)
	}

	// Returned copies are independent of the stored record.
	got.Args[0] = "mutated"
	again, _ := s.GetTask(ctx, tk.ID)
	if again.Args[0] != "dataset-1" {
		t.Fatalf("stored args = %v, want unchanged", again.Args)
	}

	if _, err := s.GetTask(ctx, id.NewTaskID()); !errors.Is(err, conductor.ErrTaskNotFound) {
		t.Fatalf("GetTask(unknown) = %v, want %v", err, conductor.ErrTaskNotFound)
	}
}

func TestTaskDequeue(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	low := newTask("low", "default", task.StatusPending, 0)
	high := newTask("high", "default", task.StatusPending, 10)
	retry := newTask("retry", "default", task.StatusRetry, 5)
	other := newTask("other", "heavy", task.StatusPending, 100)
	future := newTask("future", "default", task.StatusPending, 50)
	future.RunAt = time.Now().UTC().Add(time.Hour)
	done := newTask("done", "default", task.StatusSuccess, 99)

	for _, tk := range []*task.Task{low, high, retry, other, future, done} {
		if err := s.EnqueueTask(ctx, tk); err != nil {
			t.Fatal(err)
		}
	}

	claimed, err := s.DequeueTasks(ctx, []string{"default"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"high", "retry", "low"}
	if len(claimed) != len(want) {
		t.Fatalf("claimed %d tasks, want %d", len(claimed), len(want))
	}
	for i, name := range want {
		if claimed[i].Name != name {
			t.Errorf("claimed[%d] = %q, want %q", i, claimed[i].Name, name)
		}
		if claimed[i].Status != task.StatusStarted {
			t.Errorf("claimed[%d].Status = %q, want %q", i, claimed[i].Status, task.StatusStarted)
		}
		if claimed[i].StartedAt == nil || claimed[i].HeartbeatAt == nil {
			t.Errorf("claimed[%d] missing start or heartbeat timestamp", i)
		}
	}

	// Claimed tasks are not handed out twice.
	again, err := s.DequeueTasks(ctx, []string{"default"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Fatalf("second dequeue returned %d tasks, want 0", len(again))
	}
}

func TestTaskDequeueLimit(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	for range 5 {
		if err := s.EnqueueTask(ctx, newTask("t", "default", task.StatusPending, 0)); err != nil {
			t.Fatal(err)
		}
	}
	claimed, err := s.DequeueTasks(ctx, []string{"default"}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 2 {
		t.Fatalf("claimed %d tasks, want 2", len(claimed))
	}
}

func TestTaskRevoke(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	running := newTask("run", "default", task.StatusStarted, 0)
	finished := newTask("fin", "default", task.StatusSuccess, 0)
	for _, tk := range []*task.Task{running, finished} {
		if err := s.EnqueueTask(ctx, tk); err != nil {
			t.Fatal(err)
		}
	}

	changed, err := s.RevokeTask(ctx, running.ID, "paused")
	if err != nil || !changed {
		t.Fatalf("RevokeTask(running) = %v, %v, want true, nil", changed, err)
	}
	got, _ := s.GetTask(ctx, running.ID)
	if got.Status != task.StatusRevoked || got.Error != "paused" {
		t.Fatalf("revoked task = %q %q, want REVOKED paused", got.Status, got.Error)
	}

	// A revoked record refuses further updates.
	got.Status = task.StatusSuccess
	if err := s.UpdateTask(ctx, got); !errors.Is(err, conductor.ErrInvalidState) {
		t.Fatalf("UpdateTask(revoked) = %v, want %v", err, conductor.ErrInvalidState)
	}

	changed, err = s.RevokeTask(ctx, finished.ID, "paused")
	if err != nil || changed {
		t.Fatalf("RevokeTask(finished) = %v, %v, want false, nil", changed, err)
	}
	got, _ = s.GetTask(ctx, finished.ID)
	if got.Status != task.StatusSuccess {
		t.Fatalf("finished task status = %q, want %q", got.Status, task.StatusSuccess)
	}
}

func TestTaskDelete(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	a := newTask("a", "default", task.StatusSuccess, 0)
	b := newTask("b", "default", task.StatusFailure, 0)
	for _, tk := range []*task.Task{a, b} {
		if err := s.EnqueueTask(ctx, tk); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.DeleteTasks(ctx, []id.TaskID{a.ID, b.ID, id.NewTaskID()})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("DeleteTasks = %d, want 2", n)
	}
	if _, err := s.GetTask(ctx, a.ID); !errors.Is(err, conductor.ErrTaskNotFound) {
		t.Fatalf("GetTask after delete = %v, want %v", err, conductor.ErrTaskNotFound)
	}
}

func TestTaskListAndCount(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	for _, tk := range []*task.Task{
		newTask("a", "default", task.StatusFailure, 0),
		newTask("b", "default", task.StatusFailure, 0),
		newTask("c", "heavy", task.StatusFailure, 0),
		newTask("d", "default", task.StatusSuccess, 0),
	} {
		if err := s.EnqueueTask(ctx, tk); err != nil {
			t.Fatal(err)
		}
	}

	failed, err := s.ListTasksByStatus(ctx, task.StatusFailure, task.ListOpts{Queue: "default"})
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 2 {
		t.Fatalf("ListTasksByStatus = %d tasks, want 2", len(failed))
	}

	page, _ := s.ListTasksByStatus(ctx, task.StatusFailure, task.ListOpts{Offset: 1, Limit: 1})
	if len(page) != 1 {
		t.Fatalf("paged list = %d tasks, want 1", len(page))
	}

	tests := []struct {
		name string
		opts task.CountOpts
		want int64
	}{
		{"all", task.CountOpts{}, 4},
		{"by queue", task.CountOpts{Queue: "heavy"}, 1},
		{"by status", task.CountOpts{Status: task.StatusFailure}, 3},
		{"by both", task.CountOpts{Queue: "default", Status: task.StatusSuccess}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.CountTasks(ctx, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("CountTasks = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTaskHeartbeatAndReapStale(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tk := newTask("heartbeat", "default", task.StatusStarted, 0)
	old := time.Now().UTC().Add(-time.Minute)
	tk.HeartbeatAt = &old
	if err := s.EnqueueTask(ctx, tk); err != nil {
		t.Fatal(err)
	}

	stale, err := s.ReapStaleTasks(ctx, 30*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 {
		t.Fatalf("expected 1 stale task, got %d", len(stale))
	}

	if err := s.HeartbeatTask(ctx, tk.ID, id.NewWorkerID()); err != nil {
		t.Fatal(err)
	}

	stale, err = s.ReapStaleTasks(ctx, 30*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 0 {
		t.Fatalf("expected 0 stale tasks after heartbeat, got %d", len(stale))
	}
}

// ──────────────────────────────────────────────────
// Workflow Store tests
// ──────────────────────────────────────────────────

func newInstance(owner, def string, age time.Duration) *workflow.Instance {
	created := time.Now().UTC().Add(-age)
	return &workflow.Instance{
		Entity:         conductor.Entity{CreatedAt: created, UpdatedAt: created},
		ID:             id.NewWorkflowID(),
		DefinitionName: def,
		OwnerTag:       owner,
		Steps: []workflow.Step{
			{StepDef: workflow.StepDef{Name: "fetch", Task: "fetch"}, RunHistory: []workflow.RunRecord{}},
		},
	}
}

func TestWorkflowInsertAndGet(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	inst := newInstance("app", "ingest", 0)
	if err := s.InsertWorkflow(ctx, inst); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertWorkflow(ctx, inst); !errors.Is(err, conductor.ErrWorkflowAlreadyExists) {
		t.Fatalf("duplicate insert = %v, want %v", err, conductor.ErrWorkflowAlreadyExists)
	}

	got, err := s.GetWorkflow(ctx, inst.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.DefinitionName != "ingest" || len(got.Steps) != 1 {
		t.Fatalf("GetWorkflow = %+v, want the inserted instance", got)
	}

	if _, err := s.GetWorkflow(ctx, id.NewWorkflowID()); !errors.Is(err, conductor.ErrWorkflowNotFound) {
		t.Fatalf("GetWorkflow(unknown) = %v, want %v", err, conductor.ErrWorkflowNotFound)
	}
}

func TestWorkflowUpdateCompareAndSwap(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	inst := newInstance("app", "ingest", 0)
	if err := s.InsertWorkflow(ctx, inst); err != nil {
		t.Fatal(err)
	}

	a, _ := s.GetWorkflow(ctx, inst.ID)
	b, _ := s.GetWorkflow(ctx, inst.ID)

	a.Steps[0].RunHistory = append(a.Steps[0].RunHistory, workflow.RunRecord{TaskID: id.NewTaskID(), DateStart: time.Now().UTC()})
	if err := s.UpdateWorkflow(ctx, a); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if a.Revision != 1 {
		t.Fatalf("Revision after update = %d, want 1", a.Revision)
	}

	b.Steps[0].RunHistory = append(b.Steps[0].RunHistory, workflow.RunRecord{TaskID: id.NewTaskID(), DateStart: time.Now().UTC()})
	if err := s.UpdateWorkflow(ctx, b); !errors.Is(err, conductor.ErrConflict) {
		t.Fatalf("stale update = %v, want %v", err, conductor.ErrConflict)
	}

	got, _ := s.GetWorkflow(ctx, inst.ID)
	if len(got.Steps[0].RunHistory) != 1 || got.Steps[0].RunHistory[0].TaskID != a.Steps[0].RunHistory[0].TaskID {
		t.Fatalf("stored run history = %+v, want only the first writer's record", got.Steps[0].RunHistory)
	}
}

func TestWorkflowListAndDelete(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	a := newInstance("app", "ingest", 2*time.Hour)
	b := newInstance("app", "export", time.Hour)
	c := newInstance("other", "ingest", 0)
	for _, inst := range []*workflow.Instance{a, b, c} {
		if err := s.InsertWorkflow(ctx, inst); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.ListWorkflows(ctx, workflow.ListOpts{OwnerTag: "app"})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != b.ID {
		t.Fatalf("ListWorkflows(app) = %d instances, want 2 newest first", len(list))
	}

	list, _ = s.ListWorkflows(ctx, workflow.ListOpts{DefinitionName: "ingest"})
	if len(list) != 2 {
		t.Fatalf("ListWorkflows(ingest) = %d instances, want 2", len(list))
	}

	n, err := s.DeleteWorkflows(ctx, []id.WorkflowID{a.ID, id.NewWorkflowID()})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("DeleteWorkflows = %d, want 1", n)
	}
}

func TestWorkflowFindStale(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	oldest := newInstance("app", "ingest", 3*time.Hour)
	old := newInstance("app", "ingest", 2*time.Hour)
	live := newInstance("app", "ingest", 2*time.Hour)
	young := newInstance("app", "ingest", time.Minute)
	otherDef := newInstance("app", "export", 3*time.Hour)
	otherOwner := newInstance("other", "ingest", 3*time.Hour)
	for _, inst := range []*workflow.Instance{oldest, old, live, young, otherDef, otherOwner} {
		if err := s.InsertWorkflow(ctx, inst); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.FindStaleWorkflows(ctx, workflow.StaleQuery{
		OwnerTag:        "app",
		DefinitionNames: []string{"ingest"},
		CreatedBefore:   time.Now().UTC().Add(-time.Hour),
		Exclude:         []id.WorkflowID{live.ID},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != oldest.ID || got[1].ID != old.ID {
		t.Fatalf("FindStaleWorkflows = %d instances, want [oldest old]", len(got))
	}

	got, _ = s.FindStaleWorkflows(ctx, workflow.StaleQuery{
		OwnerTag:      "app",
		CreatedBefore: time.Now().UTC(),
		Limit:         1,
	})
	if len(got) != 1 {
		t.Fatalf("limited FindStaleWorkflows = %d instances, want 1", len(got))
	}
}

// ──────────────────────────────────────────────────
// Cluster Store tests
// ──────────────────────────────────────────────────

func TestClusterRegisterHeartbeatAndReap(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	w := cluster.NewWorker(id.NewWorkerID(), []string{"default"}, 4)
	w.LastSeen = time.Now().UTC().Add(-time.Minute)
	if err := s.RegisterWorker(ctx, w); err != nil {
		t.Fatal(err)
	}

	dead, _ := s.ReapDeadWorkers(ctx, 30*time.Second)
	if len(dead) != 1 {
		t.Fatalf("expected 1 dead worker, got %d", len(dead))
	}
	if err := s.HeartbeatWorker(ctx, w.ID); err != nil {
		t.Fatal(err)
	}
	dead, _ = s.ReapDeadWorkers(ctx, 30*time.Second)
	if len(dead) != 0 {
		t.Fatalf("expected 0 dead workers after heartbeat, got %d", len(dead))
	}

	if err := s.DeregisterWorker(ctx, w.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.DeregisterWorker(ctx, w.ID); !errors.Is(err, conductor.ErrWorkerNotFound) {
		t.Fatalf("second deregister = %v, want %v", err, conductor.ErrWorkerNotFound)
	}
}

func TestClusterLeadership(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	w1 := cluster.NewWorker(id.NewWorkerID(), nil, 1)
	w2 := cluster.NewWorker(id.NewWorkerID(), nil, 1)
	for _, w := range []*cluster.Worker{w1, w2} {
		if err := s.RegisterWorker(ctx, w); err != nil {
			t.Fatal(err)
		}
	}

	ttl := 5 * time.Minute

	leader, err := s.GetLeader(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if leader != nil {
		t.Fatal("expected no leader initially")
	}

	ok, err := s.AcquireLeadership(ctx, w1.ID, ttl)
	if err != nil || !ok {
		t.Fatalf("AcquireLeadership(w1) = %v, %v, want true", ok, err)
	}
	leader, _ = s.GetLeader(ctx)
	if leader == nil || leader.ID != w1.ID || !leader.IsLeader {
		t.Fatal("leader should be worker 1")
	}

	ok, _ = s.AcquireLeadership(ctx, w2.ID, ttl)
	if ok {
		t.Fatal("expected worker 2 to fail acquiring leadership")
	}
	ok, _ = s.RenewLeadership(ctx, w1.ID, ttl)
	if !ok {
		t.Fatal("expected worker 1 to renew")
	}
	ok, _ = s.RenewLeadership(ctx, w2.ID, ttl)
	if ok {
		t.Fatal("expected worker 2 renewal to fail")
	}

	// An expired lease can be taken over.
	if ok, _ := s.AcquireLeadership(ctx, w1.ID, -time.Second); !ok {
		t.Fatal("expected worker 1 to re-acquire")
	}
	ok, _ = s.AcquireLeadership(ctx, w2.ID, ttl)
	if !ok {
		t.Fatal("expected worker 2 to take over an expired lease")
	}
	leader, _ = s.GetLeader(ctx)
	if leader == nil || leader.ID != w2.ID {
		t.Fatal("leader should be worker 2")
	}
}

// ──────────────────────────────────────────────────
// Conformance
// ──────────────────────────────────────────────────

func TestConformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return New() })
}
