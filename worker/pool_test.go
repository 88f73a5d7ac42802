package worker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/backoff"
	"github.com/xraph/conductor/ext"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/middleware"
	"github.com/xraph/conductor/store/memory"
	"github.com/xraph/conductor/task"
	"github.com/xraph/conductor/worker"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestPool(t *testing.T, concurrency int, pollInterval time.Duration, opts ...worker.PoolOption) (
	*worker.Pool, *memory.Store, *task.Registry,
) {
	t.Helper()
	logger := quietLogger()
	s := memory.New()
	reg := task.NewRegistry()
	extensions := ext.NewRegistry(logger)

	executor := worker.NewExecutor(
		reg, extensions, s, backoff.Constant(10*time.Millisecond), logger,
		middleware.Recover(logger),
	)

	opts = append([]worker.PoolOption{
		worker.WithPoolConcurrency(concurrency),
		worker.WithPollInterval(pollInterval),
		worker.WithPoolQueues([]string{"default"}),
	}, opts...)
	pool := worker.NewPool(s, executor, extensions, logger, opts...)

	return pool, s, reg
}

func enqueue(t *testing.T, s *memory.Store, name string, maxRetries int, args ...any) *task.Task {
	t.Helper()
	tk := &task.Task{
		Entity:     conductor.NewEntity(),
		ID:         id.NewTaskID(),
		Name:       name,
		Queue:      "default",
		Args:       args,
		Status:     task.StatusPending,
		MaxRetries: maxRetries,
		RunAt:      time.Now().UTC(),
	}
	if err := s.EnqueueTask(context.Background(), tk); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return tk
}

// waitForStatus polls the ledger until the task reaches want.
func waitForStatus(t *testing.T, s *memory.Store, taskID id.TaskID, want task.Status) *task.Task {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		got, err := s.GetTask(context.Background(), taskID)
		if err != nil {
			t.Fatalf("get task: %v", err)
		}
		if got.Status == want {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("task status = %q, want %q", got.Status, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func stopPool(t *testing.T, pool *worker.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}
}

func TestPool_StartStop(t *testing.T) {
	pool, _, _ := setupTestPool(t, 2, 50*time.Millisecond)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	// Double start should be no-op.
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	stopPool(t, pool)
	// Double stop should be no-op.
	stopPool(t, pool)
}

func TestPool_ProcessesTask(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	task.RegisterFunc(reg, "greet", func(_ context.Context, args []any, _ map[string]any) (task.Result, error) {
		return task.Result{args[0], "hello"}, nil
	})
	tk := enqueue(t, s, "greet", 0, "X")

	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := waitForStatus(t, s, tk.ID, task.StatusSuccess)
	stopPool(t, pool)

	if len(got.Result) != 2 || got.Result[0] != "X" {
		t.Fatalf("result = %v, want [X hello]", got.Result)
	}
	if got.WorkerID != pool.WorkerID() {
		t.Errorf("worker_id = %s, want %s", got.WorkerID, pool.WorkerID())
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set")
	}
}

func TestPool_FailedTask(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var attempts atomic.Int32
	task.RegisterFunc(reg, "flaky", func(context.Context, []any, map[string]any) (task.Result, error) {
		attempts.Add(1)
		return nil, errors.New("always fails")
	})
	tk := enqueue(t, s, "flaky", 1, "X")

	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := waitForStatus(t, s, tk.ID, task.StatusFailure)
	stopPool(t, pool)

	if n := attempts.Load(); n != 2 {
		t.Errorf("attempts = %d, want 2", n)
	}
	if got.Error == "" {
		t.Error("expected Error to be set")
	}
}

func TestPool_RevokeStopsRunningBody(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond,
		worker.WithHeartbeatInterval(20*time.Millisecond),
	)

	started := make(chan struct{})
	var cancelled atomic.Bool
	task.RegisterFunc(reg, "long", func(ctx context.Context, _ []any, _ map[string]any) (task.Result, error) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return nil, ctx.Err()
	})
	tk := enqueue(t, s, "long", 3, "X")

	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("body never started")
	}

	if ok, err := s.RevokeTask(context.Background(), tk.ID, "operator"); err != nil || !ok {
		t.Fatalf("RevokeTask = %v, %v", ok, err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for !cancelled.Load() {
		if time.Now().After(deadline) {
			t.Fatal("revoked body was not cancelled")
		}
		time.Sleep(10 * time.Millisecond)
	}
	stopPool(t, pool)

	got := waitForStatus(t, s, tk.ID, task.StatusRevoked)
	if got.Retries != 0 {
		t.Fatalf("revoked task was retried %d times", got.Retries)
	}
}

func TestPool_GracefulShutdown(t *testing.T) {
	pool, _, _ := setupTestPool(t, 4, 50*time.Millisecond)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	// Allow workers to start polling.
	time.Sleep(100 * time.Millisecond)

	stopPool(t, pool)
}

func TestPool_ExtensionFires(t *testing.T) {
	logger := quietLogger()
	s := memory.New()
	reg := task.NewRegistry()
	extensions := ext.NewRegistry(logger)

	tracker := &trackingExt{}
	extensions.Register(tracker)

	executor := worker.NewExecutor(reg, extensions, s, backoff.Constant(10*time.Millisecond), logger)
	pool := worker.NewPool(s, executor, extensions, logger,
		worker.WithPoolConcurrency(1),
		worker.WithPollInterval(10*time.Millisecond),
	)

	task.RegisterFunc(reg, "tracked", func(_ context.Context, args []any, _ map[string]any) (task.Result, error) {
		return task.Result{args[0]}, nil
	})
	tk := enqueue(t, s, "tracked", 0, "X")

	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, s, tk.ID, task.StatusSuccess)
	stopPool(t, pool)

	if !tracker.started.Load() {
		t.Error("OnTaskStarted was not called")
	}
	if !tracker.succeeded.Load() {
		t.Error("OnTaskSucceeded was not called")
	}
}

type trackingExt struct {
	started   atomic.Bool
	succeeded atomic.Bool
}

func (e *trackingExt) Name() string { return "tracker" }

func (e *trackingExt) OnTaskStarted(context.Context, *task.Task) error {
	e.started.Store(true)
	return nil
}

func (e *trackingExt) OnTaskSucceeded(context.Context, *task.Task, time.Duration) error {
	e.succeeded.Store(true)
	return nil
}
