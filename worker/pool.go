package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/conductor/ext"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/task"
)

// QueueManager controls per-queue and per-owner rate limiting and
// concurrency. The pool calls Acquire before executing a claimed task and
// Release after execution completes.
type QueueManager interface {
	Acquire(queue, owner string) bool
	Release(queue, owner string)
}

// Pool manages concurrent worker goroutines that claim tasks from the
// ledger and execute them through the Executor.
type Pool struct {
	ledger       task.Ledger
	executor     *Executor
	extensions   *ext.Registry
	concurrency  int
	queues       []string
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger

	heartbeatInterval  time.Duration
	staleTaskThreshold time.Duration

	queueManager QueueManager

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	activeMu    sync.Mutex
	activeTasks map[id.TaskID]context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolQueues sets the queues the pool will poll.
func WithPoolQueues(queues []string) PoolOption {
	return func(p *Pool) { p.queues = queues }
}

// WithPollInterval sets how often idle workers poll for new tasks.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often the pool heartbeats active tasks
// and checks them for revocation. Zero disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStaleTaskThreshold sets how long a running task may go without a
// heartbeat before it is considered lost. Zero disables reaping.
func WithStaleTaskThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleTaskThreshold = d }
}

// WithQueueManager sets the queue manager for rate limiting and
// concurrency control.
func WithQueueManager(m QueueManager) PoolOption {
	return func(p *Pool) { p.queueManager = m }
}

// WithWorkerID sets the pool's worker identity, e.g. to match a cluster
// registration.
func WithWorkerID(workerID id.WorkerID) PoolOption {
	return func(p *Pool) { p.workerID = workerID }
}

// NewPool creates a worker pool.
func NewPool(
	ledger task.Ledger,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		ledger:       ledger,
		executor:     executor,
		extensions:   extensions,
		concurrency:  10,
		queues:       []string{"default"},
		pollInterval: time.Second,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		stopCh:       make(chan struct{}),
		activeTasks:  make(map[id.TaskID]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("queues", p.queues),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.dequeueLoop()
	}
	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.every(p.heartbeatInterval, p.sendHeartbeats)
	}
	if p.staleTaskThreshold > 0 {
		p.wg.Add(1)
		go p.every(p.staleTaskThreshold, p.reapStaleTasks)
	}
	return nil
}

// Stop signals all workers to stop and waits for them to finish. When ctx
// expires first, active task bodies are cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active tasks")
		p.cancelActiveTasks()
		p.wg.Wait()
	}
	return nil
}

// Terminate cancels the body of a task running in this pool. It reports
// whether the task was running here.
func (p *Pool) Terminate(taskID id.TaskID) bool {
	p.activeMu.Lock()
	cancel, ok := p.activeTasks[taskID]
	p.activeMu.Unlock()
	if ok {
		p.logger.Info("terminating task", slog.String("task_id", taskID.String()))
		cancel()
	}
	return ok
}

// dequeueLoop is run by each worker goroutine.
func (p *Pool) dequeueLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		tasks, err := p.ledger.DequeueTasks(context.Background(), p.queues, 1)
		if err != nil {
			p.logger.Error("dequeue error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}
		if len(tasks) == 0 {
			p.sleep()
			continue
		}

		p.run(tasks[0])
	}
}

func (p *Pool) run(t *task.Task) {
	if p.queueManager != nil && !p.queueManager.Acquire(t.Queue, t.Owner) {
		p.requeue(t)
		p.sleep()
		return
	}
	if p.queueManager != nil {
		defer p.queueManager.Release(t.Queue, t.Owner)
	}

	t.WorkerID = p.workerID
	if err := p.ledger.HeartbeatTask(context.Background(), t.ID, p.workerID); err != nil {
		p.logger.Warn("initial heartbeat failed",
			slog.String("task_id", t.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	p.extensions.EmitTaskStarted(context.Background(), t)

	ctx, cancel := context.WithCancel(context.Background())
	p.track(t.ID, cancel)
	defer func() {
		p.untrack(t.ID)
		cancel()
	}()

	if err := p.executor.Execute(ctx, t); err != nil && !errors.Is(err, errRevoked) {
		p.logger.Debug("task execution failed",
			slog.String("task_id", t.ID.String()),
			slog.String("task_name", t.Name),
			slog.String("error", err.Error()),
		)
	}
}

// requeue hands a rate-limited task back to the ledger.
func (p *Pool) requeue(t *task.Task) {
	t.Status = task.StatusPending
	t.RunAt = time.Now().UTC().Add(p.pollInterval)
	t.StartedAt = nil
	if err := p.ledger.UpdateTask(context.Background(), t); err != nil {
		p.logger.Error("failed to re-enqueue rate-limited task",
			slog.String("task_id", t.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) every(interval time.Duration, fn func()) {
	defer p.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			fn()
		}
	}
}

// sendHeartbeats keeps active tasks alive and cancels the bodies of tasks
// another process revoked.
func (p *Pool) sendHeartbeats() {
	ctx := context.Background()
	for _, taskID := range p.activeIDs() {
		cur, err := p.ledger.GetTask(ctx, taskID)
		if err == nil && cur.Status == task.StatusRevoked {
			p.Terminate(taskID)
			continue
		}
		if err := p.ledger.HeartbeatTask(ctx, taskID, p.workerID); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("task_id", taskID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reapStaleTasks recovers tasks whose worker stopped heartbeating: they are
// retried while their budget lasts, otherwise recorded as FAILURE.
func (p *Pool) reapStaleTasks() {
	ctx := context.Background()
	stale, err := p.ledger.ReapStaleTasks(ctx, p.staleTaskThreshold)
	if err != nil {
		p.logger.Error("reap stale tasks error", slog.String("error", err.Error()))
		return
	}

	for _, t := range stale {
		if p.isActive(t.ID) {
			continue
		}

		now := time.Now().UTC()
		t.WorkerID = id.Nil
		t.HeartbeatAt = nil
		t.UpdatedAt = now
		t.Error = "worker lost"
		if t.Retries < t.MaxRetries {
			t.Retries++
			t.Status = task.StatusRetry
			t.RunAt = now
		} else {
			t.Status = task.StatusFailure
			t.CompletedAt = &now
		}

		recovered, err := p.ledger.RecoverStaleTask(ctx, t, p.staleTaskThreshold)
		if err != nil {
			p.logger.Error("reap: failed to recover stale task",
				slog.String("task_id", t.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !recovered {
			// Heartbeat or outcome landed after the scan.
			continue
		}
		if t.Status == task.StatusFailure {
			p.extensions.EmitTaskFailed(ctx, t, errors.New(t.Error))
		}

		p.logger.Info("reaped stale task",
			slog.String("task_id", t.ID.String()),
			slog.String("task_name", t.Name),
			slog.String("status", string(t.Status)),
		)
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) track(taskID id.TaskID, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeTasks[taskID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrack(taskID id.TaskID) {
	p.activeMu.Lock()
	delete(p.activeTasks, taskID)
	p.activeMu.Unlock()
}

func (p *Pool) isActive(taskID id.TaskID) bool {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	_, ok := p.activeTasks[taskID]
	return ok
}

func (p *Pool) activeIDs() []id.TaskID {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	ids := make([]id.TaskID, 0, len(p.activeTasks))
	for taskID := range p.activeTasks {
		ids = append(ids, taskID)
	}
	return ids
}

func (p *Pool) cancelActiveTasks() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for taskID, cancel := range p.activeTasks {
		p.logger.Warn("cancelling active task", slog.String("task_id", taskID.String()))
		cancel()
	}
}
