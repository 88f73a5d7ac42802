package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/cluster"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/task"
	"github.com/xraph/conductor/workflow"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ task.Ledger    = (*Store)(nil)
	_ workflow.Store = (*Store)(nil)
	_ cluster.Store  = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	tasks     map[id.TaskID]*task.Task
	workflows map[id.WorkflowID]*workflow.Instance
	workers   map[id.WorkerID]*cluster.Worker

	// leader tracks the current cluster leader.
	leader      id.WorkerID
	leaderUntil time.Time

	closed bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		tasks:     make(map[id.TaskID]*task.Task),
		workflows: make(map[id.WorkflowID]*workflow.Instance),
		workers:   make(map[id.WorkerID]*cluster.Worker),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping fails only after Close.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return conductor.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Data stays readable.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Task Ledger
// ──────────────────────────────────────────────────

// EnqueueTask persists a new task in PENDING status.
func (m *Store) EnqueueTask(_ context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tasks[t.ID]; exists {
		return conductor.ErrTaskAlreadyExists
	}
	m.tasks[t.ID] = t.Clone()
	return nil
}

// DequeueTasks atomically claims up to limit PENDING or RETRY tasks from
// the given queues, marks them STARTED, and returns them.
func (m *Store) DequeueTasks(_ context.Context, queues []string, limit int) ([]*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queueSet := make(map[string]struct{}, len(queues))
	for _, q := range queues {
		queueSet[q] = struct{}{}
	}

	now := time.Now().UTC()

	candidates := make([]*task.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if t.Status != task.StatusPending && t.Status != task.StatusRetry {
			continue
		}
		if !t.RunAt.IsZero() && t.RunAt.After(now) {
			continue
		}
		if len(queueSet) > 0 {
			if _, ok := queueSet[t.Queue]; !ok {
				continue
			}
		}
		candidates = append(candidates, t)
	}

	// Sort: priority DESC, RunAt ASC.
	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority > candidates[k].Priority
		}
		return candidates[i].RunAt.Before(candidates[k].RunAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*task.Task, len(candidates))
	for i, t := range candidates {
		t.Status = task.StatusStarted
		started, beat := now, now
		t.StartedAt = &started
		t.HeartbeatAt = &beat
		t.UpdatedAt = now
		// Return a copy so callers can mutate without racing with the store.
		result[i] = t.Clone()
	}

	return result, nil
}

// GetTask retrieves a task by ID.
func (m *Store) GetTask(_ context.Context, taskID id.TaskID) (*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return nil, conductor.ErrTaskNotFound
	}
	return t.Clone(), nil
}

// UpdateTask persists changes to an existing task. A revoked record is
// final.
func (m *Store) UpdateTask(_ context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.tasks[t.ID]
	if !ok {
		return conductor.ErrTaskNotFound
	}
	if cur.Status == task.StatusRevoked {
		return conductor.ErrInvalidState
	}
	cp := t.Clone()
	cp.UpdatedAt = time.Now().UTC()
	m.tasks[t.ID] = cp
	return nil
}

// RevokeTask marks a task REVOKED unless it is already terminal.
func (m *Store) RevokeTask(_ context.Context, taskID id.TaskID, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return false, conductor.ErrTaskNotFound
	}
	if t.Status.Terminal() {
		return false, nil
	}
	now := time.Now().UTC()
	t.Status = task.StatusRevoked
	t.Error = reason
	t.CompletedAt = &now
	t.UpdatedAt = now
	return true, nil
}

// DeleteTasks removes the given tasks and returns how many existed.
func (m *Store) DeleteTasks(_ context.Context, taskIDs []id.TaskID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, tid := range taskIDs {
		if _, ok := m.tasks[tid]; ok {
			delete(m.tasks, tid)
			n++
		}
	}
	return n, nil
}

// ListTasksByStatus returns tasks with the given status, oldest first.
func (m *Store) ListTasksByStatus(_ context.Context, status task.Status, opts task.ListOpts) ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*task.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if t.Status != status {
			continue
		}
		if opts.Queue != "" && t.Queue != opts.Queue {
			continue
		}
		result = append(result, t.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

// ReportProgress stores progress on a running task.
func (m *Store) ReportProgress(_ context.Context, taskID id.TaskID, progress any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return conductor.ErrTaskNotFound
	}
	if !t.Status.Running() {
		return conductor.ErrInvalidState
	}
	t.Progress = progress
	t.Status = task.StatusProgress
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// HeartbeatTask updates the heartbeat timestamp for a running task.
func (m *Store) HeartbeatTask(_ context.Context, taskID id.TaskID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return conductor.ErrTaskNotFound
	}
	now := time.Now().UTC()
	t.HeartbeatAt = &now
	t.WorkerID = workerID
	return nil
}

// ReapStaleTasks returns running tasks whose last heartbeat is older than
// the given threshold.
func (m *Store) ReapStaleTasks(_ context.Context, threshold time.Duration) ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var stale []*task.Task
	for _, t := range m.tasks {
		if t.Status != task.StatusStarted && t.Status != task.StatusProgress {
			continue
		}
		if t.HeartbeatAt != nil && t.HeartbeatAt.Before(cutoff) {
			stale = append(stale, t.Clone())
		}
	}
	return stale, nil
}

// RecoverStaleTask replaces a task that is still running with a stale
// heartbeat.
func (m *Store) RecoverStaleTask(_ context.Context, t *task.Task, threshold time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.tasks[t.ID]
	if !ok {
		return false, conductor.ErrTaskNotFound
	}
	cutoff := time.Now().UTC().Add(-threshold)
	if !cur.Status.Running() || cur.HeartbeatAt == nil || !cur.HeartbeatAt.Before(cutoff) {
		return false, nil
	}
	cp := t.Clone()
	cp.UpdatedAt = time.Now().UTC()
	m.tasks[t.ID] = cp
	return true, nil
}

// CountTasks returns the number of tasks matching the given options.
func (m *Store) CountTasks(_ context.Context, opts task.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, t := range m.tasks {
		if opts.Queue != "" && t.Queue != opts.Queue {
			continue
		}
		if opts.Status != "" && t.Status != opts.Status {
			continue
		}
		count++
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Workflow Store
// ──────────────────────────────────────────────────

// InsertWorkflow persists a new workflow instance.
func (m *Store) InsertWorkflow(_ context.Context, inst *workflow.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.workflows[inst.ID]; exists {
		return conductor.ErrWorkflowAlreadyExists
	}
	m.workflows[inst.ID] = inst.Clone()
	return nil
}

// GetWorkflow retrieves a workflow instance by ID.
func (m *Store) GetWorkflow(_ context.Context, wfID id.WorkflowID) (*workflow.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.workflows[wfID]
	if !ok {
		return nil, conductor.ErrWorkflowNotFound
	}
	return inst.Clone(), nil
}

// UpdateWorkflow replaces an instance when its revision matches.
func (m *Store) UpdateWorkflow(_ context.Context, inst *workflow.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.workflows[inst.ID]
	if !ok {
		return conductor.ErrWorkflowNotFound
	}
	if cur.Revision != inst.Revision {
		return conductor.ErrConflict
	}
	inst.Revision++
	m.workflows[inst.ID] = inst.Clone()
	return nil
}

// DeleteWorkflows removes the given instances and returns how many
// existed.
func (m *Store) DeleteWorkflows(_ context.Context, wfIDs []id.WorkflowID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, wid := range wfIDs {
		if _, ok := m.workflows[wid]; ok {
			delete(m.workflows, wid)
			n++
		}
	}
	return n, nil
}

// ListWorkflows returns instances matching the options, newest first.
func (m *Store) ListWorkflows(_ context.Context, opts workflow.ListOpts) ([]*workflow.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*workflow.Instance, 0, len(m.workflows))
	for _, inst := range m.workflows {
		if opts.OwnerTag != "" && inst.OwnerTag != opts.OwnerTag {
			continue
		}
		if opts.DefinitionName != "" && inst.DefinitionName != opts.DefinitionName {
			continue
		}
		result = append(result, inst.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

// FindStaleWorkflows returns purge candidates, oldest first.
func (m *Store) FindStaleWorkflows(_ context.Context, q workflow.StaleQuery) ([]*workflow.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	exclude := make(map[id.WorkflowID]struct{}, len(q.Exclude))
	for _, wid := range q.Exclude {
		exclude[wid] = struct{}{}
	}

	var result []*workflow.Instance
	for _, inst := range m.workflows {
		if inst.OwnerTag != q.OwnerTag {
			continue
		}
		if len(q.DefinitionNames) > 0 && !slices.Contains(q.DefinitionNames, inst.DefinitionName) {
			continue
		}
		if !inst.CreatedAt.Before(q.CreatedBefore) {
			continue
		}
		if _, live := exclude[inst.ID]; live {
			continue
		}
		result = append(result, inst.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	return paginate(result, 0, q.Limit), nil
}

// ──────────────────────────────────────────────────
// Cluster Store
// ──────────────────────────────────────────────────

// RegisterWorker adds a worker to the cluster registry.
func (m *Store) RegisterWorker(_ context.Context, w *cluster.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.workers[w.ID] = w.Clone()
	return nil
}

// DeregisterWorker removes a worker from the cluster registry.
func (m *Store) DeregisterWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workers[workerID]; !ok {
		return conductor.ErrWorkerNotFound
	}
	delete(m.workers, workerID)
	if m.leader == workerID {
		m.leader = id.Nil
	}
	return nil
}

// HeartbeatWorker updates the last-seen timestamp for a worker.
func (m *Store) HeartbeatWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID]
	if !ok {
		return conductor.ErrWorkerNotFound
	}
	w.LastSeen = time.Now().UTC()
	return nil
}

// ListWorkers returns all registered workers.
func (m *Store) ListWorkers(_ context.Context) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cluster.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		result = append(result, w.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	return result, nil
}

// ReapDeadWorkers returns workers whose last-seen timestamp is older than
// the given threshold.
func (m *Store) ReapDeadWorkers(_ context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var dead []*cluster.Worker
	for _, w := range m.workers {
		if w.LastSeen.Before(cutoff) {
			dead = append(dead, w.Clone())
		}
	}
	return dead, nil
}

// AcquireLeadership attempts to become the cluster leader.
func (m *Store) AcquireLeadership(_ context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()

	// If there's already a leader whose TTL hasn't expired and it's not us, fail.
	if !m.leader.IsNil() && m.leaderUntil.After(now) && m.leader != workerID {
		return false, nil
	}

	if prev, ok := m.workers[m.leader]; ok && m.leader != workerID {
		prev.IsLeader = false
		prev.LeaderUntil = nil
	}

	m.leader = workerID
	m.leaderUntil = now.Add(ttl)

	if w, ok := m.workers[workerID]; ok {
		w.IsLeader = true
		until := m.leaderUntil
		w.LeaderUntil = &until
	}

	return true, nil
}

// RenewLeadership extends the leader's hold.
func (m *Store) RenewLeadership(_ context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if m.leader != workerID || m.leaderUntil.Before(now) {
		return false, nil
	}

	m.leaderUntil = now.Add(ttl)

	if w, ok := m.workers[workerID]; ok {
		until := m.leaderUntil
		w.LeaderUntil = &until
	}

	return true, nil
}

// GetLeader returns the current cluster leader, or nil if there is no leader.
func (m *Store) GetLeader(_ context.Context) (*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.leader.IsNil() || m.leaderUntil.Before(time.Now().UTC()) {
		return nil, nil
	}

	w, ok := m.workers[m.leader]
	if !ok {
		return nil, nil
	}
	return w.Clone(), nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
