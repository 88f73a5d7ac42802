package cluster

import (
	"context"
	"time"

	"github.com/xraph/conductor/id"
)

// Store defines the persistence contract for worker registration and
// leader election.
type Store interface {
	// RegisterWorker adds a worker to the registry, replacing an existing
	// record with the same ID.
	RegisterWorker(ctx context.Context, w *Worker) error

	// DeregisterWorker removes a worker from the registry.
	DeregisterWorker(ctx context.Context, workerID id.WorkerID) error

	// HeartbeatWorker updates the last-seen timestamp for a worker.
	HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error

	// ListWorkers returns all registered workers.
	ListWorkers(ctx context.Context) ([]*Worker, error)

	// ReapDeadWorkers returns workers whose last-seen timestamp is older
	// than the given threshold.
	ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*Worker, error)

	// AcquireLeadership makes workerID the leader unless another worker
	// holds an unexpired lease. The lease expires after ttl.
	AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// RenewLeadership extends the lease if workerID still holds it.
	RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// GetLeader returns the current leader, or nil if there is none.
	GetLeader(ctx context.Context) (*Worker, error)
}
