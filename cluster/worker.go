package cluster

import (
	"os"
	"slices"
	"time"

	"github.com/xraph/conductor/id"
)

// WorkerState represents the lifecycle state of a worker.
type WorkerState string

const (
	// WorkerActive means the worker is claiming and executing tasks.
	WorkerActive WorkerState = "active"
	// WorkerDraining means the worker is finishing in-flight tasks during
	// shutdown and claims nothing new.
	WorkerDraining WorkerState = "draining"
	// WorkerDead means the worker stopped heartbeating.
	WorkerDead WorkerState = "dead"
)

// Worker is one conductor process attached to the shared store.
type Worker struct {
	ID          id.WorkerID       `json:"id"`
	Hostname    string            `json:"hostname"`
	Queues      []string          `json:"queues"`
	Concurrency int               `json:"concurrency"`
	State       WorkerState       `json:"state"`
	IsLeader    bool              `json:"is_leader"`
	LeaderUntil *time.Time        `json:"leader_until,omitempty"`
	LastSeen    time.Time         `json:"last_seen"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// NewWorker describes the current process as an active worker.
func NewWorker(workerID id.WorkerID, queues []string, concurrency int) *Worker {
	host, _ := os.Hostname()
	now := time.Now().UTC()
	return &Worker{
		ID:          workerID,
		Hostname:    host,
		Queues:      slices.Clone(queues),
		Concurrency: concurrency,
		State:       WorkerActive,
		LastSeen:    now,
		CreatedAt:   now,
	}
}

// Clone returns a copy that shares no mutable state with w.
func (w *Worker) Clone() *Worker {
	cp := *w
	cp.Queues = slices.Clone(w.Queues)
	if w.LeaderUntil != nil {
		until := *w.LeaderUntil
		cp.LeaderUntil = &until
	}
	if w.Metadata != nil {
		cp.Metadata = make(map[string]string, len(w.Metadata))
		for k, v := range w.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
