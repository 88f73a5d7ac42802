package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/cluster"
	"github.com/xraph/conductor/id"
)

// deadAfterBeats is how many missed heartbeats make a worker dead.
const deadAfterBeats = 3

// membership keeps this process registered in the cluster store while the
// engine runs.
type membership struct {
	store    cluster.Store
	workerID id.WorkerID
	queues   []string
	conc     int
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
	done   chan struct{}
}

func newMembership(st cluster.Store, workerID id.WorkerID, cfg conductor.Config, logger *slog.Logger) *membership {
	return &membership{
		store:    st,
		workerID: workerID,
		queues:   cfg.Queues,
		conc:     cfg.Concurrency,
		interval: cfg.HeartbeatInterval,
		logger:   logger,
	}
}

// Start registers the worker and begins heartbeating.
func (m *membership) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopCh != nil {
		return nil
	}

	w := cluster.NewWorker(m.workerID, m.queues, m.conc)
	if err := m.store.RegisterWorker(ctx, w); err != nil {
		// Scheduling still works without a registry entry.
		m.logger.Warn("failed to register worker in cluster store",
			slog.String("worker_id", m.workerID.String()),
			slog.String("error", err.Error()),
		)
	}

	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	go m.heartbeatLoop(m.stopCh, m.done)
	return nil
}

// Stop ends heartbeating and deregisters the worker.
func (m *membership) Stop(ctx context.Context) error {
	m.mu.Lock()
	stopCh, done := m.stopCh, m.done
	m.stopCh, m.done = nil, nil
	m.mu.Unlock()
	if stopCh == nil {
		return nil
	}

	close(stopCh)
	<-done

	if err := m.store.DeregisterWorker(ctx, m.workerID); err != nil {
		m.logger.Warn("failed to deregister worker",
			slog.String("worker_id", m.workerID.String()),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (m *membership) heartbeatLoop(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if m.interval <= 0 {
		<-stopCh
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if err := m.store.HeartbeatWorker(context.Background(), m.workerID); err != nil {
				m.logger.Warn("worker heartbeat failed",
					slog.String("worker_id", m.workerID.String()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// reapDead deregisters workers that missed several heartbeats. It runs as
// a leader-only cron entry.
func (m *membership) reapDead(ctx context.Context) error {
	dead, err := m.store.ReapDeadWorkers(ctx, deadAfterBeats*m.interval)
	if err != nil {
		return err
	}
	for _, w := range dead {
		if w.ID == m.workerID {
			continue
		}
		if err := m.store.DeregisterWorker(ctx, w.ID); err != nil {
			return err
		}
		m.logger.Info("dead worker deregistered",
			slog.String("worker_id", w.ID.String()),
			slog.String("hostname", w.Hostname),
			slog.Time("last_seen", w.LastSeen),
		)
	}
	return nil
}
