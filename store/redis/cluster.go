package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/cluster"
	"github.com/xraph/conductor/id"
)

// RegisterWorker adds a worker to the cluster registry.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	wID := w.ID.String()
	key := workerKey(wID)

	fields, err := workerToMap(w)
	if err != nil {
		return fmt.Errorf("conductor/redis: register worker: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields)
	pipe.SAdd(ctx, workerIDsKey, wID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conductor/redis: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker and releases the leader key if it
// holds it.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	wID := workerID.String()
	key := workerKey(wID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("conductor/redis: deregister exists: %w", err)
	}
	if exists == 0 {
		return conductor.ErrWorkerNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, workerIDsKey, wID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conductor/redis: deregister worker: %w", err)
	}

	err = s.client.Watch(ctx, func(tx *goredis.Tx) error {
		current, err := tx.Get(ctx, leaderKey).Result()
		if err != nil || current != wID {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, leaderKey)
			return nil
		})
		return err
	}, leaderKey)
	if err != nil && !errors.Is(err, goredis.TxFailedErr) {
		s.logger.Warn("failed to release leader key", "worker_id", wID, "error", err)
	}
	return nil
}

// HeartbeatWorker updates the last-seen timestamp for a worker.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	key := workerKey(workerID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("conductor/redis: heartbeat exists: %w", err)
	}
	if exists == 0 {
		return conductor.ErrWorkerNotFound
	}

	if err := s.client.HSet(ctx, key, "last_seen", formatTime(time.Now())).Err(); err != nil {
		return fmt.Errorf("conductor/redis: heartbeat worker: %w", err)
	}
	return nil
}

// ListWorkers returns all registered workers, oldest first.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	ids, err := s.client.SMembers(ctx, workerIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("conductor/redis: list workers: %w", err)
	}

	workers := make([]*cluster.Worker, 0, len(ids))
	for _, wID := range ids {
		vals, getErr := s.client.HGetAll(ctx, workerKey(wID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		w, convErr := mapToWorker(vals)
		if convErr != nil {
			continue
		}
		workers = append(workers, w)
	}
	sort.Slice(workers, func(i, k int) bool {
		return workers[i].CreatedAt.Before(workers[k].CreatedAt)
	})
	return workers, nil
}

// ReapDeadWorkers returns workers whose last-seen timestamp is older than
// the threshold.
func (s *Store) ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	workers, err := s.ListWorkers(ctx)
	if err != nil {
		return nil, err
	}

	var dead []*cluster.Worker
	for _, w := range workers {
		if w.LastSeen.Before(cutoff) {
			dead = append(dead, w)
		}
	}
	return dead, nil
}

// AcquireLeadership attempts to become the cluster leader. The leader key
// carries the lease as its TTL.
func (s *Store) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	wID := workerID.String()

	ok, err := s.client.SetNX(ctx, leaderKey, wID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("conductor/redis: acquire leadership setnx: %w", err)
	}
	if !ok {
		// Re-acquiring a lease we already hold extends it.
		return s.extendLease(ctx, wID, ttl)
	}

	s.markLeader(ctx, wID, ttl)
	return true, nil
}

// RenewLeadership extends the leader's hold.
func (s *Store) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	return s.extendLease(ctx, workerID.String(), ttl)
}

// GetLeader returns the current cluster leader, or nil if there is no leader.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Worker, error) {
	wID, err := s.client.Get(ctx, leaderKey).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil // no leader
		}
		return nil, fmt.Errorf("conductor/redis: get leader: %w", err)
	}

	vals, err := s.client.HGetAll(ctx, workerKey(wID)).Result()
	if err != nil || len(vals) == 0 {
		return nil, nil // leader key exists but worker gone
	}
	return mapToWorker(vals)
}

// extendLease resets the leader key TTL when wID holds it. The check and
// the PEXPIRE run in one WATCH transaction.
func (s *Store) extendLease(ctx context.Context, wID string, ttl time.Duration) (bool, error) {
	var held bool
	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		current, err := tx.Get(ctx, leaderKey).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return nil
			}
			return err
		}
		if current != wID {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.PExpire(ctx, leaderKey, ttl)
			return nil
		})
		if err != nil {
			return err
		}
		held = true
		return nil
	}, leaderKey)
	if errors.Is(err, goredis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("conductor/redis: extend leadership: %w", err)
	}
	if held {
		s.markLeader(ctx, wID, ttl)
	}
	return held, nil
}

// markLeader mirrors the lease onto the worker hash. The leader key stays
// authoritative, so failures are only logged.
func (s *Store) markLeader(ctx context.Context, wID string, ttl time.Duration) {
	until := time.Now().UTC().Add(ttl)
	if _, err := s.client.HSet(ctx, workerKey(wID),
		"is_leader", "1",
		"leader_until", formatTime(until),
	).Result(); err != nil {
		s.logger.Warn("failed to update leader fields", "error", err)
	}
}

// ── helpers ──

func workerToMap(w *cluster.Worker) (map[string]any, error) {
	queues, err := pack(w.Queues)
	if err != nil {
		return nil, fmt.Errorf("encode queues: %w", err)
	}
	metadata, err := pack(w.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	m := map[string]any{
		"id":          w.ID.String(),
		"hostname":    w.Hostname,
		"queues":      queues,
		"concurrency": strconv.Itoa(w.Concurrency),
		"state":       string(w.State),
		"is_leader":   boolToStr(w.IsLeader),
		"last_seen":   formatTime(w.LastSeen),
		"metadata":    metadata,
		"created_at":  formatTime(w.CreatedAt),
	}
	if w.LeaderUntil != nil {
		m["leader_until"] = formatTime(*w.LeaderUntil)
	}
	return m, nil
}

func mapToWorker(m map[string]string) (*cluster.Worker, error) {
	wID, err := id.ParseWorkerID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("conductor/redis: parse worker id: %w", err)
	}

	concurrency, _ := strconv.Atoi(m["concurrency"]) //nolint:errcheck // best-effort parse from trusted Redis data

	w := &cluster.Worker{
		ID:          wID,
		Hostname:    m["hostname"],
		Concurrency: concurrency,
		State:       cluster.WorkerState(m["state"]),
		IsLeader:    m["is_leader"] == "1",
		LeaderUntil: parseTimePtr(m["leader_until"]),
		LastSeen:    parseTime(m["last_seen"]),
		CreatedAt:   parseTime(m["created_at"]),
	}
	if err := unpack(m["queues"], &w.Queues); err != nil {
		return nil, fmt.Errorf("conductor/redis: decode queues: %w", err)
	}
	if err := unpack(m["metadata"], &w.Metadata); err != nil {
		return nil, fmt.Errorf("conductor/redis: decode metadata: %w", err)
	}
	return w, nil
}

func boolToStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
