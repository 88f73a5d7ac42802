package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/cluster"
	"github.com/xraph/conductor/id"
)

const leaderLeaseID = "leader"

// RegisterWorker upserts a worker into the cluster registry.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	m := toWorkerModel(w)
	_, err := s.db.Collection(colWorkers).ReplaceOne(ctx,
		bson.M{"_id": m.ID},
		m,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("conductor/mongo: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker and releases its lease if it holds
// one.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	res, err := s.db.Collection(colWorkers).DeleteOne(ctx, bson.M{"_id": workerID.String()})
	if err != nil {
		return fmt.Errorf("conductor/mongo: deregister worker: %w", err)
	}
	if res.DeletedCount == 0 {
		return conductor.ErrWorkerNotFound
	}

	_, err = s.db.Collection(colLeases).DeleteOne(ctx,
		bson.M{"_id": leaderLeaseID, "holder": workerID.String()},
	)
	if err != nil {
		return fmt.Errorf("conductor/mongo: release lease: %w", err)
	}
	return nil
}

// HeartbeatWorker updates the last-seen timestamp for a worker.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	res, err := s.db.Collection(colWorkers).UpdateOne(ctx,
		bson.M{"_id": workerID.String()},
		bson.M{"$set": bson.M{"last_seen": now()}},
	)
	if err != nil {
		return fmt.Errorf("conductor/mongo: heartbeat worker: %w", err)
	}
	if res.MatchedCount == 0 {
		return conductor.ErrWorkerNotFound
	}
	return nil
}

// ListWorkers returns all registered workers.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	return s.findWorkers(ctx, bson.M{})
}

// ReapDeadWorkers returns workers whose last-seen timestamp is older than
// the given threshold.
func (s *Store) ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	return s.findWorkers(ctx, bson.M{"last_seen": bson.M{"$lt": now().Add(-threshold)}})
}

// AcquireLeadership takes the lease document when it is free, expired,
// or already held by workerID. A concurrent winner surfaces as a
// duplicate key on the upsert.
func (s *Store) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	t := now()
	until := t.Add(ttl)
	holder := workerID.String()

	_, err := s.db.Collection(colLeases).UpdateOne(ctx,
		bson.M{
			"_id": leaderLeaseID,
			"$or": bson.A{
				bson.M{"holder": holder},
				bson.M{"until": bson.M{"$lt": t}},
			},
		},
		bson.M{"$set": bson.M{"holder": holder, "until": until}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("conductor/mongo: acquire leadership: %w", err)
	}

	if err := s.syncLeaderFlags(ctx, holder, until); err != nil {
		return false, err
	}
	return true, nil
}

// RenewLeadership extends an unexpired lease held by workerID.
func (s *Store) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	t := now()
	until := t.Add(ttl)
	holder := workerID.String()

	res, err := s.db.Collection(colLeases).UpdateOne(ctx,
		bson.M{"_id": leaderLeaseID, "holder": holder, "until": bson.M{"$gte": t}},
		bson.M{"$set": bson.M{"until": until}},
	)
	if err != nil {
		return false, fmt.Errorf("conductor/mongo: renew leadership: %w", err)
	}
	if res.MatchedCount == 0 {
		return false, nil
	}

	_, err = s.db.Collection(colWorkers).UpdateOne(ctx,
		bson.M{"_id": holder},
		bson.M{"$set": bson.M{"is_leader": true, "leader_until": until}},
	)
	if err != nil {
		return false, fmt.Errorf("conductor/mongo: renew leadership: %w", err)
	}
	return true, nil
}

// GetLeader returns the current cluster leader, or nil if there is no leader.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Worker, error) {
	var lease leaseModel
	err := s.db.Collection(colLeases).FindOne(ctx, bson.M{"_id": leaderLeaseID}).Decode(&lease)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("conductor/mongo: get leader: %w", err)
	}
	if lease.Until.Before(now()) {
		return nil, nil
	}

	var m workerModel
	err = s.db.Collection(colWorkers).FindOne(ctx, bson.M{"_id": lease.Holder}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("conductor/mongo: get leader: %w", err)
	}
	return fromWorkerModel(&m)
}

// syncLeaderFlags mirrors the lease onto the worker documents.
func (s *Store) syncLeaderFlags(ctx context.Context, holder string, until time.Time) error {
	col := s.db.Collection(colWorkers)
	_, err := col.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$ne": holder}, "is_leader": true},
		bson.M{"$set": bson.M{"is_leader": false}, "$unset": bson.M{"leader_until": ""}},
	)
	if err != nil {
		return fmt.Errorf("conductor/mongo: clear leader flags: %w", err)
	}
	_, err = col.UpdateOne(ctx,
		bson.M{"_id": holder},
		bson.M{"$set": bson.M{"is_leader": true, "leader_until": until}},
	)
	if err != nil {
		return fmt.Errorf("conductor/mongo: set leader flag: %w", err)
	}
	return nil
}

func (s *Store) findWorkers(ctx context.Context, filter bson.M) ([]*cluster.Worker, error) {
	cur, err := s.db.Collection(colWorkers).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("conductor/mongo: find workers: %w", err)
	}

	var models []workerModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("conductor/mongo: decode workers: %w", err)
	}

	workers := make([]*cluster.Worker, 0, len(models))
	for i := range models {
		w, err := fromWorkerModel(&models[i])
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, nil
}
