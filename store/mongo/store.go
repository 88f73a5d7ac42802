package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/conductor/cluster"
	"github.com/xraph/conductor/task"
	"github.com/xraph/conductor/workflow"
)

// Collection name constants.
const (
	colTasks     = "conductor_tasks"
	colWorkflows = "conductor_workflows"
	colWorkers   = "conductor_workers"
	colLeases    = "conductor_leases"
)

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ task.Ledger    = (*Store)(nil)
	_ workflow.Store = (*Store)(nil)
	_ cluster.Store  = (*Store)(nil)
)

// Store is a MongoDB implementation of store.Store.
type Store struct {
	db     *mongod.Database
	client *mongod.Client // nil when the caller owns the connection
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New connects to uri and uses the named database. Close disconnects.
func New(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("conductor/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("conductor/mongo: ping: %w", err)
	}
	s := NewFromDatabase(client.Database(database), opts...)
	s.client = client
	return s, nil
}

// NewFromDatabase wraps a caller-owned database. Close is a no-op.
func NewFromDatabase(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Database returns the underlying database for advanced usage.
func (s *Store) Database() *mongod.Database {
	return s.db
}

// Migrate creates indexes for all conductor collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}

		_, err := s.db.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("conductor/mongo: migrate %s indexes: %w", col, err)
		}
	}

	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close disconnects the client when New created it.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// ── helpers ──────────────────────────────────────────────────────

// now returns the current UTC time at the precision MongoDB stores.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// isDuplicateKey checks if a MongoDB error is a duplicate key violation.
func isDuplicateKey(err error) bool {
	return mongod.IsDuplicateKeyError(err)
}

// migrationIndexes returns the index definitions for all conductor
// collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colTasks: {
			// Dequeue index: queue + status + priority + run_at.
			{Keys: bson.D{
				{Key: "queue", Value: 1},
				{Key: "status", Value: 1},
				{Key: "priority", Value: -1},
				{Key: "run_at", Value: 1},
			}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
			// Heartbeat index for reaping stale tasks.
			{Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "heartbeat_at", Value: 1},
			}},
		},
		colWorkflows: {
			// Purge scan: owner + age.
			{Keys: bson.D{
				{Key: "owner_tag", Value: 1},
				{Key: "created_at", Value: 1},
			}},
			{Keys: bson.D{{Key: "definition_name", Value: 1}}},
		},
		colWorkers: {
			{Keys: bson.D{{Key: "state", Value: 1}}},
			{Keys: bson.D{
				{Key: "state", Value: 1},
				{Key: "last_seen", Value: 1},
			}},
		},
	}
}

// normalize converts driver container types decoded into interface
// values back to plain maps and slices.
func normalize(v any) any {
	switch x := v.(type) {
	case bson.D:
		m := make(map[string]any, len(x))
		for _, e := range x {
			m[e.Key] = normalize(e.Value)
		}
		return m
	case bson.M:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = normalize(e)
		}
		return m
	case map[string]any:
		for k, e := range x {
			x[k] = normalize(e)
		}
		return x
	case bson.A:
		return normalizeSlice(x)
	case []any:
		return normalizeSlice(x)
	default:
		return v
	}
}

func normalizeSlice(in []any) []any {
	if in == nil {
		return nil
	}
	out := make([]any, len(in))
	for i, e := range in {
		out[i] = normalize(e)
	}
	return out
}

func normalizeMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	m, _ := normalize(in).(map[string]any)
	return m
}
