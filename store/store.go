// Package store defines the aggregate persistence interface. Each subsystem
// (task ledger, workflow, cluster) defines its own store interface. The
// composite Store composes them all. Backends: Postgres, MongoDB, Redis,
// and Memory.
package store

import (
	"context"

	"github.com/xraph/conductor/cluster"
	"github.com/xraph/conductor/task"
	"github.com/xraph/conductor/workflow"
)

// Store is the aggregate persistence interface.
// A single backend (postgres, mongo, redis, memory) implements all of them.
type Store interface {
	task.Ledger
	workflow.Store
	cluster.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
