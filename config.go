package conductor

import "time"

// Config holds configuration for a Conductor.
type Config struct {
	// Concurrency is the maximum number of tasks processed concurrently.
	Concurrency int

	// Queues is the list of queues this process will poll.
	Queues []string

	// PollInterval is how often to poll for new tasks.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often running tasks send heartbeats. The
	// heartbeat also notices tasks revoked by another process.
	HeartbeatInterval time.Duration

	// StaleTaskThreshold is how long before a task without heartbeat is
	// considered abandoned by its worker.
	StaleTaskThreshold time.Duration

	// ConflictRetries bounds how often a workflow update is re-applied
	// after losing a compare-and-swap race.
	ConflictRetries int

	// StatusCacheSize is the number of terminal task statuses kept in
	// memory by the status projection. Zero disables the cache.
	StatusCacheSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:        10,
		Queues:             []string{"default"},
		PollInterval:       1 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		HeartbeatInterval:  10 * time.Second,
		StaleTaskThreshold: 30 * time.Second,
		ConflictRetries:    5,
		StatusCacheSize:    0,
	}
}
