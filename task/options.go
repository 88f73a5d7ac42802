package task

import (
	"time"

	"github.com/xraph/conductor/id"
)

// Options configures per-task behavior such as retries, queue, and priority.
type Options struct {
	// MaxRetries is the maximum number of retry attempts before the task
	// is recorded as FAILURE.
	MaxRetries int

	// Queue is the queue name this task should be enqueued to.
	Queue string

	// Priority determines dequeue ordering. Higher values are processed first.
	Priority int

	// Timeout is the maximum duration a task may run before being
	// cancelled and recorded as FAILURE.
	Timeout time.Duration

	// RunAt schedules the task for future execution. Zero means immediate.
	RunAt time.Time

	// Owner tags the task with the application instance that submitted it.
	Owner string

	// ID is the ledger id to enqueue under. Nil mints a fresh one.
	ID id.TaskID
}

// DefaultOptions returns Options with sensible defaults. Pipeline steps
// move whole datasets, so the default timeout is generous.
func DefaultOptions() Options {
	return Options{
		MaxRetries: 3,
		Queue:      "default",
		Priority:   0,
		Timeout:    30 * time.Minute,
	}
}

// Option is a functional option for configuring a task.
type Option func(*Options)

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = n
	}
}

// WithQueue sets the queue name. An empty name keeps the current one.
func WithQueue(q string) Option {
	return func(o *Options) {
		if q != "" {
			o.Queue = q
		}
	}
}

// WithPriority sets the task priority. Higher values are processed first.
func WithPriority(p int) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithTimeout sets the maximum execution duration for the task.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithRunAt schedules the task for execution at a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) {
		o.RunAt = t
	}
}

// WithOwner tags the task with an owner.
func WithOwner(owner string) Option {
	return func(o *Options) {
		o.Owner = owner
	}
}

// WithID enqueues the task under a caller-minted id, so the caller can
// record it before the task exists.
func WithID(taskID id.TaskID) Option {
	return func(o *Options) {
		o.ID = taskID
	}
}
