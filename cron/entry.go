package cron

import (
	"context"
	"time"
)

// Entry is a named job fired on a schedule.
type Entry struct {
	// Name identifies the entry in logs. Names are unique per Scheduler.
	Name string

	// Schedule is a cron expression (e.g., "*/5 * * * *" or "@every 30s").
	Schedule string

	// Run is called on each firing. Its error is logged.
	Run func(ctx context.Context) error
}

// Status is a snapshot of a registered entry.
type Status struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	NextRunAt time.Time  `json:"next_run_at"`
}
