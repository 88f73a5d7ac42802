// Package queue enforces per-queue and per-owner rate limits and
// concurrency caps on the local worker pool.
//
// Workflow steps carry a queue hint (e.g. "archive" for tape transfers,
// "stage" for scratch staging). A [Config] bounds how many tasks of a
// queue run at once and how fast they start; an [OwnerConfig] does the
// same for the tasks of one application instance:
//
//	m := queue.NewManager(
//	    queue.Config{Name: "archive", Limits: queue.Limits{MaxConcurrency: 2}},
//	    queue.Config{Name: "stage", Limits: queue.Limits{RateLimit: 1, RateBurst: 4}},
//	)
//	m.SetOwnerConfig(queue.OwnerConfig{Owner: "bioloop-dev", Limits: queue.Limits{MaxConcurrency: 1}})
//
// The pool calls [Manager.Acquire] after claiming a task; a refused task
// is put back to PENDING and picked up again later.
package queue
