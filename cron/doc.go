// Package cron runs code-registered maintenance jobs on cron schedules,
// such as the periodic crash-recovery purge.
//
// Entries live in memory and are registered at startup. Only the cluster
// leader fires them: every Conductor process runs a Scheduler, and the
// schedulers elect one leader through cluster.Store. Leadership is a
// lease, so a crashed leader is replaced once its TTL lapses.
//
// # Schedules
//
// Schedules use the standard 5-field cron syntax ("0 3 * * *") or the
// descriptors understood by robfig/cron ("@hourly", "@every 30m").
//
//	s := cron.NewScheduler(clusterStore, workerID, logger)
//	err := s.Register(cron.Entry{
//	    Name:     "purge",
//	    Schedule: "@every 1h",
//	    Run:      func(ctx context.Context) error { ... },
//	})
package cron
