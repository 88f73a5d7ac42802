// Package cluster coordinates the processes that share one store: worker
// registration with heartbeats, and a single leader that runs scheduled
// maintenance such as the orphaned-workflow purge.
//
// Each process registers a [Worker] with its hostname, the queues it polls
// and its concurrency, and heartbeats while it runs. Leadership is a lease
// held through [Store.AcquireLeadership] and extended with
// [Store.RenewLeadership]; a leader that stops renewing loses the lease
// after its TTL and another worker takes over. Failing to renew surfaces as
// [conductor.ErrLeadershipLost].
package cluster
