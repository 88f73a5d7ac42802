package redis

// Redis key naming conventions. All keys are prefixed with "conductor:"
// to avoid collisions.

const keyPrefix = "conductor:"

// ── Task keys ──

// taskKey returns the key for a task record: conductor:task:{id}
func taskKey(id string) string { return keyPrefix + "task:" + id }

// queueKey returns the Sorted Set of claimable task IDs for a queue:
// conductor:queue:{name}
func queueKey(name string) string { return keyPrefix + "queue:" + name }

// taskIDsKey is the Set tracking all task IDs for enumeration.
const taskIDsKey = keyPrefix + "task_ids"

// ── Workflow keys ──

// workflowKey returns the key for an instance: conductor:workflow:{id}
func workflowKey(id string) string { return keyPrefix + "workflow:" + id }

// workflowsByAgeKey is the Sorted Set of instance IDs scored by creation
// time in milliseconds.
const workflowsByAgeKey = keyPrefix + "workflows_by_age"

// ── Cluster keys ──

// workerKey returns the key for a worker entity: conductor:worker:{id}
func workerKey(id string) string { return keyPrefix + "worker:" + id }

// workerIDsKey is the Set tracking all worker IDs for enumeration.
const workerIDsKey = keyPrefix + "worker_ids"

// leaderKey stores the current leader worker ID with the lease TTL.
const leaderKey = keyPrefix + "leader"
