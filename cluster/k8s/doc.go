// Package k8s keeps conductor membership and scheduler leadership in the
// Kubernetes API instead of the task store.
//
// Each process registers on its own Pod (found by hostname, which is the
// Pod name inside a cluster) as a JSON annotation, and heartbeats by
// stamping a second annotation. The cron leader holds a coordination/v1
// Lease. Lease durations are whole seconds, so leader TTLs are rounded up
// to at least one second.
//
//	cfg, _ := rest.InClusterConfig()
//	client := kubernetes.NewForConfigOrDie(cfg)
//	eng, _ := engine.Build(c, engine.WithClusterStore(k8s.New(client, "jobs")))
package k8s
