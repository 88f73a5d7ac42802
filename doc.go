// Package conductor is a durable workflow orchestration engine for linear,
// multi-step data pipelines. Each step runs as an independent task on a
// distributed worker pool; steps are chained through task callbacks rather
// than a central poller, and the aggregate status of a workflow is always
// projected from its run history and the task ledger, never stored.
//
// # Quick Start
//
//	c, err := conductor.New(
//	    conductor.WithStore(pgStore),
//	    conductor.WithConcurrency(20),
//	)
//	eng, err := engine.Build(c, engine.WithTaskRegistry(reg))
//	inst, err := eng.Workflows().Create(ctx, def, []any{datasetID}, "bioloop-prod")
//	_, err = eng.Workflows().Start(ctx, inst, datasetID)
//
// # Architecture
//
// Each subsystem (task, workflow, cluster) defines its own store interface
// and a single backend implements all of them. Workflow instances are
// updated with optimistic compare-and-swap on a revision counter, so hooks
// running on different workers never lose each other's run records.
//
// All entity IDs are prefix-qualified, K-sortable UUIDv7 identifiers.
package conductor
