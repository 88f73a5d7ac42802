// Package task defines the task ledger record, its status set, the step
// body registry and the ledger store interface.
//
// # Task Record
//
// A [Task] is one submission of a step body to the worker pool. Its
// status moves through a closed set:
//
//	PENDING → STARTED → SUCCESS
//	PENDING → STARTED → PROGRESS → SUCCESS
//	PENDING → STARTED → RETRY → STARTED → ...
//	PENDING → STARTED → FAILURE
//	(any non-terminal) → REVOKED
//
// Timeouts and lost workers are recorded as FAILURE. A REVOKED record is
// final; the ledger refuses further updates to it.
//
// # Step Bodies
//
// Typed bodies receive the primary identifier decoded from the first
// positional argument and return the identifier for the next step:
//
//	var Archive = task.NewDefinition("archive_dataset",
//	    func(ctx context.Context, datasetID int) (int, any, error) {
//	        return datasetID, nil, archiver.Run(ctx, datasetID)
//	    },
//	    task.WithQueue("archive"),
//	)
//
//	task.RegisterDefinition(registry, Archive)
//
// Untyped bodies are registered with [RegisterFunc]; their [Result] is
// checked against the chaining contract by the workflow hook.
//
// Long-running bodies report intermediate progress with [ReportProgress].
package task
