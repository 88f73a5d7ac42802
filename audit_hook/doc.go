// Package audithook is a conductor extension that turns task and
// workflow lifecycle events into an audit trail.
//
// Every hook emits a structured [AuditEvent] through the [Recorder]
// interface. Severity follows the outcome: info for normal progress,
// warning for retries, pauses and revocations, critical for failures and
// stalled pipelines. [LogRecorder] writes events to a slog logger.
//
// # Usage
//
//	eng, _ := engine.Build(c,
//	    engine.WithExtension(audithook.New(audithook.LogRecorder(logger))),
//	)
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionWorkflowPaused,
//	        audithook.ActionWorkflowResumed,
//	        audithook.ActionWorkflowsPurged,
//	    ),
//	)
package audithook
