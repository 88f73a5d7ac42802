// Package observability provides OpenTelemetry instrumentation for
// conductor. The MetricsExtension implements lifecycle hooks to record
// process-wide counters for task submission, completion, failure, retry
// and revocation, and for workflow creation, stalls, pause, resume and
// purge.
//
// Setup installs SDK tracer and meter providers exporting over OTLP/gRPC.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
