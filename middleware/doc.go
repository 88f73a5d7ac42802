// Package middleware provides composable middleware around step body
// execution.
//
// A [Middleware] wraps the call of a task's body. Middleware are composed
// with [Chain] and applied right-to-left: the first middleware in the
// slice is the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] logs task name, workflow step, duration and outcome
//   - [Recover] turns panics in a body into errors
//   - [Timeout] cancels the body's context after the task's Timeout
//   - [Owner] restores the task's owner tag into the context
//   - [Tracing] wraps execution in an OpenTelemetry span
//   - [Metrics] records per-task duration and outcome counters
//
// Middleware sees only the body call. Step hooks (before_start,
// on_success) run outside the chain, so a hook failure is never retried.
package middleware
