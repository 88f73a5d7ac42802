// Package workflow runs linear multi-step pipelines on top of the task
// dispatcher.
//
// A [Definition] is an ordered list of steps, each naming a registered task
// body. [Manager.Create] persists an [Instance] of a definition and
// [Manager.Start] submits its first step. From then on the pipeline advances
// itself: the [Hook], attached to every task the worker pool executes,
// records each run on the instance and, when a step succeeds, submits the
// next step with the first element of the step's result as its only
// argument.
//
// Status is never stored. [ProjectStatus] derives the aggregate status of
// an instance from the ledger records of each step's latest run, so the
// ledger stays the single source of truth and a lost worker or a revoked
// task shows up without any bookkeeping on the instance.
//
// Instances are updated with compare-and-swap on [Instance.Revision]; every
// run-record append reloads and retries on conflict, which lets the hook on
// a worker and an operator's pause or resume race safely.
//
// [Purger] removes instances that the owning application no longer knows
// about, together with their ledger records, after a crash left them
// orphaned.
package workflow
