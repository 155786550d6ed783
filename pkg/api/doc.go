// Package api contains the core building blocks used by the gridci matrix
// engine. It provides the low-level primitives for defining workflows,
// expanding build matrices, and observing engine behavior.
//
// Most users interact with the higher-level gridci package, which re-exports
// selected types and helpers from this package. The api package is intended
// for advanced use cases, custom integrations, or contributors extending the
// engine itself.
//
// # Concepts
//
// The api package centers around a small set of concepts:
//
//   - Workflows: named definitions triggered by repository events
//   - Matrices: the cartesian fan-out of entries a workflow schedules
//   - Jobs and steps: one isolated job per entry, steps in fixed order
//   - Observability: lifecycle callbacks for logging and metrics
//
// # Workflows and Triggers
//
// A Workflow declares which event types start it (push, pull_request), the
// Matrix it fans out over, and the Steps every job runs in order. Definitions
// are registered with an Engine by name; delivering an Event to the engine
// creates a Run with one Job per matrix entry.
//
// # Matrix Semantics
//
// Matrix.Entries produces the cartesian product of the declared axes in
// declaration order, applies exclusions, and merges or appends inclusions.
// For a {os: 2} x {python: 3} matrix this yields exactly six entries, each
// scheduled exactly once per trigger.
//
// # Failure Semantics
//
// Jobs are isolated: they share no mutable state, and by default one job's
// failure does not affect its siblings (Workflow.FailFast is false). With
// FailFast enabled, the first failure cancels the jobs still in flight.
// Within a job, steps run strictly in definition order; a failed step fails
// the job and the remaining steps are recorded as skipped.
package api
