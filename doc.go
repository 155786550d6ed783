// Package gridci provides a lightweight, embeddable CI matrix engine for Go.
//
// gridci gives workflow files of the familiar shape — triggered on push and
// pull_request, fanned out over an {os} x {version} build matrix — actual
// runtime semantics without an external CI platform. It runs fully in Go,
// persists runs to SQLite when durability is wanted, and integrates cleanly
// into existing codebases.
//
// # Core Concepts
//
// The gridci programming model is intentionally small:
//
//  1. Engine
//  2. Workflow and Matrix
//  3. WorkflowBuilder
//  4. Worker
//  5. LocalRunner
//
// # Engine
//
// The Engine stores workflow definitions, persists runs, and provides APIs to:
//   - trigger workflows for repository events
//   - re-run failed jobs of a run
//   - read run state and job results
//   - recover runs left RUNNING by a crashed process
//
// Engines can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//
// # Workflows and Matrices
//
// A Workflow declares its triggers (push, pull_request), a Matrix of axes,
// and an ordered list of steps. Triggering a workflow expands the matrix
// into entries — a 2x3 matrix yields exactly six — and schedules one
// isolated job per entry. Jobs run concurrently in private working
// directories with no shared state; by default a failing job does not
// disturb its siblings (FailFast is off), matching how hosted CI platforms
// treat `fail-fast: false`.
//
// Within a job, steps execute strictly in definition order: a failing step
// fails the job and the remaining steps are recorded as skipped. Steps can
// carry retry policies with exponential backoff.
//
// # WorkflowBuilder
//
// WorkflowBuilder provides the ergonomic, declarative API used to define
// workflows in Go code:
//
//	wf := gridci.New("install").
//	    OnPush().OnPullRequest().
//	    MatrixAxis("os", "ubuntu-latest", "macos-latest").
//	    MatrixAxis("python", "3.11", "3.10", "3.9").
//	    Run("provision", "setup-python ${{ matrix.python }}").
//	    Run("install", "pip install --upgrade pip && pip install -e .")
//
// Workflow files in YAML form are loaded by the internal workflowfile
// package, which the gridci CLI uses; both paths produce the same Workflow
// values.
//
// # Worker and LocalRunner
//
// A Worker pulls trigger and rerun tasks from a queue and drives the engine,
// so event ingestion (for example webhook delivery) can be decoupled from
// execution. LocalRunner bundles an in-memory engine, queue, and workers for
// single-process deployments; NewSQLiteBundle is the durable equivalent.
package gridci
