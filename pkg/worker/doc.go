// Package worker provides the background worker implementation used to drive
// gridci runs asynchronously.
//
// Workers consume tasks from a task queue and execute them against an engine:
// trigger tasks start a workflow run for a delivered event, rerun tasks
// re-execute the failed jobs of an existing run. Multiple workers can safely
// operate on the same queue to scale processing; it is the pooled counterpart
// to calling Engine.Trigger directly.
//
// Most applications construct workers via helper functions in the gridci
// package (LocalRunner, NewSQLiteBundle), which wire engines and queues
// together with sensible defaults.
//
// # Worker Responsibilities
//
// A worker is responsible for:
//
//   - Polling a task queue for pending work
//   - Dispatching tasks to the workflow engine
//   - Distinguishing run failures (a recorded outcome) from processing
//     errors (retried up to Config.MaxAttempts)
//
// Workers are long-lived components that typically run in dedicated
// goroutines or processes.
package worker
