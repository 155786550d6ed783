package api

import "context"

// Engine is the high-level engine API. Trigger runs synchronously; async
// execution is layered on top via the task queue and worker packages.
type Engine interface {
	// RegisterWorkflow registers a workflow definition by name.
	RegisterWorkflow(def Workflow) error

	// Trigger starts the named workflow for the given event and runs it
	// to completion: the matrix is expanded, every entry is scheduled
	// exactly once, and jobs execute concurrently.
	//
	// If the event's type is not listed in the workflow's On triggers,
	// Trigger returns an error wrapping ErrNotTriggered and no Run is
	// recorded.
	//
	// When the run fails, Trigger returns the Run together with a non-nil
	// error describing the failure.
	Trigger(ctx context.Context, name string, ev Event) (*Run, error)

	// TriggerEvent delivers an event to every registered workflow and
	// starts those whose triggers match. Workflows that do not match are
	// skipped silently.
	TriggerEvent(ctx context.Context, ev Event) ([]*Run, error)

	// GetRun looks up a run by ID.
	// Returns an error if the run is not found.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns runs matching the given options.
	// If options are zero-valued, all runs are returned.
	ListRuns(ctx context.Context, opts RunListOptions) ([]*Run, error)

	// Rerun re-executes a previously failed run. Jobs that completed are
	// kept as-is; failed and cancelled jobs are reset and run again. The
	// same run ID is reused.
	Rerun(ctx context.Context, id string) (*Run, error)

	// RecoverStuckRuns scans for runs still marked as StatusRunning (for
	// example after a process crash) and marks them as StatusFailed with
	// a standard error message. It returns the number of runs updated.
	//
	// It is typically called on process startup before starting workers.
	RecoverStuckRuns(ctx context.Context) (int, error)
}
