package gridci

import (
	"context"
	"database/sql"

	"github.com/petrijr/gridci/internal/engine"
	"github.com/petrijr/gridci/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	Workflow             = api.Workflow
	Matrix               = api.Matrix
	Axis                 = api.Axis
	Entry                = api.Entry
	Event                = api.Event
	EventType            = api.EventType
	Run                  = api.Run
	Job                  = api.Job
	JobContext           = api.JobContext
	StepResult           = api.StepResult
	StepDefinition       = api.StepDefinition
	StepFunc             = api.StepFunc
	RetryPolicy          = api.RetryPolicy
	RunListOptions       = api.RunListOptions
	Status               = api.Status
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Re-export event types and status values for convenience.

const (
	EventPush        = api.EventPush
	EventPullRequest = api.EventPullRequest

	StatusPending   = api.StatusPending
	StatusRunning   = api.StatusRunning
	StatusCompleted = api.StatusCompleted
	StatusFailed    = api.StatusFailed
	StatusCancelled = api.StatusCancelled
	StatusSkipped   = api.StatusSkipped
)

// ErrNotTriggered is returned by Trigger when the event type is not listed
// in the workflow's triggers.
var ErrNotTriggered = api.ErrNotTriggered

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
func NewInMemoryEngine() Engine {
	return engine.NewInMemoryEngine()
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given Observer.
func NewInMemoryEngineWithObserver(obs Observer) Engine {
	return engine.NewInMemoryEngineWithObserver(obs)
}

// NewSQLiteEngine returns an Engine that persists runs in a SQLite
// database. Workflow definitions are kept in-memory; re-register them
// on startup.
func NewSQLiteEngine(db *sql.DB) (Engine, error) {
	return engine.NewSQLiteEngine(db)
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the given Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, obs Observer) (Engine, error) {
	return engine.NewSQLiteEngineWithObserver(db, obs)
}

// Convenience helpers that just forward to the underlying Engine.

// Trigger starts a registered workflow for the given event and runs it
// to completion.
func Trigger(ctx context.Context, eng Engine, name string, ev Event) (*Run, error) {
	return eng.Trigger(ctx, name, ev)
}

// GetRun fetches a run by ID.
func GetRun(ctx context.Context, eng Engine, id string) (*Run, error) {
	return eng.GetRun(ctx, id)
}

// ListRuns lists runs according to the given options.
func ListRuns(ctx context.Context, eng Engine, opts RunListOptions) ([]*Run, error) {
	return eng.ListRuns(ctx, opts)
}

// Rerun re-executes the failed jobs of a previously failed run.
func Rerun(ctx context.Context, eng Engine, id string) (*Run, error) {
	return eng.Rerun(ctx, id)
}

// RecoverStuckRuns delegates to eng.RecoverStuckRuns.
//
// It is typically called on process startup before starting any workers:
//
//	count, err := gridci.RecoverStuckRuns(ctx, engine)
func RecoverStuckRuns(ctx context.Context, eng Engine) (int, error) {
	return eng.RecoverStuckRuns(ctx)
}
