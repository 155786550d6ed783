package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the engine for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay job execution. Job and step callbacks
// fire from job goroutines and must be safe for concurrent use.
type Observer interface {
	// OnRunStart is called once when a run is created, after its jobs have
	// been scheduled but before any of them starts.
	OnRunStart(ctx context.Context, run *Run)

	// OnRunCompleted is called when every job finished and the run reached
	// StatusCompleted.
	OnRunCompleted(ctx context.Context, run *Run)

	// OnRunFailed is called when the run transitions to StatusFailed.
	OnRunFailed(ctx context.Context, run *Run, err error)

	// OnJobStart is called when a job begins executing its steps.
	OnJobStart(ctx context.Context, run *Run, job *Job)

	// OnJobCompleted is called when a job reaches a terminal status
	// (COMPLETED, FAILED or CANCELLED).
	OnJobCompleted(ctx context.Context, run *Run, job *Job)

	// OnStepStart is called before invoking a step function.
	// stepIndex is the 0-based index into Workflow.Steps.
	OnStepStart(ctx context.Context, job *Job, stepName string, stepIndex int)

	// OnStepCompleted is called after a step function returns, for both
	// successes and failures (err != nil).
	OnStepCompleted(ctx context.Context, job *Job, stepName string, stepIndex int, err error, duration time.Duration)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(ctx context.Context, run *Run)                {}
func (NoopObserver) OnRunCompleted(ctx context.Context, run *Run)            {}
func (NoopObserver) OnRunFailed(ctx context.Context, run *Run, err error)    {}
func (NoopObserver) OnJobStart(ctx context.Context, run *Run, job *Job)      {}
func (NoopObserver) OnJobCompleted(ctx context.Context, run *Run, job *Job)  {}
func (NoopObserver) OnStepStart(ctx context.Context, job *Job, s string, i int) {
}
func (NoopObserver) OnStepCompleted(ctx context.Context, job *Job, s string, i int, err error, d time.Duration) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRunStart(ctx context.Context, run *Run) {
	for _, o := range c.observers {
		o.OnRunStart(ctx, run)
	}
}

func (c *CompositeObserver) OnRunCompleted(ctx context.Context, run *Run) {
	for _, o := range c.observers {
		o.OnRunCompleted(ctx, run)
	}
}

func (c *CompositeObserver) OnRunFailed(ctx context.Context, run *Run, err error) {
	for _, o := range c.observers {
		o.OnRunFailed(ctx, run, err)
	}
}

func (c *CompositeObserver) OnJobStart(ctx context.Context, run *Run, job *Job) {
	for _, o := range c.observers {
		o.OnJobStart(ctx, run, job)
	}
}

func (c *CompositeObserver) OnJobCompleted(ctx context.Context, run *Run, job *Job) {
	for _, o := range c.observers {
		o.OnJobCompleted(ctx, run, job)
	}
}

func (c *CompositeObserver) OnStepStart(ctx context.Context, job *Job, stepName string, idx int) {
	for _, o := range c.observers {
		o.OnStepStart(ctx, job, stepName, idx)
	}
}

func (c *CompositeObserver) OnStepCompleted(ctx context.Context, job *Job, stepName string, idx int, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnStepCompleted(ctx, job, stepName, idx, err, d)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs run / job / step lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnRunStart(ctx context.Context, run *Run) {
	o.Logger.InfoContext(ctx, "run_start",
		slog.String("workflow", run.WorkflowName),
		slog.String("run_id", run.ID),
		slog.String("event", string(run.Event.Type)),
		slog.Int("jobs", len(run.Jobs)),
	)
}

func (o *LoggingObserver) OnRunCompleted(ctx context.Context, run *Run) {
	o.Logger.InfoContext(ctx, "run_completed",
		slog.String("workflow", run.WorkflowName),
		slog.String("run_id", run.ID),
	)
}

func (o *LoggingObserver) OnRunFailed(ctx context.Context, run *Run, err error) {
	o.Logger.ErrorContext(ctx, "run_failed",
		slog.String("workflow", run.WorkflowName),
		slog.String("run_id", run.ID),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnJobStart(ctx context.Context, run *Run, job *Job) {
	o.Logger.InfoContext(ctx, "job_start",
		slog.String("run_id", run.ID),
		slog.String("job", job.Entry.Key()),
	)
}

func (o *LoggingObserver) OnJobCompleted(ctx context.Context, run *Run, job *Job) {
	level := slog.LevelInfo
	if job.Status == StatusFailed {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "job_completed",
		slog.String("run_id", run.ID),
		slog.String("job", job.Entry.Key()),
		slog.String("status", string(job.Status)),
		slog.Any("error", job.Err),
	)
}

func (o *LoggingObserver) OnStepStart(ctx context.Context, job *Job, stepName string, idx int) {
	o.Logger.DebugContext(ctx, "step_start",
		slog.String("job", job.Entry.Key()),
		slog.String("step", stepName),
		slog.Int("step_index", idx),
	)
}

func (o *LoggingObserver) OnStepCompleted(ctx context.Context, job *Job, stepName string, idx int, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "step_completed",
		slog.String("job", job.Entry.Key()),
		slog.String("step", stepName),
		slog.Int("step_index", idx),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate step durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	runsStarted   atomic.Int64
	runsCompleted atomic.Int64
	runsFailed    atomic.Int64

	jobsCompleted atomic.Int64
	jobsFailed    atomic.Int64

	stepsCompleted    atomic.Int64
	totalStepDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	RunsStarted   int64
	RunsCompleted int64
	RunsFailed    int64
	PendingRuns   int64

	JobsCompleted int64
	JobsFailed    int64

	StepsCompleted  int64
	AvgStepDuration time.Duration
}

func (m *BasicMetrics) OnRunStart(ctx context.Context, run *Run) {
	m.runsStarted.Add(1)
}

func (m *BasicMetrics) OnRunCompleted(ctx context.Context, run *Run) {
	m.runsCompleted.Add(1)
}

func (m *BasicMetrics) OnRunFailed(ctx context.Context, run *Run, err error) {
	m.runsFailed.Add(1)
}

func (m *BasicMetrics) OnJobCompleted(ctx context.Context, run *Run, job *Job) {
	if job.Status == StatusFailed {
		m.jobsFailed.Add(1)
		return
	}
	m.jobsCompleted.Add(1)
}

func (m *BasicMetrics) OnStepCompleted(ctx context.Context, job *Job, stepName string, idx int, err error, d time.Duration) {
	// Only count successful steps for average duration.
	if err == nil {
		m.stepsCompleted.Add(1)
		m.totalStepDuration.Add(d.Nanoseconds())
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.runsStarted.Load()
	completed := m.runsCompleted.Load()
	failed := m.runsFailed.Load()
	steps := m.stepsCompleted.Load()
	totalNs := m.totalStepDuration.Load()

	var avg time.Duration
	if steps > 0 {
		avg = time.Duration(totalNs / steps)
	}

	return BasicMetricsSnapshot{
		RunsStarted:     started,
		RunsCompleted:   completed,
		RunsFailed:      failed,
		PendingRuns:     started - completed - failed,
		JobsCompleted:   m.jobsCompleted.Load(),
		JobsFailed:      m.jobsFailed.Load(),
		StepsCompleted:  steps,
		AvgStepDuration: avg,
	}
}
