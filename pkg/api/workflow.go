package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Status represents the lifecycle state of a run, a job, or a step result.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
	StatusSkipped   Status = "SKIPPED"
)

// EventType names a repository event that can trigger a workflow.
type EventType string

const (
	EventPush        EventType = "push"
	EventPullRequest EventType = "pull_request"
)

// ParseEventType validates a trigger name from a workflow file or webhook.
func ParseEventType(s string) (EventType, error) {
	switch EventType(s) {
	case EventPush, EventPullRequest:
		return EventType(s), nil
	}
	return "", fmt.Errorf("unknown event type: %q", s)
}

// Event is a concrete trigger occurrence delivered to the engine.
type Event struct {
	Type EventType `json:"type"`

	// Repo is the full repository name ("owner/name").
	Repo string `json:"repo,omitempty"`

	// Ref is the git ref the event refers to ("refs/heads/main" for pushes,
	// the head branch for pull requests).
	Ref string `json:"ref,omitempty"`

	// SHA is the commit the event points at.
	SHA string `json:"sha,omitempty"`
}

// ErrNotTriggered is returned by Engine.Trigger when the delivered event's
// type is not listed in the workflow's On triggers. The workflow is simply
// not run; no Run record is created.
var ErrNotTriggered = errors.New("event does not trigger workflow")

// StepFunc is a single step executed once per matrix job.
type StepFunc func(ctx context.Context, job *JobContext) error

// StepDefinition describes a named step.
type StepDefinition struct {
	Name  string
	Fn    StepFunc
	Retry *RetryPolicy
}

// Workflow describes a matrix workflow: which events start it, the matrix
// of entries it fans out to, and the steps every job runs in order.
type Workflow struct {
	Name string

	// On lists the event types that trigger this workflow.
	On []EventType

	// Matrix describes the job fan-out. A zero Matrix yields a single job
	// with an empty entry.
	Matrix Matrix

	// FailFast, when true, cancels the remaining jobs as soon as one job
	// fails. The zero value leaves siblings running independently.
	FailFast bool

	// MaxParallel bounds how many jobs run concurrently. Zero or negative
	// means unbounded.
	MaxParallel int

	// Env is merged into every job's environment.
	Env map[string]string

	Steps []StepDefinition
}

// Triggers reports whether the workflow runs for the given event type.
func (w Workflow) Triggers(t EventType) bool {
	for _, on := range w.On {
		if on == t {
			return true
		}
	}
	return false
}

// RetryPolicy controls how a step is retried when it returns an error.
// MaxAttempts includes the first attempt:
//
//	MaxAttempts = 1 => no retries (just the initial call)
//	MaxAttempts = 3 => initial call + up to 2 retries
//
// InitialBackoff is the delay before the first retry; each further retry
// multiplies it by BackoffMultiplier (default 2.0) up to MaxBackoff.
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// JobContext is the per-job execution environment handed to every StepFunc.
// Each job gets its own context: an isolated working directory, a private
// environment map, and a log buffer. Nothing in a JobContext is shared
// between sibling jobs.
type JobContext struct {
	// Entry is the matrix entry this job was scheduled for.
	Entry Entry

	// Dir is the job's private working directory. It exists for the
	// duration of the job and is removed afterwards.
	Dir string

	// Env holds environment variables visible to the job's commands,
	// including MATRIX_* exports derived from Entry.
	Env map[string]string

	mu  sync.Mutex
	log strings.Builder
}

// Logf appends a line to the job's log buffer. Safe for concurrent use.
func (j *JobContext) Logf(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fmt.Fprintf(&j.log, format, args...)
	if !strings.HasSuffix(format, "\n") {
		j.log.WriteByte('\n')
	}
}

// Log returns everything written via Logf so far.
func (j *JobContext) Log() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.log.String()
}

// StepResult records the outcome of one step within one job.
type StepResult struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"error,omitempty"`
}

// Job is one scheduled matrix entry within a run.
type Job struct {
	ID     string
	RunID  string
	Entry  Entry
	Status Status
	Steps  []StepResult
	Err    error

	// Log is the captured job output. Populated when the job finishes.
	Log string
}

// Run holds the result of triggering a workflow: one job per matrix entry.
type Run struct {
	ID           string
	WorkflowName string
	Event        Event
	Status       Status
	Jobs         []*Job
	Err          error
	CreatedAt    time.Time
}

// Job returns the job scheduled for the entry with the given key, or nil.
func (r *Run) Job(entryKey string) *Job {
	for _, j := range r.Jobs {
		if j.Entry.Key() == entryKey {
			return j
		}
	}
	return nil
}

// RunListOptions controls how runs are listed.
// Zero values mean "no filter" for that field.
type RunListOptions struct {
	// WorkflowName, if non-empty, limits results to runs of the given workflow.
	WorkflowName string

	// Status, if non-empty, limits results to runs with the given status.
	Status Status
}
