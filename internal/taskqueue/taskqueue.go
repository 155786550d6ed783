package taskqueue

import (
	"context"
	"time"

	"github.com/petrijr/gridci/pkg/api"
)

// TaskType identifies what the worker should do.
type TaskType string

const (
	// TaskTypeTrigger starts a workflow run for a delivered event.
	TaskTypeTrigger TaskType = "trigger-run"

	// TaskTypeRerun re-executes the failed jobs of an existing run.
	TaskTypeRerun TaskType = "rerun"
)

// Task represents a unit of work for the worker.
type Task struct {
	ID   string
	Type TaskType

	// For trigger-run tasks.
	WorkflowName string
	Event        api.Event

	// For rerun tasks.
	RunID string

	EnqueuedAt time.Time

	// NotBefore is the earliest time this task should be eligible
	// for processing. Zero value means "immediately" (i.e., at enqueue time).
	NotBefore time.Time

	// Attempts counts how often a worker already tried this task.
	Attempts int
}

// Queue is a simple async task queue interface.
type Queue interface {
	// Enqueue adds a task to the queue. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next task, blocking until one is available
	// or the context is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int
}
