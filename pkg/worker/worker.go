package worker

import (
	"context"
	"errors"
	"time"

	"github.com/petrijr/gridci/internal/taskqueue"
	"github.com/petrijr/gridci/pkg/api"
)

// Config controls worker behavior.
type Config struct {
	// MaxAttempts bounds how often a task is retried after a processing
	// error before it is dropped. Zero means no retries (one attempt).
	MaxAttempts int

	// RetryDelay is how long a failed task waits before it becomes
	// eligible again. Only honored by queues that support NotBefore.
	RetryDelay time.Duration
}

// Worker pulls tasks from a Queue and executes them using an Engine.
type Worker struct {
	engine api.Engine
	queue  taskqueue.Queue
	cfg    Config
}

// New creates a new Worker with default config.
func New(engine api.Engine, queue taskqueue.Queue) *Worker {
	return NewWithConfig(engine, queue, Config{})
}

// NewWithConfig creates a new Worker with the given config.
func NewWithConfig(engine api.Engine, queue taskqueue.Queue, cfg Config) *Worker {
	return &Worker{
		engine: engine,
		queue:  queue,
		cfg:    cfg,
	}
}

// EnqueueTrigger enqueues a task to start a workflow for the given event.
// It does NOT run the workflow itself; that is done by ProcessOne.
func (w *Worker) EnqueueTrigger(ctx context.Context, workflowName string, ev api.Event) error {
	t := taskqueue.Task{
		Type:         taskqueue.TaskTypeTrigger,
		WorkflowName: workflowName,
		Event:        ev,
		EnqueuedAt:   time.Now(),
	}
	return w.queue.Enqueue(ctx, t)
}

// EnqueueTriggerAt enqueues a trigger task that becomes eligible no earlier
// than the given time 'at'.
func (w *Worker) EnqueueTriggerAt(ctx context.Context, workflowName string, ev api.Event, at time.Time) error {
	t := taskqueue.Task{
		Type:         taskqueue.TaskTypeTrigger,
		WorkflowName: workflowName,
		Event:        ev,
		EnqueuedAt:   time.Now(),
		NotBefore:    at,
	}
	return w.queue.Enqueue(ctx, t)
}

// EnqueueRerun enqueues a task to re-execute the failed jobs of a run.
func (w *Worker) EnqueueRerun(ctx context.Context, runID string) error {
	t := taskqueue.Task{
		Type:       taskqueue.TaskTypeRerun,
		RunID:      runID,
		EnqueuedAt: time.Now(),
	}
	return w.queue.Enqueue(ctx, t)
}

// ProcessOne pulls a single task from the queue and processes it.
// Returns (processed, error):
//   - processed == false, err != nil: nothing obtained (ctx cancelled or dequeue error)
//   - processed == true: a task was processed; err indicates whether the handler succeeded.
//
// A run that executed but FAILED counts as successful processing: the
// failure belongs to the run record, not to the worker. Only errors that
// prevented execution entirely are reported (and, within Config.MaxAttempts,
// re-enqueued).
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	switch task.Type {
	case taskqueue.TaskTypeTrigger:
		run, runErr := w.engine.Trigger(ctx, task.WorkflowName, task.Event)
		return true, w.settle(ctx, task, run, runErr)

	case taskqueue.TaskTypeRerun:
		run, runErr := w.engine.Rerun(ctx, task.RunID)
		return true, w.settle(ctx, task, run, runErr)

	default:
		// Unknown task type; mark as processed but return an error so this isn't silently ignored.
		return true, errors.New("unknown task type: " + string(task.Type))
	}
}

func (w *Worker) settle(ctx context.Context, task *taskqueue.Task, run *api.Run, err error) error {
	if err == nil {
		return nil
	}
	// The run executed; a failed run is a recorded outcome, not a worker error.
	if run != nil {
		return nil
	}
	// An event that doesn't trigger the workflow is a no-op, not a failure.
	if errors.Is(err, api.ErrNotTriggered) {
		return nil
	}

	if task.Attempts+1 <= w.cfg.MaxAttempts {
		retry := *task
		retry.Attempts++
		if w.cfg.RetryDelay > 0 {
			retry.NotBefore = time.Now().Add(w.cfg.RetryDelay)
		}
		if enqErr := w.queue.Enqueue(ctx, retry); enqErr != nil {
			return errors.Join(err, enqErr)
		}
	}
	return err
}
