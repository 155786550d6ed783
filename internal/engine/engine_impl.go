package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/petrijr/gridci/internal/persistence"
	"github.com/petrijr/gridci/pkg/api"
)

// errFailFast is the cancellation cause used when a failing job takes its
// siblings down under FailFast. Jobs cancelled for this reason end up
// CANCELLED rather than FAILED.
var errFailFast = errors.New("sibling job failed")

// engineImpl is a synchronous, in-process engine implementation. Trigger
// expands the matrix, runs one goroutine per job, and returns when every
// job reached a terminal status.
type engineImpl struct {
	workflows persistence.WorkflowStore
	runs      persistence.RunStore

	mu       sync.Mutex // only for nextID
	nextID   int64
	observer api.Observer

	// workspaceRoot is where per-job working directories are created.
	// Empty means the system temp directory.
	workspaceRoot string
}

// Config describes how to construct an engineImpl.
// Only used inside this package; external callers use the helper functions.
type Config struct {
	Persistence   persistence.Persistence
	Observer      api.Observer
	WorkspaceRoot string
}

func NewInMemoryEngine() api.Engine {
	mem := persistence.NewInMemoryStore()
	return NewEngine(persistence.Persistence{
		Workflows: mem,
		Runs:      mem,
	})
}

func NewInMemoryEngineWithObserver(obs api.Observer) api.Engine {
	mem := persistence.NewInMemoryStore()
	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{Workflows: mem, Runs: mem},
		Observer:    obs,
	})
}

func NewSQLiteEngine(db *sql.DB) (api.Engine, error) {
	return NewSQLiteEngineWithObserver(db, nil)
}

func NewSQLiteEngineWithObserver(db *sql.DB, obs api.Observer) (api.Engine, error) {
	runs, err := persistence.NewSQLiteRunStore(db)
	if err != nil {
		return nil, err
	}
	// Workflow definitions hold step functions and remain in-memory;
	// callers re-register workflows on startup.
	memWF := persistence.NewInMemoryStore()

	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{Workflows: memWF, Runs: runs},
		Observer:    obs,
	}), nil
}

// NewEngineWithConfig creates a new Engine using the given configuration.
func NewEngineWithConfig(cfg Config) api.Engine {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	return &engineImpl{
		workflows:     cfg.Persistence.Workflows,
		runs:          cfg.Persistence.Runs,
		observer:      obs,
		workspaceRoot: cfg.WorkspaceRoot,
		nextID:        highestRunID(cfg.Persistence.Runs),
	}
}

// highestRunID scans the run store so the ID counter keeps counting up
// across restarts on a durable store instead of re-minting "run-1".
func highestRunID(runs persistence.RunStore) int64 {
	existing, err := runs.ListRuns(persistence.RunFilter{})
	if err != nil {
		return 0
	}
	var max int64
	for _, r := range existing {
		rest, ok := strings.CutPrefix(r.ID, "run-")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(rest, 10, 64)
		if err == nil && n > max {
			max = n
		}
	}
	return max
}

// NewEngine returns an Engine backed by the given stores with no observer.
func NewEngine(p persistence.Persistence) api.Engine {
	return NewEngineWithConfig(Config{
		Persistence: p,
	})
}

func (e *engineImpl) RegisterWorkflow(def api.Workflow) error {
	if def.Name == "" {
		return errors.New("workflow name is required")
	}
	if len(def.On) == 0 {
		return errors.New("workflow must declare at least one trigger")
	}
	if len(def.Steps) == 0 {
		return errors.New("workflow must have at least one step")
	}
	for _, s := range def.Steps {
		if s.Name == "" {
			return errors.New("workflow step name is required")
		}
		if s.Fn == nil {
			return fmt.Errorf("workflow step %q has nil function", s.Name)
		}
	}
	// Expansion errors (duplicate axes, empty values) surface at
	// registration time, not on first trigger.
	if _, err := def.Matrix.Entries(); err != nil {
		return err
	}

	// Check for duplicates via the store.
	if existing, err := e.workflows.GetWorkflow(def.Name); err == nil && existing.Name != "" {
		return fmt.Errorf("workflow already registered: %s", def.Name)
	} else if err != nil && !errors.Is(err, persistence.ErrWorkflowNotFound) {
		// Unexpected store error.
		return err
	}

	return e.workflows.SaveWorkflow(def)
}

func (e *engineImpl) Trigger(ctx context.Context, name string, ev api.Event) (*api.Run, error) {
	def, err := e.workflows.GetWorkflow(name)
	if err != nil {
		if errors.Is(err, persistence.ErrWorkflowNotFound) {
			return nil, fmt.Errorf("unknown workflow: %s", name)
		}
		return nil, err
	}

	if !def.Triggers(ev.Type) {
		return nil, fmt.Errorf("workflow %s: %w (event %q)", name, api.ErrNotTriggered, ev.Type)
	}

	entries, err := def.Matrix.Entries()
	if err != nil {
		return nil, err
	}

	run := &api.Run{
		ID:           e.nextRunID(),
		WorkflowName: def.Name,
		Event:        ev,
		Status:       api.StatusRunning,
		CreatedAt:    time.Now(),
	}
	for _, entry := range entries {
		run.Jobs = append(run.Jobs, &api.Job{
			ID:     run.ID + "/" + entry.Key(),
			RunID:  run.ID,
			Entry:  entry,
			Status: api.StatusPending,
		})
	}

	// Persist the run as soon as it starts. When this fails nothing was
	// executed or recorded, so no Run is returned; callers (and the
	// worker's retry path) treat this like any other pre-execution error.
	if err := e.runs.SaveRun(run); err != nil {
		return nil, fmt.Errorf("save run %s: %w", run.ID, err)
	}

	e.observer.OnRunStart(ctx, run)

	return e.executeRun(ctx, def, run, run.Jobs)
}

func (e *engineImpl) TriggerEvent(ctx context.Context, ev api.Event) ([]*api.Run, error) {
	defs, err := e.workflows.ListWorkflows()
	if err != nil {
		return nil, err
	}

	var runs []*api.Run
	var firstErr error
	for _, def := range defs {
		if !def.Triggers(ev.Type) {
			continue
		}
		run, err := e.Trigger(ctx, def.Name, ev)
		if run != nil {
			runs = append(runs, run)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return runs, firstErr
}

func (e *engineImpl) GetRun(ctx context.Context, id string) (*api.Run, error) {
	run, err := e.runs.GetRun(id)
	if err != nil {
		if errors.Is(err, persistence.ErrRunNotFound) {
			return nil, fmt.Errorf("run not found: %s", id)
		}
		return nil, err
	}
	return run, nil
}

func (e *engineImpl) ListRuns(ctx context.Context, opts api.RunListOptions) ([]*api.Run, error) {
	filter := persistence.RunFilter{
		WorkflowName: opts.WorkflowName,
		Status:       opts.Status,
	}
	return e.runs.ListRuns(filter)
}

func (e *engineImpl) Rerun(ctx context.Context, id string) (*api.Run, error) {
	run, err := e.runs.GetRun(id)
	if err != nil {
		if errors.Is(err, persistence.ErrRunNotFound) {
			return nil, fmt.Errorf("run not found: %s", id)
		}
		return nil, err
	}

	if run.Status != api.StatusFailed {
		return nil, fmt.Errorf("cannot rerun run %s in status %s", id, run.Status)
	}

	def, err := e.workflows.GetWorkflow(run.WorkflowName)
	if err != nil {
		if errors.Is(err, persistence.ErrWorkflowNotFound) {
			return nil, fmt.Errorf("workflow definition not found for run %s (name=%s)", id, run.WorkflowName)
		}
		return nil, err
	}

	// Completed jobs are kept; failed and cancelled ones are reset and
	// executed again.
	var retried []*api.Job
	for _, job := range run.Jobs {
		if job.Status == api.StatusCompleted {
			continue
		}
		job.Status = api.StatusPending
		job.Steps = nil
		job.Err = nil
		job.Log = ""
		retried = append(retried, job)
	}
	if len(retried) == 0 {
		return nil, fmt.Errorf("run %s has no failed jobs to rerun", id)
	}

	run.Status = api.StatusRunning
	run.Err = nil

	if err := e.runs.UpdateRun(run); err != nil {
		return run, err
	}

	e.observer.OnRunStart(ctx, run)

	return e.executeRun(ctx, def, run, retried)
}

func (e *engineImpl) RecoverStuckRuns(ctx context.Context) (int, error) {
	stuck, err := e.runs.ListRuns(persistence.RunFilter{Status: api.StatusRunning})
	if err != nil {
		return 0, err
	}

	count := 0
	for _, run := range stuck {
		run.Status = api.StatusFailed
		run.Err = errors.New("run interrupted: engine restarted")
		for _, job := range run.Jobs {
			if job.Status == api.StatusRunning || job.Status == api.StatusPending {
				job.Status = api.StatusFailed
				job.Err = errors.New("job interrupted: engine restarted")
			}
		}
		if err := e.runs.UpdateRun(run); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (e *engineImpl) nextRunID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	return fmt.Sprintf("run-%d", e.nextID)
}

// executeRun runs the given jobs concurrently and settles the run status.
// jobs may be a subset of run.Jobs (rerun of failed jobs only).
func (e *engineImpl) executeRun(
	ctx context.Context,
	def api.Workflow,
	run *api.Run,
	jobs []*api.Job,
) (*api.Run, error) {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	// Bound concurrency if requested; one goroutine per job either way,
	// each with a fully isolated working environment.
	var sem chan struct{}
	if def.MaxParallel > 0 {
		sem = make(chan struct{}, def.MaxParallel)
	}

	var runMu sync.Mutex // guards run/job mutations and store updates
	update := func(mutate func()) {
		runMu.Lock()
		defer runMu.Unlock()
		mutate()
		_ = e.runs.UpdateRun(run)
	}

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(job *api.Job) {
			defer wg.Done()

			if sem != nil {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-runCtx.Done():
					e.settleCancelledJob(runCtx, run, job, update)
					return
				}
			}

			e.executeJob(runCtx, cancel, def, run, job, update)
		}(job)
	}
	wg.Wait()

	// Settle the run.
	failed := 0
	for _, job := range run.Jobs {
		if job.Status == api.StatusFailed || job.Status == api.StatusCancelled {
			failed++
		}
	}

	if failed > 0 {
		err := fmt.Errorf("%d of %d jobs failed", failed, len(run.Jobs))
		update(func() {
			run.Status = api.StatusFailed
			run.Err = err
		})
		e.observer.OnRunFailed(ctx, run, err)
		return run, err
	}

	update(func() {
		run.Status = api.StatusCompleted
		run.Err = nil
	})
	e.observer.OnRunCompleted(ctx, run)
	return run, nil
}

// executeJob runs every step of one job in definition order.
func (e *engineImpl) executeJob(
	ctx context.Context,
	cancel context.CancelCauseFunc,
	def api.Workflow,
	run *api.Run,
	job *api.Job,
	update func(func()),
) {
	update(func() { job.Status = api.StatusRunning })
	e.observer.OnJobStart(ctx, run, job)

	jc, cleanup, err := e.newJobContext(def, job)
	if err != nil {
		update(func() {
			job.Status = api.StatusFailed
			job.Err = err
		})
		e.observer.OnJobCompleted(ctx, run, job)
		if def.FailFast {
			cancel(errFailFast)
		}
		return
	}
	defer cleanup()

	for i, step := range def.Steps {
		if ctx.Err() != nil {
			e.skipRemaining(job, def.Steps[i:], update)
			e.settleCancelledJob(ctx, run, job, update)
			return
		}

		result, stepErr := e.runStep(ctx, job, step, i, jc)
		update(func() { job.Steps = append(job.Steps, result) })

		if stepErr != nil {
			e.skipRemaining(job, def.Steps[i+1:], update)
			// A fail-fast cancellation already happened if ctx is done;
			// otherwise this job is the one that triggers it.
			if ctx.Err() == nil && def.FailFast {
				update(func() {
					job.Status = api.StatusFailed
					job.Err = stepErr
					job.Log = jc.Log()
				})
				e.observer.OnJobCompleted(ctx, run, job)
				cancel(errFailFast)
				return
			}
			status := api.StatusFailed
			if errors.Is(context.Cause(ctx), errFailFast) && errors.Is(stepErr, context.Canceled) {
				status = api.StatusCancelled
			}
			update(func() {
				job.Status = status
				job.Err = stepErr
				job.Log = jc.Log()
			})
			e.observer.OnJobCompleted(ctx, run, job)
			return
		}
	}

	update(func() {
		job.Status = api.StatusCompleted
		job.Log = jc.Log()
	})
	e.observer.OnJobCompleted(ctx, run, job)
}

// runStep executes one step with its retry policy and returns the recorded
// result. A nil error means the step eventually succeeded.
func (e *engineImpl) runStep(
	ctx context.Context,
	job *api.Job,
	step api.StepDefinition,
	index int,
	jc *api.JobContext,
) (api.StepResult, error) {
	maxAttempts := 1
	var (
		backoff    time.Duration
		maxBackoff time.Duration
		multiplier float64
	)
	if step.Retry != nil {
		if step.Retry.MaxAttempts > 0 {
			maxAttempts = step.Retry.MaxAttempts
		}
		backoff = step.Retry.InitialBackoff
		maxBackoff = step.Retry.MaxBackoff
		multiplier = step.Retry.BackoffMultiplier
		if multiplier <= 0 {
			multiplier = 2.0
		}
	}

	result := api.StepResult{Name: step.Name}
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			result.Status = api.StatusFailed
			result.Attempts = attempt - 1
			result.Duration = time.Since(start)
			result.Err = ctx.Err().Error()
			return result, ctx.Err()
		default:
		}

		result.Attempts = attempt

		stepStart := time.Now()
		e.observer.OnStepStart(ctx, job, step.Name, index)
		err := step.Fn(ctx, jc)
		e.observer.OnStepCompleted(ctx, job, step.Name, index, err, time.Since(stepStart))

		if err == nil {
			result.Status = api.StatusCompleted
			result.Duration = time.Since(start)
			return result, nil
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}

		if backoff > 0 {
			delay := backoff
			if maxBackoff > 0 && delay > maxBackoff {
				delay = maxBackoff
			}
			select {
			case <-ctx.Done():
				result.Status = api.StatusFailed
				result.Duration = time.Since(start)
				result.Err = ctx.Err().Error()
				return result, ctx.Err()
			case <-time.After(delay):
			}
			next := time.Duration(float64(backoff) * multiplier)
			if maxBackoff > 0 && next > maxBackoff {
				backoff = maxBackoff
			} else {
				backoff = next
			}
		}
	}

	result.Status = api.StatusFailed
	result.Duration = time.Since(start)
	result.Err = lastErr.Error()
	return result, fmt.Errorf("step %s: %w", step.Name, lastErr)
}

// skipRemaining records SKIPPED results for steps that never ran.
func (e *engineImpl) skipRemaining(job *api.Job, steps []api.StepDefinition, update func(func())) {
	if len(steps) == 0 {
		return
	}
	update(func() {
		for _, s := range steps {
			job.Steps = append(job.Steps, api.StepResult{
				Name:   s.Name,
				Status: api.StatusSkipped,
			})
		}
	})
}

// settleCancelledJob marks a job that never got to finish. Fail-fast
// cancellations are CANCELLED; anything else is a failure of the run's own
// context.
func (e *engineImpl) settleCancelledJob(ctx context.Context, run *api.Run, job *api.Job, update func(func())) {
	status := api.StatusFailed
	err := ctx.Err()
	if errors.Is(context.Cause(ctx), errFailFast) {
		status = api.StatusCancelled
		err = errFailFast
	}
	update(func() {
		job.Status = status
		job.Err = err
	})
	e.observer.OnJobCompleted(ctx, run, job)
}

// newJobContext builds the isolated per-job environment: a private working
// directory, the workflow env merged with MATRIX_* exports.
func (e *engineImpl) newJobContext(def api.Workflow, job *api.Job) (*api.JobContext, func(), error) {
	dir, err := os.MkdirTemp(e.workspaceRoot, "gridci-job-")
	if err != nil {
		return nil, nil, fmt.Errorf("create job workspace: %w", err)
	}

	env := make(map[string]string, len(def.Env)+len(job.Entry))
	for k, v := range def.Env {
		env[k] = v
	}
	for k, v := range job.Entry {
		env["MATRIX_"+sanitizeEnvKey(k)] = v
	}

	jc := &api.JobContext{
		Entry: job.Entry,
		Dir:   dir,
		Env:   env,
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	return jc, cleanup, nil
}

func sanitizeEnvKey(k string) string {
	out := make([]byte, 0, len(k))
	for i := 0; i < len(k); i++ {
		c := k[i]
		switch {
		case c >= 'a' && c <= 'z':
			c = c - 'a' + 'A'
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		default:
			c = '_'
		}
		out = append(out, c)
	}
	return string(out)
}
