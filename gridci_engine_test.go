package gridci

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestMatrixWorkflowRunsEveryEntryOnce triggers a 2x3 matrix workflow and
// verifies that every matrix entry is executed exactly once, each job in
// its own working directory with MATRIX_* variables set.
func TestMatrixWorkflowRunsEveryEntryOnce(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	metrics := &BasicMetrics{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := NewInMemoryEngineWithObserver(NewCompositeObserver(
		NewLoggingObserver(logger),
		metrics,
	))

	var mu sync.Mutex
	seenEntries := make(map[string]int)
	seenDirs := make(map[string]int)

	wf := New("install").
		OnPush().
		MatrixAxis("os", "ubuntu-latest", "macos-latest").
		MatrixAxis("python", "3.11", "3.10", "3.9").
		Step("record", func(ctx context.Context, job *JobContext) error {
			mu.Lock()
			defer mu.Unlock()
			seenEntries[job.Entry.Key()]++
			seenDirs[job.Dir]++
			if job.Env["MATRIX_PYTHON"] != job.Entry["python"] {
				return errors.New("MATRIX_PYTHON not exported")
			}
			return nil
		})

	require.NoError(t, wf.Register(engine))

	run, err := Trigger(ctx, engine, "install", Event{Type: EventPush})
	require.NoError(t, err)
	require.NotNil(t, run)
	require.Equal(t, StatusCompleted, run.Status)
	require.Len(t, run.Jobs, 6)

	require.Len(t, seenEntries, 6)
	for key, n := range seenEntries {
		require.Equal(t, 1, n, "entry %s executed %d times", key, n)
	}
	require.Len(t, seenDirs, 6, "every job should get its own working directory")

	for _, job := range run.Jobs {
		require.Equal(t, StatusCompleted, job.Status)
		require.Len(t, job.Steps, 1)
		require.Equal(t, StatusCompleted, job.Steps[0].Status)
	}

	snap := metrics.Snapshot()
	require.Equal(t, int64(1), snap.RunsStarted)
	require.Equal(t, int64(1), snap.RunsCompleted)
	require.Equal(t, int64(6), snap.JobsCompleted)
	require.Equal(t, int64(6), snap.StepsCompleted)
}

// TestTriggerEventTypeMismatch verifies that delivering an event the
// workflow does not listen for returns ErrNotTriggered and records no run.
func TestTriggerEventTypeMismatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine := NewInMemoryEngine()

	wf := New("push-only").
		OnPush().
		Step("noop", func(ctx context.Context, job *JobContext) error { return nil })
	require.NoError(t, wf.Register(engine))

	run, err := Trigger(ctx, engine, "push-only", Event{Type: EventPullRequest})
	require.ErrorIs(t, err, ErrNotTriggered)
	require.Nil(t, run)

	runs, err := ListRuns(ctx, engine, RunListOptions{})
	require.NoError(t, err)
	require.Empty(t, runs, "a non-triggering event must not create a run")
}

// TestStepsRunInOrderAndFailureSkipsRemainder checks step ordering within a
// job and that a failing step marks later steps SKIPPED.
func TestStepsRunInOrderAndFailureSkipsRemainder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine := NewInMemoryEngine()

	var mu sync.Mutex
	var order []string
	record := func(name string, fail bool) StepFunc {
		return func(ctx context.Context, job *JobContext) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			if fail {
				return errors.New(name + " failed")
			}
			return nil
		}
	}

	wf := New("ordered").
		OnPush().
		Step("checkout", record("checkout", false)).
		Step("install", record("install", true)).
		Step("test", record("test", false))
	require.NoError(t, wf.Register(engine))

	run, err := Trigger(ctx, engine, "ordered", Event{Type: EventPush})
	require.Error(t, err)
	require.NotNil(t, run)
	require.Equal(t, StatusFailed, run.Status)

	require.Equal(t, []string{"checkout", "install"}, order, "the failing step must stop the job")

	job := run.Jobs[0]
	require.Equal(t, StatusFailed, job.Status)
	require.Len(t, job.Steps, 3)
	require.Equal(t, StatusCompleted, job.Steps[0].Status)
	require.Equal(t, StatusFailed, job.Steps[1].Status)
	require.Equal(t, StatusSkipped, job.Steps[2].Status)
}

// TestFailFastDisabledSiblingsComplete runs a matrix where one entry fails
// and verifies the sibling jobs still run to completion.
func TestFailFastDisabledSiblingsComplete(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	engine := NewInMemoryEngine()

	wf := New("independent").
		OnPush().
		MatrixAxis("python", "3.11", "3.10", "3.9").
		Step("maybe-fail", func(ctx context.Context, job *JobContext) error {
			if job.Entry["python"] == "3.10" {
				return errors.New("flaky interpreter")
			}
			return nil
		})
	require.NoError(t, wf.Register(engine))

	run, err := Trigger(ctx, engine, "independent", Event{Type: EventPush})
	require.Error(t, err)
	require.Equal(t, StatusFailed, run.Status)

	require.Equal(t, StatusCompleted, run.Job("python=3.11").Status)
	require.Equal(t, StatusFailed, run.Job("python=3.10").Status)
	require.Equal(t, StatusCompleted, run.Job("python=3.9").Status)
}

// TestFailFastCancelsSiblings verifies that with FailFast enabled a failing
// job cancels its still-running siblings, which end CANCELLED (not FAILED).
func TestFailFastCancelsSiblings(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	engine := NewInMemoryEngine()

	release := make(chan struct{})

	wf := New("fail-fast").
		OnPush().
		MatrixAxis("python", "3.11", "3.10").
		FailFast(true).
		Step("work", func(ctx context.Context, job *JobContext) error {
			if job.Entry["python"] == "3.10" {
				// Let the sibling get going, then fail.
				<-release
				return errors.New("broken build")
			}
			close(release)
			// Block until the sibling's failure cancels us.
			<-ctx.Done()
			return ctx.Err()
		})
	require.NoError(t, wf.Register(engine))

	run, err := Trigger(ctx, engine, "fail-fast", Event{Type: EventPush})
	require.Error(t, err)
	require.Equal(t, StatusFailed, run.Status)

	require.Equal(t, StatusFailed, run.Job("python=3.10").Status, "the failing job stays FAILED")
	require.Equal(t, StatusCancelled, run.Job("python=3.11").Status, "the cancelled sibling must not be FAILED")
}

// TestRerunFailedJobsOnly fails one matrix entry, reruns, and verifies that
// only the failed job is re-executed while the completed one is kept.
func TestRerunFailedJobsOnly(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	engine := NewInMemoryEngine()

	var mu sync.Mutex
	attempts := make(map[string]int)

	wf := New("rerun").
		OnPush().
		MatrixAxis("os", "ubuntu-latest", "macos-latest").
		Step("build", func(ctx context.Context, job *JobContext) error {
			mu.Lock()
			attempts[job.Entry.Key()]++
			n := attempts[job.Entry.Key()]
			mu.Unlock()
			if job.Entry["os"] == "macos-latest" && n == 1 {
				return errors.New("transient breakage")
			}
			return nil
		})
	require.NoError(t, wf.Register(engine))

	run, err := Trigger(ctx, engine, "rerun", Event{Type: EventPush})
	require.Error(t, err)
	require.Equal(t, StatusFailed, run.Status)

	rerun, err := Rerun(ctx, engine, run.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, rerun.Status)
	require.Equal(t, run.ID, rerun.ID, "a rerun reuses the run ID")

	require.Equal(t, 1, attempts["os=ubuntu-latest"], "completed jobs must not re-execute")
	require.Equal(t, 2, attempts["os=macos-latest"])

	// A completed run cannot be rerun again.
	_, err = Rerun(ctx, engine, run.ID)
	require.Error(t, err)
}

// TestMaxParallelBoundsConcurrency verifies that MaxParallel(1) serializes
// the matrix jobs.
func TestMaxParallelBoundsConcurrency(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	engine := NewInMemoryEngine()

	var mu sync.Mutex
	running, peak := 0, 0

	wf := New("serialized").
		OnPush().
		MatrixAxis("python", "3.11", "3.10", "3.9").
		MaxParallel(1).
		Step("observe", func(ctx context.Context, job *JobContext) error {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()
			return nil
		})
	require.NoError(t, wf.Register(engine))

	run, err := Trigger(ctx, engine, "serialized", Event{Type: EventPush})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, run.Status)
	require.Equal(t, 1, peak, "MaxParallel(1) must never overlap jobs")
}

// TestRegisterWorkflowValidation covers registration-time rejection of
// malformed definitions.
func TestRegisterWorkflowValidation(t *testing.T) {
	t.Parallel()

	engine := NewInMemoryEngine()
	noop := func(ctx context.Context, job *JobContext) error { return nil }

	require.Error(t, engine.RegisterWorkflow(Workflow{}), "empty name")

	require.Error(t, engine.RegisterWorkflow(Workflow{
		Name:  "no-trigger",
		Steps: []StepDefinition{{Name: "s", Fn: noop}},
	}), "missing trigger")

	require.Error(t, engine.RegisterWorkflow(Workflow{
		Name: "no-steps",
		On:   []EventType{EventPush},
	}), "missing steps")

	require.Error(t, engine.RegisterWorkflow(Workflow{
		Name:  "bad-matrix",
		On:    []EventType{EventPush},
		Steps: []StepDefinition{{Name: "s", Fn: noop}},
		Matrix: Matrix{Axes: []Axis{
			{Name: "os", Values: []string{"a"}},
			{Name: "os", Values: []string{"b"}},
		}},
	}), "duplicate axis surfaces at registration")

	ok := New("dup").OnPush().Step("s", noop)
	require.NoError(t, ok.Register(engine))
	require.Error(t, ok.Register(engine), "duplicate registration")
}

func TestTriggerEventStartsAllMatchingWorkflows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine := NewInMemoryEngine()
	noop := func(ctx context.Context, job *JobContext) error { return nil }

	New("on-push").OnPush().Step("s", noop).MustRegister(engine)
	New("on-pr").OnPullRequest().Step("s", noop).MustRegister(engine)
	New("on-both").OnPush().OnPullRequest().Step("s", noop).MustRegister(engine)

	runs, err := engine.TriggerEvent(ctx, Event{Type: EventPush})
	require.NoError(t, err)
	require.Len(t, runs, 2)

	names := make(map[string]bool)
	for _, r := range runs {
		require.Equal(t, StatusCompleted, r.Status)
		names[r.WorkflowName] = true
	}
	require.True(t, names["on-push"])
	require.True(t, names["on-both"])
	require.False(t, names["on-pr"])
}
