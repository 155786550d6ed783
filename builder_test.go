package gridci

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuilderDefinition(t *testing.T) {
	t.Parallel()

	noop := func(ctx context.Context, job *JobContext) error { return nil }

	wf := New("install").
		OnPush().OnPullRequest().
		MatrixAxis("os", "ubuntu-latest", "macos-latest").
		MatrixAxis("python", "3.11", "3.10", "3.9").
		ExcludeEntry(map[string]string{"os": "macos-latest", "python": "3.9"}).
		IncludeEntry(map[string]string{"os": "ubuntu-latest", "python": "3.11", "coverage": "true"}).
		FailFast(true).
		MaxParallel(4).
		Env("CI", "true").
		Step("provision", noop).
		Run("install", "pip install -e .")

	require.Equal(t, "install", wf.Name())

	def := wf.Definition()
	require.Equal(t, []EventType{EventPush, EventPullRequest}, def.On)
	require.True(t, def.FailFast)
	require.Equal(t, 4, def.MaxParallel)
	require.Equal(t, "true", def.Env["CI"])
	require.Len(t, def.Steps, 2)
	require.Equal(t, "provision", def.Steps[0].Name)
	require.Equal(t, "install", def.Steps[1].Name)

	entries, err := def.Matrix.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 5)
}

func TestBuilderStepWithRetryCopiesPolicy(t *testing.T) {
	t.Parallel()

	noop := func(ctx context.Context, job *JobContext) error { return nil }

	policy := Retry(3).Policy()
	wf := New("retrying").OnPush().StepWithRetry("flaky", noop, policy)

	policy.MaxAttempts = 99
	require.Equal(t, 3, wf.Definition().Steps[0].Retry.MaxAttempts,
		"mutating the caller's policy must not affect the stored step")
}

func TestBuilderPanics(t *testing.T) {
	t.Parallel()

	noop := func(ctx context.Context, job *JobContext) error { return nil }

	require.Panics(t, func() { New("x").Step("", noop) })
	require.Panics(t, func() { New("x").Step("nil-fn", nil) })
	require.Panics(t, func() { New("x").MatrixAxis("") })
	require.Panics(t, func() {
		eng := NewInMemoryEngine()
		New("").OnPush().Step("s", noop).MustRegister(eng)
	})
}
