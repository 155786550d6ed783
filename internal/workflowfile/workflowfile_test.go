package workflowfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/gridci/pkg/api"
)

const installWorkflow = `
name: install
on: [push, pull_request]
strategy:
  fail-fast: false
  matrix:
    os: [ubuntu-latest, macos-latest]
    python: ["3.11", "3.10", "3.9"]
steps:
  - name: provision
    run: echo "setting up python ${{ matrix.python }}"
  - name: install
    run: echo "pip install -e ."
`

func TestParseInstallWorkflow(t *testing.T) {
	t.Parallel()

	f, err := Parse([]byte(installWorkflow))
	require.NoError(t, err)

	require.Equal(t, "install", f.Name)
	require.Equal(t, TriggerList{"push", "pull_request"}, f.On)
	require.NotNil(t, f.Strategy.FailFast)
	require.False(t, *f.Strategy.FailFast)
	require.Len(t, f.Steps, 2)

	def, err := f.Workflow()
	require.NoError(t, err)
	require.False(t, def.FailFast)
	require.Equal(t, []api.EventType{api.EventPush, api.EventPullRequest}, def.On)

	entries, err := def.Matrix.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 6)
	require.Equal(t, "os=ubuntu-latest,python=3.11", entries[0].Key())
}

// TestMatrixAxisOrderAndLiteralScalars ensures axis declaration order is
// preserved and unquoted numeric-looking values stay literal (3.10 must not
// collapse into a float).
func TestMatrixAxisOrderAndLiteralScalars(t *testing.T) {
	t.Parallel()

	f, err := Parse([]byte(`
name: literals
on: push
strategy:
  matrix:
    python: [3.11, 3.10, 3.9]
    os: [ubuntu-latest]
steps:
  - run: "true"
`))
	require.NoError(t, err)

	axes := f.Strategy.Matrix.Axes
	require.Len(t, axes, 2)
	require.Equal(t, "python", axes[0].Name)
	require.Equal(t, []string{"3.11", "3.10", "3.9"}, axes[0].Values)
	require.Equal(t, "os", axes[1].Name)
}

func TestTriggerSpellings(t *testing.T) {
	t.Parallel()

	scalar, err := Parse([]byte("name: a\non: push\nsteps:\n  - run: \"true\"\n"))
	require.NoError(t, err)
	require.Equal(t, TriggerList{"push"}, scalar.On)

	mapping, err := Parse([]byte(`
name: b
on:
  push: {}
  pull_request: {}
steps:
  - run: "true"
`))
	require.NoError(t, err)
	require.Equal(t, TriggerList{"push", "pull_request"}, mapping.On)
}

func TestFailFastDefaultsToTrueWhenUnset(t *testing.T) {
	t.Parallel()

	f, err := Parse([]byte("name: defaults\non: push\nsteps:\n  - run: \"true\"\n"))
	require.NoError(t, err)
	require.Nil(t, f.Strategy.FailFast)

	def, err := f.Workflow()
	require.NoError(t, err)
	require.True(t, def.FailFast, "absent fail-fast means true")
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("name: bad\non: push\nstpes:\n  - run: \"true\"\n"))
	require.Error(t, err, "typoed keys must fail loudly")
}

func TestWorkflowValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		yaml string
	}{
		{"missing name", "on: push\nsteps:\n  - run: \"true\"\n"},
		{"missing trigger", "name: x\nsteps:\n  - run: \"true\"\n"},
		{"unknown trigger", "name: x\non: deploy\nsteps:\n  - run: \"true\"\n"},
		{"no steps", "name: x\non: push\n"},
		{"empty run", "name: x\non: push\nsteps:\n  - name: s\n    run: \"  \"\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := Parse([]byte(tc.yaml))
			require.NoError(t, err)
			_, err = f.Workflow()
			require.Error(t, err)
		})
	}
}

func TestStepExcludeIncludeAndRetries(t *testing.T) {
	t.Parallel()

	f, err := Parse([]byte(`
name: full
on: push
strategy:
  matrix:
    os: [ubuntu-latest, macos-latest]
    python: ["3.11", "3.10"]
    exclude:
      - os: macos-latest
        python: "3.10"
    include:
      - os: ubuntu-latest
        python: "3.11"
        coverage: "true"
steps:
  - name: flaky
    run: "true"
    retries: 2
`))
	require.NoError(t, err)

	def, err := f.Workflow()
	require.NoError(t, err)

	entries, err := def.Matrix.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	require.NotNil(t, def.Steps[0].Retry)
	require.Equal(t, 3, def.Steps[0].Retry.MaxAttempts, "2 retries = 3 attempts")
}

// TestWorkflowStepRunsCommand executes a built step and checks command
// expansion, the step env layering, and job log capture.
func TestWorkflowStepRunsCommand(t *testing.T) {
	t.Parallel()

	f, err := Parse([]byte(`
name: exec
on: push
strategy:
  matrix:
    python: ["3.11"]
env:
  GLOBAL: base
steps:
  - name: show
    run: echo "py=${{ matrix.python }} global=$GLOBAL step=$EXTRA"
    env:
      EXTRA: added
`))
	require.NoError(t, err)

	def, err := f.Workflow()
	require.NoError(t, err)

	job := &api.JobContext{
		Entry: api.Entry{"python": "3.11"},
		Dir:   t.TempDir(),
		Env:   map[string]string{"GLOBAL": "base"},
	}
	require.NoError(t, def.Steps[0].Fn(context.Background(), job))
	require.Contains(t, job.Log(), "py=3.11 global=base step=added")
}

func TestLoadDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "install.yml"), []byte(installWorkflow), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	files, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "install", files[0].Name)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yml"), []byte("name: [\n"), 0o644))
	files, err = LoadDir(dir)
	require.Error(t, err)
	require.Len(t, files, 1, "parsable files still load")
}
