package gridci

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/gridci/pkg/api"
)

func testJobContext(t *testing.T, entry Entry) *JobContext {
	t.Helper()
	return &api.JobContext{
		Entry: entry,
		Dir:   t.TempDir(),
		Env:   map[string]string{"MATRIX_PYTHON": entry["python"]},
	}
}

// TestRunStepExpandsMatrixReferences executes a script with a matrix
// reference and checks expansion plus log capture.
func TestRunStepExpandsMatrixReferences(t *testing.T) {
	t.Parallel()

	job := testJobContext(t, Entry{"python": "3.11"})
	step := RunStep(`echo "installing for ${{ matrix.python }} env=$MATRIX_PYTHON"`)

	require.NoError(t, step(context.Background(), job))
	require.Contains(t, job.Log(), "installing for 3.11 env=3.11")
}

func TestRunStepFailureCapturesStderr(t *testing.T) {
	t.Parallel()

	job := testJobContext(t, Entry{"python": "3.11"})
	step := RunStep("echo broken >&2; exit 1")

	err := step(context.Background(), job)
	require.Error(t, err)
	require.Contains(t, job.Log(), "broken")
}

func TestRunStepWithTimeout(t *testing.T) {
	t.Parallel()

	job := testJobContext(t, Entry{})
	step := RunStepWithTimeout("sleep 5", 50*time.Millisecond)

	err := step(context.Background(), job)
	require.Error(t, err)
	require.Contains(t, err.Error(), "timed out")
}

func TestRunStepInCreatesSubdirectory(t *testing.T) {
	t.Parallel()

	job := testJobContext(t, Entry{"python": "3.9"})
	step := RunStepIn("build/${{ matrix.python }}", "pwd")

	require.NoError(t, step(context.Background(), job))
	require.Contains(t, job.Log(), filepath.Join(job.Dir, "build", "3.9"))
	require.DirExists(t, filepath.Join(job.Dir, "build", "3.9"))
}

func TestCheckoutStepEmptyURL(t *testing.T) {
	t.Parallel()

	job := testJobContext(t, Entry{})
	err := CheckoutStep("  ")(context.Background(), job)
	require.Error(t, err)
}

func TestSleepStep(t *testing.T) {
	t.Parallel()

	job := testJobContext(t, Entry{})

	require.NoError(t, SleepStep(0)(context.Background(), job))
	require.NoError(t, SleepStep(time.Millisecond)(context.Background(), job))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, SleepStep(time.Minute)(ctx, job), context.Canceled)
}
