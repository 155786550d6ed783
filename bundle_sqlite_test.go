package gridci

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/petrijr/gridci/pkg/worker"
)

// TestSQLiteBundleEndToEnd drives the durable path: enqueue a trigger into
// the SQLite queue, process it with the worker, and read the persisted run
// back through a fresh engine on the same database.
func TestSQLiteBundleEndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "gridci.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)

	bundle, err := NewSQLiteBundle(db, worker.Config{MaxAttempts: 2})
	require.NoError(t, err)

	New("durable-install").
		OnPush().
		MatrixAxis("python", "3.11", "3.10").
		Step("noop", func(ctx context.Context, job *JobContext) error { return nil }).
		MustRegister(bundle.Engine)

	require.NoError(t, bundle.Worker.EnqueueTrigger(ctx, "durable-install", Event{Type: EventPush}))

	processed, err := bundle.Worker.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	runs, err := ListRuns(ctx, bundle.Engine, RunListOptions{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, StatusCompleted, runs[0].Status)
	runID := runs[0].ID
	require.NoError(t, db.Close())

	// Reopen the same database; run history must survive.
	db2, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db2.Close()

	eng2, err := NewSQLiteEngine(db2)
	require.NoError(t, err)

	run, err := GetRun(ctx, eng2, runID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, run.Status)
	require.Len(t, run.Jobs, 2)
	require.NotNil(t, run.Job("python=3.11"))
	require.NotNil(t, run.Job("python=3.10"))
}
