package gridci_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/petrijr/gridci"
)

// Example_workflowBuilder demonstrates defining and running a matrix
// workflow using the high-level WorkflowBuilder API and an in-memory engine.
func Example_workflowBuilder() {
	ctx := context.Background()

	wf := gridci.New("install").
		OnPush().OnPullRequest().
		MatrixAxis("os", "ubuntu-latest", "macos-latest").
		MatrixAxis("python", "3.11", "3.10", "3.9").
		Step("provision", provision).
		Run("install", "echo pip install -e .")

	eng := gridci.NewInMemoryEngine()

	if err := wf.Register(eng); err != nil {
		log.Fatal(err)
	}

	run, err := gridci.Trigger(ctx, eng, wf.Name(), gridci.Event{Type: gridci.EventPush})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("run %s finished with status %s across %d jobs\n",
		run.ID, run.Status, len(run.Jobs))
}

// Example_localRunner demonstrates using LocalRunner to execute workflows
// with an in-process engine, queue, and worker.
func Example_localRunner() {
	ctx := context.Background()

	runner := gridci.NewLocalRunner()

	wf := gridci.New("install").
		OnPush().
		MatrixAxis("python", "3.11", "3.10").
		Step("provision", provision)

	if err := wf.Register(runner.Engine); err != nil {
		log.Fatal(err)
	}

	// Start one worker goroutine.
	if err := runner.StartWorkers(ctx, 1); err != nil {
		log.Fatal(err)
	}
	defer runner.Stop()

	// Enqueue an asynchronous workflow trigger.
	if err := runner.TriggerAsync(ctx, wf.Name(), gridci.Event{Type: gridci.EventPush}); err != nil {
		log.Fatal(err)
	}

	// In a real application you'd poll ListRuns or watch an Observer;
	// for example purposes, just give the worker a moment to run.
	time.Sleep(500 * time.Millisecond)
}

func provision(ctx context.Context, job *gridci.JobContext) error {
	job.Logf("provisioning python %s on %s", job.Entry["python"], job.Entry["os"])
	return nil
}
