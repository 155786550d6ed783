package gridci

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/petrijr/gridci/internal/shell"
	"github.com/petrijr/gridci/pkg/api"
)

// RunStep returns a step that executes a shell script in the job's working
// directory with the job's environment. Matrix references like
// "${{ matrix.python }}" are expanded against the job's entry before
// execution. Output is appended to the job log; a non-zero exit fails the
// step.
func RunStep(script string) StepFunc {
	return RunStepWithTimeout(script, 0)
}

// RunStepWithTimeout is RunStep with a per-invocation timeout.
// A zero timeout uses the shell package default.
func RunStepWithTimeout(script string, timeout time.Duration) StepFunc {
	return func(ctx context.Context, job *api.JobContext) error {
		expanded := job.Entry.Expand(script)
		res, err := shell.Run(ctx, shell.Command{
			Script:  expanded,
			Dir:     job.Dir,
			Env:     job.Env,
			Timeout: timeout,
		})
		if res != nil {
			if out := strings.TrimSpace(res.Stdout); out != "" {
				job.Logf("%s", out)
			}
			if errOut := strings.TrimSpace(res.Stderr); errOut != "" {
				job.Logf("%s", errOut)
			}
		}
		return err
	}
}

// RunStepIn is RunStep executed in dir relative to the job's working
// directory. The directory is created if it does not exist.
func RunStepIn(dir, script string) StepFunc {
	return func(ctx context.Context, job *api.JobContext) error {
		target := filepath.Join(job.Dir, job.Entry.Expand(dir))
		if err := os.MkdirAll(target, 0o755); err != nil {
			return fmt.Errorf("step dir %s: %w", dir, err)
		}
		res, err := shell.Run(ctx, shell.Command{
			Script: job.Entry.Expand(script),
			Dir:    target,
			Env:    job.Env,
		})
		if res != nil {
			if out := strings.TrimSpace(res.Stdout); out != "" {
				job.Logf("%s", out)
			}
			if errOut := strings.TrimSpace(res.Stderr); errOut != "" {
				job.Logf("%s", errOut)
			}
		}
		return err
	}
}

// CheckoutStep returns a step that clones the given repository into the
// job's working directory. An empty url checks out nothing and fails.
func CheckoutStep(url string) StepFunc {
	return func(ctx context.Context, job *api.JobContext) error {
		if strings.TrimSpace(url) == "" {
			return fmt.Errorf("checkout: empty repository url")
		}
		res, err := shell.Run(ctx, shell.Command{
			Script: fmt.Sprintf("git clone --depth 1 %s .", url),
			Dir:    job.Dir,
			Env:    job.Env,
		})
		if res != nil && strings.TrimSpace(res.Stderr) != "" {
			job.Logf("%s", strings.TrimSpace(res.Stderr))
		}
		if err != nil {
			return fmt.Errorf("checkout %s: %w", url, err)
		}
		return nil
	}
}

// SleepStep returns a step that waits for the given duration.
//
// It is context-aware: if the context is cancelled during the sleep,
// it returns ctx.Err and the job will fail (or be cancelled) at this step.
func SleepStep(d time.Duration) StepFunc {
	return func(ctx context.Context, job *api.JobContext) error {
		if d <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
			return nil
		}
	}
}
