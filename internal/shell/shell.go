// Package shell runs workflow step commands through /bin/sh with captured
// output, merged environment, and per-command timeouts.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout applies when a Command does not set its own.
const DefaultTimeout = 30 * time.Minute

// Command describes one shell invocation.
type Command struct {
	// Script is passed to /bin/sh -c.
	Script string

	// Dir is the working directory. Empty means the process working dir.
	Dir string

	// Env is merged on top of the parent process environment.
	Env map[string]string

	// Timeout bounds the command; zero means DefaultTimeout.
	Timeout time.Duration
}

// Result captures what the command did.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// ExitError reports a command that ran and exited non-zero.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command exited with code %d", e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + lastLine(s)
	}
	return msg
}

// Run executes the command and returns its result. The error is non-nil
// when the command could not start, timed out, was cancelled, or exited
// non-zero (as an *ExitError); the Result is returned in every case where
// the command produced output.
func Run(ctx context.Context, c Command) (*Result, error) {
	if strings.TrimSpace(c.Script) == "" {
		return nil, errors.New("empty command script")
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "/bin/sh", "-c", c.Script)
	if c.Dir != "" {
		cmd.Dir = c.Dir
	}

	env := os.Environ()
	for key, value := range c.Env {
		env = append(env, key+"="+value)
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		return res, nil
	}

	// A killed command usually means the context did it; report the
	// cancellation rather than the signal.
	if execCtx.Err() != nil {
		res.ExitCode = -1
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return res, fmt.Errorf("command timed out after %s", timeout)
		}
		return res, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, &ExitError{Code: res.ExitCode, Stderr: res.Stderr}
	}

	res.ExitCode = -1
	return res, fmt.Errorf("command failed to start: %w", err)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
