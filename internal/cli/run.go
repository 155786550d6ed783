package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	gridci "github.com/petrijr/gridci"
	"github.com/petrijr/gridci/internal/workflowfile"
	"github.com/petrijr/gridci/pkg/api"
)

func runCmd() *cobra.Command {
	var eventType string
	var repo string
	var ref string
	var sha string
	var format string

	c := &cobra.Command{
		Use:   "run WORKFLOW_FILE",
		Short: "Run a workflow file locally, one job per matrix entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := workflowfile.Load(args[0])
			if err != nil {
				return err
			}
			def, err := file.Workflow()
			if err != nil {
				return err
			}

			evType, err := api.ParseEventType(eventType)
			if err != nil {
				return err
			}
			ev := api.Event{Type: evType, Repo: repo, Ref: ref, SHA: sha}

			eng, cleanup, err := buildEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := eng.RegisterWorkflow(def); err != nil {
				return err
			}

			run, runErr := eng.Trigger(cmd.Context(), def.Name, ev)
			if run == nil {
				return runErr
			}

			if err := printRun(os.Stdout, run, format); err != nil {
				return err
			}
			if runErr != nil {
				return fmt.Errorf("run %s failed: %w", run.ID, runErr)
			}
			return nil
		},
	}

	c.Flags().StringVarP(&eventType, "event", "e", "push", "event type to trigger with: push|pull_request")
	c.Flags().StringVar(&repo, "repo", "", "repository full name, e.g. owner/repo (optional)")
	c.Flags().StringVar(&ref, "ref", "", "git ref the event is for (optional)")
	c.Flags().StringVar(&sha, "sha", "", "commit SHA the event is for (optional)")
	c.Flags().StringVar(&format, "format", "pretty", "output format: pretty|json")
	return c
}

// buildEngine constructs an engine from the persistent flags: SQLite-backed
// when --db is set, otherwise purely in-memory. The returned cleanup closes
// the database if one was opened.
func buildEngine() (gridci.Engine, func(), error) {
	return buildEngineWithObserver(gridci.NewLoggingObserver(slog.Default()))
}

func printRun(w io.Writer, run *api.Run, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	case "pretty", "":
		printPrettyRun(w, run)
		return nil
	default:
		return fmt.Errorf("unsupported format %q (expected pretty|json)", format)
	}
}

func printPrettyRun(w io.Writer, run *api.Run) {
	fmt.Fprintf(w, "Workflow: %s\n", run.WorkflowName)
	fmt.Fprintf(w, "Run:      %s\n", run.ID)
	fmt.Fprintf(w, "Event:    %s\n", run.Event.Type)
	fmt.Fprintf(w, "Status:   %s\n", run.Status)
	fmt.Fprintln(w)

	for _, job := range run.Jobs {
		mark := "OK"
		switch job.Status {
		case api.StatusFailed:
			mark = "FAIL"
		case api.StatusCancelled:
			mark = "CANCELLED"
		}
		fmt.Fprintf(w, "- [%s] %s\n", mark, job.Entry.Key())

		for _, step := range job.Steps {
			fmt.Fprintf(w, "    %-9s %s (%s", step.Status, step.Name, step.Duration.Round(time.Millisecond))
			if step.Attempts > 1 {
				fmt.Fprintf(w, ", %d attempts", step.Attempts)
			}
			fmt.Fprint(w, ")\n")
			if step.Err != "" {
				fmt.Fprintf(w, "      error: %s\n", step.Err)
			}
		}

		if job.Status == api.StatusFailed && strings.TrimSpace(job.Log) != "" {
			fmt.Fprintln(w, "    log:")
			for _, line := range strings.Split(strings.TrimRight(job.Log, "\n"), "\n") {
				fmt.Fprintf(w, "      %s\n", line)
			}
		}
		fmt.Fprintln(w)
	}
}
