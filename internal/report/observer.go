package report

import (
	"context"
	"log/slog"

	"github.com/petrijr/gridci/pkg/api"
)

// StatusObserver posts a pending status for every job when a run starts and
// a terminal status when each job finishes. It implements api.Observer and
// is meant to be combined with other observers via api.NewCompositeObserver.
//
// Posts happen synchronously inside the callback; the reporter's own timeout
// keeps a slow GitHub API from stalling job execution for long.
type StatusObserver struct {
	api.NoopObserver

	reporter *StatusReporter
	logger   *slog.Logger
}

// NewStatusObserver creates an observer that reports through r. If logger
// is nil, slog.Default() is used for reporting failures.
func NewStatusObserver(r *StatusReporter, logger *slog.Logger) *StatusObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusObserver{reporter: r, logger: logger}
}

func (o *StatusObserver) OnRunStart(ctx context.Context, run *api.Run) {
	for _, job := range run.Jobs {
		o.report(ctx, run, job)
	}
}

func (o *StatusObserver) OnJobCompleted(ctx context.Context, run *api.Run, job *api.Job) {
	o.report(ctx, run, job)
}

func (o *StatusObserver) report(ctx context.Context, run *api.Run, job *api.Job) {
	if err := o.reporter.ReportJob(ctx, run, job); err != nil {
		// A status post failure must never fail the run itself.
		o.logger.WarnContext(ctx, "commit status report failed",
			slog.String("run_id", run.ID),
			slog.String("job", job.Entry.Key()),
			slog.Any("error", err),
		)
	}
}
