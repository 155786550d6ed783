// Package report posts run and job results back to GitHub as commit
// statuses, so matrix jobs show up as individual checks on the commit
// that triggered them.
package report

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/petrijr/gridci/pkg/api"
)

// NewGitHubClient creates a GitHub API client with the following transport
// stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client with PAT auth)
func NewGitHubClient(token string) *gh.Client {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	return gh.NewClient(rateLimitClient).WithAuthToken(token)
}

// NewGitHubClientWithHTTPClient creates a client against a custom base URL.
// This constructor is intended for testing, allowing injection of an
// httptest server.
func NewGitHubClientWithHTTPClient(httpClient *http.Client, baseURL string) (*gh.Client, error) {
	client := gh.NewClient(httpClient)

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u
	return client, nil
}

// StatusReporter maps run and job states onto the GitHub commit status API.
type StatusReporter struct {
	gh *gh.Client

	// TargetURL, when set, is attached to every posted status so the
	// check links back to this engine's UI or logs.
	TargetURL string

	// Timeout bounds each status POST independently of the run's context,
	// so a fail-fast cancellation does not suppress the final report.
	Timeout time.Duration
}

// NewStatusReporter creates a reporter that posts through client.
func NewStatusReporter(client *gh.Client) *StatusReporter {
	return &StatusReporter{gh: client, Timeout: 10 * time.Second}
}

// statusContext is the commit status "context" field: one per matrix job,
// stable across reruns so GitHub replaces rather than accumulates them.
func statusContext(workflowName string, job *api.Job) string {
	return fmt.Sprintf("gridci/%s (%s)", workflowName, job.Entry.Key())
}

func statusState(s api.Status) string {
	switch s {
	case api.StatusCompleted:
		return "success"
	case api.StatusFailed:
		return "failure"
	case api.StatusCancelled:
		return "error"
	default:
		return "pending"
	}
}

// ReportJob posts the current state of one job to the event's commit.
func (r *StatusReporter) ReportJob(ctx context.Context, run *api.Run, job *api.Job) error {
	if run.Event.Repo == "" || run.Event.SHA == "" {
		return nil
	}
	owner, repo, err := splitRepo(run.Event.Repo)
	if err != nil {
		return err
	}

	desc := describeJob(job)
	status := &gh.RepoStatus{
		State:       gh.Ptr(statusState(job.Status)),
		Context:     gh.Ptr(statusContext(run.WorkflowName, job)),
		Description: gh.Ptr(desc),
	}
	if r.TargetURL != "" {
		status.TargetURL = gh.Ptr(r.TargetURL)
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), r.Timeout)
		defer cancel()
	}

	_, _, err = r.gh.Repositories.CreateStatus(ctx, owner, repo, run.Event.SHA, *status)
	if err != nil {
		return fmt.Errorf("posting status for %s@%s: %w", run.Event.Repo, run.Event.SHA, err)
	}
	return nil
}

// describeJob summarizes a job for the status description field, which
// GitHub truncates at 140 characters.
func describeJob(job *api.Job) string {
	var desc string
	switch job.Status {
	case api.StatusCompleted:
		desc = fmt.Sprintf("%d step(s) passed", len(job.Steps))
	case api.StatusFailed:
		desc = "job failed"
		if job.Err != nil {
			desc = job.Err.Error()
		}
	case api.StatusCancelled:
		desc = "cancelled by a failing sibling job"
	case api.StatusRunning:
		desc = "in progress"
	default:
		desc = "queued"
	}
	if len(desc) > 140 {
		// Back up to a rune boundary so a multibyte error message is
		// never split mid-rune.
		cut := 137
		for cut > 0 && !utf8.RuneStart(desc[cut]) {
			cut--
		}
		desc = desc[:cut] + "..."
	}
	return desc
}

func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}
