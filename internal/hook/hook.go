// Package hook turns GitHub webhook deliveries into engine events.
//
// The handler validates the delivery signature, maps push and pull_request
// payloads onto api.Event, and triggers every matching registered workflow.
// Event types the engine has no use for are acknowledged and dropped.
package hook

import (
	"context"
	"log/slog"
	"net/http"

	gh "github.com/google/go-github/v82/github"

	"github.com/petrijr/gridci/pkg/api"
)

// Triggerer is the slice of the engine API the webhook handler needs.
type Triggerer interface {
	TriggerEvent(ctx context.Context, ev api.Event) ([]*api.Run, error)
}

// Handler is an http.Handler for a GitHub webhook endpoint.
type Handler struct {
	engine Triggerer
	secret []byte
	logger *slog.Logger

	// Async controls whether matched workflows run in a background
	// goroutine (the default: GitHub expects a fast 2xx) or inline,
	// which tests rely on.
	Async bool
}

// NewHandler creates a webhook handler. secret is the shared webhook secret
// configured on the GitHub side; if empty, signature validation is skipped
// (only sensible behind a trusted proxy). If logger is nil, slog.Default()
// is used.
func NewHandler(engine Triggerer, secret string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine: engine,
		secret: []byte(secret),
		logger: logger,
		Async:  true,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	payload, err := gh.ValidatePayload(r, h.secret)
	if err != nil {
		h.logger.Warn("webhook signature validation failed", slog.Any("error", err))
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	webhookType := gh.WebHookType(r)
	raw, err := gh.ParseWebHook(webhookType, payload)
	if err != nil {
		h.logger.Warn("webhook parse failed",
			slog.String("type", webhookType),
			slog.Any("error", err),
		)
		http.Error(w, "unparseable payload", http.StatusBadRequest)
		return
	}

	ev, ok := mapEvent(raw)
	if !ok {
		// Deliveries we don't act on still get a 2xx so GitHub does not
		// mark the hook as failing.
		w.WriteHeader(http.StatusOK)
		return
	}

	h.logger.Info("webhook received",
		slog.String("event", string(ev.Type)),
		slog.String("repo", ev.Repo),
		slog.String("ref", ev.Ref),
		slog.String("sha", ev.SHA),
	)

	if h.Async {
		go h.trigger(context.WithoutCancel(r.Context()), ev)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	h.trigger(r.Context(), ev)
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) trigger(ctx context.Context, ev api.Event) {
	runs, err := h.engine.TriggerEvent(ctx, ev)
	if err != nil {
		h.logger.Error("webhook-triggered run failed",
			slog.String("event", string(ev.Type)),
			slog.String("repo", ev.Repo),
			slog.Any("error", err),
		)
	}
	for _, run := range runs {
		h.logger.Info("workflow triggered",
			slog.String("workflow", run.WorkflowName),
			slog.String("run_id", run.ID),
			slog.String("status", string(run.Status)),
		)
	}
}

// mapEvent converts a parsed webhook payload into an engine event. The
// second return is false for payload types the engine ignores.
func mapEvent(raw any) (api.Event, bool) {
	switch e := raw.(type) {
	case *gh.PushEvent:
		return api.Event{
			Type: api.EventPush,
			Repo: e.GetRepo().GetFullName(),
			Ref:  e.GetRef(),
			SHA:  e.GetAfter(),
		}, true
	case *gh.PullRequestEvent:
		switch e.GetAction() {
		case "opened", "reopened", "synchronize":
		default:
			return api.Event{}, false
		}
		return api.Event{
			Type: api.EventPullRequest,
			Repo: e.GetRepo().GetFullName(),
			Ref:  e.GetPullRequest().GetHead().GetRef(),
			SHA:  e.GetPullRequest().GetHead().GetSHA(),
		}, true
	}
	return api.Event{}, false
}
