// Package notify posts run outcomes to a Slack incoming webhook. Strictly
// best-effort: a delivery failure is logged and never reaches the run's
// result path.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow-engine/internal/model"
)

// Notifier sends run notifications. Constructed once from config and
// injected; a nil *SlackNotifier is a valid no-op.
type Notifier interface {
	RunCompleted(ctx context.Context, agentID string, summary model.RunSummary)
	RunFailed(ctx context.Context, agentID string, runErr *model.RunError)
}

// SlackNotifier posts to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewSlack creates a SlackNotifier. An empty webhook URL returns nil, which
// disables notifications.
func NewSlack(webhookURL string) *SlackNotifier {
	if webhookURL == "" {
		return nil
	}
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// RunCompleted posts a success summary.
func (n *SlackNotifier) RunCompleted(ctx context.Context, agentID string, summary model.RunSummary) {
	if n == nil {
		return
	}
	text := fmt.Sprintf("Lead flow run for %s: %d leads, %d qualified, %d meetings booked, %.1f hours saved",
		agentID, summary.InboundLeadsProcessed, summary.QualifiedLeads, summary.MeetingsBooked, summary.HoursSaved)
	n.post(ctx, text)
}

// RunFailed posts a failure notice.
func (n *SlackNotifier) RunFailed(ctx context.Context, agentID string, runErr *model.RunError) {
	if n == nil {
		return
	}
	n.post(ctx, fmt.Sprintf("Lead flow run for %s failed: %s (%s)", agentID, runErr.Message, runErr.Code))
}

func (n *SlackNotifier) post(ctx context.Context, text string) {
	if err := n.send(ctx, text); err != nil {
		zap.L().Warn("notify: slack delivery failed", zap.Error(err))
	}
}

func (n *SlackNotifier) send(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return eris.Wrap(err, "notify: marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: send")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return eris.New(fmt.Sprintf("notify: unexpected status %d", resp.StatusCode))
	}
	return nil
}
