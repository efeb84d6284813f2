package notify

import (
	"context"
	"fmt"
	"net/http"
)

// slackMessage is the incoming-webhook request body.
type slackMessage struct {
	Text string `json:"text"`
}

// SlackSender delivers alerts via a Slack incoming webhook.
type SlackSender struct {
	webhookURL string
	client     *http.Client
}

// NewSlackSender creates a SlackSender for the given webhook URL.
func NewSlackSender(webhookURL string) *SlackSender {
	return &SlackSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: sendTimeout},
	}
}

// Send posts the alert to the webhook, title bolded in Slack markdown.
func (s *SlackSender) Send(ctx context.Context, title, message string) error {
	msg := slackMessage{Text: fmt.Sprintf("*%s*\n%s", title, message)}
	if err := postJSON(ctx, s.client, s.webhookURL, msg); err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (s *SlackSender) Name() string {
	return "slack"
}
