package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Webhook payload formats.
const (
	FormatJSON  = "json"
	FormatSlack = "slack"
)

// Webhook posts notifications to an HTTP endpoint, either as the plain
// Notification JSON or as a Slack Block Kit message.
type Webhook struct {
	url        string
	format     string
	httpClient *http.Client
}

// NewWebhook creates a webhook notifier. An empty format means FormatJSON.
func NewWebhook(url, format string) *Webhook {
	if format == "" {
		format = FormatJSON
	}
	return &Webhook{
		url:        url,
		format:     format,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *Webhook) Name() string { return "webhook:" + w.format }

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

// slackBlock is a header or section block (Text) or a context block
// (Elements).
type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (w *Webhook) Send(ctx context.Context, n Notification) error {
	if w.url == "" {
		return ErrNotConfigured
	}

	var payload any = n
	if w.format == FormatSlack {
		payload = slackPayload(n)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req) //nolint:gosec // webhook URL from trusted config
	if err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("notify: webhook %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

func slackPayload(n Notification) slackMessage {
	msg := slackMessage{
		Blocks: []slackBlock{
			{Type: "header", Text: &slackText{Type: "plain_text", Text: levelTag(n.Level) + " " + n.Title}},
			{Type: "section", Text: &slackText{Type: "mrkdwn", Text: n.Message}},
		},
	}

	if n.Source != "" {
		msg.Blocks = append(msg.Blocks, slackBlock{
			Type: "context",
			Elements: []slackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("_%s · sent %d · failed %d_", n.Source, n.Sent, n.Failed)},
			},
		})
	}

	return msg
}

func levelTag(level string) string {
	switch level {
	case "success":
		return "[OK]"
	case "error":
		return "[ERROR]"
	case "warning":
		return "[WARN]"
	default:
		return "[INFO]"
	}
}
