package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Notifier = (*Webhook)(nil)

func capture(t *testing.T, status int) (*httptest.Server, <-chan []byte) {
	t.Helper()

	bodies := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		data, _ := io.ReadAll(r.Body)
		bodies <- data
		w.WriteHeader(status)
		_, _ = w.Write([]byte("nope"))
	}))
	t.Cleanup(srv.Close)

	return srv, bodies
}

func TestWebhook_NotConfigured(t *testing.T) {
	w := NewWebhook("", "")
	err := w.Send(context.Background(), Notification{Title: "x"})
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, "webhook:json", w.Name())
}

func TestWebhook_JSON(t *testing.T) {
	srv, bodies := capture(t, http.StatusOK)
	w := NewWebhook(srv.URL, FormatJSON)

	n := Notification{Title: "Run completed", Message: "5 sent", Level: "success", Source: "run.completed", RunID: "r1", Sent: 5}
	require.NoError(t, w.Send(context.Background(), n))

	var got Notification
	require.NoError(t, json.Unmarshal(<-bodies, &got))
	assert.Equal(t, n, got)
}

func TestWebhook_Slack(t *testing.T) {
	srv, bodies := capture(t, http.StatusOK)
	w := NewWebhook(srv.URL, FormatSlack)

	require.NoError(t, w.Send(context.Background(), Notification{
		Title: "Run failed", Message: "browser gone", Level: "error", Source: "run.failed", Sent: 2, Failed: 3,
	}))

	var got slackMessage
	require.NoError(t, json.Unmarshal(<-bodies, &got))
	require.Len(t, got.Blocks, 3)
	assert.Equal(t, "[ERROR] Run failed", got.Blocks[0].Text.Text)
	assert.Equal(t, "browser gone", got.Blocks[1].Text.Text)
	assert.Nil(t, got.Blocks[2].Text)
	assert.Equal(t, "context", got.Blocks[2].Type)
	require.Len(t, got.Blocks[2].Elements, 1)
	assert.Equal(t, "mrkdwn", got.Blocks[2].Elements[0].Type)
	assert.Contains(t, got.Blocks[2].Elements[0].Text, "failed 3")
}

func TestWebhook_HTTPError(t *testing.T) {
	srv, _ := capture(t, http.StatusInternalServerError)
	w := NewWebhook(srv.URL, FormatJSON)

	err := w.Send(context.Background(), Notification{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "nope")
}

func TestLevelTag(t *testing.T) {
	assert.Equal(t, "[OK]", levelTag("success"))
	assert.Equal(t, "[WARN]", levelTag("warning"))
	assert.Equal(t, "[INFO]", levelTag(""))
}
