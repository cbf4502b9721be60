package toolbox

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolHandler(t *testing.T) {
	tool := Tool{
		Name:        "run_status",
		Description: "Reports run progress",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"verbose":{"type":"boolean"}}}`),
		ReadOnly:    true,
		Handler: func(_ context.Context, input json.RawMessage) (string, error) {
			var params struct {
				Verbose bool `json:"verbose"`
			}
			if err := json.Unmarshal(input, &params); err != nil {
				return "", err
			}
			if params.Verbose {
				return `{"status":"running","sent":3}`, nil
			}
			return `{"status":"running"}`, nil
		},
	}

	result, err := tool.Handler(context.Background(), json.RawMessage(`{"verbose":true}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"running","sent":3}`, result)

	_, err = tool.Handler(context.Background(), json.RawMessage(`{"verbose":"yes"}`))
	require.Error(t, err)
}

func TestReadOnly(t *testing.T) {
	tb := New()
	tb.Register(
		Tool{Name: "run_status", ReadOnly: true},
		Tool{Name: "run_start"},
		Tool{Name: "templates_list", ReadOnly: true},
	)

	ro := tb.ReadOnly()
	names := make([]string, 0, 2)
	for _, tool := range ro.Tools() {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"run_status", "templates_list"}, names)

	_, ok := ro.Get("run_start")
	assert.False(t, ok)
	assert.Len(t, tb.Tools(), 3)
}
