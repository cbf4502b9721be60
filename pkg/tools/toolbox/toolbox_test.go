package toolbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler(_ context.Context, input json.RawMessage) (string, error) {
	return string(input), nil
}

func newEchoTool(name string) Tool {
	return Tool{
		Name:        name,
		Description: "Echoes input",
		InputSchema: json.RawMessage(`{"type":"object"}`),
		Handler:     echoHandler,
	}
}

func names(tb *ToolBox) []string {
	var out []string
	for _, t := range tb.Tools() {
		out = append(out, t.Name)
	}
	return out
}

func TestNew(t *testing.T) {
	tb := New()
	assert.Empty(t, tb.Tools())
}

func TestRegisterReplace(t *testing.T) {
	tb := New()
	tb.Register(Tool{Name: "run_status", Description: "original", Handler: echoHandler})
	tb.Register(Tool{Name: "run_status", Description: "replaced", Handler: echoHandler})

	got, ok := tb.Get("run_status")
	require.True(t, ok)
	assert.Equal(t, "replaced", got.Description)
	assert.Len(t, tb.Tools(), 1)

	_, ok = tb.Get("missing")
	assert.False(t, ok)
}

func TestToolsSorted(t *testing.T) {
	tb := New()
	tb.Register(newEchoTool("run_stop"), newEchoTool("run_start"), newEchoTool("templates_list"))

	assert.Equal(t, []string{"run_start", "run_stop", "templates_list"}, names(tb))
}

func TestFilter(t *testing.T) {
	tb := New()
	tb.Register(newEchoTool("run_start"), newEchoTool("run_status"), newEchoTool("templates_list"))

	sub, err := tb.Filter("templates_list", "run_status")
	require.NoError(t, err)
	assert.Equal(t, []string{"run_status", "templates_list"}, names(sub))
	assert.Len(t, tb.Tools(), 3)
}

func TestFilter_Unknown(t *testing.T) {
	tb := New()
	tb.Register(newEchoTool("run_status"))

	sub, err := tb.Filter("run_status", "run_launch", "stats")
	require.Error(t, err)
	assert.Nil(t, sub)
	assert.Contains(t, err.Error(), "run_launch, stats")
}

func TestCall(t *testing.T) {
	tb := New()
	tb.Register(newEchoTool("echo"))

	res := tb.Call(context.Background(), Call{Name: "echo", Arguments: `{"msg":"hi"}`})
	assert.False(t, res.IsError)
	assert.JSONEq(t, `{"msg":"hi"}`, res.Content)
}

func TestCall_EmptyArguments(t *testing.T) {
	tb := New()
	tb.Register(newEchoTool("echo"))

	for _, args := range []string{"", "null"} {
		res := tb.Call(context.Background(), Call{Name: "echo", Arguments: args})
		assert.False(t, res.IsError)
		assert.JSONEq(t, `{}`, res.Content)
	}
}

func TestCall_NotFound(t *testing.T) {
	res := New().Call(context.Background(), Call{Name: "missing"})
	assert.True(t, res.IsError)
	assert.Equal(t, "tool not found: missing", res.Content)
}

func TestCall_HandlerError(t *testing.T) {
	tb := New()
	tb.Register(Tool{
		Name: "fail",
		Handler: func(context.Context, json.RawMessage) (string, error) {
			return "", errors.New("tool failed")
		},
	})

	res := tb.Call(context.Background(), Call{Name: "fail"})
	assert.True(t, res.IsError)
	assert.Equal(t, "tool failed", res.Content)
}
