package control

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/germanamz/proposer/pkg/incident"
	"github.com/germanamz/proposer/pkg/tools/toolbox"
)

type startInput struct {
	MaxSends   *int `json:"max_sends"`
	TemplateID *int `json:"template_id"`
}

type activateInput struct {
	ID int `json:"id"`
}

type incidentsInput struct {
	Limit int `json:"limit"`
}

// Tools returns the control surface as tools for the MCP server.
func (c *Controller) Tools() *toolbox.ToolBox {
	tb := toolbox.New()
	tb.Register(
		toolbox.Tool{
			Name:        "run_start",
			Description: "Start a send run using the saved settings. Optionally override the number of sends and the template to use. Fails if a run is already active.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"max_sends":{"type":"integer","minimum":1,"description":"Sends for this run (default from settings)"},"template_id":{"type":"integer","description":"Template to activate before starting"}}}`),
			Handler: func(_ context.Context, input json.RawMessage) (string, error) {
				var in startInput
				if err := json.Unmarshal(input, &in); err != nil {
					return "", fmt.Errorf("run_start: invalid input: %w", err)
				}
				return jsonResult(c.Start(StartRequest{MaxSends: in.MaxSends, TemplateID: in.TemplateID}))
			},
		},
		statusTool("run_stop", "Stop the active run gracefully. The send in progress finishes; the run ends as completed.", false, c.Stop),
		statusTool("run_pause", "Pause the active run before its next send.", false, c.Pause),
		statusTool("run_resume", "Resume a paused run.", false, c.Resume),
		statusTool("run_status", "Report run progress (sent, failed, status, last error), its configuration, and the browser session.", true, func() (Status, error) {
			return c.Status(), nil
		}),
		toolbox.Tool{
			Name:        "templates_list",
			Description: "List message templates with their IDs and which one is active.",
			InputSchema: json.RawMessage(`{"type":"object"}`),
			ReadOnly:    true,
			Handler: func(_ context.Context, _ json.RawMessage) (string, error) {
				return marshal(c.Templates())
			},
		},
		toolbox.Tool{
			Name:        "templates_activate",
			Description: "Make a template active. A running send loop uses it from its next send.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"id":{"type":"integer"}},"required":["id"]}`),
			Handler: func(_ context.Context, input json.RawMessage) (string, error) {
				var in activateInput
				if err := json.Unmarshal(input, &in); err != nil {
					return "", fmt.Errorf("templates_activate: invalid input: %w", err)
				}
				t, err := c.ActivateTemplate(in.ID)
				if err != nil {
					return "", err
				}
				return marshal(t)
			},
		},
		toolbox.Tool{
			Name:        "incidents_recent",
			Description: "List today's most recent failed send attempts with error kind, page URL, and screenshot path.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"limit":{"type":"integer","minimum":1,"description":"Max incidents (default 20)"}}}`),
			ReadOnly:    true,
			Handler: func(_ context.Context, input json.RawMessage) (string, error) {
				in := incidentsInput{Limit: 20}
				if err := json.Unmarshal(input, &in); err != nil {
					return "", fmt.Errorf("incidents_recent: invalid input: %w", err)
				}
				list, err := c.Incidents(in.Limit)
				if err != nil {
					return "", err
				}
				if list == nil {
					list = []incident.Incident{}
				}
				return marshal(list)
			},
		},
	)
	return tb
}

func statusTool(name, desc string, readOnly bool, fn func() (Status, error)) toolbox.Tool {
	return toolbox.Tool{
		Name:        name,
		Description: desc,
		InputSchema: json.RawMessage(`{"type":"object"}`),
		ReadOnly:    readOnly,
		Handler: func(_ context.Context, _ json.RawMessage) (string, error) {
			return jsonResult(fn())
		},
	}
}

func jsonResult(st Status, err error) (string, error) {
	if err != nil {
		return "", err
	}
	return marshal(st)
}

func marshal(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
