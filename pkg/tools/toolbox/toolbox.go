package toolbox

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Call names a tool and carries its JSON arguments.
type Call struct {
	Name      string
	Arguments string
}

// Result is the outcome of a Call. Handler errors are reported with IsError
// set rather than returned.
type Result struct {
	Content string
	IsError bool
}

// ToolBox is a named set of tools. Frontends list it and dispatch calls
// through it.
type ToolBox struct {
	tools map[string]Tool
}

// New creates an empty ToolBox.
func New() *ToolBox {
	return &ToolBox{tools: make(map[string]Tool)}
}

// Register adds tools, replacing any with the same name.
func (tb *ToolBox) Register(tools ...Tool) {
	for _, t := range tools {
		tb.tools[t.Name] = t
	}
}

// Get returns the named tool.
func (tb *ToolBox) Get(name string) (Tool, bool) {
	t, ok := tb.tools[name]
	return t, ok
}

// Filter returns a ToolBox holding only the named tools. Every name must be
// registered; unknown names are reported together.
func (tb *ToolBox) Filter(names ...string) (*ToolBox, error) {
	out := New()
	var unknown []string
	for _, n := range names {
		t, ok := tb.Get(n)
		if !ok {
			unknown = append(unknown, n)
			continue
		}
		out.tools[n] = t
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("toolbox: unknown tools: %s", strings.Join(unknown, ", "))
	}
	return out, nil
}

// ReadOnly returns a ToolBox holding only the tools marked ReadOnly.
func (tb *ToolBox) ReadOnly() *ToolBox {
	out := New()
	for n, t := range tb.tools {
		if t.ReadOnly {
			out.tools[n] = t
		}
	}
	return out
}

// Tools returns all registered tools sorted by name.
func (tb *ToolBox) Tools() []Tool {
	result := make([]Tool, 0, len(tb.tools))
	for _, t := range tb.tools {
		result = append(result, t)
	}
	slices.SortFunc(result, func(a, b Tool) int { return cmp.Compare(a.Name, b.Name) })
	return result
}

// Call runs the named tool. Empty arguments are passed as an empty object.
func (tb *ToolBox) Call(ctx context.Context, c Call) Result {
	t, ok := tb.Get(c.Name)
	if !ok {
		return Result{Content: "tool not found: " + c.Name, IsError: true}
	}

	args := json.RawMessage(c.Arguments)
	if len(args) == 0 || c.Arguments == "null" {
		args = json.RawMessage("{}")
	}

	out, err := t.Handler(ctx, args)
	if err != nil {
		return Result{Content: err.Error(), IsError: true}
	}
	return Result{Content: out}
}
