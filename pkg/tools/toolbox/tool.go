package toolbox

import (
	"context"
	"encoding/json"
)

// Handler runs a tool with its JSON arguments and returns a text result,
// usually JSON.
type Handler func(ctx context.Context, input json.RawMessage) (string, error)

// Tool is a named operation with a JSON Schema for its input. ReadOnly tools
// only observe state and are safe to expose to untrusted clients.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	ReadOnly    bool
	Handler     Handler
}
