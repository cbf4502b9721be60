// Package mcpserver serves a ToolBox over the Model Context Protocol so an
// MCP client (an assistant, an IDE) can drive proposer runs.
package mcpserver

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/germanamz/proposer/pkg/tools/toolbox"
)

// MCPServer serves tools over the MCP protocol using the official MCP Go SDK.
type MCPServer struct {
	server *mcp.Server
	log    *slog.Logger
}

// New creates a new MCPServer with the given name and version. A nil logger
// means slog.Default().
func New(name, version string, log *slog.Logger) *MCPServer {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    name,
		Version: version,
	}, nil)

	if log == nil {
		log = slog.Default()
	}

	return &MCPServer{server: server, log: log}
}

// RegisterBox adds every tool of tb. Calls are dispatched through tb.
func (s *MCPServer) RegisterBox(tb *toolbox.ToolBox) {
	for _, t := range tb.Tools() {
		s.server.AddTool(toSDKTool(t), s.toSDKHandler(tb, t.Name))
	}
}

// ServeStdio serves on the process's stdin and stdout until ctx is cancelled
// or the client disconnects.
func (s *MCPServer) ServeStdio(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve starts serving MCP requests. It reads requests from in and writes
// responses to out. It blocks until ctx is cancelled or the transport closes.
func (s *MCPServer) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	transport := &mcp.IOTransport{
		Reader: io.NopCloser(in),
		Writer: nopWriteCloser{out},
	}

	return s.run(ctx, transport)
}

// run starts the server with the given transport. Tests call it directly with
// in-memory transports.
func (s *MCPServer) run(ctx context.Context, transport mcp.Transport) error {
	return s.server.Run(ctx, transport)
}

func toSDKTool(t toolbox.Tool) *mcp.Tool {
	tool := &mcp.Tool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: t.InputSchema,
	}
	if t.ReadOnly {
		tool.Annotations = &mcp.ToolAnnotations{ReadOnlyHint: true}
	}
	return tool
}

// toSDKHandler routes an SDK tool call to tb. Handler errors become tool
// results with IsError set.
func (s *MCPServer) toSDKHandler(tb *toolbox.ToolBox, name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		res := tb.Call(ctx, toolbox.Call{Name: name, Arguments: string(req.Params.Arguments)})
		if res.IsError {
			s.log.Warn("mcp tool failed", "tool", name, "error", res.Content, "elapsed", time.Since(start))
		} else {
			s.log.Debug("mcp tool called", "tool", name, "elapsed", time.Since(start))
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: res.Content}},
			IsError: res.IsError,
		}, nil
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
