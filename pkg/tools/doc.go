// Package tools exposes the proposer control surface as callable tools.
//
// It is organized into sub-packages:
//   - [github.com/germanamz/proposer/pkg/tools/toolbox]: Tool type and ToolBox for registering, listing, and calling tools
//   - [github.com/germanamz/proposer/pkg/tools/mcpserver]: MCP server using the official MCP Go SDK for exposing tools over stdio
//
// The control package builds the run and template tools; mcpserver serves any
// ToolBox to an MCP client.
package tools
