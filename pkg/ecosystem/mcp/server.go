package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates a new MCP server with atrun tools registered.
func NewServer(version string) *server.MCPServer {
	s := server.NewMCPServer(
		"atrun",
		version,
		server.WithToolCapabilities(true),
	)

	// Register tools
	s.AddTool(
		mcp.NewTool("atrun/validate",
			mcp.WithDescription("Validate an atscript/v0 YAML file"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the script YAML file")),
		),
		HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("atrun/exec",
			mcp.WithDescription("Run an atscript/v0 script against a replay scenario (never a real modem)"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the script YAML file")),
			mcp.WithString("scenario", mcp.Required(), mcp.Description("Scenario directory or scenario.yaml file with canned replies")),
			mcp.WithObject("vars", mcp.Description("Values to seed the session with")),
		),
		HandleExec,
	)

	s.AddTool(
		mcp.NewTool("atrun/test",
			mcp.WithDescription("Run scenario replay tests for a script"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the script YAML file")),
			mcp.WithString("scenario", mcp.Description("Run only the named scenario (optional)")),
		),
		HandleTest,
	)

	s.AddTool(
		mcp.NewTool("atrun/schema",
			mcp.WithDescription("Export the atscript/v0 JSON Schema"),
		),
		HandleSchema,
	)

	return s
}
