// A minimal MCP stdio server used by the transport tests. It exposes a
// single tool so handshake, listing and invocation can be exercised
// against a real subprocess.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

func main() {
	s := mcpserver.NewMCPServer("facebook_ads-fixture", "1.0.0",
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery())

	tool := mcp.NewTool("get_insights",
		mcp.WithDescription("Returns account insights"))
	s.AddTool(tool, func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("insights ok"), nil
	})

	if err := mcpserver.ServeStdio(s); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
