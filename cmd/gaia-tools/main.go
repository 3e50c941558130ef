// gaia-tools is a small demonstration tool provider speaking the MCP stdio
// protocol. It exists to exercise the agent's provider client end to end:
//
//	gaia -add-server demo gaia-tools
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type echoArgs struct {
	Text string `json:"text" jsonschema:"the text to echo back"`
}

type timeArgs struct {
	Format string `json:"format,omitempty" jsonschema:"optional Go time layout, default RFC3339"`
}

func main() {
	server := mcp.NewServer(&mcp.Implementation{Name: "gaia-tools", Version: "0.1.0"}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "echo",
		Description: "Echoes the given text back to the caller.",
	}, func(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[echoArgs]) (*mcp.CallToolResultFor[any], error) {
		return &mcp.CallToolResultFor[any]{
			Content: []mcp.Content{&mcp.TextContent{Text: params.Arguments.Text}},
		}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "current_time",
		Description: "Returns the current time.",
	}, func(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[timeArgs]) (*mcp.CallToolResultFor[any], error) {
		layout := params.Arguments.Format
		if layout == "" {
			layout = time.RFC3339
		}
		return &mcp.CallToolResultFor[any]{
			Content: []mcp.Content{&mcp.TextContent{Text: time.Now().Format(layout)}},
		}, nil
	})

	if err := server.Run(context.Background(), mcp.NewStdioTransport()); err != nil {
		fmt.Fprintf(os.Stderr, "gaia-tools: %v\n", err)
		os.Exit(1)
	}
}
