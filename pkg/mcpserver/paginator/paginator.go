// Package paginator provides an MCP server whose tool list is deliberately
// large enough to span several tools/list pages. The package's own tests
// page through it with the go-sdk client; no internal/mcpclient test
// connects to it.
package paginator

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolCount is the number of identical echo tools registered. It must
// exceed PageSize by more than one page so ListTools genuinely needs to
// follow nextCursor at least twice.
const ToolCount = 23

// PageSize is small on purpose: it forces tools/list to paginate across
// ToolCount/PageSize (rounded up) pages instead of answering in one shot.
const PageSize = 5

// EchoInput is the argument shape every registered echo tool accepts.
type EchoInput struct {
	Message string `json:"message"`
}

// EchoOutput is the result every registered echo tool returns.
type EchoOutput struct {
	Echoed string `json:"echoed"`
	Tool   string `json:"tool"`
}

// NewServer builds an MCP server exposing ToolCount numbered echo tools
// over a server-enforced page size of PageSize, so paging is exercised by
// the SDK's own tools/list bookkeeping rather than hand-rolled here.
func NewServer() *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{
		Name:    "paginator",
		Version: "1.0.0",
	}, &mcp.ServerOptions{PageSize: PageSize})

	for i := 0; i < ToolCount; i++ {
		name := fmt.Sprintf("echo_%02d", i)
		mcp.AddTool(s, &mcp.Tool{
			Name:        name,
			Description: fmt.Sprintf("Echoes its message argument back, tagged with tool index %d", i),
		}, makeEchoHandler(name))
	}

	return s
}

func makeEchoHandler(name string) func(context.Context, *mcp.CallToolRequest, EchoInput) (*mcp.CallToolResult, *EchoOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input EchoInput) (*mcp.CallToolResult, *EchoOutput, error) {
		out := &EchoOutput{Echoed: input.Message, Tool: name}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: out.Echoed}},
		}, out, nil
	}
}
