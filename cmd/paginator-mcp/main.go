// Command paginator-mcp runs the paginator MCP server over streamable
// HTTP: a real, independent MCP server whose tool list spans multiple
// tools/list pages. No test in the repository starts this command.
package main

import (
	"flag"
	"log"
	"net/http"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/opencode-ai/opencode/pkg/mcpserver/paginator"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8799", "address to listen on")
	flag.Parse()

	server := paginator.NewServer()
	handler := gomcp.NewStreamableHTTPHandler(func(*http.Request) *gomcp.Server {
		return server
	}, nil)

	log.Printf("paginator-mcp listening on %s", *addr)
	if err := http.ListenAndServe(*addr, handler); err != nil {
		log.Fatal(err)
	}
}
