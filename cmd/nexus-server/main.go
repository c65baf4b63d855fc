// Package main provides the entry point for the NEXUS3 agent-pool server.
package main

import (
	"fmt"
	"os"

	"github.com/opencode-ai/opencode/cmd/nexus-server/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
