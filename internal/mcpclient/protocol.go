package mcpclient

import "encoding/json"

// ProtocolVersion is the MCP protocol version this client speaks.
const ProtocolVersion = "2024-11-05"

// ClientInfo identifies this client during the initialize handshake.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// DefaultClientInfo is used when the caller supplies none.
func DefaultClientInfo() ClientInfo {
	return ClientInfo{Name: "nexus3-agent-server", Version: "1.0.0"}
}

// ServerInfo captures the remote server's self-description from its
// initialize response.
type ServerInfo struct {
	Name            string          `json:"name"`
	Version         string          `json:"version"`
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
}

// Tool describes a tool as advertised by tools/list. Title, OutputSchema,
// Icons, and Annotations are passthrough fields the core never interprets
// beyond forwarding them to consumers (spec.md §9, Open Question 3).
type Tool struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	InputSchema  json.RawMessage `json:"inputSchema,omitempty"`
	Title        string          `json:"title,omitempty"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
	Icons        json.RawMessage `json:"icons,omitempty"`
	Annotations  json.RawMessage `json:"annotations,omitempty"`
}

// ContentItem is one element of a tool result's content array.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolResult is the decoded result of a tools/call invocation.
// StructuredContent is a passthrough field (spec.md §9, Open Question 3).
type ToolResult struct {
	Content           []ContentItem   `json:"content"`
	IsError           bool            `json:"isError,omitempty"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
}

// MaxOutputSize bounds ToText's concatenated output (spec.md §4.9).
const MaxOutputSize = 10 * 1024 * 1024

// ToText concatenates the text content items, truncating once the running
// total exceeds MaxOutputSize and appending a truncation notice.
func (r ToolResult) ToText() string {
	var out []byte
	truncated := false
	for _, item := range r.Content {
		if item.Type != "text" {
			continue
		}
		if len(out)+len(item.Text) > MaxOutputSize {
			remaining := MaxOutputSize - len(out)
			if remaining > 0 {
				out = append(out, item.Text[:remaining]...)
			}
			truncated = true
			break
		}
		out = append(out, item.Text...)
	}
	if truncated {
		out = append(out, []byte("\n...[output truncated, exceeded 10MiB limit]")...)
	}
	return string(out)
}

func toolResultFromMap(m map[string]any) ToolResult {
	raw, _ := json.Marshal(m)
	var r ToolResult
	_ = json.Unmarshal(raw, &r)
	return r
}
