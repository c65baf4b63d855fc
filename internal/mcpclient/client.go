// Package mcpclient is a hand-rolled MCP (Model Context Protocol) client:
// JSON-RPC 2.0 over a stdio or HTTP transport, with the protocol hardening
// spec.md §4.9/§8 requires (initialize handshake, response-ID matching,
// bounded notification discarding, bounded line reads, pagination, output
// truncation) implemented independently rather than delegated to a wrapped
// SDK. Grounded on original_source/nexus3/mcp/{client,transport,protocol}.py.
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/opencode-ai/opencode/internal/permission"
)

// MaxNotificationsToDiscard bounds how many server notifications the
// client will silently skip while awaiting a request's response
// (spec.md §4.9).
const MaxNotificationsToDiscard = 100

// Client is an MCP client bound to one transport (stdio subprocess or
// remote HTTP endpoint).
type Client struct {
	transport  Transport
	clientInfo ClientInfo

	mu            sync.Mutex
	requestID     int64
	serverInfo    *ServerInfo
	tools         []Tool
	initialized   bool
}

// New builds a Client over the given transport.
func New(transport Transport, clientInfo ClientInfo) *Client {
	return &Client{transport: transport, clientInfo: clientInfo}
}

// Connect races transport.Connect + the initialize handshake against
// timeout. On timeout, transport.Close is attempted best-effort; Connect
// does not log a failure there itself but returns it wrapped in the timeout
// error ("cleanup during timeout failed") so the caller can log it rather
// than have it swallowed.
func (c *Client) Connect(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		return c.doConnect(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.doConnect(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		closeErr := c.transport.Close(context.Background())
		if closeErr != nil {
			return fmt.Errorf("mcp connection timed out after %s (cleanup during timeout failed: %w)", timeout, closeErr)
		}
		return fmt.Errorf("mcp connection timed out after %s", timeout)
	}
}

func (c *Client) doConnect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("mcp transport connect: %w", err)
	}
	return c.initialize(ctx)
}

// initialize performs the initialize/initialized handshake. The
// notifications/initialized payload omits "params" entirely when empty —
// spec.md §4.9/§8 require this exactly, diverging from the original
// Python source which sends an empty object.
func (c *Client) initialize(ctx context.Context) error {
	result, err := c.call(ctx, "initialize", map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": c.clientInfo.Name, "version": c.clientInfo.Version},
	})
	if err != nil {
		return err
	}
	info := serverInfoFromMap(result)
	c.mu.Lock()
	c.serverInfo = &info
	c.mu.Unlock()

	if err := c.notify(ctx, "notifications/initialized", nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()
	return nil
}

// Close closes the underlying transport.
func (c *Client) Close(ctx context.Context) error {
	err := c.transport.Close(ctx)
	c.mu.Lock()
	c.initialized = false
	c.mu.Unlock()
	return err
}

// call sends a JSON-RPC request and returns its decoded "result" field,
// dispatching to the request-atomic path for RequestTransport or the
// send+discard-loop path for MessageTransport.
func (c *Client) call(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	c.mu.Lock()
	c.requestID++
	expectedID := c.requestID
	c.mu.Unlock()

	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      expectedID,
		"method":  method,
		"params":  params,
	}

	var resp map[string]any
	var err error
	switch tr := c.transport.(type) {
	case RequestTransport:
		resp, err = tr.Request(ctx, req)
	case MessageTransport:
		resp, err = c.sendAndAwait(ctx, tr, req, expectedID)
	default:
		return nil, fmt.Errorf("mcp client: transport supports neither Request nor Send/Receive")
	}
	if err != nil {
		return nil, err
	}

	if errField, ok := resp["error"]; ok && errField != nil {
		errMap, _ := errField.(map[string]any)
		message, _ := errMap["message"].(string)
		return nil, fmt.Errorf("mcp server error: %s", message)
	}
	result, _ := resp["result"].(map[string]any)
	return result, nil
}

// sendAndAwait implements the notification-discard loop (spec.md §4.9,
// §8): messages with a "method" and no "id" are notifications and are
// skipped, up to MaxNotificationsToDiscard; the inbound id is compared
// against expectedID with an exact mismatch message.
func (c *Client) sendAndAwait(ctx context.Context, tr MessageTransport, req map[string]any, expectedID int64) (map[string]any, error) {
	if err := tr.Send(ctx, req); err != nil {
		return nil, fmt.Errorf("mcp client: send failed: %w", err)
	}

	discarded := 0
	for {
		resp, err := tr.Receive(ctx)
		if err != nil {
			return nil, fmt.Errorf("mcp client: receive failed: %w", err)
		}
		if _, hasID := resp["id"]; !hasID {
			if _, hasMethod := resp["method"]; hasMethod {
				discarded++
				if discarded > MaxNotificationsToDiscard {
					return nil, fmt.Errorf("received too many notifications (%d) while waiting for response to request %d. Server may be malfunctioning.", discarded, expectedID)
				}
				continue
			}
		}
		responseID := normalizeID(resp["id"])
		if responseID != expectedID {
			return nil, fmt.Errorf("response ID mismatch: expected %d, got %v. Server may be malfunctioning or malicious.", expectedID, resp["id"])
		}
		return resp, nil
	}
}

func normalizeID(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return -1
	}
}

// notify sends a notification (no id, no response expected). When params
// is nil, the "params" key is omitted entirely from the wire message.
func (c *Client) notify(ctx context.Context, method string, params map[string]any) error {
	msg := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
	}
	if params != nil {
		msg["params"] = params
	}
	switch tr := c.transport.(type) {
	case MessageTransport:
		return tr.Send(ctx, msg)
	case RequestTransport:
		_, err := tr.Request(ctx, msg)
		return err
	default:
		return fmt.Errorf("mcp client: transport supports neither Send nor Request")
	}
}

// ListTools fetches the full tool list, paginating via tools/list's
// cursor/nextCursor (spec.md §4.9, §8, E6): pagination terminates when a
// page is empty or the final page omits nextCursor.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	var all []Tool
	var cursor string
	for {
		params := map[string]any{}
		if cursor != "" {
			params["cursor"] = cursor
		}
		result, err := c.call(ctx, "tools/list", params)
		if err != nil {
			return nil, err
		}
		rawTools, _ := result["tools"].([]any)
		for _, rt := range rawTools {
			if m, ok := rt.(map[string]any); ok {
				all = append(all, toolFromMap(m))
			}
		}
		next, _ := result["nextCursor"].(string)
		if next == "" || len(rawTools) == 0 {
			break
		}
		cursor = next
	}
	c.mu.Lock()
	c.tools = all
	c.mu.Unlock()
	return all, nil
}

// CallTool invokes a tool by name.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (ToolResult, error) {
	if arguments == nil {
		arguments = map[string]any{}
	}
	result, err := c.call(ctx, "tools/call", map[string]any{"name": name, "arguments": arguments})
	if err != nil {
		return ToolResult{}, err
	}
	return toolResultFromMap(result), nil
}

// ServerInfo returns the connected server's self-description, if any.
func (c *Client) ServerInfo() *ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// Tools returns the cached tool list from the last ListTools call.
func (c *Client) Tools() []Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Tool(nil), c.tools...)
}

// IsInitialized reports whether the handshake completed.
func (c *Client) IsInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

func serverInfoFromMap(m map[string]any) ServerInfo {
	info := ServerInfo{}
	if si, ok := m["serverInfo"].(map[string]any); ok {
		info.Name, _ = si["name"].(string)
		info.Version, _ = si["version"].(string)
	}
	info.ProtocolVersion, _ = m["protocolVersion"].(string)
	return info
}

// toolFromMap decodes a tools/list entry via a marshal/unmarshal round trip
// so passthrough fields (InputSchema, OutputSchema, Icons, Annotations) carry
// through untouched, matching toolResultFromMap below (spec.md §9, Open
// Question 3: "the core never interprets them beyond forwarding to
// consumers").
func toolFromMap(m map[string]any) Tool {
	raw, _ := json.Marshal(m)
	var t Tool
	_ = json.Unmarshal(raw, &t)
	return t
}

// PermissionGate reports whether an agent with the given permissions may
// use MCP at all (spec.md §4.9: "deny by default"). nil permissions are
// always denied; only explicit YOLO or TRUSTED levels are accepted.
func PermissionGate(perms *permission.AgentPermissions) bool {
	if perms == nil {
		return false
	}
	switch perms.EffectivePolicy.Level {
	case permission.LevelYOLO, permission.LevelTrusted:
		return true
	default:
		return false
	}
}
