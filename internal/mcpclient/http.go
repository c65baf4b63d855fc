package mcpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// HTTPConfig configures an HTTPTransport.
type HTTPConfig struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
}

// HTTPTransport POSTs JSON-RPC messages to a remote MCP server. Unlike the
// original Python source (an unimplemented placeholder), this is fully
// built per spec.md §4.9: redirects are disabled to prevent an SSRF bypass
// via a malicious 3xx response, and each call is request/response-atomic —
// there is no shared "pending response" slot, so concurrent Request calls
// are safe without external synchronization.
type HTTPTransport struct {
	cfg    HTTPConfig
	client *http.Client

	mu        sync.Mutex
	connected bool
}

// NewHTTPTransport builds a transport from cfg.
func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPTransport{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Connect makes no network call. HTTP MCP has no persistent connection;
// Connect simply marks the transport usable so the client's handshake
// (initialize/initialized) can proceed via Request.
func (t *HTTPTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

// Request POSTs msg and returns the decoded JSON-RPC response atomically.
func (t *HTTPTransport) Request(ctx context.Context, msg map[string]any) (map[string]any, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("http transport: marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("http transport: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http transport: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		return nil, fmt.Errorf("http transport: refusing to follow redirect (status %d)", resp.StatusCode)
	}
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, MaxOutputSize))
	if err != nil {
		return nil, fmt.Errorf("http transport: reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http transport: server returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var out map[string]any
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("http transport: invalid JSON from server: %w", err)
	}
	return out, nil
}

// Close releases resources. HTTP keep-alives are managed by the
// http.Client's transport; nothing to tear down explicitly per call.
func (t *HTTPTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	t.client.CloseIdleConnections()
	return nil
}

// IsConnected reports whether Connect has been called without a matching
// Close.
func (t *HTTPTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

var _ RequestTransport = (*HTTPTransport)(nil)
