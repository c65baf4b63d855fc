package mcpclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ServerConfig describes one configured MCP server (spec.md §4.9's server
// table), grounded on original_source/nexus3/mcp/registry.py's
// MCPServerConfig dataclass: a server is either stdio (Command set) or HTTP
// (URL set), never both.
type ServerConfig struct {
	Name    string
	Command []string
	URL     string
	Env     map[string]string
	Enabled bool
	Timeout time.Duration
}

// Registry manages named, long-lived MCP server connections for a running
// process — the "MCP registry" SharedComponents member and the Agent
// service-bag "MCP registry handle" spec.md §3 names. Grounded on
// original_source/nexus3/mcp/registry.py's MCPServerRegistry: Connect
// replaces any existing connection under the same name, Close tears one
// down, CloseAll tears down everything at shutdown.
type Registry struct {
	log zerolog.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

// NewRegistry builds an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{log: log, clients: make(map[string]*Client)}
}

// Connect builds a transport from cfg (stdio if Command is set, HTTP if URL
// is set), connects and runs the initialize handshake, and registers the
// client under cfg.Name. An existing connection under that name is closed
// first.
func (r *Registry) Connect(ctx context.Context, cfg ServerConfig) (*Client, error) {
	var transport Transport
	switch {
	case len(cfg.Command) > 0:
		transport = NewStdioTransport(StdioConfig{
			Command: cfg.Command,
			Env:     cfg.Env,
			Logger:  r.log.With().Str("mcp_server", cfg.Name).Logger(),
		})
	case cfg.URL != "":
		transport = NewHTTPTransport(HTTPConfig{URL: cfg.URL, Timeout: cfg.Timeout})
	default:
		return nil, fmt.Errorf("mcp server %q: must have either command or url", cfg.Name)
	}

	client := New(transport, DefaultClientInfo())
	if err := client.Connect(ctx, cfg.Timeout); err != nil {
		return nil, fmt.Errorf("mcp server %q: %w", cfg.Name, err)
	}
	if _, err := client.ListTools(ctx); err != nil {
		_ = client.Close(context.Background())
		return nil, fmt.Errorf("mcp server %q: listing tools: %w", cfg.Name, err)
	}

	r.mu.Lock()
	if existing, ok := r.clients[cfg.Name]; ok {
		_ = existing.Close(context.Background())
	}
	r.clients[cfg.Name] = client
	r.mu.Unlock()
	return client, nil
}

// Get returns the connected client registered under name, if any.
func (r *Registry) Get(name string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[name]
	return c, ok
}

// Names lists the currently connected server names.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.clients))
	for name := range r.clients {
		out = append(out, name)
	}
	return out
}

// Close disconnects and removes a single server, reporting whether it was
// present.
func (r *Registry) Close(name string) bool {
	r.mu.Lock()
	client, ok := r.clients[name]
	if ok {
		delete(r.clients, name)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	_ = client.Close(context.Background())
	return true
}

// CloseAll disconnects every registered server; used during server
// shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	r.mu.Unlock()
	for _, name := range names {
		r.Close(name)
	}
}

// Len reports the number of connected servers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
