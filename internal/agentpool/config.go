package agentpool

import (
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/opencode/internal/dispatcher"
	"github.com/opencode-ai/opencode/internal/mcpclient"
	"github.com/opencode-ai/opencode/internal/permission"
)

// SharedComponents is the immutable bag of resources every agent in the
// pool draws from, grounded on pool.py's frozen SharedComponents dataclass
// (config, provider_registry, base_log_dir, base_context, context_loader,
// mcp_registry, plus this port's additions: a permission preset resolver and
// logger).
type SharedComponents struct {
	BaseLogDir         string
	PermissionResolver *permission.Resolver
	LogMux             *LogMultiplexer
	Log                zerolog.Logger
	// MCPRegistry holds the process-wide connections to configured MCP
	// servers (spec.md §3's SharedComponents "MCP registry" member). nil
	// means no MCP servers are configured; the pool then copies the nil
	// pointer into each Agent.MCPRegistry as is.
	MCPRegistry *mcpclient.Registry
}

// AgentConfig is the per-agent creation request, grounded on pool.py's
// AgentConfig dataclass plus spec.md §4.7's create_agent parameter set.
type AgentConfig struct {
	AgentID           string
	SystemPrompt      string
	Preset            string
	DisableTools      []string
	Model             string
	Cwd               string
	AllowedWritePaths []string
	ParentAgentID     string
	ParentPermissions *permission.AgentPermissions
	Delta             *permission.PermissionDelta

	// SessionFactory builds the Session collaborator for the new agent.
	// Supplied by the caller (the global dispatcher / bootstrap) since the
	// reasoning loop is an external collaborator (spec.md §1 Non-goal).
	SessionFactory func(agentID string, cwd string) dispatcher.Session
	// ContextFactory optionally builds a ContextManager; nil means the new
	// agent's get_tokens/get_context return INVALID_PARAMS.
	ContextFactory func(agentID string) dispatcher.ContextManager
}

// logDirFor builds the per-agent log directory under the shared base.
func logDirFor(baseLogDir, agentID string) string {
	return filepath.Join(baseLogDir, agentID)
}
