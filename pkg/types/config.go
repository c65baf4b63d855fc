package types

// Config is the narrow, load-only server configuration SPEC_FULL.md §A
// promises: a default model selector, the provider credential table, and
// the MCP server table. File-format/live-reload concerns belong to an
// external collaborator (spec.md §1); this is the wire shape the core
// actually consumes at bootstrap.
// Both JSON(C) and YAML tags are declared: internal/config loads
// opencode.json/opencode.jsonc via encoding/json (after tidwall/jsonc
// strips comments) and opencode.yaml/opencode.yml via gopkg.in/yaml.v3,
// both into this same struct.
type Config struct {
	// Model selects the default "provider/model" string (internal/provider's
	// Registry.DefaultModel).
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// Provider holds per-provider credentials and overrides, keyed by
	// provider ID ("anthropic", "openai", "ark", ...).
	Provider map[string]ProviderConfig `json:"provider,omitempty" yaml:"provider,omitempty"`

	// MCP holds the configured MCP server table (spec.md §4.9), keyed by
	// server name.
	MCP map[string]MCPConfig `json:"mcp,omitempty" yaml:"mcp,omitempty"`
}

// ProviderConfig holds configuration for a specific provider.
type ProviderConfig struct {
	// Npm identifies the provider's backing SDK package
	// ("@ai-sdk/anthropic", "@ai-sdk/openai", "@ai-sdk/openai-compatible");
	// empty falls back to inferring from the provider name.
	Npm string `json:"npm,omitempty" yaml:"npm,omitempty"`

	// Model/Endpoint ID (for providers like ARK that require endpoint
	// specification).
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// Options holds the actual credentials.
	Options *ProviderOptions `json:"options,omitempty" yaml:"options,omitempty"`

	// Disable skips this provider during registration entirely.
	Disable bool `json:"disable,omitempty" yaml:"disable,omitempty"`
}

// ProviderOptions holds a provider's credentials.
type ProviderOptions struct {
	APIKey  string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	BaseURL string `json:"baseURL,omitempty" yaml:"baseURL,omitempty"`
}

// MCPConfig holds one MCP server's connection configuration
// (internal/mcpclient.ServerConfig is built from this).
type MCPConfig struct {
	Command     []string          `json:"command,omitempty" yaml:"command,omitempty"`
	URL         string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Environment map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Timeout     int               `json:"timeout,omitempty" yaml:"timeout,omitempty"` // seconds
}

// Model represents an LLM model available from a provider.
type Model struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	ProviderID        string       `json:"providerID"`
	ContextLength     int          `json:"contextLength"`
	MaxOutputTokens   int          `json:"maxOutputTokens,omitempty"`
	SupportsTools     bool         `json:"supportsTools"`
	SupportsVision    bool         `json:"supportsVision"`
	SupportsReasoning bool         `json:"supportsReasoning,omitempty"`
	InputPrice        float64      `json:"inputPrice,omitempty"`  // per 1M tokens
	OutputPrice       float64      `json:"outputPrice,omitempty"` // per 1M tokens
	Options           ModelOptions `json:"options,omitempty"`
}

// ModelOptions contains model-specific options.
type ModelOptions struct {
	Temperature    *float64 `json:"temperature,omitempty"`
	TopP           *float64 `json:"topP,omitempty"`
	PromptCaching  bool     `json:"promptCaching,omitempty"`
	ExtendedOutput bool     `json:"extendedOutput,omitempty"`
}
