// Package config loads the narrow server configuration SPEC_FULL.md §A
// describes: a default model selector, the provider credential table, and
// the MCP server table.
//
// # Configuration Loading
//
// Load merges configuration from multiple sources in priority order:
//
//  1. Global config (~/.config/opencode/opencode.{json,jsonc,yaml,yml})
//  2. Project config (<directory>/.opencode/opencode.{json,jsonc,yaml,yml})
//  3. Environment variables
//
// Later sources override earlier ones field-by-field; maps (Provider, MCP)
// are merged key-by-key rather than replaced wholesale.
//
// # Supported Formats
//
//   - opencode.json / opencode.jsonc - parsed with encoding/json after
//     stripJSONComments (github.com/tidwall/jsonc) strips comments and
//     trailing commas.
//   - opencode.yaml / opencode.yml - parsed with gopkg.in/yaml.v3 into the
//     same types.Config shape, via dual json/yaml struct tags.
//
// # Environment Variable Overrides
//
//   - OPENCODE_MODEL - overrides the default model
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY, AWS_ACCESS_KEY_ID -
//     fill in a provider's API key when the loaded config didn't set one
//
// # Path Management
//
// Paths provides XDG Base Directory Specification compliant locations:
//   - Data: ~/.local/share/opencode (XDG_DATA_HOME)
//   - Config: ~/.config/opencode (XDG_CONFIG_HOME)
//   - Cache: ~/.cache/opencode (XDG_CACHE_HOME)
//   - State: ~/.local/state/opencode (XDG_STATE_HOME)
//
// On Windows these paths fall back to APPDATA.
package config
