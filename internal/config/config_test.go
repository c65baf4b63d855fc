package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/opencode/pkg/types"
)

func TestLoadJSONConfig(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "opencode-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	jsonConfig := `{
		"model": "anthropic/claude-sonnet-4-20250514",
		"provider": {
			"anthropic": {
				"npm": "@ai-sdk/anthropic",
				"options": {
					"apiKey": "sk-ant-test123"
				}
			}
		},
		"mcp": {
			"fetch": {
				"command": ["npx", "-y", "mcp-server-fetch"],
				"timeout": 30
			}
		}
	}`

	configPath := filepath.Join(tmpDir, ".opencode", "opencode.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0755))
	require.NoError(t, os.WriteFile(configPath, []byte(jsonConfig), 0644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "anthropic/claude-sonnet-4-20250514", cfg.Model)

	anthropic := cfg.Provider["anthropic"]
	assert.Equal(t, "@ai-sdk/anthropic", anthropic.Npm)
	require.NotNil(t, anthropic.Options)
	assert.Equal(t, "sk-ant-test123", anthropic.Options.APIKey)

	fetch := cfg.MCP["fetch"]
	assert.Equal(t, []string{"npx", "-y", "mcp-server-fetch"}, fetch.Command)
	assert.Equal(t, 30, fetch.Timeout)
}

func TestLoadJSONCConfigStripsComments(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "opencode-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	jsoncConfig := `{
		// default model for new agents
		"model": "anthropic/claude-sonnet-4-20250514",
		/* provider credentials */
		"provider": {
			"anthropic": {
				"options": { "apiKey": "sk-ant-test123" } // trailing comment
			}
		}
	}`

	configPath := filepath.Join(tmpDir, ".opencode", "opencode.jsonc")
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0755))
	require.NoError(t, os.WriteFile(configPath, []byte(jsoncConfig), 0644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "anthropic/claude-sonnet-4-20250514", cfg.Model)
	assert.Equal(t, "sk-ant-test123", cfg.Provider["anthropic"].Options.APIKey)
}

func TestStripJSONCommentsUsesJsonc(t *testing.T) {
	input := []byte(`{"a": 1, /* comment */ "b": 2, // trailing
	}`)
	out := stripJSONComments(input)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, float64(1), decoded["a"])
	assert.Equal(t, float64(2), decoded["b"])
}

func TestLoadYAMLConfig(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "opencode-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	yamlConfig := "model: anthropic/claude-sonnet-4-20250514\n" +
		"provider:\n" +
		"  anthropic:\n" +
		"    options:\n" +
		"      apiKey: sk-ant-test123\n" +
		"mcp:\n" +
		"  fetch:\n" +
		"    url: http://localhost:9000/mcp\n" +
		"    timeout: 10\n"

	configPath := filepath.Join(tmpDir, ".opencode", "opencode.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0755))
	require.NoError(t, os.WriteFile(configPath, []byte(yamlConfig), 0644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "anthropic/claude-sonnet-4-20250514", cfg.Model)
	assert.Equal(t, "sk-ant-test123", cfg.Provider["anthropic"].Options.APIKey)
	assert.Equal(t, "http://localhost:9000/mcp", cfg.MCP["fetch"].URL)
	assert.Equal(t, 10, cfg.MCP["fetch"].Timeout)
}

func TestLoadMergesGlobalAndProject(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "opencode-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	oldHome := os.Getenv("HOME")
	os.Setenv("HOME", tmpDir)
	os.Unsetenv("XDG_CONFIG_HOME")
	defer os.Setenv("HOME", oldHome)

	globalConfig := `{"model": "anthropic/claude-3-5-haiku", "provider": {"anthropic": {"options": {"apiKey": "global-key"}}}}`
	globalPath := filepath.Join(GetPaths().Config, "opencode.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(globalPath), 0755))
	require.NoError(t, os.WriteFile(globalPath, []byte(globalConfig), 0644))

	projectDir := filepath.Join(tmpDir, "project")
	projectConfig := `{"model": "anthropic/claude-sonnet-4-20250514"}`
	projectPath := filepath.Join(projectDir, ".opencode", "opencode.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(projectPath), 0755))
	require.NoError(t, os.WriteFile(projectPath, []byte(projectConfig), 0644))

	cfg, err := Load(projectDir)
	require.NoError(t, err)

	// Project config overrides the model, but the global provider entry survives.
	assert.Equal(t, "anthropic/claude-sonnet-4-20250514", cfg.Model)
	assert.Equal(t, "global-key", cfg.Provider["anthropic"].Options.APIKey)
}

func TestApplyEnvOverridesFillsMissingAPIKey(t *testing.T) {
	oldKey := os.Getenv("ANTHROPIC_API_KEY")
	os.Setenv("ANTHROPIC_API_KEY", "env-key")
	defer os.Setenv("ANTHROPIC_API_KEY", oldKey)

	cfg := &types.Config{Provider: map[string]types.ProviderConfig{}}
	applyEnvOverrides(cfg)
	require.NotNil(t, cfg.Provider["anthropic"].Options)
	assert.Equal(t, "env-key", cfg.Provider["anthropic"].Options.APIKey)
}

func TestApplyEnvOverridesDoesNotClobberExistingKey(t *testing.T) {
	oldKey := os.Getenv("ANTHROPIC_API_KEY")
	os.Setenv("ANTHROPIC_API_KEY", "env-key")
	defer os.Setenv("ANTHROPIC_API_KEY", oldKey)

	cfg := &types.Config{Provider: map[string]types.ProviderConfig{
		"anthropic": {Options: &types.ProviderOptions{APIKey: "file-key"}},
	}}
	applyEnvOverrides(cfg)
	assert.Equal(t, "file-key", cfg.Provider["anthropic"].Options.APIKey)
}

func TestApplyEnvOverridesModel(t *testing.T) {
	oldModel := os.Getenv("OPENCODE_MODEL")
	os.Setenv("OPENCODE_MODEL", "openai/gpt-4o")
	defer os.Setenv("OPENCODE_MODEL", oldModel)

	cfg := &types.Config{}
	applyEnvOverrides(cfg)
	assert.Equal(t, "openai/gpt-4o", cfg.Model)
}

func TestMergeConfigMergesProviderAndMCPMaps(t *testing.T) {
	target := &types.Config{
		Provider: map[string]types.ProviderConfig{
			"anthropic": {Npm: "@ai-sdk/anthropic"},
		},
		MCP: map[string]types.MCPConfig{
			"fetch": {URL: "http://localhost:9000"},
		},
	}
	source := &types.Config{
		Model: "anthropic/claude-sonnet-4-20250514",
		Provider: map[string]types.ProviderConfig{
			"openai": {Npm: "@ai-sdk/openai"},
		},
		MCP: map[string]types.MCPConfig{
			"search": {Command: []string{"search-server"}},
		},
	}

	mergeConfig(target, source)

	assert.Equal(t, "anthropic/claude-sonnet-4-20250514", target.Model)
	assert.Equal(t, "@ai-sdk/anthropic", target.Provider["anthropic"].Npm)
	assert.Equal(t, "@ai-sdk/openai", target.Provider["openai"].Npm)
	assert.Equal(t, "http://localhost:9000", target.MCP["fetch"].URL)
	assert.Equal(t, []string{"search-server"}, target.MCP["search"].Command)
}

func TestSaveAndLoadRoundTripJSON(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "opencode-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	cfg := &types.Config{
		Model: "anthropic/claude-sonnet-4-20250514",
		Provider: map[string]types.ProviderConfig{
			"anthropic": {Options: &types.ProviderOptions{APIKey: "sk-ant-test123"}},
		},
	}

	path := filepath.Join(tmpDir, "opencode.json")
	require.NoError(t, Save(cfg, path))

	loaded := &types.Config{}
	require.NoError(t, loadConfigFile(path, loaded))
	assert.Equal(t, cfg.Model, loaded.Model)
	assert.Equal(t, "sk-ant-test123", loaded.Provider["anthropic"].Options.APIKey)
}

func TestSaveAndLoadRoundTripYAML(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "opencode-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	cfg := &types.Config{
		Model: "anthropic/claude-sonnet-4-20250514",
		MCP: map[string]types.MCPConfig{
			"fetch": {Command: []string{"mcp-server-fetch"}},
		},
	}

	path := filepath.Join(tmpDir, "opencode.yaml")
	require.NoError(t, Save(cfg, path))

	loaded := &types.Config{}
	require.NoError(t, loadConfigFile(path, loaded))
	assert.Equal(t, cfg.Model, loaded.Model)
	assert.Equal(t, []string{"mcp-server-fetch"}, loaded.MCP["fetch"].Command)
}
