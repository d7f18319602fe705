package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_FileAndDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  name: flow
providers:
  openai:
    api_key: sk-test
    model: gpt-4o-mini
    enabled: true
composio:
  api_key: ck-test
  multi_user_mode: true
workflow:
  snapshot_interval: 1m
  temperatures:
    tool_execution: 0.2
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "flow", cfg.App.Name)
	assert.True(t, cfg.Composio.MultiUserMode)
	assert.Equal(t, "default", cfg.Composio.UserID)
	assert.Equal(t, time.Minute, cfg.Workflow.SnapshotInterval)
	assert.Equal(t, 0.2, cfg.Workflow.Temperatures.ToolExecution)
	assert.Equal(t, 0.7, cfg.Workflow.Temperatures.ToolkitExtraction)
	assert.Equal(t, 0.3, cfg.Workflow.Temperatures.ToolkitConnectionExtraction)
	assert.Equal(t, 5, cfg.Workflow.HistoryLimit)
	assert.Equal(t, 30*24*time.Hour, cfg.Workflow.MappingMaxAge)
	assert.Equal(t, "sqlite", cfg.Memory.Type)
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnv_Overrides(t *testing.T) {
	env := map[string]string{
		"COMPOSIO_API_KEY":                    "ck-env",
		"COMPOSIO_USER_ID":                    "owner",
		"COMPOSIO_MULTI_USER_MODE":            "true",
		"COMPOSIO_ALLOWED_TOOLKITS":           " linear, slack ,,",
		"COMPOSIO_DENIED_TOOLKITS":            "gmail",
		"COMPOSIO_DENIED_TOOLS":               "^GITHUB_DELETE_, _REMOVE_",
		"COMPOSIO_TOOL_EXECUTION_TEMPERATURE": "0.1",
		"TELEGRAM_BOT_TOKEN":                  "tg-token",
		"OPENAI_API_KEY":                      "sk-env",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := blank()
	require.NoError(t, cfg.applyEnv(lookup))
	cfg.applyDefaults()

	assert.Equal(t, "ck-env", cfg.Composio.APIKey)
	assert.Equal(t, "owner", cfg.Composio.UserID)
	assert.True(t, cfg.Composio.MultiUserMode)
	assert.Equal(t, []string{"linear", "slack"}, cfg.Composio.AllowedToolkits)
	assert.Equal(t, 0.1, cfg.Workflow.Temperatures.ToolExecution)
	assert.Equal(t, []string{"gmail"}, cfg.Composio.DeniedToolkits)
	assert.Equal(t, []string{"^GITHUB_DELETE_", "_REMOVE_"}, cfg.Composio.DeniedTools)
	tg, ok := cfg.GetTelegramConfig()
	require.True(t, ok)
	assert.Equal(t, "tg-token", tg.Token)
	name, p := cfg.GetDefaultProvider()
	assert.Equal(t, "openai", name)
	assert.Equal(t, "sk-env", p.APIKey)
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnv_OpenAIKeepsOtherEnabledProvider(t *testing.T) {
	cfg := blank()
	cfg.Providers = map[string]ProviderConfig{"anthropic": {APIKey: "a", Enabled: true}}
	require.NoError(t, cfg.applyEnv(func(k string) (string, bool) {
		return "sk-env", k == "OPENAI_API_KEY"
	}))

	assert.False(t, cfg.Providers["openai"].Enabled)
	name, _ := cfg.GetDefaultProvider()
	assert.Equal(t, "anthropic", name)
}

func TestLoad_ExplicitZeroTemperatureIsKept(t *testing.T) {
	path := writeConfig(t, `
workflow:
  temperatures:
    tool_execution: 0
    toolkit_extraction: 0.0
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Zero(t, cfg.Workflow.Temperatures.ToolExecution)
	assert.Zero(t, cfg.Workflow.Temperatures.ToolkitExtraction)
	assert.Equal(t, 0.3, cfg.Workflow.Temperatures.ToolkitConnectionExtraction)

	env := blank()
	require.NoError(t, env.applyEnv(func(k string) (string, bool) {
		return "0", k == "COMPOSIO_TOOLKIT_REMOVAL_RESPONSE_TEMPERATURE"
	}))
	env.applyDefaults()
	assert.Zero(t, env.Workflow.Temperatures.ToolkitRemovalResponse)
	assert.Equal(t, 0.7, env.Workflow.Temperatures.ToolkitConnectionResponse)
}

func TestApplyEnv_BadValues(t *testing.T) {
	for key, val := range map[string]string{
		"COMPOSIO_MULTI_USER_MODE":                "sometimes",
		"COMPOSIO_TOOLKIT_EXTRACTION_TEMPERATURE": "warm",
	} {
		lookup := func(k string) (string, bool) {
			if k == key {
				return val, true
			}
			return "", false
		}
		assert.Error(t, (&Config{}).applyEnv(lookup), key)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "toolflow", cfg.App.Name)
	assert.Equal(t, "logs/toolflow.log", cfg.App.LogFile)
	assert.Equal(t, DefaultTemperatures(), cfg.Workflow.Temperatures)
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Memory.Type = "mongo"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "composio.api_key")
	assert.Contains(t, err.Error(), "no enabled provider")
	assert.Contains(t, err.Error(), `unknown memory type "mongo"`)
}

func TestGetTelegramConfig(t *testing.T) {
	cfg := Default()
	_, ok := cfg.GetTelegramConfig()
	assert.False(t, ok)

	cfg.Gateways = map[string]GatewayConfig{"telegram": {Token: "t", Enabled: true}}
	tg, ok := cfg.GetTelegramConfig()
	assert.True(t, ok)
	assert.Equal(t, "t", tg.Token)
}
