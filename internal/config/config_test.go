package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := `
listen_addr: ":8080"
database:
  connection_string: "postgres://localhost/agentcore"
providers:
  anthropic:
    api_key: "sk-ant-test"
    model: "claude-sonnet-4-5"
  secondary_prefix: "openrouter/"
triggers:
  webhook_base_url: "https://example.com"
  shared_secret: "whsec_test"
telemetry:
  log_level: "info"
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Equal(t, "postgres://localhost/agentcore", cfg.Database.ConnectionString)
	require.Equal(t, "claude-sonnet-4-5", cfg.Providers.Anthropic.Model)
	require.Equal(t, "openrouter/", cfg.Providers.SecondaryPrefix)
	require.Equal(t, "whsec_test", cfg.Triggers.SharedSecret)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/config.yaml")
	require.Error(t, err)
}
