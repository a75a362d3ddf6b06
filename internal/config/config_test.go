// ABOUTME: Tests for configuration loading
// ABOUTME: Covers env var expansion, defaults, duration parsing, and validation failures

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Full(t *testing.T) {
	path := writeConfig(t, `
discord:
  token: "discord-token"
  bot_name: "faebot"
  command_prefix: "fae;"
  admins:
    - fae
    - admin2
  typing_interval: "7s"

database:
  path: "/tmp/faebot-test.db"
  flush_interval: "10m"

generation:
  api_key: "or-key"
  model: "some/model"
  retry_delay: "3s"

prompts:
  environment: "prod"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "discord-token", cfg.Discord.Token)
	assert.Equal(t, []string{"fae", "admin2"}, cfg.Discord.Admins)
	assert.Equal(t, 7*time.Second, cfg.Discord.TypingInterval)
	assert.Equal(t, "/tmp/faebot-test.db", cfg.Database.Path)
	assert.Equal(t, 10*time.Minute, cfg.Database.FlushInterval)
	assert.Equal(t, "some/model", cfg.Generation.Model)
	assert.Equal(t, 3*time.Second, cfg.Generation.RetryDelay)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
discord:
  token: "t"
generation:
  api_key: "k"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "faebot", cfg.Discord.BotName)
	assert.Equal(t, "fae;", cfg.Discord.CommandPrefix)
	assert.Equal(t, 5*time.Second, cfg.Discord.TypingInterval)
	assert.Equal(t, "data/faebot.db", cfg.Database.Path)
	assert.Equal(t, 5*time.Minute, cfg.Database.FlushInterval)
	assert.Equal(t, "google/gemini-2.0-flash-001", cfg.Generation.Model)
	assert.Equal(t, 10*time.Second, cfg.Generation.RetryDelay)
	assert.Equal(t, "dev", cfg.Prompts.Environment)
	assert.Equal(t, DefaultDMPrompt, cfg.Prompts.DM)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("FAEBOT_TEST_TOKEN", "expanded-token")
	t.Setenv("FAEBOT_TEST_KEY", "expanded-key")

	path := writeConfig(t, `
discord:
  token: "${FAEBOT_TEST_TOKEN}"
generation:
  api_key: "${FAEBOT_TEST_KEY}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "expanded-token", cfg.Discord.Token)
	assert.Equal(t, "expanded-key", cfg.Generation.APIKey)
}

func TestLoad_MissingToken(t *testing.T) {
	path := writeConfig(t, `
generation:
  api_key: "k"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord.token is required")
}

func TestLoad_MissingAPIKey(t *testing.T) {
	path := writeConfig(t, `
discord:
  token: "t"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generation.api_key is required")
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, `
discord:
  token: "t"
  typing_interval: "soon"
generation:
  api_key: "k"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "typing_interval")
}

func TestLoad_BadEnvironment(t *testing.T) {
	path := writeConfig(t, `
discord:
  token: "t"
generation:
  api_key: "k"
prompts:
  environment: "staging"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompts.environment")
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestPromptsConfig_Initial(t *testing.T) {
	p := PromptsConfig{Environment: "dev", Channel: "prod prompt", ChannelDev: "dev prompt"}
	assert.Equal(t, "dev prompt", p.Initial())

	p.Environment = "prod"
	assert.Equal(t, "prod prompt", p.Initial())
}
