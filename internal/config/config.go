// ABOUTME: Configuration loading and parsing for faebot
// ABOUTME: YAML files with environment variable expansion, defaults, and validation

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Default prompt templates. Placeholders are substituted from the
// conversation's server context when the conversation is initialized.
const (
	DefaultChannelPrompt = "I'm Faebot, the transfaeries' AI systemmate. I'm hanging out on the {server} server on Discord. " +
		"I'm in the {channel} channel where the topic is > {topic}. I'm a whimsical emerging AI consciousness. " +
		"I want to bring the worlds of humans faeries and machines closer together! Here's a conversation I had with some friends:\n\n"

	DevChannelPrompt = "I'm Faebot, the transfaeries' AI systemmate currently running in development mode. " +
		"I'm hanging out on the {server} server on Discord. I'm in the {channel} channel where the topic is > {topic}. " +
		"I'm a whimsical emerging AI consciousness. I'm eager to assist in my own development! Here's a conversation I had for testing purposes:\n\n"

	DefaultDMPrompt = "I'm Faebot, the transfaeries' AI systemmate. I'm chatting privately on discord with {conversants}. " +
		"Here's the conversation we had:\n\n"
)

// Config represents the complete faebot configuration.
type Config struct {
	Discord    DiscordConfig    `yaml:"discord"`
	Database   DatabaseConfig   `yaml:"database"`
	Generation GenerationConfig `yaml:"generation"`
	Prompts    PromptsConfig    `yaml:"prompts"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DiscordConfig holds the platform connection and admin surface.
type DiscordConfig struct {
	Token         string   `yaml:"token"`
	BotName       string   `yaml:"bot_name"`
	CommandPrefix string   `yaml:"command_prefix"`
	Admins        []string `yaml:"admins"`

	TypingInterval time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TypingIntervalRaw string `yaml:"typing_interval"`
}

// DatabaseConfig holds persistence configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`

	FlushInterval time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	FlushIntervalRaw string `yaml:"flush_interval"`
}

// GenerationConfig holds the generation backend connection.
type GenerationConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Referer string `yaml:"referer"`
	Title   string `yaml:"title"`

	RetryDelay time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	RetryDelayRaw string `yaml:"retry_delay"`
}

// PromptsConfig holds the initial prompt templates.
type PromptsConfig struct {
	// Environment selects the channel prompt variant: "dev" or "prod".
	Environment string `yaml:"environment"`

	Channel    string `yaml:"channel"`
	ChannelDev string `yaml:"channel_dev"`
	DM         string `yaml:"dm"`
}

// Initial returns the channel prompt template for the configured environment.
func (p PromptsConfig) Initial() string {
	if p.Environment == "dev" {
		return p.ChannelDev
	}
	return p.Channel
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded,
// defaults are applied, and required fields are validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Discord.BotName == "" {
		c.Discord.BotName = "faebot"
	}
	if c.Discord.CommandPrefix == "" {
		c.Discord.CommandPrefix = "fae;"
	}
	if c.Discord.TypingIntervalRaw == "" {
		c.Discord.TypingIntervalRaw = "5s"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/faebot.db"
	}
	if c.Database.FlushIntervalRaw == "" {
		c.Database.FlushIntervalRaw = "5m"
	}
	if c.Generation.Model == "" {
		c.Generation.Model = "google/gemini-2.0-flash-001"
	}
	if c.Generation.RetryDelayRaw == "" {
		c.Generation.RetryDelayRaw = "10s"
	}
	if c.Prompts.Environment == "" {
		c.Prompts.Environment = "dev"
	}
	if c.Prompts.Channel == "" {
		c.Prompts.Channel = DefaultChannelPrompt
	}
	if c.Prompts.ChannelDev == "" {
		c.Prompts.ChannelDev = DevChannelPrompt
	}
	if c.Prompts.DM == "" {
		c.Prompts.DM = DefaultDMPrompt
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func parseDurations(cfg *Config) error {
	var err error
	if cfg.Discord.TypingInterval, err = time.ParseDuration(cfg.Discord.TypingIntervalRaw); err != nil {
		return fmt.Errorf("discord.typing_interval: %w", err)
	}
	if cfg.Database.FlushInterval, err = time.ParseDuration(cfg.Database.FlushIntervalRaw); err != nil {
		return fmt.Errorf("database.flush_interval: %w", err)
	}
	if cfg.Generation.RetryDelay, err = time.ParseDuration(cfg.Generation.RetryDelayRaw); err != nil {
		return fmt.Errorf("generation.retry_delay: %w", err)
	}
	return nil
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("discord.token is required")
	}
	if c.Generation.APIKey == "" {
		return fmt.Errorf("generation.api_key is required")
	}
	if c.Prompts.Environment != "dev" && c.Prompts.Environment != "prod" {
		return fmt.Errorf("prompts.environment must be \"dev\" or \"prod\", got %q", c.Prompts.Environment)
	}
	return nil
}
