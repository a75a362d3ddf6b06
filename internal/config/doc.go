// Package config handles configuration loading for faebot.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion, then defaults are applied and required fields validated.
//
// # Environment Variable Expansion
//
// Values can reference environment variables with ${VAR_NAME} syntax:
//
//	discord:
//	  token: "${DISCORD_TOKEN}"
//	generation:
//	  api_key: "${OPENROUTER_API_KEY}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	discord:
//	  typing_interval: "5s"
//	database:
//	  flush_interval: "5m"
//	generation:
//	  retry_delay: "10s"
//
// # Prompts
//
// The prompts section selects between the production and development channel
// prompt variants and carries the DM template. Templates may use the
// {server}, {channel}, {topic}, and {conversants} placeholders, substituted
// when a conversation is initialized.
//
//	prompts:
//	  environment: "dev"   # dev or prod
//
// # Usage
//
//	cfg, err := config.Load("/etc/faebot/faebot.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
