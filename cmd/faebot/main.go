// ABOUTME: Entry point for the faebot Discord bot
// ABOUTME: Loads config, wires the engine components, and runs until signalled

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/transfaeries/faebot/internal/config"
	"github.com/transfaeries/faebot/internal/conversation"
	"github.com/transfaeries/faebot/internal/discord"
	"github.com/transfaeries/faebot/internal/llm"
	"github.com/transfaeries/faebot/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  __            _           _
 / _| __ _  ___| |__   ___ | |_
| |_ / _' |/ _ \ '_ \ / _ \| __|
|  _| (_| |  __/ |_) | (_) | |_
|_|  \__,_|\___|_.__/ \___/ \__|
`

// getConfigPath returns the path to the faebot config file.
// Priority: FAEBOT_CONFIG env var > XDG_CONFIG_HOME/faebot/faebot.yaml > ~/.config/faebot/faebot.yaml
func getConfigPath() string {
	if envPath := os.Getenv("FAEBOT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "faebot.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "faebot", "faebot.yaml")
}

func main() {
	// A local .env is optional; secrets referenced as ${VAR} in the config
	// come from the environment either way.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Println("Usage: faebot <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Connect to Discord and run the bot")
		fmt.Println("  init     Create a new config file interactively")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	magenta := color.New(color.FgMagenta)
	magenta.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:      %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:    %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Model:       %s\n", cfg.Generation.Model)
	green.Print("    ▶ ")
	fmt.Printf("Environment: %s\n", cfg.Prompts.Environment)
	fmt.Println()

	logger.Info("starting faebot",
		"config", configPath,
		"database", cfg.Database.Path,
		"model", cfg.Generation.Model,
		"environment", cfg.Prompts.Environment,
	)

	convs := conversation.NewStore(logger)
	db := store.New(cfg.Database.Path, logger)
	gen := llm.New(llm.Config{
		BaseURL: cfg.Generation.BaseURL,
		APIKey:  cfg.Generation.APIKey,
		Referer: cfg.Generation.Referer,
		Title:   cfg.Generation.Title,
	}, logger)

	bot, err := discord.New(discord.Config{
		Token:          cfg.Discord.Token,
		BotName:        cfg.Discord.BotName,
		CommandPrefix:  cfg.Discord.CommandPrefix,
		Admins:         cfg.Discord.Admins,
		TypingInterval: cfg.Discord.TypingInterval,
		RetryDelay:     cfg.Generation.RetryDelay,
		FlushInterval:  cfg.Database.FlushInterval,
		DefaultModel:   cfg.Generation.Model,
		ChannelPrompt:  cfg.Prompts.Initial(),
		DMPrompt:       cfg.Prompts.DM,
	}, convs, db, gen, logger)
	if err != nil {
		return fmt.Errorf("creating bot: %w", err)
	}

	return bot.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("faebot configuration setup")
	fmt.Println("==========================")
	fmt.Println()

	defaultConfigPath := getConfigPath()

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Discord Configuration ---")
	botName := prompt(reader, "Bot name", "faebot")
	prefix := prompt(reader, "Command prefix", "fae;")
	admins := prompt(reader, "Admin usernames (comma separated)", "")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", "data/faebot.db")

	fmt.Println("\n--- Generation Configuration ---")
	model := prompt(reader, "Default model", "google/gemini-2.0-flash-001")
	environment := prompt(reader, "Prompt environment (dev/prod)", "dev")

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# faebot configuration\n")
	cfg.WriteString("# Generated by faebot init\n\n")

	cfg.WriteString("discord:\n")
	cfg.WriteString("  token: \"${DISCORD_TOKEN}\"\n")
	cfg.WriteString(fmt.Sprintf("  bot_name: \"%s\"\n", botName))
	cfg.WriteString(fmt.Sprintf("  command_prefix: \"%s\"\n", prefix))
	if admins != "" {
		cfg.WriteString("  admins:\n")
		for _, a := range strings.Split(admins, ",") {
			cfg.WriteString(fmt.Sprintf("    - %s\n", strings.TrimSpace(a)))
		}
	}
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("  flush_interval: \"5m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("generation:\n")
	cfg.WriteString("  api_key: \"${OPENROUTER_API_KEY}\"\n")
	cfg.WriteString(fmt.Sprintf("  model: \"%s\"\n", model))
	cfg.WriteString("\n")

	cfg.WriteString("prompts:\n")
	cfg.WriteString(fmt.Sprintf("  environment: \"%s\"\n", environment))
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("Set DISCORD_TOKEN and OPENROUTER_API_KEY in the environment or a .env file.")
	fmt.Println("\nTo start the bot:")
	fmt.Printf("  faebot serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
