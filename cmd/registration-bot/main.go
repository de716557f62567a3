// ABOUTME: Entry point for the Matrix registration bot
// ABOUTME: Loads config, wires the admin API client, audit log and metrics, then runs the bot

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/registration-bot/internal/allowlist"
	"github.com/2389/registration-bot/internal/bot"
	"github.com/2389/registration-bot/internal/config"
	"github.com/2389/registration-bot/internal/metrics"
	"github.com/2389/registration-bot/internal/store"
	"github.com/2389/registration-bot/internal/synapse"
)

const banner = `
                 _     _                 _   _                   _           _
 _ __ ___  __ _(_)___| |_ _ __ __ _| |_(_) ___  _ __       | |__   ___ | |_
| '__/ _ \/ _' | / __| __| '__/ _' | __| |/ _ \| '_ \ _____| '_ \ / _ \| __|
| | |  __/ (_| | \__ \ |_| | | (_| | |_| | (_) | | | |_____| |_) | (_) | |_
|_|  \___|\__, |_|___/\__|_|  \__,_|\__|_|\___/|_| |_|     |_.__/ \___/ \__|
          |___/
`

const defaultDataDir = "data"

func main() {
	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()

	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("registration-bot", flag.ContinueOnError)
	configFlag := fs.String("config", "", "path to config file (default $CONFIG_PATH or config.yml)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	configPath := config.ResolvePath(*configFlag)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}
	if err := cfg.ValidateBot(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := setupLogger(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	dataDir := cfg.Bot.DataDir
	if dataDir == "" {
		dataDir = defaultDataDir
	}

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Bot.Server)
	green.Print("    ▶ ")
	fmt.Printf("Username:   %s\n", cfg.Bot.Username)
	green.Print("    ▶ ")
	fmt.Printf("Admin API:  %s\n", cfg.API.BaseURL)
	if cfg.Bot.RecoveryKey != "" {
		green.Print("    ▶ ")
		fmt.Println("Encryption: enabled")
	}
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:    http://%s%s\n", cfg.Metrics.Addr, cfg.Metrics.Path)
	}
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	tokens, err := synapse.New(synapse.Options{
		BaseURL:  cfg.API.BaseURL,
		Token:    cfg.API.Token,
		Username: cfg.API.Username,
		Password: cfg.API.Password,
		DeviceID: cfg.Bot.DeviceID,
		Timeout:  cfg.API.Timeout,
		Logger:   logger,
		Observer: m,
	})
	if err != nil {
		return fmt.Errorf("creating admin API client: %w", err)
	}
	logger.Info("admin API configured", "api", tokens.String())

	allowed, err := allowlist.New(cfg.Bot.AllowedUsers)
	if err != nil {
		return fmt.Errorf("parsing bot.allowed_users: %w", err)
	}
	if len(cfg.Bot.AllowedUsers) == 0 {
		logger.Warn("bot.allowed_users is empty, restricted commands are disabled")
	}

	routerCfg := bot.RouterConfig{
		Tokens:     tokens,
		Allowed:    allowed,
		Observer:   m,
		Prefix:     cfg.Bot.CommandPrefix,
		ExpiryDays: cfg.API.ExpiryDays,
		Logger:     logger,
	}
	if cfg.Audit.Path != "" {
		audit, err := store.Open(cfg.Audit.Path)
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		defer audit.Close()
		routerCfg.Audit = audit
		logger.Info("audit log enabled", "path", cfg.Audit.Path)
	}

	b, err := bot.New(bot.Options{
		Server:      cfg.Bot.Server,
		Username:    cfg.Bot.Username,
		Password:    cfg.Bot.Password,
		AccessToken: cfg.Bot.AccessToken,
		DeviceID:    cfg.Bot.DeviceID,
		AutoJoin:    cfg.Bot.ShouldAutoJoin(),
		Typing:      true,
	}, bot.NewRouter(routerCfg), logger)
	if err != nil {
		return fmt.Errorf("creating bot: %w", err)
	}

	// Encryption setup needs the device ID from login.
	if err := b.Login(ctx); err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}

	if cfg.Bot.RecoveryKey != "" {
		crypto, err := bot.EnableCrypto(ctx, b, cfg.Bot.RecoveryKey, dataDir, logger)
		if err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		defer crypto.Close()
	} else {
		logger.Info("encryption disabled (no recovery key)")
	}

	if cfg.Metrics.Enabled {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr, cfg.Metrics.Path, logger); err != nil {
				logger.Error("metrics listener failed", "error", err)
			}
		}()
	}

	logger.Info("starting bot")
	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func setupLogger(w io.Writer, level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
