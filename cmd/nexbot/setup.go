package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nexguard/nexbot/internal/assistant"
	"github.com/nexguard/nexbot/internal/bot"
	discordadapter "github.com/nexguard/nexbot/internal/bot/discord"
	slackadapter "github.com/nexguard/nexbot/internal/bot/slack"
	"github.com/nexguard/nexbot/internal/config"
	"github.com/nexguard/nexbot/internal/db"
	"github.com/nexguard/nexbot/internal/logging"
	"github.com/nexguard/nexbot/internal/metrics"
	"github.com/nexguard/nexbot/internal/panel"
	"github.com/nexguard/nexbot/internal/store"
)

// loadConfig reads the config file and initialises logging from it.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logging.Init(cfg.LogLevel)
	return cfg, nil
}

// openStore connects the configured database, migrates it and returns the
// document store over it.
func openStore(cfg *config.Config) (store.Store, error) {
	gormDB, err := db.Connect(cfg.Storage)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, err
	}
	return store.NewGorm(gormDB), nil
}

// loadCore restores the persisted ledgers for offline commands.
func loadCore(ctx context.Context, cfg *config.Config, st store.Store) (*bot.Core, error) {
	core, err := bot.NewCore(bot.CoreOpts{
		Store:         st,
		MaxLogEntries: cfg.Session.MaxLogEntries,
		Vacation:      cfg.Modes.Vacation,
		Promotion:     cfg.Modes.Promotion,
	})
	if err != nil {
		return nil, err
	}
	if err := core.Load(ctx); err != nil {
		return nil, err
	}
	return core, nil
}

// buildPanel returns the provisioning client, or nil when no panel URL is
// configured.
func buildPanel(cfg *config.Config, st store.Store, rec *metrics.Recorder) (bot.Provisioner, error) {
	if cfg.Panel.URL == "" {
		return nil, nil
	}
	client, err := panel.NewClient(panel.ClientOpts{
		BaseURL:     cfg.Panel.URL,
		Username:    cfg.Panel.Username,
		Password:    cfg.Panel.Password,
		Timeout:     time.Duration(cfg.Panel.TimeoutSec) * time.Second,
		Credentials: store.NewCredentialCache(st),
		Metrics:     rec,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// buildAssistant returns the AI completion client, or nil when no API key
// is configured.
func buildAssistant(cfg *config.Config, rec *metrics.Recorder) (bot.Assistant, error) {
	if cfg.AI.APIKey == "" {
		return nil, nil
	}
	client, err := assistant.NewClient(assistant.ClientOpts{
		APIKey:          cfg.AI.APIKey,
		Model:           cfg.AI.Model,
		MaxOutputTokens: cfg.AI.MaxOutputTokens,
		Temperature:     cfg.AI.Temperature,
		Timeout:         time.Duration(cfg.AI.TimeoutSec) * time.Second,
		Metrics:         rec,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// createGateway builds a network gateway from the config. The console
// platform is served by the console command.
func createGateway(cfg *config.Config) (bot.Gateway, error) {
	switch cfg.Gateway.Platform {
	case "discord":
		return discordadapter.New(discordadapter.AdapterOpts{
			BotToken: cfg.Gateway.Discord.BotToken,
		})
	case "slack":
		return slackadapter.New(slackadapter.AdapterOpts{
			AppToken: cfg.Gateway.Slack.AppToken,
			BotToken: cfg.Gateway.Slack.BotToken,
		})
	case "console":
		return nil, fmt.Errorf("gateway: platform console is interactive, use `nexbot console`")
	default:
		return nil, fmt.Errorf("gateway: unsupported platform %q", cfg.Gateway.Platform)
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
