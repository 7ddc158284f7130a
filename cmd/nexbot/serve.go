package main

import (
	"github.com/nexguard/nexbot/internal/bot"
	"github.com/nexguard/nexbot/internal/dashboard"
	"github.com/nexguard/nexbot/internal/logging"
	"github.com/nexguard/nexbot/internal/metrics"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot daemon",
		Long:  "Connects to the configured chat platform, answers customers and runs the scheduled jobs until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to nexbot config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	gateway, err := createGateway(cfg)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}

	rec := metrics.New()
	provisioner, err := buildPanel(cfg, st, rec)
	if err != nil {
		return err
	}
	ai, err := buildAssistant(cfg, rec)
	if err != nil {
		return err
	}

	daemon, err := bot.NewDaemon(bot.DaemonOpts{
		Config:    cfg,
		Gateway:   gateway,
		Store:     st,
		Panel:     provisioner,
		Assistant: ai,
		Metrics:   rec,
	})
	if err != nil {
		return err
	}

	logging.NewStartup("serve", Version).
		Feature("panel", provisioner != nil).
		Feature("assistant", ai != nil).
		Feature("dashboard", cfg.Dashboard.Enabled).
		Feature("vacation", cfg.Modes.Vacation).
		Feature("promotion", cfg.Modes.Promotion).
		Config("platform", cfg.Gateway.Platform).
		Config("storage", cfg.Storage.Driver).
		Log()

	ctx, cancel := signalContext()
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return daemon.Run(gctx)
	})
	if cfg.Dashboard.Enabled {
		g.Go(func() error {
			return dashboard.Start(gctx, dashboard.StartOpts{
				Core:     daemon.Core(),
				Registry: rec.Registry(),
				Port:     cfg.Dashboard.Port,
				Out:      cmd.OutOrStdout(),
			})
		})
	}
	return g.Wait()
}
