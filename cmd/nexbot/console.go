package main

import (
	"fmt"

	"github.com/nexguard/nexbot/internal/bot"
	"github.com/nexguard/nexbot/internal/bot/console"
	"github.com/nexguard/nexbot/internal/logging"
	"github.com/nexguard/nexbot/internal/metrics"
	"github.com/nexguard/nexbot/internal/store"
	"github.com/spf13/cobra"
)

type consoleFlags struct {
	configPath string
	identity   string
	name       string
	persist    bool
	verbose    bool
}

func newConsoleCmd() *cobra.Command {
	var f consoleFlags

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Chat with the bot from the terminal",
		Long: `Runs the bot against stdin/stdout. Each line is a message from the
current identity. Directives: ":as <identity> [name]", ":admin <text>",
":media [caption]", ":group <text>", ":quit".

State is kept in memory unless --persist is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(cmd, f)
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", defaultConfigPath, "path to nexbot config file")
	cmd.Flags().StringVar(&f.identity, "as", "console-user", "identity to send messages as")
	cmd.Flags().StringVar(&f.name, "name", "Console User", "display name for the identity")
	cmd.Flags().BoolVar(&f.persist, "persist", false, "use the configured database instead of memory")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "log at the configured level instead of warn")
	return cmd
}

func runConsole(cmd *cobra.Command, f consoleFlags) error {
	cfg, err := loadConfig(f.configPath)
	if err != nil {
		return err
	}
	if !f.verbose {
		logging.Init("warn")
	}

	var st store.Store = store.NewMemory()
	if f.persist {
		if st, err = openStore(cfg); err != nil {
			return err
		}
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

	gateway, err := console.New(console.AdapterOpts{
		In:            cmd.InOrStdin(),
		Out:           cmd.OutOrStdout(),
		Identity:      f.identity,
		Name:          f.name,
		AdminIdentity: cfg.Admin.Identity,
	})
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

	ctx, cancel := signalContext()
	defer cancel()
	go func() {
		select {
		case <-gateway.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "nexbot console: sending as %s, admin is %s (:quit to exit)\n",
		f.identity, cfg.Admin.Identity)
	return daemon.Run(ctx)
}
