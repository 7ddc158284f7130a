package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nexguard/nexbot/internal/bot"
	"github.com/spf13/cobra"
)

func newReportCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print today's report from the stored ledgers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to nexbot config file")
	return cmd
}

func runReport(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	core, err := loadCore(context.Background(), cfg, st)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), bot.Report(core, time.Now()))
	return nil
}
