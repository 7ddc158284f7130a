package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const defaultConfigPath = "nexbot.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nexbot",
		Short: "NexGuard customer service bot",
		Long:  "nexbot answers customers over chat: package orders, usage lookups, promotions, AI chat and admin commands.",
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConsoleCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newBackupCmd())
	cmd.AddCommand(newReportCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "nexbot %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
