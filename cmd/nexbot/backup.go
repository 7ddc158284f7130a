package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nexguard/nexbot/internal/store"
	"github.com/spf13/cobra"
)

func newBackupCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the ledgers to the backup directory",
		Long:  "Writes one compressed snapshot per ledger and prunes old snapshots beyond storage.backup_keep.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(cmd, configPath)
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to nexbot config file")
	cmd.AddCommand(newRestoreCmd(&configPath))
	return cmd
}

func newRestoreCmd(configPath *string) *cobra.Command {
	var collection string

	cmd := &cobra.Command{
		Use:   "restore <snapshot>",
		Short: "Load a snapshot back into its collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestore(cmd, *configPath, collection, args[0])
		},
	}

	cmd.Flags().StringVar(&collection, "collection", "", "collection to restore into (default: taken from the file name)")
	return cmd
}

func runBackup(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	ctx := context.Background()

	written, err := store.Backup(ctx, st, cfg.Storage.BackupDir, time.Now())
	if err != nil {
		return err
	}
	for _, path := range written {
		fmt.Fprintf(out, "Wrote %s\n", path)
	}
	removed, err := store.Prune(cfg.Storage.BackupDir, cfg.Storage.BackupKeep)
	if err != nil {
		return err
	}
	for _, path := range removed {
		fmt.Fprintf(out, "Pruned %s\n", path)
	}
	return nil
}

func runRestore(cmd *cobra.Command, configPath, collection, path string) error {
	if collection == "" {
		collection = store.CollectionOf(path)
	}
	if !isLedger(collection) {
		return fmt.Errorf("restore: unknown collection %q", collection)
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	n, err := store.Restore(context.Background(), st, collection, path)
	if err != nil {
		return fmt.Errorf("restore %s: %w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Restored %d documents into %s\n", n, collection)
	return nil
}

func isLedger(collection string) bool {
	for _, c := range store.Ledgers {
		if c == collection {
			return true
		}
	}
	return false
}
