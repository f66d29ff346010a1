package main

import (
	"fmt"

	"github.com/Joe3124t/pingy-sub002/internal/config"
	"github.com/Joe3124t/pingy-sub002/internal/lock"
	"github.com/Joe3124t/pingy-sub002/internal/store"
	"github.com/spf13/cobra"
)

// NewMigrateCmd creates the migrate command.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations (daemon must be stopped)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonMode, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			dataDir := cfg.Storage.DataDir

			lk, err := lock.Acquire(dataDir)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer func() { _ = lk.Release() }()

			db, err := store.Open(config.DBPath(dataDir))
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer func() { _ = db.Close() }()

			result, err := db.Migrate()
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if jsonMode {
				return writeJSON(cmd, result)
			}
			if result.Changed {
				fmt.Fprintf(cmd.OutOrStdout(), "migrated to version %d\n", result.Version)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "already at version %d\n", result.Version)
			}
			return nil
		},
	}
}
