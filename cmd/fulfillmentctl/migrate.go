package main

import (
	"context"
	"fmt"

	"github.com/yasunstudio/perdami-store-app-sub001/internal/config"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/storage"

	"github.com/spf13/cobra"
)

var migrateDryRun bool

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Long: `Apply the embedded migrations to FULFILLMENT_DATABASE_URL.

The service also migrates on start; this command exists for deploy pipelines
that prepare the schema before rolling out.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := storage.MigrationNames()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			if migrateDryRun {
				fmt.Fprintln(cmd.OutOrStdout(), "dry run - no changes made")
				return nil
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store, err := storage.New(context.Background(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			store.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", len(names))
			return nil
		},
	}

	cmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "list migrations without applying them")
	return cmd
}
