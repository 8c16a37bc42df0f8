package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/museum-admin-api/pkg/database"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := database.NewPostgres(ctx, app.cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to connect database: %w", err)
			}
			defer db.Close()

			applied, err := database.Migrate(ctx, db)
			if err != nil {
				return err
			}
			app.logger.Info("migrations applied", zap.Strings("versions", applied))
			fmt.Printf("Applied %d migration(s)\n", len(applied))
			return nil
		},
	}
}
