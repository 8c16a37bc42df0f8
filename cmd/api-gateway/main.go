package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/museum-admin-api/pkg/config"
	"github.com/noah-isme/museum-admin-api/pkg/logger"
)

// @title Museum Donation Admin API
// @version 1.0.0
// @description Donation intake and approval workflow for museum administrators.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

// App holds dependencies shared by every command.
type App struct {
	cfg    *config.Config
	logger *zap.Logger
}

var app *App

func main() {
	rootCmd := &cobra.Command{
		Use:   "api-gateway",
		Short: "Museum donation admin API",
		Long:  `Serves the donation workflow API and provides maintenance commands for its database.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initApp()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app != nil && app.logger != nil {
				app.logger.Sync() //nolint:errcheck
			}
		},
		SilenceUsage: true,
	}

	serveCommand := serveCmd()
	rootCmd.AddCommand(serveCommand)
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.RunE = serveCommand.RunE

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initApp() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	app = &App{cfg: cfg, logger: logr}
	return nil
}
