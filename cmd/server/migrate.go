package main

import (
	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-ap-invoice-automation/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		version, err := database.Migrate(cfg.Database.MigrationURL())
		if err != nil {
			return err
		}
		log.Info().Uint("version", version).Msg("Migrations applied")
		return nil
	},
}
