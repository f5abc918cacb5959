package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomchat/loom/db"
	"github.com/loomchat/loom/internal/config"
	"github.com/loomchat/loom/internal/log"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run pending database migrations",
	RunE: func(*cobra.Command, []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		logger := log.New(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSON: cfg.LogJSON})

		return db.Migrate(cfg.PostgresURL(), logger)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
