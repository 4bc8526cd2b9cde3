package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aerobless/thereabout/internal/store"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Initialize the database schema",
	Long: `Initialize the thereabout database with the required schema.

This command creates all necessary tables for storing messages and
identities. It is safe to run multiple times - tables are only created if
they don't already exist.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := cfg.DatabasePath()
		logger.Info("initializing database", "path", dbPath)

		st, err := store.Open(dbPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer st.Close()

		if err := st.InitSchema(); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}

		logger.Info("database initialized successfully")

		stats, err := st.GetStats()
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}

		fmt.Printf("Database: %s\n", dbPath)
		fmt.Printf("  Messages:      %d\n", stats.MessageCount)
		fmt.Printf("  Identities:    %d\n", stats.IdentityCount)
		fmt.Printf("  Chat accounts: %d\n", stats.AppIdentityCount)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initDBCmd)
}
