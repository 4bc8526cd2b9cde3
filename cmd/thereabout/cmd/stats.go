package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aerobless/thereabout/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show archive statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.DatabasePath())
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer st.Close()

		stats, err := st.GetStats()
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}

		fmt.Printf("Database: %s\n", cfg.DatabasePath())
		fmt.Printf("  Messages:      %d\n", stats.MessageCount)
		fmt.Printf("  Identities:    %d\n", stats.IdentityCount)
		fmt.Printf("  Chat accounts: %d\n", stats.AppIdentityCount)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
