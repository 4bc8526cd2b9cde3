package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aerobless/thereabout/internal/contacts"
	"github.com/aerobless/thereabout/internal/store"
)

var importContactsCmd = &cobra.Command{
	Use:   "import-contacts <contacts.vcf>",
	Short: "Link address-book contacts to chat identities",
	Long: `Link address-book contacts to chat identities.

WhatsApp exports show a raw phone number for anyone not saved in the
exporter's address book. This command reads a vCard (.vcf) export and links
those phone-number identities to curated identities named after the contact.

Already linked identities are never changed, so the command is safe to rerun
after new imports.

Example:
  thereabout import-contacts contacts.vcf`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.DatabasePath())
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer st.Close()

		if err := st.InitSchema(); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}

		summary, err := contacts.Import(st, args[0])
		if err != nil {
			return fmt.Errorf("import contacts: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Contacts import complete.")
		fmt.Fprintf(out, "  Contacts parsed: %d\n", summary.Contacts)
		fmt.Fprintf(out, "  Identities linked: %d\n", summary.Linked)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importContactsCmd)
}
