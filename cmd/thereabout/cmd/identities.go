package cmd

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/aerobless/thereabout/internal/store"
)

var identitiesCmd = &cobra.Command{
	Use:   "identities",
	Short: "List curated identities and their linked chat accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.DatabasePath())
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer st.Close()

		identities, err := st.ListIdentities()
		if err != nil {
			return fmt.Errorf("list identities: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(identities) == 0 {
			fmt.Fprintln(out, "No identities yet. Use 'thereabout add-identity' to create one.")
			return nil
		}
		for _, ident := range identities {
			kind := "person"
			if ident.IsGroup {
				kind = "group"
			}
			fmt.Fprintf(out, "%d  %s (%s)", ident.ID, ident.ShortName, kind)
			if ident.Relationship != "" {
				fmt.Fprintf(out, "  [%s]", ident.Relationship)
			}
			fmt.Fprintln(out)
			for _, ai := range ident.AppIdentities {
				fmt.Fprintf(out, "     %s: %s\n", ai.Application, ai.Identifier)
			}
		}
		return nil
	},
}

var (
	addIdentityGroup        bool
	addIdentityRelationship string
)

var addIdentityCmd = &cobra.Command{
	Use:   "add-identity <short-name>",
	Short: "Create a curated identity",
	Long: `Create a curated identity.

Chat accounts discovered during import can then be linked to it, so the
same contact is one person across applications.

Examples:
  thereabout add-identity "Mom" --relationship family
  thereabout add-identity "Hiking Group" --group`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.DatabasePath())
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer st.Close()

		if err := st.InitSchema(); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}

		ident, err := st.CreateIdentity(args[0], addIdentityGroup, addIdentityRelationship)
		if err != nil {
			return fmt.Errorf("create identity: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Created identity %d: %s\n", ident.ID, ident.ShortName)
		return nil
	},
}

var (
	updateIdentityName         string
	updateIdentityGroup        bool
	updateIdentityRelationship string
)

var updateIdentityCmd = &cobra.Command{
	Use:   "update-identity <id>",
	Short: "Update a curated identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("identity id must be numeric, got %q", args[0])
		}
		if updateIdentityName == "" {
			return fmt.Errorf("--short-name is required")
		}

		st, err := store.Open(cfg.DatabasePath())
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer st.Close()

		err = st.UpdateIdentity(id, updateIdentityName, updateIdentityGroup, updateIdentityRelationship)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("identity %d not found", id)
		}
		if err != nil {
			return fmt.Errorf("update identity: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Updated identity %d\n", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(identitiesCmd)
	rootCmd.AddCommand(addIdentityCmd)
	rootCmd.AddCommand(updateIdentityCmd)

	addIdentityCmd.Flags().BoolVar(&addIdentityGroup, "group", false, "Mark the identity as a group chat")
	addIdentityCmd.Flags().StringVar(&addIdentityRelationship, "relationship", "", "Free-form relationship note (e.g. family, friend)")

	updateIdentityCmd.Flags().StringVar(&updateIdentityName, "short-name", "", "New short name")
	updateIdentityCmd.Flags().BoolVar(&updateIdentityGroup, "group", false, "Mark the identity as a group chat")
	updateIdentityCmd.Flags().StringVar(&updateIdentityRelationship, "relationship", "", "New relationship note")
}
