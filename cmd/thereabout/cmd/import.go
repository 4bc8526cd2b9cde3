package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aerobless/thereabout/internal/importer"
	"github.com/aerobless/thereabout/internal/progress"
	"github.com/aerobless/thereabout/internal/store"
)

var (
	importApplication string
	importReceiver    string
)

var importCmd = &cobra.Command{
	Use:   "import <export-file>",
	Short: "Import a chat export into the archive",
	Long: `Import a chat export file into the thereabout archive.

Supported applications:
  whatsapp   Plain-text export (one conversation per file)
  telegram   JSON export (single conversation or full account)

Repeated imports of the same file are safe: already-imported messages are
detected and skipped.

WhatsApp exports do not record who the conversation was exported for, so
the conversation partner is inferred from the participants. Use --receiver
to name the partner explicitly, e.g. when the export contains only your
own messages.

Examples:
  thereabout import --application whatsapp chat.txt
  thereabout import --application whatsapp --receiver "Mom" chat.txt
  thereabout import --application telegram result.json`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := store.ParseApplication(importApplication)
		if err != nil {
			return err
		}

		st, err := store.Open(cfg.DatabasePath())
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer st.Close()

		if err := st.InitSchema(); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}

		// The import engine owns its input and removes it when done, so
		// work on a scratch copy instead of the user's file.
		scratch, err := stageExport(args[0])
		if err != nil {
			return err
		}

		imp := importer.New(st, progress.NewTracker(), logger)
		imp.SetBatchSize(cfg.Import.BatchSize)

		if err := imp.ImportFile(cmd.Context(), scratch, app, importReceiver); err != nil {
			return fmt.Errorf("import %s: %w", args[0], err)
		}

		stats, err := st.GetStats()
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Import complete.")
		fmt.Fprintf(out, "  Messages:   %d\n", stats.MessageCount)
		fmt.Fprintf(out, "  Identities: %d\n", stats.IdentityCount)
		return nil
	},
}

// stageExport copies an export file into its own scratch directory under
// the data dir and returns the copy's path.
func stageExport(path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open export file: %w", err)
	}
	defer src.Close()

	root := cfg.ScratchRoot()
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", fmt.Errorf("create scratch root: %w", err)
	}
	dir, err := os.MkdirTemp(root, "import-")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}

	staged := filepath.Join(dir, filepath.Base(path))
	dst, err := os.Create(staged)
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("create scratch copy: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("copy export file: %w", err)
	}
	return staged, nil
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVar(&importApplication, "application", "", "Source application (whatsapp or telegram)")
	importCmd.Flags().StringVar(&importReceiver, "receiver", "", "Conversation partner for personal chats")
	_ = importCmd.MarkFlagRequired("application")
}
