package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aerobless/thereabout/internal/store"
)

var (
	messagesSearch   string
	messagesSource   string
	messagesSender   string
	messagesReceiver string
	messagesFrom     string
	messagesTo       string
	messagesPage     int
	messagesSize     int
)

var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "List archived messages",
	Long: `List archived messages, newest first.

Examples:
  thereabout messages --search "birthday"
  thereabout messages --source whatsapp --sender Alice
  thereabout messages --from 2024-01-01 --to 2024-06-30`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := store.MessageFilter{
			Search:   messagesSearch,
			Sender:   messagesSender,
			Receiver: messagesReceiver,
		}
		if messagesSource != "" {
			app, err := store.ParseApplication(messagesSource)
			if err != nil {
				return err
			}
			filter.Source = app
		}
		if messagesFrom != "" {
			t, err := time.Parse("2006-01-02", messagesFrom)
			if err != nil {
				return fmt.Errorf("invalid --from date %q, want YYYY-MM-DD", messagesFrom)
			}
			filter.DateFrom = t
		}
		if messagesTo != "" {
			t, err := time.Parse("2006-01-02", messagesTo)
			if err != nil {
				return fmt.Errorf("invalid --to date %q, want YYYY-MM-DD", messagesTo)
			}
			filter.DateTo = t.Add(24*time.Hour - time.Second)
		}

		st, err := store.Open(cfg.DatabasePath())
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer st.Close()

		msgs, total, err := st.ListMessages(filter, messagesPage*messagesSize, messagesSize)
		if err != nil {
			return fmt.Errorf("list messages: %w", err)
		}

		out := cmd.OutOrStdout()
		for _, m := range msgs {
			fmt.Fprintf(out, "%s  [%s]  %s -> %s\n    %s\n",
				m.Timestamp.Format("2006-01-02 15:04:05"),
				m.Source.DisplayName(),
				m.Sender,
				m.Receiver,
				m.Body)
		}
		fmt.Fprintf(out, "\n%d of %d messages (page %d)\n", len(msgs), total, messagesPage)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(messagesCmd)

	messagesCmd.Flags().StringVar(&messagesSearch, "search", "", "Substring to search message bodies for")
	messagesCmd.Flags().StringVar(&messagesSource, "source", "", "Only messages from this application (whatsapp or telegram)")
	messagesCmd.Flags().StringVar(&messagesSender, "sender", "", "Only messages from this sender")
	messagesCmd.Flags().StringVar(&messagesReceiver, "receiver", "", "Only messages to this receiver")
	messagesCmd.Flags().StringVar(&messagesFrom, "from", "", "Only messages on or after this date (YYYY-MM-DD)")
	messagesCmd.Flags().StringVar(&messagesTo, "to", "", "Only messages on or before this date (YYYY-MM-DD)")
	messagesCmd.Flags().IntVar(&messagesPage, "page", 0, "Page number")
	messagesCmd.Flags().IntVar(&messagesSize, "size", 50, "Messages per page")
}
