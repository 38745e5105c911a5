package cli

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/soyeahso/minichat/internal/api"
	"github.com/soyeahso/minichat/internal/conversation"
	"github.com/soyeahso/minichat/internal/domain"
	"github.com/soyeahso/minichat/internal/session"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var (
		cursor string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "history <conversationId>",
		Short: "Fetch one page of conversation history and print it grouped by sender",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadedConfig()
			if err != nil {
				return err
			}
			if limit <= 0 {
				limit = cfg.Chat.HistoryPageSize
			}

			client := api.New(session.FromConfig(cfg).API, log)
			page, err := client.History(context.Background(), args[0], cursor, limit)
			if err != nil {
				return err
			}

			msgs := slices.Clone(page.Messages)
			slices.SortFunc(msgs, domain.CompareMessages)

			out := cmd.OutOrStdout()
			for _, g := range conversation.GroupMessages(msgs, cfg.Chat.GroupGap) {
				fmt.Fprintf(out, "%s  %s\n", g.SenderID, g.Start.Time().Local().Format(time.DateTime))
				for _, m := range g.Messages {
					if m.Type == domain.MessageTypeText {
						fmt.Fprintf(out, "    %s\n", m.Body)
					} else {
						fmt.Fprintf(out, "    [%s] %s\n", m.Type, m.Body)
					}
				}
			}
			if page.HasMore && page.NextCursor != "" {
				fmt.Fprintf(out, "\nolder: --cursor %s\n", page.NextCursor)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cursor, "cursor", "", "fetch messages older than this cursor")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size (default chat.historyPageSize)")

	return cmd
}
