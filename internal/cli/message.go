package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/soyeahso/minichat/internal/domain"
	"github.com/soyeahso/minichat/internal/hooks"
	"github.com/soyeahso/minichat/internal/session"
	"github.com/spf13/cobra"
)

func newMessageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Send messages",
	}

	cmd.AddCommand(newMessageSendCmd())
	return cmd
}

func newMessageSendCmd() *cobra.Command {
	var (
		msgType string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send <conversationId> <text...>",
		Short: "Connect, send one message and disconnect",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadedConfig()
			if err != nil {
				return err
			}
			convID := args[0]
			body := strings.Join(args[1:], " ")

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			hm := hooks.NewManager(log)
			s, closeCache, err := newSession(cfg, session.WithHooks(hm))
			if err != nil {
				return err
			}
			defer closeCache()

			connected, unwatch := watchConnected(hm)
			defer unwatch()
			defer s.Stop()
			if err := s.Start(ctx); err != nil {
				return err
			}

			if err := waitConnected(ctx, s, connected, timeout); err != nil {
				return err
			}

			msg, err := s.SendMessage(convID, domain.MessageType(strings.ToUpper(msgType)), body)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %s\n", msg.ID, convID)
			return nil
		},
	}

	cmd.Flags().StringVar(&msgType, "type", string(domain.MessageTypeText), "message type (TEXT, IMAGE, FILE)")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultConnectTimeout, "how long to wait for the connection")

	return cmd
}
