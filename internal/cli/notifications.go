package cli

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/soyeahso/minichat/internal/api"
	"github.com/soyeahso/minichat/internal/domain"
	"github.com/soyeahso/minichat/internal/notify"
	"github.com/soyeahso/minichat/internal/session"
	"github.com/spf13/cobra"
)

func newNotificationsCmd() *cobra.Command {
	var (
		limit      int
		unreadOnly bool
		types      []string
	)

	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List notifications with aggregated actors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadedConfig()
			if err != nil {
				return err
			}
			only, err := notificationTypes(types)
			if err != nil {
				return err
			}
			sc := session.FromConfig(cfg)
			if limit <= 0 {
				limit = sc.NotificationLimit
			}

			list, err := api.New(sc.API, log).Notifications(context.Background(), limit)
			if err != nil {
				return err
			}
			agg := notify.New(sc.Notify, log)
			agg.Load(*list)
			view := agg.List()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d unread\n", view.UnreadCount)
			for _, n := range view.Data {
				if unreadOnly && n.IsRead {
					continue
				}
				if len(only) > 0 && !slices.Contains(only, n.Type) {
					continue
				}
				mark := " "
				if !n.IsRead {
					mark = "*"
				}
				fmt.Fprintf(out, "%s %-12s %-20s %s  %s\n", mark, n.Type, n.ReferenceID,
					n.LastActivityAt.Time().Local().Format(time.DateTime), strings.Join(actorLabels(n), ", "))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "number of notifications to fetch (default chat.notificationLimit)")
	cmd.Flags().BoolVar(&unreadOnly, "unread", false, "only show unread notifications")
	cmd.Flags().StringSliceVar(&types, "type", nil, "only show these notification types (repeatable)")

	return cmd
}

func notificationTypes(raw []string) ([]domain.NotificationType, error) {
	var out []domain.NotificationType
	for _, r := range raw {
		typ := domain.NotificationType(strings.ToUpper(strings.TrimSpace(r)))
		if !slices.Contains(domain.AllNotificationTypes, typ) {
			known := make([]string, len(domain.AllNotificationTypes))
			for i, k := range domain.AllNotificationTypes {
				known[i] = string(k)
			}
			return nil, fmt.Errorf("unknown notification type %q (want one of %s)", r, strings.Join(known, ", "))
		}
		out = append(out, typ)
	}
	return out, nil
}

// actorLabels prefers each actor's display name and falls back to the id.
func actorLabels(n domain.Notification) []string {
	out := make([]string, len(n.AggregatedUserIDs))
	for i, id := range n.AggregatedUserIDs {
		out[i] = id
		if i < len(n.AggregatedUserNames) && n.AggregatedUserNames[i] != "" {
			out[i] = n.AggregatedUserNames[i]
		}
	}
	return out
}
