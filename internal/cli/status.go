package cli

import (
	"fmt"
	"io"

	"github.com/soyeahso/minichat/internal/config"
	"github.com/soyeahso/minichat/internal/store"
	"github.com/soyeahso/minichat/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show minichat paths, configuration summary and cache contents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "minichat %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:    %s\n", paths.Logs)
			fmt.Fprintln(out)

			if cfgErr != nil {
				fmt.Fprintf(out, "Config:  error loading: %v\n", cfgErr)
				return nil
			}

			token := "(none)"
			if cfg.Server.Token != "" {
				token = "(set)"
			}
			fmt.Fprintf(out, "Server:  url=%s api=%s token=%s\n", cfg.Server.URL, cfg.Server.APIBase, token)
			fmt.Fprintf(out, "Chat:    page=%d groupGap=%s reconnect=%s dedup=%s typingTTL=%s\n",
				cfg.Chat.HistoryPageSize, cfg.Chat.GroupGap, cfg.Chat.ReconnectDelay,
				cfg.Chat.DedupWindow, cfg.Chat.TypingTTL)
			fmt.Fprintf(out, "Windows: max=%d size=%dx%d gap=%d\n",
				cfg.Windows.MaxOpen, cfg.Windows.Width, cfg.Windows.Height, cfg.Windows.Gap)
			printCacheStatus(out, cfg.Cache)

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
			}
			return nil
		},
	}
	return cmd
}

func printCacheStatus(out io.Writer, cc config.CacheConfig) {
	if !cc.IsEnabled() {
		fmt.Fprintln(out, "Cache:   disabled")
		return
	}
	path := paths.CachePath(cc)
	if cc.Store == "memory" {
		fmt.Fprintln(out, "Cache:   store=memory")
		return
	}

	db, err := store.Open(path, log)
	if err != nil {
		fmt.Fprintf(out, "Cache:   store=sqlite path=%s error=%v\n", path, err)
		return
	}
	defer db.Close()

	convs, err := store.NewMessageCache(db).Conversations()
	if err != nil {
		fmt.Fprintf(out, "Cache:   store=sqlite path=%s error=%v\n", path, err)
		return
	}
	notes, err := store.NewNotificationCache(db).Load()
	if err != nil {
		fmt.Fprintf(out, "Cache:   store=sqlite path=%s error=%v\n", path, err)
		return
	}
	schema, err := db.SchemaVersion()
	if err != nil {
		fmt.Fprintf(out, "Cache:   store=sqlite path=%s error=%v\n", path, err)
		return
	}
	fmt.Fprintf(out, "Cache:   store=sqlite path=%s schema=%d conversations=%d notifications=%d unread=%d\n",
		path, schema, len(convs), len(notes.Data), notes.UnreadCount)
}
