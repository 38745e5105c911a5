package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/soyeahso/minichat/internal/config"
	"github.com/soyeahso/minichat/internal/domain"
	"github.com/soyeahso/minichat/internal/hooks"
	"github.com/soyeahso/minichat/internal/session"
	"github.com/soyeahso/minichat/internal/store"
	"github.com/soyeahso/minichat/internal/transport"
	"github.com/spf13/cobra"
)

const defaultConnectTimeout = 15 * time.Second

func newConnectCmd() *cobra.Command {
	var (
		open  []string
		group []string
		send  []string
		only  []string
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to the chat server and log session events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, ev := range only {
				if !slices.Contains(hooks.AllEvents, ev) {
					return fmt.Errorf("unknown event %q (want one of %s)", ev, strings.Join(hooks.AllEvents, ", "))
				}
			}
			cfg, err := loadedConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			hm := hooks.NewManager(log)
			hm.OnAll("cli-log", func(_ context.Context, p hooks.Payload) error {
				if len(only) > 0 && !slices.Contains(only, p.Event) {
					return nil
				}
				log.Info().Str("event", p.Event).Str("conversationId", p.ConversationID).
					Interface("data", p.Data).Msg("session event")
				return nil
			})

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

			for _, id := range open {
				if err := openWithHistory(s, id, domain.ConversationPrivate); err != nil {
					return err
				}
			}
			for _, id := range group {
				if err := openWithHistory(s, id, domain.ConversationGroup); err != nil {
					return err
				}
			}

			if len(send) > 0 {
				if err := waitConnected(ctx, s, connected, defaultConnectTimeout); err != nil {
					return err
				}
				unwatch()
				for _, arg := range send {
					convID, body, ok := strings.Cut(arg, ":")
					if !ok {
						return fmt.Errorf("invalid --send %q: want <conversationId>:<text>", arg)
					}
					if _, err := s.SendMessage(convID, domain.MessageTypeText, body); err != nil {
						return err
					}
				}
			}

			log.Info().Str("selfId", s.SelfID()).Msg("connected; press Ctrl+C to stop")
			<-ctx.Done()
			log.Info().Strs("conversations", s.Conversations().IDs()).Msg("disconnecting")
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&open, "open", nil, "open a private conversation window (repeatable)")
	cmd.Flags().StringArrayVar(&group, "open-group", nil, "open a group conversation window (repeatable)")
	cmd.Flags().StringArrayVar(&send, "send", nil, "send <conversationId>:<text> once connected (repeatable)")
	cmd.Flags().StringSliceVar(&only, "event", nil, "only log these session events (repeatable)")

	return cmd
}

func openWithHistory(s *session.Session, id string, typ domain.ConversationType) error {
	if _, err := s.OpenChat(id, typ); err != nil {
		return fmt.Errorf("opening %s: %w", id, err)
	}
	err := s.LoadOlder(id, func(res session.HistoryResult) {
		if res.Err != nil {
			log.Warn().Err(res.Err).Str("conversationId", id).Msg("history not loaded")
		}
	})
	if err != nil && !errors.Is(err, session.ErrNoMoreHistory) {
		log.Debug().Err(err).Str("conversationId", id).Msg("history skipped")
	}
	return nil
}

// newSession builds a session from the file config, opening the local cache
// when enabled. The returned func closes the cache and must run after Stop.
func newSession(cfg config.Config, opts ...session.Option) (*session.Session, func(), error) {
	closeCache := func() {}
	if cfg.Cache.IsEnabled() {
		if err := paths.EnsureDirs(); err != nil {
			return nil, nil, err
		}
		db, err := store.Open(paths.CachePath(cfg.Cache), log)
		if err != nil {
			return nil, nil, fmt.Errorf("opening cache: %w", err)
		}
		opts = append(opts, session.WithCache(db))
		closeCache = func() {
			if err := db.Close(); err != nil {
				log.Warn().Err(err).Msg("closing cache")
			}
		}
	}
	return session.New(session.FromConfig(cfg), log, opts...), closeCache, nil
}

// watchConnected returns a channel that receives every time the connection
// reaches the connected state, and a func that removes the watcher. Register
// it before Start.
func watchConnected(hm *hooks.Manager) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	hm.On(hooks.EventConnectionState, "cli-connected", func(_ context.Context, p hooks.Payload) error {
		if p.Data["state"] == transport.Connected.String() {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
		return nil
	})
	return ch, func() { hm.Off(hooks.EventConnectionState, "cli-connected") }
}

func waitConnected(ctx context.Context, s *session.Session, connected <-chan struct{}, timeout time.Duration) error {
	if s.State() == transport.Connected {
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-connected:
		return nil
	case <-timer.C:
		return fmt.Errorf("not connected after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
