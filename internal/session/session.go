// Package session ties the chat core together. A Session owns one transport
// connection and one event loop that applies frames, history pages and
// notification loads in order, and publishes every change through hooks.
// Hook handlers run in emission order on a separate dispatcher goroutine,
// so they may call any session method.
//
// Sessions are explicit values with a Start/Stop lifecycle; independent
// sessions can coexist in one process.
package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/minichat/internal/api"
	"github.com/soyeahso/minichat/internal/config"
	"github.com/soyeahso/minichat/internal/conversation"
	"github.com/soyeahso/minichat/internal/domain"
	"github.com/soyeahso/minichat/internal/hooks"
	"github.com/soyeahso/minichat/internal/logging"
	"github.com/soyeahso/minichat/internal/notify"
	"github.com/soyeahso/minichat/internal/store"
	"github.com/soyeahso/minichat/internal/stream"
	"github.com/soyeahso/minichat/internal/transport"
	"github.com/soyeahso/minichat/internal/version"
	"github.com/soyeahso/minichat/internal/window"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

var (
	ErrNotStarted     = errors.New("session: not started")
	ErrStopped        = errors.New("session: stopped")
	ErrNoIdentity     = errors.New("session: current user id unknown")
	ErrNoMoreHistory  = errors.New("session: no older history")
	ErrEmptyMessage   = errors.New("session: empty message")
	errActionsStopped = errors.New("session: event loop stopped")
)

const (
	defaultTypingThrottle    = 3 * time.Second
	defaultNotificationLimit = 50
	defaultCacheKeep         = 200
	actionBuffer             = 64
)

// Config controls a session and the components it owns.
type Config struct {
	Transport    transport.Config
	API          api.Config
	Stream       stream.Config
	Conversation conversation.Config
	Window       window.Config
	Notify       notify.Config

	// SelfID is the current user. When empty it is read from the token's
	// subject claim.
	SelfID string

	NotificationLimit int
	TypingThrottle    time.Duration

	// CacheKeep is how many messages per conversation survive Stop.
	CacheKeep int
}

// FromConfig maps the file configuration onto a session Config.
func FromConfig(cfg config.Config) Config {
	return Config{
		Transport: transport.Config{
			URL:              cfg.Server.URL,
			Token:            cfg.Server.Token,
			ReconnectDelay:   cfg.Chat.ReconnectDelay,
			HandshakeTimeout: cfg.Server.HandshakeTimeout,
			EventBuffer:      cfg.Chat.EventBuffer,
		},
		API: api.Config{
			BaseURL:  cfg.Server.APIBase,
			Token:    cfg.Server.Token,
			Timeout:  cfg.Server.RequestTimeout,
			RetryMax: cfg.Server.RetryMax,
		},
		Stream: stream.Config{DedupWindow: cfg.Chat.DedupWindow},
		Conversation: conversation.Config{
			HistoryPageSize: cfg.Chat.HistoryPageSize,
			GroupGap:        cfg.Chat.GroupGap,
		},
		Window: window.Config{
			MaxOpen:   cfg.Windows.MaxOpen,
			Width:     cfg.Windows.Width,
			Height:    cfg.Windows.Height,
			Gap:       cfg.Windows.Gap,
			TypingTTL: cfg.Chat.TypingTTL,
		},
		Notify:            notify.Config{AggregationWindow: cfg.Chat.AggregationWindow},
		NotificationLimit: cfg.Chat.NotificationLimit,
		TypingThrottle:    cfg.Chat.TypingThrottle,
		CacheKeep:         cfg.Cache.Keep,
	}
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the clock shared by every clock-driven component.
func WithClock(clk clock.Clock) Option {
	return func(s *Session) {
		s.clock = clk
	}
}

// WithHooks sets the hook manager that receives session events.
func WithHooks(hm *hooks.Manager) Option {
	return func(s *Session) {
		s.hooks = hm
	}
}

// WithCache enables the local message and notification cache.
func WithCache(db *store.DB) Option {
	return func(s *Session) {
		s.msgCache = store.NewMessageCache(db)
		s.noteCache = store.NewNotificationCache(db)
	}
}

// WithDialer overrides the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(s *Session) {
		s.dialer = d
	}
}

// Session is one logged-in chat session.
type Session struct {
	cfg    Config
	log    *logging.Logger
	clock  clock.Clock
	hooks  *hooks.Manager
	dialer *websocket.Dialer

	conn    *transport.Connection
	api     *api.Client
	convs   *conversation.Store
	windows *window.Manager
	notes   *notify.Aggregator
	proc    *stream.Processor

	msgCache  *store.MessageCache
	noteCache *store.NotificationCache

	history  singleflight.Group
	actions  chan func()
	dispatch *dispatcher

	mu       sync.Mutex
	selfID   string
	started  bool
	stopped  bool
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	limiters map[string]*rate.Limiter

	// lastLocal is the newest optimistic send time; local sends within one
	// clock tick still get increasing timestamps.
	lastLocal domain.Timestamp
}

// New builds a session and its components. Nothing connects until Start.
// Stop releases the session's goroutines and must be called even when the
// session was never started.
func New(cfg Config, log *logging.Logger, opts ...Option) *Session {
	if cfg.NotificationLimit <= 0 {
		cfg.NotificationLimit = defaultNotificationLimit
	}
	if cfg.TypingThrottle <= 0 {
		cfg.TypingThrottle = defaultTypingThrottle
	}
	if cfg.CacheKeep <= 0 {
		cfg.CacheKeep = defaultCacheKeep
	}

	s := &Session{
		cfg:      cfg,
		log:      log.Sub("session"),
		clock:    clock.New(),
		actions:  make(chan func(), actionBuffer),
		dispatch: newDispatcher(),
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hooks == nil {
		s.hooks = hooks.NewManager(log)
	}

	s.selfID = cfg.SelfID
	if s.selfID == "" && cfg.Transport.Token != "" {
		sub, err := SubjectFromToken(cfg.Transport.Token)
		if err != nil {
			s.log.Warn().Err(err).Msg("cannot read user id from token")
		}
		s.selfID = sub
	}

	topts := []transport.Option{
		transport.WithClock(s.clock),
		transport.WithHeader(http.Header{"User-Agent": {version.UserAgent()}}),
	}
	if s.dialer != nil {
		topts = append(topts, transport.WithDialer(s.dialer))
	}
	s.conn = transport.New(cfg.Transport, log, topts...)
	s.api = api.New(cfg.API, log)
	s.convs = conversation.NewStore(cfg.Conversation, log)
	s.windows = window.New(cfg.Window, log, window.WithClock(s.clock))
	s.notes = notify.New(cfg.Notify, log, notify.WithClock(s.clock))
	s.proc = stream.New(cfg.Stream, s.convs, s.windows, s.notes, log, stream.WithClock(s.clock))
	s.proc.SetSelfID(s.selfID)
	return s
}

// Start warms the store from the cache, connects and starts the event loop.
// The connection keeps reconnecting until Stop or until ctx is cancelled.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}

	s.warmStart()

	runCtx, cancel := context.WithCancel(ctx)
	if err := s.conn.Connect(runCtx); err != nil {
		s.mu.Unlock()
		cancel()
		return err
	}
	s.ctx = runCtx
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true
	selfID := s.selfID
	s.mu.Unlock()

	s.log.Info().Str("selfId", selfID).Str("url", s.cfg.Transport.URL).Msg("session started")
	s.emit(hooks.EventSessionStart, "", map[string]any{"selfId": selfID})

	go s.run(runCtx, s.conn.Events())
	return nil
}

// Stop disconnects, stops the event loop and trims the cache. It returns
// once every pending hook has been delivered, so it must not be called from
// a hook handler or history callback. A stopped session cannot be restarted.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	s.conn.Close()
	if !started {
		s.dispatch.close()
		return
	}
	cancel()
	<-done

	s.pruneCache()
	s.emit(hooks.EventSessionEnd, "", nil)
	s.dispatch.close()
	s.log.Info().Msg("session stopped")
}

// run is the only goroutine that applies inbound frames and posted actions.
func (s *Session) run(ctx context.Context, events <-chan transport.Event) {
	defer close(s.done)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handleEvent(ctx, ev)
		case fn := <-s.actions:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// post queues fn to run on the event loop.
func (s *Session) post(fn func()) error {
	ctx, err := s.runContext()
	if err != nil {
		return err
	}
	select {
	case s.actions <- fn:
		return nil
	case <-ctx.Done():
		return errActionsStopped
	}
}

// do runs fn on the event loop and waits for it.
func (s *Session) do(fn func()) error {
	ctx, err := s.runContext()
	if err != nil {
		return err
	}
	ran := make(chan struct{})
	select {
	case s.actions <- func() {
		defer close(ran)
		fn()
	}:
	case <-ctx.Done():
		return errActionsStopped
	}
	select {
	case <-ran:
		return nil
	case <-ctx.Done():
		return errActionsStopped
	}
}

// apply runs fn on the event loop when it is running and inline otherwise.
// Before Start and after Stop there is no loop to race with.
func (s *Session) apply(fn func()) error {
	err := s.do(fn)
	if errors.Is(err, ErrNotStarted) || errors.Is(err, ErrStopped) {
		fn()
		return nil
	}
	return err
}

func (s *Session) runContext() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.stopped:
		return nil, ErrStopped
	case !s.started:
		return nil, ErrNotStarted
	}
	return s.ctx, nil
}

func (s *Session) handleEvent(ctx context.Context, ev transport.Event) {
	switch ev.Type {
	case transport.EventState:
		s.log.Debug().Str("state", ev.State.String()).Msg("connection state")
		s.emitCtx(ctx, hooks.EventConnectionState, "", map[string]any{
			"state":   ev.State.String(),
			"pending": s.conn.Pending(),
		})
	case transport.EventDiagnostic:
		s.log.Debug().Err(ev.Err).Msg("transport diagnostic")
	case transport.EventFrame:
		s.applyResult(ctx, s.proc.Process(ev.Frame))
	}
}

// SelfID returns the current user's id.
func (s *Session) SelfID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfID
}

// State returns the connection state.
func (s *Session) State() transport.State { return s.conn.State() }

// Conversations returns the conversation store.
func (s *Session) Conversations() *conversation.Store { return s.convs }

// Windows returns the chat window manager.
func (s *Session) Windows() *window.Manager { return s.windows }

// Notifications returns the notification aggregator.
func (s *Session) Notifications() *notify.Aggregator { return s.notes }

// Hooks returns the hook manager.
func (s *Session) Hooks() *hooks.Manager { return s.hooks }

func (s *Session) emit(event, convID string, data map[string]any) {
	s.emitCtx(context.Background(), event, convID, data)
}

func (s *Session) emitCtx(ctx context.Context, event, convID string, data map[string]any) {
	p := hooks.Payload{Event: event, ConversationID: convID, Data: data}
	if !s.dispatch.post(func() { s.hooks.Emit(ctx, p) }) {
		s.log.Debug().Str("event", event).Msg("hook dropped after stop")
	}
}
