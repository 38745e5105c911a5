// Package stream applies decoded real-time frames to the conversation store,
// the window manager and the notification aggregator.
package stream

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gammazero/deque"
	"github.com/soyeahso/minichat/internal/conversation"
	"github.com/soyeahso/minichat/internal/domain"
	"github.com/soyeahso/minichat/internal/logging"
	"github.com/soyeahso/minichat/internal/notify"
	"github.com/soyeahso/minichat/internal/transport"
	"github.com/soyeahso/minichat/internal/window"
)

// DefaultDedupWindow is how long a client nonce suppresses redeliveries.
const DefaultDedupWindow = 5 * time.Second

// Config controls the processor.
type Config struct {
	DedupWindow time.Duration
}

// Result describes what Process did with one frame.
type Result struct {
	Kind           domain.EventKind
	ConversationID string

	// Applied is true when the frame changed state.
	Applied bool
	// Duplicate is true for a MESSAGE that was already known by id or nonce.
	Duplicate bool

	Message      *domain.Message
	Notification *domain.Notification

	// ReaderID and Watermark are set for READ frames.
	ReaderID  string
	Watermark domain.Timestamp

	Err error
}

// Option configures a Processor.
type Option func(*Processor)

// WithClock sets the clock used for the nonce window and typing times.
func WithClock(clk clock.Clock) Option {
	return func(p *Processor) {
		p.clock = clk
	}
}

type nonceEntry struct {
	nonce string
	at    time.Time
}

// Processor routes frames to their owners. Frames must be processed in
// arrival order by a single caller; ApplyLocal may be called concurrently.
type Processor struct {
	cfg     Config
	log     *logging.Logger
	clock   clock.Clock
	store   *conversation.Store
	windows *window.Manager
	notes   *notify.Aggregator

	mu     sync.Mutex
	selfID string
	nonces map[string]time.Time
	expiry deque.Deque[nonceEntry]
}

// New creates a processor writing into the given components.
func New(cfg Config, store *conversation.Store, windows *window.Manager, notes *notify.Aggregator, log *logging.Logger, opts ...Option) *Processor {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = DefaultDedupWindow
	}
	p := &Processor{
		cfg:     cfg,
		log:     log.Sub("stream"),
		clock:   clock.New(),
		store:   store,
		windows: windows,
		notes:   notes,
		nonces:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetSelfID sets the current user's id, used for unread and typing decisions.
func (p *Processor) SetSelfID(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selfID = id
}

func (p *Processor) self() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selfID
}

// Process decodes one frame and applies it. Undecodable frames are dropped
// and reported through Result.Err.
func (p *Processor) Process(f transport.Frame) Result {
	res := Result{Kind: f.Type}

	ev, err := domain.DecodeEvent(f.Type, f.Payload)
	if err != nil {
		p.log.Warn().Err(err).Str("type", string(f.Type)).Msg("dropping undecodable frame")
		res.Err = err
		return res
	}

	switch ev := ev.(type) {
	case domain.MessageEvent:
		return p.applyMessage(ev.Message, res)

	case domain.TypingEvent:
		res.ConversationID = ev.ConversationID
		if ev.SenderID == p.self() {
			return res
		}
		p.windows.Typing(ev.ConversationID, ev.SenderID, p.clock.Now())
		res.Applied = true

	case domain.ReadEvent:
		res.ConversationID = ev.ConversationID
		res.ReaderID = ev.ReaderID
		res.Watermark = ev.Watermark
		moved := p.windows.Read(ev.ConversationID, ev.ReaderID, ev.Watermark)
		if ev.ReaderID == "" || ev.ReaderID == p.self() {
			res.Applied = p.store.MarkRead(ev.ConversationID, ev.Watermark)
		} else {
			res.Applied = moved
		}

	case domain.NotificationEvent:
		n := p.notes.Apply(ev)
		res.Notification = n
		res.Applied = n != nil
	}
	return res
}

// ApplyLocal applies an optimistic local message and registers its nonce so
// the server echo is absorbed.
func (p *Processor) ApplyLocal(msg domain.Message) Result {
	return p.applyMessage(msg, Result{Kind: domain.EventMessage})
}

func (p *Processor) applyMessage(msg domain.Message, res Result) Result {
	res.ConversationID = msg.ConversationID
	res.Message = &msg

	if p.store.Has(msg.ConversationID, msg.ID) || p.seenNonce(msg.ClientNonce) {
		p.log.Debug().
			Str("conversationId", msg.ConversationID).
			Str("id", msg.ID).
			Str("nonce", msg.ClientNonce).
			Msg("duplicate message ignored")
		res.Duplicate = true
		return res
	}

	if !p.store.AppendLive(msg) {
		res.Duplicate = true
		return res
	}
	p.recordNonce(msg.ClientNonce)
	p.windows.Deliver(msg, p.self())
	res.Applied = true
	return res
}

func (p *Processor) seenNonce(nonce string) bool {
	if nonce == "" {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.expireLocked()
	_, ok := p.nonces[nonce]
	return ok
}

func (p *Processor) recordNonce(nonce string) {
	if nonce == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	p.nonces[nonce] = now
	p.expiry.PushBack(nonceEntry{nonce: nonce, at: now})
}

// expireLocked drops nonces older than the dedup window. Entries are pushed
// in clock order, so expiry stops at the first live one.
func (p *Processor) expireLocked() {
	now := p.clock.Now()
	for p.expiry.Len() > 0 {
		e := p.expiry.Front()
		if now.Sub(e.at) < p.cfg.DedupWindow {
			return
		}
		p.expiry.PopFront()
		if p.nonces[e.nonce].Equal(e.at) {
			delete(p.nonces, e.nonce)
		}
	}
}
