// Package window tracks the bounded set of open floating chat windows, their
// layout, unread badges and the typing/read indicators shown in them.
package window

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/soyeahso/minichat/internal/domain"
	"github.com/soyeahso/minichat/internal/logging"
)

const (
	DefaultMaxOpen   = 3
	DefaultWidth     = 320
	DefaultHeight    = 480
	DefaultGap       = 20
	DefaultTypingTTL = 5 * time.Second
)

// Config controls capacity and geometry.
type Config struct {
	MaxOpen   int
	Width     int
	Height    int
	Gap       int
	TypingTTL time.Duration
}

// Slot is one open chat window.
type Slot struct {
	ConversationID  string
	Position        int
	X               int
	Y               int
	Width           int
	Height          int
	LastInteraction time.Time
	Unread          int
	Focused         bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for interaction times and typing expiry.
func WithClock(clk clock.Clock) Option {
	return func(m *Manager) {
		m.clock = clk
	}
}

// Manager owns the open windows.
type Manager struct {
	cfg   Config
	log   *logging.Logger
	clock clock.Clock

	mu      sync.Mutex
	slots   []Slot // most recent interaction first
	focused string
	typing  map[string]map[string]time.Time
	reads   map[string]map[string]domain.Timestamp
}

// New creates a manager with no open windows.
func New(cfg Config, log *logging.Logger, opts ...Option) *Manager {
	if cfg.MaxOpen <= 0 {
		cfg.MaxOpen = DefaultMaxOpen
	}
	if cfg.Width <= 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.Height <= 0 {
		cfg.Height = DefaultHeight
	}
	if cfg.Gap <= 0 {
		cfg.Gap = DefaultGap
	}
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = DefaultTypingTTL
	}
	m := &Manager{
		cfg:    cfg,
		log:    log.Sub("window"),
		clock:  clock.New(),
		typing: make(map[string]map[string]time.Time),
		reads:  make(map[string]map[string]domain.Timestamp),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open opens and focuses a window for the conversation. When the capacity
// is reached the least recently interacted window is closed first. Opening
// an already open window only focuses it.
func (m *Manager) Open(id string) Slot {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if i := m.indexLocked(id); i >= 0 {
		m.focusLocked(i, now)
		return m.slots[m.indexLocked(id)]
	}

	if len(m.slots) >= m.cfg.MaxOpen {
		evicted := m.slots[len(m.slots)-1]
		m.removeLocked(len(m.slots) - 1)
		m.log.Debug().
			Str("evicted", evicted.ConversationID).
			Str("opened", id).
			Msg("window capacity reached")
	}

	m.slots = append(m.slots, Slot{ConversationID: id})
	m.focusLocked(len(m.slots)-1, now)
	m.log.Debug().Str("conversationId", id).Int("open", len(m.slots)).Msg("window opened")
	return m.slots[m.indexLocked(id)]
}

// Close closes a window. Remaining windows shift to keep positions
// contiguous.
func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexLocked(id)
	if i < 0 {
		return false
	}
	m.removeLocked(i)
	m.layoutLocked()
	return true
}

// Focus marks a window as the active one, clearing its unread badge.
func (m *Manager) Focus(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexLocked(id)
	if i < 0 {
		return false
	}
	m.focusLocked(i, m.clock.Now())
	return true
}

// Focused returns the focused conversation id, if any.
func (m *Manager) Focused() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.focused
}

// Slots returns the open windows ordered by position.
func (m *Manager) Slots() []Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.slots)
}

// IsOpen reports whether a window is open for the conversation.
func (m *Manager) IsOpen(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indexLocked(id) >= 0
}

// Deliver records a newly applied message. A message from someone else into
// an open window that is not focused bumps its unread badge; it returns true
// in that case. The sender's typing indicator is cleared either way.
func (m *Manager) Deliver(msg domain.Message, selfID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.typing[msg.ConversationID], msg.SenderID)

	if msg.SenderID == selfID || m.focused == msg.ConversationID {
		return false
	}
	i := m.indexLocked(msg.ConversationID)
	if i < 0 {
		return false
	}
	m.slots[i].Unread++
	return true
}

// Typing records that sender is typing in a conversation at the given time.
func (m *Manager) Typing(convID, senderID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	typers, ok := m.typing[convID]
	if !ok {
		typers = make(map[string]time.Time)
		m.typing[convID] = typers
	}
	if prev, ok := typers[senderID]; !ok || at.After(prev) {
		typers[senderID] = at
	}
}

// ActiveTypers returns the senders whose last typing signal is younger than
// the typing TTL, sorted. Expired entries are pruned.
func (m *Manager) ActiveTypers(convID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var active []string
	for sender, at := range m.typing[convID] {
		if now.Sub(at) < m.cfg.TypingTTL {
			active = append(active, sender)
		} else {
			delete(m.typing[convID], sender)
		}
	}
	slices.Sort(active)
	return active
}

// Read records a reader's watermark in a conversation. Older watermarks are
// ignored; it reports whether the watermark moved.
func (m *Manager) Read(convID, readerID string, at domain.Timestamp) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	readers, ok := m.reads[convID]
	if !ok {
		readers = make(map[string]domain.Timestamp)
		m.reads[convID] = readers
	}
	if !at.After(readers[readerID]) {
		return false
	}
	readers[readerID] = at
	return true
}

// LastRead returns a reader's watermark in a conversation.
func (m *Manager) LastRead(convID, readerID string) domain.Timestamp {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads[convID][readerID]
}

func (m *Manager) indexLocked(id string) int {
	return slices.IndexFunc(m.slots, func(s Slot) bool { return s.ConversationID == id })
}

func (m *Manager) focusLocked(i int, now time.Time) {
	m.slots[i].LastInteraction = now
	m.slots[i].Unread = 0
	m.focused = m.slots[i].ConversationID
	m.layoutLocked()
}

func (m *Manager) removeLocked(i int) {
	if m.slots[i].ConversationID == m.focused {
		m.focused = ""
	}
	m.slots = slices.Delete(m.slots, i, i+1)
}

// layoutLocked orders slots by (LastInteraction desc, ConversationID asc)
// and recomputes positions and geometry. The last slot is the eviction
// candidate.
func (m *Manager) layoutLocked() {
	slices.SortStableFunc(m.slots, func(a, b Slot) int {
		if c := b.LastInteraction.Compare(a.LastInteraction); c != 0 {
			return c
		}
		return strings.Compare(a.ConversationID, b.ConversationID)
	})
	for i := range m.slots {
		s := &m.slots[i]
		s.Position = i
		s.X = i * (m.cfg.Width + m.cfg.Gap)
		s.Y = 0
		s.Width = m.cfg.Width
		s.Height = m.cfg.Height
		s.Focused = s.ConversationID == m.focused
	}
}
