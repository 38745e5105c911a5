// Package conversation holds the per-conversation ordered message logs.
//
// Every conversation keeps its messages sorted by (CreatedAt, ID) and unique
// by ID. Live appends and history pages go through the same merge, so the
// result does not depend on which source arrives first.
package conversation

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/soyeahso/minichat/internal/domain"
	"github.com/soyeahso/minichat/internal/logging"
)

// DefaultHistoryPageSize is the backward pagination page size.
const DefaultHistoryPageSize = 20

// Config controls store behavior.
type Config struct {
	HistoryPageSize int
	GroupGap        time.Duration
}

// Conversation is a point-in-time copy of one conversation.
type Conversation struct {
	ID         string
	Type       domain.ConversationType
	Messages   []domain.Message
	HasMore    bool
	NextCursor string
	ReadUpTo   domain.Timestamp
}

type entry struct {
	mu         sync.RWMutex
	id         string
	typ        domain.ConversationType
	messages   []domain.Message
	ids        map[string]struct{}
	hasMore    bool
	nextCursor string
	readUpTo   domain.Timestamp

	// derived view; nil when invalidated
	groups []Group
}

// Store owns all conversations of a session.
type Store struct {
	cfg   Config
	log   *logging.Logger
	convs *xsync.MapOf[string, *entry]
}

// NewStore creates an empty store.
func NewStore(cfg Config, log *logging.Logger) *Store {
	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = DefaultHistoryPageSize
	}
	if cfg.GroupGap <= 0 {
		cfg.GroupGap = DefaultGroupGap
	}
	return &Store{
		cfg:   cfg,
		log:   log.Sub("conversation"),
		convs: xsync.NewMapOf[string, *entry](),
	}
}

// PageSize returns the configured history page size.
func (s *Store) PageSize() int { return s.cfg.HistoryPageSize }

func (s *Store) entry(id string, typ domain.ConversationType) *entry {
	e, _ := s.convs.LoadOrCompute(id, func() *entry {
		if typ == "" {
			typ = domain.ConversationPrivate
		}
		s.log.Debug().Str("conversationId", id).Str("type", string(typ)).Msg("conversation created")
		return &entry{
			id:      id,
			typ:     typ,
			ids:     make(map[string]struct{}),
			hasMore: id != domain.AIChatID,
		}
	})
	return e
}

// GetOrCreate returns the conversation, creating an empty one if needed.
// typ only applies on creation.
func (s *Store) GetOrCreate(id string, typ domain.ConversationType) Conversation {
	e := s.entry(id, typ)
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked()
}

// Snapshot returns a copy of a conversation if it exists.
func (s *Store) Snapshot(id string) (Conversation, bool) {
	e, ok := s.convs.Load(id)
	if !ok {
		return Conversation{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked(), true
}

// Messages returns a copy of a conversation's ordered messages.
func (s *Store) Messages(id string) []domain.Message {
	c, _ := s.Snapshot(id)
	return c.Messages
}

// IDs returns the ids of every known conversation, sorted.
func (s *Store) IDs() []string {
	var ids []string
	s.convs.Range(func(id string, _ *entry) bool {
		ids = append(ids, id)
		return true
	})
	slices.Sort(ids)
	return ids
}

// Has reports whether a message id is already stored in the conversation.
func (s *Store) Has(convID, msgID string) bool {
	e, ok := s.convs.Load(convID)
	if !ok {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok = e.ids[msgID]
	return ok
}

// AppendLive inserts a live message at its ordered position.
// It returns false when the id is already present; the stored copy wins.
func (s *Store) AppendLive(msg domain.Message) bool {
	e := s.entry(msg.ConversationID, "")
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.insertLocked(msg)
}

// Merge inserts messages from a non-paginated source, such as the local
// cache, without touching the pagination cursor. It returns the number of
// messages added.
func (s *Store) Merge(convID string, msgs []domain.Message) int {
	e := s.entry(convID, "")
	e.mu.Lock()
	defer e.mu.Unlock()

	added := 0
	for _, m := range msgs {
		if m.ConversationID != convID {
			continue
		}
		if e.insertLocked(m) {
			added++
		}
	}
	return added
}

// PrependHistoryPage merges an older page fetched from the history endpoint
// and advances the cursor. HasMore becomes false when the page is shorter
// than requested or carries no next cursor. A non-positive requested size
// means the configured page size. Messages already present are
// skipped; messages for the assistant conversation are never accepted from
// history. It returns the number of messages added.
func (s *Store) PrependHistoryPage(convID string, msgs []domain.Message, nextCursor string, requested int) int {
	if requested <= 0 {
		requested = s.cfg.HistoryPageSize
	}
	e := s.entry(convID, "")
	e.mu.Lock()
	defer e.mu.Unlock()

	added := 0
	for _, m := range msgs {
		if m.ConversationID == domain.AIChatID || m.ConversationID != convID {
			continue
		}
		if e.insertLocked(m) {
			added++
		}
	}

	e.nextCursor = nextCursor
	e.hasMore = len(msgs) >= requested && nextCursor != ""

	s.log.Debug().
		Str("conversationId", convID).
		Int("received", len(msgs)).
		Int("added", added).
		Bool("hasMore", e.hasMore).
		Msg("history page merged")
	return added
}

// Cursor returns the next history cursor and whether older pages exist.
func (s *Store) Cursor(convID string) (string, bool) {
	e := s.entry(convID, "")
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.nextCursor, e.hasMore
}

// MarkRead advances the read watermark. Older or equal watermarks are
// ignored; it returns true only when the watermark moved.
func (s *Store) MarkRead(convID string, ts domain.Timestamp) bool {
	e := s.entry(convID, "")
	e.mu.Lock()
	defer e.mu.Unlock()

	if !ts.After(e.readUpTo) {
		return false
	}
	e.readUpTo = ts
	return true
}

// ReadUpTo returns the read watermark.
func (s *Store) ReadUpTo(convID string) domain.Timestamp {
	e, ok := s.convs.Load(convID)
	if !ok {
		return domain.Timestamp{}
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.readUpTo
}

// UnreadAfterWatermark counts messages newer than the read watermark that
// were not sent by selfID.
func (s *Store) UnreadAfterWatermark(convID, selfID string) int {
	e, ok := s.convs.Load(convID)
	if !ok {
		return 0
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	i := sort.Search(len(e.messages), func(i int) bool {
		return e.messages[i].CreatedAt.After(e.readUpTo)
	})
	n := 0
	for _, m := range e.messages[i:] {
		if m.SenderID != selfID {
			n++
		}
	}
	return n
}

// Groups returns the display groups for a conversation. The grouping is
// cached until the next mutation; callers get their own copy.
func (s *Store) Groups(convID string) []Group {
	e, ok := s.convs.Load(convID)
	if !ok {
		return nil
	}

	e.mu.RLock()
	if e.groups != nil || len(e.messages) == 0 {
		g := cloneGroups(e.groups)
		e.mu.RUnlock()
		return g
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.groups == nil {
		e.groups = GroupMessages(slices.Clone(e.messages), s.cfg.GroupGap)
	}
	return cloneGroups(e.groups)
}

func cloneGroups(groups []Group) []Group {
	if groups == nil {
		return nil
	}
	out := make([]Group, len(groups))
	for i, g := range groups {
		g.Messages = slices.Clone(g.Messages)
		out[i] = g
	}
	return out
}

func (e *entry) insertLocked(m domain.Message) bool {
	if _, dup := e.ids[m.ID]; dup {
		return false
	}
	i := sort.Search(len(e.messages), func(i int) bool {
		return !e.messages[i].Less(m)
	})
	e.messages = slices.Insert(e.messages, i, m)
	e.ids[m.ID] = struct{}{}
	e.groups = nil
	return true
}

func (e *entry) snapshotLocked() Conversation {
	return Conversation{
		ID:         e.id,
		Type:       e.typ,
		Messages:   slices.Clone(e.messages),
		HasMore:    e.hasMore,
		NextCursor: e.nextCursor,
		ReadUpTo:   e.readUpTo,
	}
}
