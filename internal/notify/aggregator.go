// Package notify folds notification events into notification entities.
//
// Repeated activity on the same reference (likes, comments) merges into one
// open entity with a growing actor list. Every other type produces one entity
// per event.
package notify

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/soyeahso/minichat/internal/domain"
	"github.com/soyeahso/minichat/internal/logging"
)

// DefaultAggregationWindow is how long after its last activity an unread
// entity keeps absorbing new actors.
const DefaultAggregationWindow = 24 * time.Hour

// Config controls aggregation.
type Config struct {
	AggregationWindow time.Duration
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock sets the clock used for events without a timestamp and for read
// times.
func WithClock(clk clock.Clock) Option {
	return func(a *Aggregator) {
		a.clock = clk
	}
}

// WithIDFunc overrides notification id generation.
func WithIDFunc(fn func() string) Option {
	return func(a *Aggregator) {
		a.newID = fn
	}
}

type key struct {
	typ domain.NotificationType
	ref string
}

// Aggregator owns the notification list.
type Aggregator struct {
	cfg   Config
	log   *logging.Logger
	clock clock.Clock
	newID func() string

	mu   sync.RWMutex
	byID map[string]*domain.Notification
	open map[key]string // at most one open entity per (type, reference)
}

// New creates an empty aggregator.
func New(cfg Config, log *logging.Logger, opts ...Option) *Aggregator {
	if cfg.AggregationWindow <= 0 {
		cfg.AggregationWindow = DefaultAggregationWindow
	}
	a := &Aggregator{
		cfg:   cfg,
		log:   log.Sub("notify"),
		clock: clock.New(),
		newID: uuid.NewString,
		byID:  make(map[string]*domain.Notification),
		open:  make(map[key]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply folds one event into the list and returns a copy of the entity it
// created or updated. Events with an unknown type are dropped and nil is
// returned.
func (a *Aggregator) Apply(ev domain.NotificationEvent) *domain.Notification {
	if !ev.Type.Valid() {
		a.log.Warn().Str("type", string(ev.Type)).Msg("dropping notification with unknown type")
		return nil
	}

	at := ev.OccurredAt
	if at.IsZero() {
		at = domain.NewTimestamp(a.clock.Now())
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if ev.Type.Aggregatable() {
		k := key{typ: ev.Type, ref: ev.ReferenceID}
		if id, ok := a.open[k]; ok {
			n := a.byID[id]
			if a.isOpen(n, at) {
				added := addActor(n, ev.ActorID, ev.ActorName)
				n.LastActivityAt = domain.MaxTimestamp(n.LastActivityAt, at)
				a.log.Debug().
					Str("id", n.ID).
					Str("type", string(n.Type)).
					Bool("newActor", added).
					Int("actors", len(n.AggregatedUserIDs)).
					Msg("notification aggregated")
				c := n.Clone()
				return &c
			}
			delete(a.open, k)
		}
	}

	n := &domain.Notification{
		ID:             a.newID(),
		Type:           ev.Type,
		ReferenceID:    ev.ReferenceID,
		CreatedAt:      at,
		LastActivityAt: at,
	}
	addActor(n, ev.ActorID, ev.ActorName)
	a.byID[n.ID] = n
	if ev.Type.Aggregatable() {
		a.open[key{typ: ev.Type, ref: ev.ReferenceID}] = n.ID
	}

	a.log.Debug().Str("id", n.ID).Str("type", string(n.Type)).Str("referenceId", n.ReferenceID).Msg("notification created")
	c := n.Clone()
	return &c
}

// MarkRead marks one notification read. It returns false for unknown or
// already-read ids.
func (a *Aggregator) MarkRead(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	n, ok := a.byID[id]
	if !ok || n.IsRead {
		return false
	}
	a.markReadLocked(n, domain.NewTimestamp(a.clock.Now()))
	return true
}

// MarkAllRead marks every unread notification read and returns how many
// changed.
func (a *Aggregator) MarkAllRead() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := domain.NewTimestamp(a.clock.Now())
	changed := 0
	for _, n := range a.byID {
		if !n.IsRead {
			a.markReadLocked(n, now)
			changed++
		}
	}
	return changed
}

// Get returns a copy of one notification.
func (a *Aggregator) Get(id string) (domain.Notification, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	n, ok := a.byID[id]
	if !ok {
		return domain.Notification{}, false
	}
	return n.Clone(), true
}

// UnreadCount counts unread notifications.
func (a *Aggregator) UnreadCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.unreadLocked()
}

// List returns every notification, most recent activity first, with the
// derived unread count.
func (a *Aggregator) List() domain.NotificationList {
	a.mu.RLock()
	defer a.mu.RUnlock()

	data := make([]domain.Notification, 0, len(a.byID))
	for _, n := range a.byID {
		data = append(data, n.Clone())
	}
	slices.SortFunc(data, func(x, y domain.Notification) int {
		if c := y.LastActivityAt.Compare(x.LastActivityAt); c != 0 {
			return c
		}
		return strings.Compare(x.ID, y.ID)
	})
	return domain.NotificationList{UnreadCount: a.unreadLocked(), Data: data}
}

// Load replaces the current state with a list fetched from the server. The
// list's unreadCount is not trusted; it is recomputed from the entities.
// Entries with an unknown type or a repeated id are skipped. It returns the
// number of entries loaded.
func (a *Aggregator) Load(list domain.NotificationList) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.byID = make(map[string]*domain.Notification, len(list.Data))
	a.open = make(map[key]string)

	for i := range list.Data {
		src := &list.Data[i]
		if !src.Type.Valid() {
			a.log.Warn().Str("id", src.ID).Str("type", string(src.Type)).Msg("skipping notification with unknown type")
			continue
		}
		if _, dup := a.byID[src.ID]; dup {
			continue
		}
		n := src.Clone()
		if len(n.AggregatedUserNames) > 0 {
			n.AggregatedUserNames = alignNames(n.AggregatedUserNames, len(n.AggregatedUserIDs))
		}
		if n.ReadAt != nil {
			n.IsRead = true
		}
		a.byID[n.ID] = &n

		if !n.Type.Aggregatable() || n.IsRead {
			continue
		}
		k := key{typ: n.Type, ref: n.ReferenceID}
		if cur, ok := a.open[k]; ok && !a.byID[cur].LastActivityAt.Before(n.LastActivityAt) {
			continue
		}
		a.open[k] = n.ID
	}

	if list.UnreadCount != a.unreadLocked() {
		a.log.Debug().
			Int("reported", list.UnreadCount).
			Int("derived", a.unreadLocked()).
			Msg("server unread count differs from list")
	}
	return len(a.byID)
}

func (a *Aggregator) isOpen(n *domain.Notification, at domain.Timestamp) bool {
	return !n.IsRead && at.Sub(n.LastActivityAt) <= a.cfg.AggregationWindow
}

func (a *Aggregator) markReadLocked(n *domain.Notification, at domain.Timestamp) {
	n.IsRead = true
	n.ReadAt = &at
	k := key{typ: n.Type, ref: n.ReferenceID}
	if a.open[k] == n.ID {
		delete(a.open, k)
	}
}

func (a *Aggregator) unreadLocked() int {
	count := 0
	for _, n := range a.byID {
		if !n.IsRead {
			count++
		}
	}
	return count
}

func addActor(n *domain.Notification, id, name string) bool {
	if id == "" || n.HasActor(id) {
		return false
	}
	if name != "" || len(n.AggregatedUserNames) > 0 {
		n.AggregatedUserNames = append(alignNames(n.AggregatedUserNames, len(n.AggregatedUserIDs)), name)
	}
	n.AggregatedUserIDs = append(n.AggregatedUserIDs, id)
	return true
}

// alignNames pads or trims names to n entries. Names are either absent or
// index-aligned with the actor ids; an unknown name is "".
func alignNames(names []string, n int) []string {
	if len(names) >= n {
		return names[:n]
	}
	return append(names, make([]string, n-len(names))...)
}
