package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/minichat/internal/api"
	"github.com/soyeahso/minichat/internal/domain"
	"github.com/soyeahso/minichat/internal/hooks"
	"github.com/soyeahso/minichat/internal/stream"
	"github.com/soyeahso/minichat/internal/transport"
	"github.com/soyeahso/minichat/internal/window"
	"golang.org/x/time/rate"
)

// HistoryResult reports the outcome of one LoadOlder call.
type HistoryResult struct {
	ConversationID string
	Cursor         string
	Added          int
	HasMore        bool
	Err            error
}

// SendMessage applies a message optimistically and sends it. While the
// connection is reconnecting the frame is queued and flushed in order once
// connected; the server echo is absorbed by its client nonce.
func (s *Session) SendMessage(convID string, typ domain.MessageType, body string) (domain.Message, error) {
	if _, err := s.runContext(); err != nil {
		return domain.Message{}, err
	}
	self := s.SelfID()
	if self == "" {
		return domain.Message{}, ErrNoIdentity
	}
	if strings.TrimSpace(body) == "" {
		return domain.Message{}, ErrEmptyMessage
	}
	if typ == "" {
		typ = domain.MessageTypeText
	}
	if !typ.Valid() {
		return domain.Message{}, fmt.Errorf("session: unknown message type %q", typ)
	}
	if s.conn.State() == transport.Disconnected {
		return domain.Message{}, transport.ErrDisconnected
	}

	nonce := uuid.NewString()
	msg := domain.Message{
		ID:             nonce,
		ConversationID: convID,
		SenderID:       self,
		Type:           typ,
		Body:           body,
		CreatedAt:      s.localTimestamp(),
		ClientNonce:    nonce,
	}

	f, err := transport.NewFrame(domain.EventMessage, msg)
	if err != nil {
		return domain.Message{}, err
	}
	f.ID = nonce

	if err := s.do(func() {
		s.applyResult(context.Background(), s.proc.ApplyLocal(msg))
	}); err != nil {
		return domain.Message{}, err
	}
	if err := s.conn.Send(f); err != nil {
		return msg, fmt.Errorf("sending message: %w", err)
	}
	return msg, nil
}

// localTimestamp returns the send time for an optimistic message. It is
// strictly after the previous one so that sends keep their order in the
// store even when the clock has not moved.
func (s *Session) localTimestamp() domain.Timestamp {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := domain.NewTimestamp(s.clock.Now())
	if !at.After(s.lastLocal) {
		at = s.lastLocal.Add(time.Nanosecond)
	}
	s.lastLocal = at
	return at
}

// SendTyping tells the other participants that the user is typing. Calls
// are throttled per conversation; it returns false when a call was
// swallowed by the throttle.
func (s *Session) SendTyping(convID string) (bool, error) {
	if _, err := s.runContext(); err != nil {
		return false, err
	}
	self := s.SelfID()
	if self == "" {
		return false, ErrNoIdentity
	}
	if !s.limiter(convID).AllowN(s.clock.Now(), 1) {
		return false, nil
	}

	f, err := transport.NewFrame(domain.EventTyping, domain.TypingEvent{ConversationID: convID, SenderID: self})
	if err != nil {
		return false, err
	}
	if err := s.conn.Send(f); err != nil {
		return false, fmt.Errorf("sending typing: %w", err)
	}
	return true, nil
}

func (s *Session) limiter(convID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.limiters[convID]
	if !ok {
		l = rate.NewLimiter(rate.Every(s.cfg.TypingThrottle), 1)
		s.limiters[convID] = l
	}
	return l
}

// MarkRead moves the user's read watermark to the newest message in the
// conversation and tells the server. It returns false when nothing moved.
func (s *Session) MarkRead(convID string) (bool, error) {
	msgs := s.convs.Messages(convID)
	if len(msgs) == 0 {
		return false, nil
	}
	latest := msgs[len(msgs)-1].CreatedAt

	var moved bool
	if err := s.do(func() {
		moved = s.convs.MarkRead(convID, latest)
		if moved {
			s.cacheWatermark(convID, latest)
			s.emit(hooks.EventReadUpdated, convID, map[string]any{
				"readerId":  s.SelfID(),
				"watermark": latest.String(),
				"unread":    s.convs.UnreadAfterWatermark(convID, s.SelfID()),
			})
		}
	}); err != nil {
		return false, err
	}
	if !moved {
		return false, nil
	}

	f, err := transport.NewFrame(domain.EventRead, domain.ReadEvent{
		ConversationID: convID,
		ReaderID:       s.SelfID(),
		Watermark:      latest,
	})
	if err != nil {
		return true, err
	}
	if err := s.conn.Send(f); err != nil {
		return true, fmt.Errorf("sending read: %w", err)
	}
	return true, nil
}

// LoadOlder fetches the next older history page in the background. The
// result is merged on the event loop and reported to cb (which may be nil)
// and the history_loaded hook. Concurrent calls for the same page share one
// request. On failure the store is left untouched.
//
// cb runs on the hook dispatcher after the history_loaded hook.
func (s *Session) LoadOlder(convID string, cb func(HistoryResult)) error {
	ctx, err := s.runContext()
	if err != nil {
		return err
	}
	if convID == domain.AIChatID {
		return api.ErrAIChatHistory
	}
	cursor, hasMore := s.convs.Cursor(convID)
	if !hasMore {
		return ErrNoMoreHistory
	}

	limit := s.convs.PageSize()
	go func() {
		v, err, shared := s.history.Do(convID+"\x00"+cursor, func() (any, error) {
			return s.api.History(ctx, convID, cursor, limit)
		})
		var page *api.HistoryPage
		if err == nil {
			page = v.(*api.HistoryPage)
		}

		postErr := s.post(func() {
			res := s.applyHistory(ctx, convID, cursor, limit, page, err)
			if shared {
				s.log.Trace().Str("conversationId", convID).Msg("history request shared")
			}
			if cb != nil {
				s.dispatch.post(func() { cb(res) })
			}
		})
		if postErr != nil && cb != nil {
			cb(HistoryResult{ConversationID: convID, Cursor: cursor, HasMore: hasMore, Err: postErr})
		}
	}()
	return nil
}

func (s *Session) applyHistory(ctx context.Context, convID, cursor string, limit int, page *api.HistoryPage, err error) HistoryResult {
	res := HistoryResult{ConversationID: convID, Cursor: cursor}
	if err != nil {
		s.log.Warn().Err(err).Str("conversationId", convID).Msg("history load failed")
		_, res.HasMore = s.convs.Cursor(convID)
		res.Err = err
		s.emitCtx(ctx, hooks.EventHistoryLoaded, convID, map[string]any{"error": err.Error()})
		return res
	}

	// A page for a cursor that has since moved only contributes messages.
	if current, _ := s.convs.Cursor(convID); current != cursor {
		res.Added = s.convs.Merge(convID, page.Messages)
	} else {
		res.Added = s.convs.PrependHistoryPage(convID, page.Messages, page.NextCursor, limit)
	}
	_, res.HasMore = s.convs.Cursor(convID)
	s.cacheMessages(page.Messages...)

	s.emitCtx(ctx, hooks.EventHistoryLoaded, convID, map[string]any{
		"added":   res.Added,
		"hasMore": res.HasMore,
	})
	return res
}

// OpenChat opens (or focuses) a chat window for the conversation. Window
// changes run on the event loop so their hooks stay ordered with inbound
// messages.
func (s *Session) OpenChat(convID string, typ domain.ConversationType) (window.Slot, error) {
	var slot window.Slot
	err := s.apply(func() {
		s.convs.GetOrCreate(convID, typ)
		slot = s.windows.Open(convID)
		s.emitWindows(convID, "open")
	})
	return slot, err
}

// CloseChat closes a chat window.
func (s *Session) CloseChat(convID string) (bool, error) {
	var ok bool
	err := s.apply(func() {
		if ok = s.windows.Close(convID); ok {
			s.emitWindows(convID, "close")
		}
	})
	return ok, err
}

// FocusChat focuses an open chat window and clears its unread badge.
func (s *Session) FocusChat(convID string) (bool, error) {
	var ok bool
	err := s.apply(func() {
		if ok = s.windows.Focus(convID); ok {
			s.emitWindows(convID, "focus")
		}
	})
	return ok, err
}

func (s *Session) emitWindows(convID, action string) {
	slots := s.windows.Slots()
	open := make([]string, 0, len(slots))
	for _, sl := range slots {
		open = append(open, sl.ConversationID)
	}
	s.emit(hooks.EventWindowChanged, convID, map[string]any{
		"action":  action,
		"open":    open,
		"focused": s.windows.Focused(),
	})
}

// LoadNotifications replaces the notification list with the server's.
// The fetch runs on the caller; the replacement runs on the event loop so
// it cannot interleave with live notifications.
func (s *Session) LoadNotifications(ctx context.Context) (domain.NotificationList, error) {
	if _, err := s.runContext(); err != nil {
		return domain.NotificationList{}, err
	}
	list, err := s.api.Notifications(ctx, s.cfg.NotificationLimit)
	if err != nil {
		return domain.NotificationList{}, err
	}

	var out domain.NotificationList
	if err := s.do(func() {
		n := s.notes.Load(*list)
		out = s.notes.List()
		s.cacheNotifications(out)
		s.emitCtx(ctx, hooks.EventNotificationUpdated, "", map[string]any{
			"loaded":      n,
			"unreadCount": out.UnreadCount,
		})
	}); err != nil {
		return domain.NotificationList{}, err
	}
	return out, nil
}

// MarkNotificationRead marks one notification read.
func (s *Session) MarkNotificationRead(id string) (bool, error) {
	var ok bool
	err := s.do(func() {
		ok = s.notes.MarkRead(id)
		if ok {
			s.notificationsChanged(map[string]any{"id": id, "read": true})
		}
	})
	return ok, err
}

// MarkAllNotificationsRead marks every notification read.
func (s *Session) MarkAllNotificationsRead() (int, error) {
	var n int
	err := s.do(func() {
		n = s.notes.MarkAllRead()
		if n > 0 {
			s.notificationsChanged(map[string]any{"marked": n})
		}
	})
	return n, err
}

func (s *Session) notificationsChanged(data map[string]any) {
	list := s.notes.List()
	s.cacheNotifications(list)
	data["unreadCount"] = list.UnreadCount
	s.emit(hooks.EventNotificationUpdated, "", data)
}

// applyResult persists and publishes what the processor did. Runs on the
// event loop.
func (s *Session) applyResult(ctx context.Context, res stream.Result) {
	if res.Err != nil || !res.Applied {
		return
	}

	switch res.Kind {
	case domain.EventMessage:
		msg := *res.Message
		s.cacheMessages(msg)
		s.emitCtx(ctx, hooks.EventMessageApplied, msg.ConversationID, map[string]any{
			"id":       msg.ID,
			"senderId": msg.SenderID,
			"type":     string(msg.Type),
			"body":     msg.Body,
			"local":    msg.SenderID == s.SelfID(),
			"unread":   s.convs.UnreadAfterWatermark(msg.ConversationID, s.SelfID()),
		})

	case domain.EventTyping:
		s.emitCtx(ctx, hooks.EventTyping, res.ConversationID, map[string]any{
			"typers": s.windows.ActiveTypers(res.ConversationID),
		})

	case domain.EventRead:
		self := s.SelfID()
		if res.ReaderID != "" && res.ReaderID != self {
			s.emitCtx(ctx, hooks.EventReadUpdated, res.ConversationID, map[string]any{
				"readerId":  res.ReaderID,
				"watermark": s.windows.LastRead(res.ConversationID, res.ReaderID).String(),
			})
			return
		}
		wm := s.convs.ReadUpTo(res.ConversationID)
		s.cacheWatermark(res.ConversationID, wm)
		s.emitCtx(ctx, hooks.EventReadUpdated, res.ConversationID, map[string]any{
			"readerId":  self,
			"watermark": wm.String(),
			"unread":    s.convs.UnreadAfterWatermark(res.ConversationID, self),
		})

	case domain.EventNotification:
		n := res.Notification
		list := s.notes.List()
		s.cacheNotifications(list)
		s.emitCtx(ctx, hooks.EventNotificationUpdated, "", map[string]any{
			"id":          n.ID,
			"type":        string(n.Type),
			"actors":      len(n.AggregatedUserIDs),
			"unreadCount": list.UnreadCount,
		})
	}
}
