package session

import (
	"github.com/soyeahso/minichat/internal/domain"
)

// warmStart seeds the store and the notification list from the local cache.
// Cached messages are merged without touching pagination, so the first
// LoadOlder still starts from the newest server page.
func (s *Session) warmStart() {
	if s.msgCache != nil {
		convIDs, err := s.msgCache.Conversations()
		if err != nil {
			s.log.Warn().Err(err).Msg("reading cached conversations")
		}
		total := 0
		for _, id := range convIDs {
			msgs, err := s.msgCache.LoadRecent(id, s.cfg.CacheKeep)
			if err != nil {
				s.log.Warn().Err(err).Str("conversationId", id).Msg("reading cached messages")
				continue
			}
			total += s.convs.Merge(id, msgs)

			wm, err := s.msgCache.ReadWatermark(id)
			if err != nil {
				s.log.Warn().Err(err).Str("conversationId", id).Msg("reading cached watermark")
				continue
			}
			s.convs.MarkRead(id, wm)
		}
		if total > 0 {
			s.log.Info().Int("conversations", len(convIDs)).Int("messages", total).Msg("warm start from cache")
		}
	}

	if s.noteCache != nil {
		list, err := s.noteCache.Load()
		if err != nil {
			s.log.Warn().Err(err).Msg("reading cached notifications")
			return
		}
		s.notes.Load(list)
	}
}

func (s *Session) cacheMessages(msgs ...domain.Message) {
	if s.msgCache == nil || len(msgs) == 0 {
		return
	}
	if err := s.msgCache.Save(msgs...); err != nil {
		s.log.Warn().Err(err).Int("messages", len(msgs)).Msg("caching messages")
	}
}

func (s *Session) cacheWatermark(convID string, ts domain.Timestamp) {
	if s.msgCache == nil || ts.IsZero() {
		return
	}
	if err := s.msgCache.SaveReadWatermark(convID, ts); err != nil {
		s.log.Warn().Err(err).Str("conversationId", convID).Msg("caching read watermark")
	}
}

func (s *Session) cacheNotifications(list domain.NotificationList) {
	if s.noteCache == nil {
		return
	}
	if err := s.noteCache.Replace(list.Data); err != nil {
		s.log.Warn().Err(err).Msg("caching notifications")
	}
}

// pruneCache trims every cached conversation to CacheKeep messages.
func (s *Session) pruneCache() {
	if s.msgCache == nil {
		return
	}
	convIDs, err := s.msgCache.Conversations()
	if err != nil {
		s.log.Warn().Err(err).Msg("reading cached conversations")
		return
	}
	for _, id := range convIDs {
		if _, err := s.msgCache.Prune(id, s.cfg.CacheKeep); err != nil {
			s.log.Warn().Err(err).Str("conversationId", id).Msg("pruning cache")
		}
	}
}
