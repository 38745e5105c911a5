package conversation

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/soyeahso/minichat/internal/domain"
	"github.com/soyeahso/minichat/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(pageSize int) *Store {
	return NewStore(Config{HistoryPageSize: pageSize}, logging.New(nil, "silent"))
}

func msg(id, sender string, offset time.Duration) domain.Message {
	return domain.Message{
		ID:             id,
		ConversationID: "c1",
		SenderID:       sender,
		Type:           domain.MessageTypeText,
		Body:           "body " + id,
		CreatedAt:      domain.NewTimestamp(base.Add(offset)),
	}
}

func ids(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func assertOrdered(t *testing.T, msgs []domain.Message) {
	t.Helper()
	seen := make(map[string]bool)
	for i, m := range msgs {
		assert.False(t, seen[m.ID], "duplicate id %s", m.ID)
		seen[m.ID] = true
		if i > 0 {
			assert.True(t, domain.CompareMessages(msgs[i-1], m) < 0, "out of order at %d", i)
		}
	}
}

func TestStore_GetOrCreate(t *testing.T) {
	s := newTestStore(20)

	c := s.GetOrCreate("g1", domain.ConversationGroup)
	assert.Equal(t, "g1", c.ID)
	assert.Equal(t, domain.ConversationGroup, c.Type)
	assert.Empty(t, c.Messages)
	assert.True(t, c.HasMore)

	// type only applies on creation
	c = s.GetOrCreate("g1", domain.ConversationPrivate)
	assert.Equal(t, domain.ConversationGroup, c.Type)

	_, ok := s.Snapshot("missing")
	assert.False(t, ok)

	ai := s.GetOrCreate(domain.AIChatID, "")
	assert.False(t, ai.HasMore)
	assert.Equal(t, domain.ConversationPrivate, ai.Type)
}

func TestStore_AppendLiveOrdersAndDedupes(t *testing.T) {
	s := newTestStore(20)

	assert.True(t, s.AppendLive(msg("m2", "u1", 2*time.Second)))
	assert.True(t, s.AppendLive(msg("m3", "u1", 3*time.Second)))
	// late arrival lands at its ordered position
	assert.True(t, s.AppendLive(msg("m1", "u2", time.Second)))

	dup := msg("m2", "u1", 2*time.Second)
	dup.Body = "changed"
	assert.False(t, s.AppendLive(dup))

	got := s.Messages("c1")
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(got))
	assert.Equal(t, "body m2", got[1].Body, "first accepted copy wins")
	assert.True(t, s.Has("c1", "m3"))
	assert.False(t, s.Has("c1", "zz"))
	assert.False(t, s.Has("nope", "m1"))
}

func TestStore_EqualTimestampsOrderByID(t *testing.T) {
	s := newTestStore(20)

	s.AppendLive(msg("b", "u1", 0))
	s.AppendLive(msg("c", "u1", 0))
	s.AppendLive(msg("a", "u1", 0))

	assert.Equal(t, []string{"a", "b", "c"}, ids(s.Messages("c1")))
}

func TestStore_PrependHistoryPage(t *testing.T) {
	s := newTestStore(3)

	s.AppendLive(msg("m10", "u1", 10*time.Second))
	s.AppendLive(msg("m11", "u1", 11*time.Second))

	// one overlapping message
	page := []domain.Message{
		msg("m07", "u2", 7*time.Second),
		msg("m08", "u2", 8*time.Second),
		msg("m10", "u1", 10*time.Second),
	}
	added := s.PrependHistoryPage("c1", page, "cur-1", 0)
	assert.Equal(t, 2, added)

	cursor, hasMore := s.Cursor("c1")
	assert.Equal(t, "cur-1", cursor)
	assert.True(t, hasMore)
	assert.Equal(t, []string{"m07", "m08", "m10", "m11"}, ids(s.Messages("c1")))

	// short page ends pagination
	added = s.PrependHistoryPage("c1", []domain.Message{msg("m01", "u2", time.Second)}, "", 3)
	assert.Equal(t, 1, added)
	_, hasMore = s.Cursor("c1")
	assert.False(t, hasMore)

	c, _ := s.Snapshot("c1")
	assert.False(t, c.HasMore)
	assert.Equal(t, "m01", c.Messages[0].ID)
}

func TestStore_FullPageWithoutCursorEndsPagination(t *testing.T) {
	s := newTestStore(2)

	s.PrependHistoryPage("c1", []domain.Message{msg("a", "u1", 0), msg("b", "u1", time.Second)}, "", 0)
	_, hasMore := s.Cursor("c1")
	assert.False(t, hasMore)
}

func TestStore_HistoryNeverAcceptsAssistantMessages(t *testing.T) {
	s := newTestStore(20)

	m := msg("ai1", "bot", 0)
	m.ConversationID = domain.AIChatID
	added := s.PrependHistoryPage(domain.AIChatID, []domain.Message{m}, "", 0)
	assert.Equal(t, 0, added)
	assert.Empty(t, s.Messages(domain.AIChatID))

	// live assistant messages are kept
	assert.True(t, s.AppendLive(m))
	assert.Len(t, s.Messages(domain.AIChatID), 1)
}

func TestStore_MergeSkipsForeignConversation(t *testing.T) {
	s := newTestStore(20)

	other := msg("x", "u1", 0)
	other.ConversationID = "c2"
	added := s.Merge("c1", []domain.Message{msg("a", "u1", 0), other, msg("a", "u1", 0)})
	assert.Equal(t, 1, added)
	assert.Equal(t, []string{"a"}, ids(s.Messages("c1")))

	_, hasMore := s.Cursor("c1")
	assert.True(t, hasMore, "merge leaves pagination untouched")
}

func TestStore_LiveAndHistoryMergeIsOrderIndependent(t *testing.T) {
	var all []domain.Message
	for i := range 40 {
		all = append(all, msg(fmt.Sprintf("m%02d", i), "u1", time.Duration(i%13)*time.Second))
	}

	expect := func() []string {
		s := newTestStore(100)
		s.Merge("c1", all)
		return ids(s.Messages("c1"))
	}()

	for seed := range uint64(20) {
		r := rand.New(rand.NewPCG(seed, seed))
		shuffled := append([]domain.Message(nil), all...)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		s := newTestStore(100)
		half := len(shuffled) / 2
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for _, m := range shuffled[:half+5] {
				s.AppendLive(m)
			}
		}()
		go func() {
			defer wg.Done()
			s.PrependHistoryPage("c1", shuffled[half-5:], "", 0)
		}()
		wg.Wait()

		got := s.Messages("c1")
		assertOrdered(t, got)
		assert.Equal(t, expect, ids(got), "seed %d", seed)
	}
}

func TestStore_MarkReadIsMonotonic(t *testing.T) {
	s := newTestStore(20)
	t1 := domain.NewTimestamp(base)
	t2 := domain.NewTimestamp(base.Add(time.Minute))

	assert.True(t, s.MarkRead("c1", t2))
	assert.False(t, s.MarkRead("c1", t1))
	assert.False(t, s.MarkRead("c1", t2))
	assert.True(t, s.ReadUpTo("c1").Equal(t2))
	assert.True(t, s.ReadUpTo("unknown").IsZero())
}

func TestStore_UnreadAfterWatermark(t *testing.T) {
	s := newTestStore(20)
	s.AppendLive(msg("a", "u2", 0))
	s.AppendLive(msg("b", "me", time.Second))
	s.AppendLive(msg("c", "u2", 2*time.Second))
	s.AppendLive(msg("d", "u2", 3*time.Second))

	assert.Equal(t, 3, s.UnreadAfterWatermark("c1", "me"))

	s.MarkRead("c1", domain.NewTimestamp(base.Add(2*time.Second)))
	assert.Equal(t, 1, s.UnreadAfterWatermark("c1", "me"))
	assert.Equal(t, 0, s.UnreadAfterWatermark("none", "me"))
}

func TestStore_GroupsCachedAndInvalidated(t *testing.T) {
	s := newTestStore(20)
	assert.Nil(t, s.Groups("c1"))

	s.AppendLive(msg("a", "u1", 0))
	s.AppendLive(msg("b", "u1", time.Minute))
	s.AppendLive(msg("c", "u2", 2*time.Minute))

	g := s.Groups("c1")
	require.Len(t, g, 2)
	assert.Equal(t, []string{"a", "b"}, ids(g[0].Messages))

	// a message inserted between a and b keeps the run, a later one extends u2
	s.AppendLive(msg("a2", "u1", 30*time.Second))
	s.AppendLive(msg("d", "u2", 3*time.Minute))

	g2 := s.Groups("c1")
	require.Len(t, g2, 2)
	assert.Equal(t, []string{"a", "a2", "b"}, ids(g2[0].Messages))
	assert.Equal(t, []string{"c", "d"}, ids(g2[1].Messages))

	// earlier result is unaffected by later mutation
	assert.Equal(t, []string{"a", "b"}, ids(g[0].Messages))
}

func TestStore_GroupsReturnsCopies(t *testing.T) {
	s := newTestStore(20)
	s.AppendLive(msg("a", "u1", 0))
	s.AppendLive(msg("b", "u1", time.Minute))

	g := s.Groups("c1")
	require.Len(t, g, 1)
	g[0].Messages[0].Body = "edited"
	g[0].Messages = g[0].Messages[:1]
	g[0].SenderID = "mallory"

	again := s.Groups("c1")
	require.Len(t, again, 1)
	assert.Equal(t, "u1", again[0].SenderID)
	assert.Equal(t, []string{"a", "b"}, ids(again[0].Messages))
	assert.NotEqual(t, "edited", again[0].Messages[0].Body)
}

func TestStore_IDs(t *testing.T) {
	s := newTestStore(20)
	s.GetOrCreate("b", "")
	s.GetOrCreate("a", "")
	assert.Equal(t, []string{"a", "b"}, s.IDs())
}
