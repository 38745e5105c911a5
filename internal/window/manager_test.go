package window

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/soyeahso/minichat/internal/domain"
	"github.com/soyeahso/minichat/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	m := New(Config{MaxOpen: 3, Width: 300, Height: 400, Gap: 10}, logging.New(nil, "silent"), WithClock(mock))
	return m, mock
}

func openIDs(m *Manager) []string {
	var ids []string
	for _, s := range m.Slots() {
		ids = append(ids, s.ConversationID)
	}
	return ids
}

func TestManager_EvictsLeastRecentlyInteracted(t *testing.T) {
	m, mock := newTestManager(t)

	for _, id := range []string{"A", "B", "C"} {
		m.Open(id)
		mock.Add(time.Second)
	}
	assert.True(t, m.Focus("A"))
	mock.Add(time.Second)
	m.Open("D")

	assert.Equal(t, []string{"D", "A", "C"}, openIDs(m))
	assert.False(t, m.IsOpen("B"))
	for i, s := range m.Slots() {
		assert.Equal(t, i, s.Position)
	}
}

func TestManager_NeverExceedsCapacity(t *testing.T) {
	m, mock := newTestManager(t)
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "a", "g"} {
		m.Open(id)
		mock.Add(time.Millisecond)
		assert.LessOrEqual(t, len(m.Slots()), 3)
	}
	assert.Equal(t, []string{"g", "a", "f"}, openIDs(m))
}

func TestManager_TieBreakEvictsGreatestID(t *testing.T) {
	m, _ := newTestManager(t)

	// clock never advances so every interaction ties
	m.Open("b")
	m.Open("c")
	m.Open("a")
	assert.Equal(t, []string{"a", "b", "c"}, openIDs(m))

	m.Open("d")
	assert.Equal(t, []string{"a", "b", "d"}, openIDs(m))
	assert.False(t, m.IsOpen("c"))
}

func TestManager_Geometry(t *testing.T) {
	m, mock := newTestManager(t)
	m.Open("x")
	mock.Add(time.Second)
	m.Open("y")

	slots := m.Slots()
	require.Len(t, slots, 2)
	assert.Equal(t, "y", slots[0].ConversationID)
	assert.Equal(t, 0, slots[0].X)
	assert.Equal(t, 310, slots[1].X)
	for _, s := range slots {
		assert.Equal(t, 300, s.Width)
		assert.Equal(t, 400, s.Height)
		assert.Equal(t, 0, s.Y)
	}
}

func TestManager_CloseCompactsPositions(t *testing.T) {
	m, mock := newTestManager(t)
	for _, id := range []string{"A", "B", "C"} {
		m.Open(id)
		mock.Add(time.Second)
	}

	assert.True(t, m.Close("B"))
	assert.False(t, m.Close("B"))

	slots := m.Slots()
	require.Len(t, slots, 2)
	assert.Equal(t, "C", slots[0].ConversationID)
	assert.Equal(t, "A", slots[1].ConversationID)
	assert.Equal(t, 1, slots[1].Position)
	assert.Equal(t, 310, slots[1].X)
}

func TestManager_ReopenFocusesWithoutDuplicating(t *testing.T) {
	m, mock := newTestManager(t)
	m.Open("A")
	mock.Add(time.Second)
	m.Open("B")
	mock.Add(time.Second)

	s := m.Open("A")
	assert.Equal(t, 0, s.Position)
	assert.True(t, s.Focused)
	assert.Len(t, m.Slots(), 2)
	assert.Equal(t, "A", m.Focused())
}

func TestManager_FocusUnknown(t *testing.T) {
	m, _ := newTestManager(t)
	assert.False(t, m.Focus("nope"))
}

func TestManager_ClosingFocusedClearsFocus(t *testing.T) {
	m, _ := newTestManager(t)
	m.Open("A")
	m.Close("A")
	assert.Equal(t, "", m.Focused())
}

func TestManager_DeliverBumpsUnreadOnUnfocused(t *testing.T) {
	m, mock := newTestManager(t)
	m.Open("A")
	mock.Add(time.Second)
	m.Open("B")

	msg := func(conv, sender string) domain.Message {
		return domain.Message{ID: "m", ConversationID: conv, SenderID: sender}
	}

	assert.True(t, m.Deliver(msg("A", "u2"), "me"))
	assert.True(t, m.Deliver(msg("A", "u2"), "me"))
	assert.False(t, m.Deliver(msg("B", "u2"), "me"), "focused window")
	assert.False(t, m.Deliver(msg("A", "me"), "me"), "own message")
	assert.False(t, m.Deliver(msg("Z", "u2"), "me"), "closed window")

	slots := m.Slots()
	assert.Equal(t, 0, slots[0].Unread)
	assert.Equal(t, 2, slots[1].Unread)

	m.Focus("A")
	for _, s := range m.Slots() {
		if s.ConversationID == "A" {
			assert.Equal(t, 0, s.Unread)
			assert.True(t, s.Focused)
		}
	}
}

func TestManager_TypingExpires(t *testing.T) {
	m, mock := newTestManager(t)

	m.Typing("A", "u2", mock.Now())
	mock.Add(2 * time.Second)
	m.Typing("A", "u1", mock.Now())

	assert.Equal(t, []string{"u1", "u2"}, m.ActiveTypers("A"))

	mock.Add(3 * time.Second)
	assert.Equal(t, []string{"u1"}, m.ActiveTypers("A"))

	mock.Add(3 * time.Second)
	assert.Empty(t, m.ActiveTypers("A"))
	assert.Empty(t, m.ActiveTypers("unknown"))
}

func TestManager_MessageClearsTyping(t *testing.T) {
	m, mock := newTestManager(t)
	m.Typing("A", "u2", mock.Now())
	m.Deliver(domain.Message{ID: "m1", ConversationID: "A", SenderID: "u2"}, "me")
	assert.Empty(t, m.ActiveTypers("A"))
}

func TestManager_ReadWatermarkIsMonotonic(t *testing.T) {
	m, _ := newTestManager(t)
	t1 := domain.NewTimestamp(time.UnixMilli(1_000))
	t2 := domain.NewTimestamp(time.UnixMilli(2_000))

	assert.True(t, m.Read("A", "u2", t2))
	assert.False(t, m.Read("A", "u2", t1))
	assert.False(t, m.Read("A", "u2", t2))
	assert.True(t, m.LastRead("A", "u2").Equal(t2))
	assert.True(t, m.LastRead("A", "nobody").IsZero())
}

func TestManager_AssistantChatOpensLikeAnyOther(t *testing.T) {
	m, _ := newTestManager(t)
	s := m.Open(domain.AIChatID)
	assert.Equal(t, domain.AIChatID, s.ConversationID)
	assert.True(t, m.IsOpen(domain.AIChatID))
}
