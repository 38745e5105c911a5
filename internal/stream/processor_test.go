package stream

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/soyeahso/minichat/internal/conversation"
	"github.com/soyeahso/minichat/internal/domain"
	"github.com/soyeahso/minichat/internal/logging"
	"github.com/soyeahso/minichat/internal/notify"
	"github.com/soyeahso/minichat/internal/transport"
	"github.com/soyeahso/minichat/internal/window"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	p       *Processor
	store   *conversation.Store
	windows *window.Manager
	notes   *notify.Aggregator
	clock   *clock.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logging.New(nil, "silent")
	mock := clock.NewMock()
	mock.Set(base)

	f := &fixture{
		store:   conversation.NewStore(conversation.Config{}, log),
		windows: window.New(window.Config{}, log, window.WithClock(mock)),
		notes:   notify.New(notify.Config{}, log, notify.WithClock(mock)),
		clock:   mock,
	}
	f.p = New(Config{}, f.store, f.windows, f.notes, log, WithClock(mock))
	f.p.SetSelfID("me")
	return f
}

func frame(t *testing.T, kind domain.EventKind, payload any) transport.Frame {
	t.Helper()
	fr, err := transport.NewFrame(kind, payload)
	require.NoError(t, err)
	return fr
}

func message(id, body string, at time.Duration) domain.Message {
	return domain.Message{
		ID:             id,
		ConversationID: "c1",
		SenderID:       "u2",
		Type:           domain.MessageTypeText,
		Body:           body,
		CreatedAt:      domain.NewTimestamp(base.Add(at)),
	}
}

func ids(msgs []domain.Message) []string {
	var out []string
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestProcessor_AppliesMessage(t *testing.T) {
	f := newFixture(t)

	res := f.p.Process(frame(t, domain.EventMessage, message("m1", "hi", 0)))
	assert.True(t, res.Applied)
	assert.False(t, res.Duplicate)
	assert.Equal(t, "c1", res.ConversationID)
	require.NotNil(t, res.Message)
	assert.Equal(t, "m1", res.Message.ID)
	assert.Equal(t, []string{"m1"}, ids(f.store.Messages("c1")))
}

func TestProcessor_DuplicateKeepsFirstCopy(t *testing.T) {
	for _, order := range [][]string{{"first", "second"}, {"second", "first"}} {
		t.Run(order[0]+"-then-"+order[1], func(t *testing.T) {
			f := newFixture(t)

			r1 := f.p.Process(frame(t, domain.EventMessage, message("m1", order[0], 0)))
			r2 := f.p.Process(frame(t, domain.EventMessage, message("m1", order[1], 0)))

			assert.True(t, r1.Applied)
			assert.True(t, r2.Duplicate)
			assert.False(t, r2.Applied)

			got := f.store.Messages("c1")
			require.Len(t, got, 1)
			assert.Equal(t, order[0], got[0].Body)
		})
	}
}

func TestProcessor_OutOfOrderArrivalIsSorted(t *testing.T) {
	f := newFixture(t)

	for _, m := range []domain.Message{
		message("m3", "", 3*time.Second),
		message("m1", "", time.Second),
		message("m2", "", 2*time.Second),
	} {
		f.p.Process(frame(t, domain.EventMessage, m))
	}
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(f.store.Messages("c1")))
}

func TestProcessor_NonceEchoWithinWindowIsAbsorbed(t *testing.T) {
	f := newFixture(t)

	local := message("local-1", "hello", 0)
	local.SenderID = "me"
	local.ClientNonce = "nonce-1"
	require.True(t, f.p.ApplyLocal(local).Applied)

	f.clock.Add(4 * time.Second)
	echo := message("srv-1", "hello", 0)
	echo.SenderID = "me"
	echo.ClientNonce = "nonce-1"
	res := f.p.Process(frame(t, domain.EventMessage, echo))

	assert.True(t, res.Duplicate)
	assert.Equal(t, []string{"local-1"}, ids(f.store.Messages("c1")))
}

func TestProcessor_NonceOutsideWindowIsApplied(t *testing.T) {
	f := newFixture(t)

	first := message("m1", "x", 0)
	first.ClientNonce = "n"
	f.p.Process(frame(t, domain.EventMessage, first))

	f.clock.Add(6 * time.Second)
	second := message("m2", "x", time.Second)
	second.ClientNonce = "n"
	res := f.p.Process(frame(t, domain.EventMessage, second))

	assert.True(t, res.Applied)
	assert.Len(t, f.store.Messages("c1"), 2)
}

func TestProcessor_NonceRefreshedAfterExpiry(t *testing.T) {
	f := newFixture(t)

	m1 := message("m1", "", 0)
	m1.ClientNonce = "n"
	f.p.Process(frame(t, domain.EventMessage, m1))
	f.clock.Add(6 * time.Second)

	m2 := message("m2", "", time.Second)
	m2.ClientNonce = "n"
	f.p.Process(frame(t, domain.EventMessage, m2))

	f.clock.Add(2 * time.Second)
	m3 := message("m3", "", 2*time.Second)
	m3.ClientNonce = "n"
	assert.True(t, f.p.Process(frame(t, domain.EventMessage, m3)).Duplicate)
}

func TestProcessor_MessageBumpsUnreadOnUnfocusedWindow(t *testing.T) {
	f := newFixture(t)
	f.windows.Open("c1")
	f.clock.Add(time.Second)
	f.windows.Open("c2")

	f.p.Process(frame(t, domain.EventMessage, message("m1", "", 0)))

	for _, s := range f.windows.Slots() {
		if s.ConversationID == "c1" {
			assert.Equal(t, 1, s.Unread)
		}
	}
}

func TestProcessor_TypingIsTransient(t *testing.T) {
	f := newFixture(t)

	res := f.p.Process(frame(t, domain.EventTyping, domain.TypingEvent{ConversationID: "c1", SenderID: "u2"}))
	assert.True(t, res.Applied)
	assert.Equal(t, []string{"u2"}, f.windows.ActiveTypers("c1"))
	assert.Empty(t, f.store.Messages("c1"))

	// own typing echoes are ignored
	res = f.p.Process(frame(t, domain.EventTyping, domain.TypingEvent{ConversationID: "c1", SenderID: "me"}))
	assert.False(t, res.Applied)

	f.clock.Add(5 * time.Second)
	assert.Empty(t, f.windows.ActiveTypers("c1"))
}

func TestProcessor_ReadWatermarkIsMonotonic(t *testing.T) {
	f := newFixture(t)
	late := domain.NewTimestamp(base.Add(time.Minute))
	early := domain.NewTimestamp(base)

	res := f.p.Process(frame(t, domain.EventRead, domain.ReadEvent{ConversationID: "c1", ReaderID: "me", Watermark: late}))
	assert.True(t, res.Applied)

	res = f.p.Process(frame(t, domain.EventRead, domain.ReadEvent{ConversationID: "c1", ReaderID: "me", Watermark: early}))
	assert.False(t, res.Applied)
	assert.True(t, f.store.ReadUpTo("c1").Equal(late))

	// another reader updates the window indicator only
	res = f.p.Process(frame(t, domain.EventRead, domain.ReadEvent{ConversationID: "c1", ReaderID: "u2", Watermark: early}))
	assert.True(t, res.Applied)
	assert.Equal(t, "u2", res.ReaderID)
	assert.True(t, res.Watermark.Equal(early))
	assert.True(t, f.windows.LastRead("c1", "u2").Equal(early))
	assert.True(t, f.store.ReadUpTo("c1").Equal(late))

	res = f.p.Process(frame(t, domain.EventRead, domain.ReadEvent{ConversationID: "c1", ReaderID: "u2", Watermark: early}))
	assert.False(t, res.Applied, "repeated receipt")
}

func TestProcessor_NotificationForwarded(t *testing.T) {
	f := newFixture(t)

	ev := domain.NotificationEvent{Type: domain.NotificationLikePost, ActorID: "u2", ReferenceID: "p1"}
	res := f.p.Process(frame(t, domain.EventNotification, ev))
	require.True(t, res.Applied)
	require.NotNil(t, res.Notification)
	assert.Equal(t, 1, f.notes.UnreadCount())
}

func TestProcessor_UndecodableFrameDropped(t *testing.T) {
	f := newFixture(t)

	tests := []transport.Frame{
		{Type: domain.EventMessage, Payload: json.RawMessage(`{"id":""}`)},
		{Type: domain.EventMessage, Payload: json.RawMessage(`{"id":"x","conversationId":"c1","type":"VIDEO"}`)},
		{Type: domain.EventTyping, Payload: json.RawMessage(`[]`)},
		{Type: "PRESENCE", Payload: json.RawMessage(`{}`)},
	}
	for _, fr := range tests {
		res := f.p.Process(fr)
		assert.Error(t, res.Err, string(fr.Payload))
		assert.False(t, res.Applied)
	}
	assert.Empty(t, f.store.IDs())
}
