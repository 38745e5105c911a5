package conversation

import (
	"testing"
	"time"

	"github.com/soyeahso/minichat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupMessages(t *testing.T) {
	tests := []struct {
		name   string
		msgs   []domain.Message
		groups [][]string
	}{
		{
			name: "empty",
		},
		{
			name:   "single",
			msgs:   []domain.Message{msg("a", "u1", 0)},
			groups: [][]string{{"a"}},
		},
		{
			name: "same sender within gap",
			msgs: []domain.Message{
				msg("a", "u1", 0),
				msg("b", "u1", 4*time.Minute),
				msg("c", "u1", 9*time.Minute),
			},
			groups: [][]string{{"a", "b", "c"}},
		},
		{
			name: "gap exactly at limit stays grouped",
			msgs: []domain.Message{
				msg("a", "u1", 0),
				msg("b", "u1", 5*time.Minute),
			},
			groups: [][]string{{"a", "b"}},
		},
		{
			name: "gap over limit splits",
			msgs: []domain.Message{
				msg("a", "u1", 0),
				msg("b", "u1", 5*time.Minute+time.Second),
			},
			groups: [][]string{{"a"}, {"b"}},
		},
		{
			name: "sender change splits",
			msgs: []domain.Message{
				msg("a", "u1", 0),
				msg("b", "u2", time.Second),
				msg("c", "u1", 2*time.Second),
			},
			groups: [][]string{{"a"}, {"b"}, {"c"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GroupMessages(tt.msgs, 0)
			require.Len(t, got, len(tt.groups))

			var flat []string
			for i, g := range got {
				assert.Equal(t, tt.groups[i], ids(g.Messages))
				assert.Equal(t, g.Messages[0].SenderID, g.SenderID)
				assert.True(t, g.Start.Equal(g.Messages[0].CreatedAt))
				assert.True(t, g.End.Equal(g.Messages[len(g.Messages)-1].CreatedAt))
				flat = append(flat, ids(g.Messages)...)
			}
			// concatenating the groups reproduces the input
			if len(tt.msgs) > 0 {
				assert.Equal(t, ids(tt.msgs), flat)
			}
		})
	}
}

func TestGroupMessages_CustomGap(t *testing.T) {
	msgs := []domain.Message{msg("a", "u1", 0), msg("b", "u1", 2*time.Second)}
	assert.Len(t, GroupMessages(msgs, time.Second), 2)
	assert.Len(t, GroupMessages(msgs, 3*time.Second), 1)
}

func TestGroupMessages_AppendToGroupDoesNotClobberNext(t *testing.T) {
	msgs := []domain.Message{msg("a", "u1", 0), msg("b", "u2", 0)}
	g := GroupMessages(msgs, 0)
	require.Len(t, g, 2)

	_ = append(g[0].Messages, msg("x", "u1", 0))
	assert.Equal(t, "b", msgs[1].ID)
}
