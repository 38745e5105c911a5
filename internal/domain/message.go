package domain

import "strings"

// MessageType is the closed set of chat message kinds.
type MessageType string

const (
	MessageTypeText  MessageType = "TEXT"
	MessageTypeImage MessageType = "IMAGE"
	MessageTypeFile  MessageType = "FILE"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile:
		return true
	}
	return false
}

// ConversationType classifies a conversation.
type ConversationType string

const (
	ConversationPrivate ConversationType = "private"
	ConversationGroup   ConversationType = "group"
)

// AIChatID is the reserved pseudo-conversation backed by the assistant.
// It can be opened like any other conversation but has no server history.
const AIChatID = "AI_CHAT"

// Message is a single chat message in a conversation.
type Message struct {
	ID             string      `json:"id" validate:"required"`
	ConversationID string      `json:"conversationId" validate:"required"`
	SenderID       string      `json:"senderId" validate:"required"`
	Type           MessageType `json:"type" validate:"oneof=TEXT IMAGE FILE"`
	Body           string      `json:"body"`
	CreatedAt      Timestamp   `json:"createdAt"`
	ClientNonce    string      `json:"clientNonce,omitempty"`
}

// CompareMessages orders messages by (CreatedAt, ID).
func CompareMessages(a, b Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// Less reports whether m sorts before o.
func (m Message) Less(o Message) bool {
	return CompareMessages(m, o) < 0
}
