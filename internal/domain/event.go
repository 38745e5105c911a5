package domain

import (
	"encoding/json"
	"fmt"
)

// EventKind tags a real-time event frame.
type EventKind string

const (
	EventMessage      EventKind = "MESSAGE"
	EventTyping       EventKind = "TYPING"
	EventRead         EventKind = "READ"
	EventNotification EventKind = "NOTIFICATION"
)

// Event is the closed set of decoded real-time payloads.
type Event interface {
	Kind() EventKind
}

// MessageEvent carries a new or redelivered chat message.
type MessageEvent struct {
	Message Message
}

// TypingEvent reports that a participant is typing.
type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
}

// ReadEvent moves a reader's watermark in a conversation.
type ReadEvent struct {
	ConversationID string    `json:"conversationId"`
	ReaderID       string    `json:"readerId"`
	Watermark      Timestamp `json:"watermark"`
}

// NotificationEvent is one actor acting on one reference.
type NotificationEvent struct {
	Type        NotificationType `json:"type"`
	ActorID     string           `json:"actorId"`
	ActorName   string           `json:"actorName,omitempty"`
	ReferenceID string           `json:"referenceId"`
	OccurredAt  Timestamp        `json:"occurredAt,omitempty"`
}

func (MessageEvent) Kind() EventKind      { return EventMessage }
func (TypingEvent) Kind() EventKind       { return EventTyping }
func (ReadEvent) Kind() EventKind         { return EventRead }
func (NotificationEvent) Kind() EventKind { return EventNotification }

// DecodeEvent decodes a raw payload for the given kind.
func DecodeEvent(kind EventKind, raw json.RawMessage) (Event, error) {
	switch kind {
	case EventMessage:
		var m Message
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		if m.ID == "" || m.ConversationID == "" {
			return nil, fmt.Errorf("decode %s: missing id or conversationId", kind)
		}
		if m.Type == "" {
			m.Type = MessageTypeText
		}
		if !m.Type.Valid() {
			return nil, fmt.Errorf("decode %s: unknown message type %q", kind, m.Type)
		}
		return MessageEvent{Message: m}, nil

	case EventTyping:
		var e TypingEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		if e.ConversationID == "" || e.SenderID == "" {
			return nil, fmt.Errorf("decode %s: missing conversationId or senderId", kind)
		}
		return e, nil

	case EventRead:
		var e ReadEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		if e.ConversationID == "" || e.Watermark.IsZero() {
			return nil, fmt.Errorf("decode %s: missing conversationId or watermark", kind)
		}
		return e, nil

	case EventNotification:
		var e NotificationEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		if !e.Type.Valid() {
			return nil, fmt.Errorf("decode %s: unknown notification type %q", kind, e.Type)
		}
		return e, nil
	}
	return nil, fmt.Errorf("decode: unknown event kind %q", kind)
}
