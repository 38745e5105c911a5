package transport

import (
	"encoding/json"
	"fmt"

	"github.com/soyeahso/minichat/internal/domain"
)

// Frame is the envelope for every real-time message on the socket.
// Type carries the event kind tag; Payload is decoded by the stream processor.
type Frame struct {
	Type    domain.EventKind `json:"type"`
	ID      string           `json:"id,omitempty"`
	Seq     int64            `json:"seq,omitempty"`
	Payload json.RawMessage  `json:"payload,omitempty"`
}

// NewFrame creates a frame of the given kind with a JSON-encoded payload.
func NewFrame(kind domain.EventKind, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encoding %s payload: %w", kind, err)
	}
	return Frame{Type: kind, Payload: raw}, nil
}

// ParseFrame decodes a raw socket message into a Frame.
// A frame without a type tag is rejected.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("parsing frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("parsing frame: missing type")
	}
	return f, nil
}
