// Package hooks is the event bus through which a session notifies its UI
// collaborators of state changes.
package hooks

import (
	"context"
	"slices"
	"sync"

	"github.com/soyeahso/minichat/internal/logging"
)

// Event names published by a session.
const (
	EventConnectionState     = "connection_state"
	EventMessageApplied      = "message_applied"
	EventTyping              = "typing"
	EventReadUpdated         = "read_updated"
	EventNotificationUpdated = "notification_updated"
	EventWindowChanged       = "window_changed"
	EventHistoryLoaded       = "history_loaded"
	EventSessionStart        = "session_start"
	EventSessionEnd          = "session_end"
)

// AllEvents lists all known hook event names.
var AllEvents = []string{
	EventConnectionState,
	EventMessageApplied,
	EventTyping,
	EventReadUpdated,
	EventNotificationUpdated,
	EventWindowChanged,
	EventHistoryLoaded,
	EventSessionStart,
	EventSessionEnd,
}

// wildcard registers a handler for every event.
const wildcard = "*"

// Payload carries event data to hook handlers.
type Payload struct {
	Event          string         `json:"event"`
	ConversationID string         `json:"conversationId,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

// Handler is a function that handles a hook event.
// Returning an error logs the failure but does not stop processing.
type Handler func(ctx context.Context, p Payload) error

// Manager manages hook registrations and dispatches events.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	log      *logging.Logger
}

type namedHandler struct {
	name    string
	handler Handler
}

// NewManager creates a hook manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]namedHandler),
		log:      log.Sub("hooks"),
	}
}

// On registers a handler for the given event.
// The name identifies the handler for logging and debugging.
func (m *Manager) On(event, name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], namedHandler{name: name, handler: handler})
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// OnAll registers a handler that receives every event after the
// event-specific handlers have run.
func (m *Manager) OnAll(name string, handler Handler) {
	m.On(wildcard, name, handler)
}

// Off removes all handlers with the given name from the event.
func (m *Manager) Off(event, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[event] = slices.DeleteFunc(m.handlers[event], func(h namedHandler) bool {
		return h.name == name
	})
}

// Emit dispatches an event to all registered handlers synchronously.
// Handlers are called in registration order. Errors are logged but do not
// prevent subsequent handlers from running.
func (m *Manager) Emit(ctx context.Context, p Payload) {
	for _, h := range m.snapshot(p.Event) {
		if err := h.handler(ctx, p); err != nil {
			m.log.Warn().
				Err(err).
				Str("event", p.Event).
				Str("handler", h.name).
				Msg("hook handler error")
		}
	}
}

func (m *Manager) snapshot(event string) []namedHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]namedHandler, 0, len(m.handlers[event])+len(m.handlers[wildcard]))
	out = append(out, m.handlers[event]...)
	return append(out, m.handlers[wildcard]...)
}
