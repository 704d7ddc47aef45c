// Package protocol defines the relay wire format: named events carried in a
// JSON envelope over WebSocket text frames, plus the normalization boundary
// that coerces inbound payloads into the shapes the session expects.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Outbound events (client -> relay).
const (
	EventJoin            = "join"
	EventLeave           = "leave"
	EventCreateMessage   = "createMessage"
	EventTyping          = "typing"
	EventFindAllMessages = "findAllMessages"
)

// Inbound events (relay -> client). join, typing and findAllMessages are
// shared with the outbound set.
const (
	EventMessage    = "message"
	EventUserJoined = "userJoined"
	EventUserLeft   = "userLeft"
)

// Lifecycle events are produced by the transport, never sent on the wire.
const (
	EventConnect          = "connect"
	EventDisconnect       = "disconnect"
	EventConnectError     = "connect_error"
	EventReconnectAttempt = "reconnect_attempt"
	EventReconnect        = "reconnect"
	EventReconnectFailed  = "reconnect_failed"
)

// Envelope is the frame exchanged in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is a single delivery handed from the transport to the session.
// Err and Attempt are only set on lifecycle events.
type Event struct {
	Name    string
	Data    json.RawMessage
	Err     error
	Attempt int
}

// IsLifecycle reports whether name is a transport lifecycle event.
func IsLifecycle(name string) bool {
	switch name {
	case EventConnect, EventDisconnect, EventConnectError,
		EventReconnectAttempt, EventReconnect, EventReconnectFailed:
		return true
	}
	return false
}

// NamePayload is the {name} object used by join, leave and presence events.
type NamePayload struct {
	Name string `json:"name"`
}

// CreateMessagePayload asks the relay to broadcast a message.
type CreateMessagePayload struct {
	Message string `json:"message"`
	Name    string `json:"name"`
}

// TypingPayload announces that a user started or stopped typing.
type TypingPayload struct {
	IsTyping bool   `json:"isTyping"`
	Name     string `json:"name"`
}

// ChatMessage is a message as delivered by the relay.
type ChatMessage struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Encode builds a frame for event. A nil payload produces an envelope
// without data.
func Encode(event string, payload any) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", event, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// Decode parses a frame into its envelope.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("decoding envelope: missing event name")
	}
	return env, nil
}
