// Package lifecycle tracks the relay connection state and turns transport
// lifecycle events into user-visible notices.
package lifecycle

// State is the connection state seen by the session.
type State int

const (
	// Disconnected means no connection has been attempted yet.
	Disconnected State = iota

	// Connecting means the first connection is being established.
	Connecting

	// Connected means the relay is reachable and the room is usable.
	Connected

	// Reconnecting means the connection dropped and the transport is retrying.
	Reconnecting

	// Failed means reconnection gave up. Only a new session leaves it.
	Failed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Event is a lifecycle input to the machine.
type Event int

const (
	// Open is sent before the transport starts dialing.
	Open Event = iota

	// ConnectedEvent reports a successful connection.
	ConnectedEvent

	// ConnectError reports a failed dial, initial or during reconnection.
	ConnectError

	// DisconnectedEvent reports that an established connection dropped.
	DisconnectedEvent

	// ReconnectAttempt reports that the transport is dialing again.
	ReconnectAttempt

	// Reconnected reports that a reconnection succeeded.
	Reconnected

	// ReconnectFailed reports that reconnection attempts are exhausted.
	ReconnectFailed
)

// String returns the transport event name the event corresponds to.
func (e Event) String() string {
	switch e {
	case Open:
		return "open"
	case ConnectedEvent:
		return "connect"
	case ConnectError:
		return "connect_error"
	case DisconnectedEvent:
		return "disconnect"
	case ReconnectAttempt:
		return "reconnect_attempt"
	case Reconnected:
		return "reconnect"
	case ReconnectFailed:
		return "reconnect_failed"
	default:
		return "unknown"
	}
}
