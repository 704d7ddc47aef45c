package lifecycle

// Notices shown to the user on lifecycle transitions.
const (
	NoticeConnectError    = "Unable to connect to the chat server, retrying..."
	NoticeDisconnected    = "Disconnected from the chat server"
	NoticeReconnecting    = "Reconnecting..."
	NoticeReconnected     = "Reconnected"
	NoticeReconnectFailed = "Unable to reconnect. Reload to try again."
)

// Transition is the outcome of one Handle call.
type Transition struct {
	From   State
	To     State
	Notice string // empty when nothing should be shown
	Resync bool   // true on every entry into Connected
}

// Changed reports whether the state moved.
func (t Transition) Changed() bool { return t.From != t.To }

// Machine is the connection lifecycle state machine. It is not safe for
// concurrent use; the owning session serializes calls.
type Machine struct {
	state             State
	connectErrorShown bool
	reconnectingShown bool
}

// New returns a machine in the Disconnected state.
func New() *Machine {
	return &Machine{state: Disconnected}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Handle applies ev. Events that do not apply to the current state are
// absorbed without a state change or notice.
func (m *Machine) Handle(ev Event) Transition {
	t := Transition{From: m.state, To: m.state}

	switch ev {
	case Open:
		if m.state == Disconnected {
			t.To = Connecting
		}

	case ConnectedEvent, Reconnected:
		if ev == Reconnected && m.state == Reconnecting {
			t.Notice = NoticeReconnected
		}
		t.To = Connected
		t.Resync = true
		m.connectErrorShown = false
		m.reconnectingShown = false

	case ConnectError:
		if (m.state == Connecting || m.state == Reconnecting || m.state == Disconnected) && !m.connectErrorShown {
			t.Notice = NoticeConnectError
			m.connectErrorShown = true
		}
		if m.state == Disconnected {
			t.To = Connecting
		}

	case DisconnectedEvent:
		if m.state == Connected {
			t.To = Reconnecting
			t.Notice = NoticeDisconnected
		}

	case ReconnectAttempt:
		if m.state == Connected {
			// attempt without a preceding disconnect
			t.To = Reconnecting
		}
		if (t.To == Reconnecting) && !m.reconnectingShown {
			t.Notice = NoticeReconnecting
			m.reconnectingShown = true
		}

	case ReconnectFailed:
		if m.state == Reconnecting {
			t.To = Failed
			t.Notice = NoticeReconnectFailed
		}
	}

	m.state = t.To
	return t
}

// ClearNotices re-arms the once-per-episode notices. The state is kept
// because it mirrors the live connection.
func (m *Machine) ClearNotices() {
	m.connectErrorShown = false
	m.reconnectingShown = false
}
