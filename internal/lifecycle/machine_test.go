package lifecycle

import "testing"

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{Disconnected, "disconnected"},
		{Connecting, "connecting"},
		{Connected, "connected"},
		{Reconnecting, "reconnecting"},
		{Failed, "failed"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestInitialConnect(t *testing.T) {
	m := New()
	if m.State() != Disconnected {
		t.Fatalf("initial state = %v", m.State())
	}

	tr := m.Handle(Open)
	if tr.To != Connecting || tr.Notice != "" {
		t.Errorf("Open: %+v", tr)
	}

	tr = m.Handle(ConnectedEvent)
	if tr.From != Connecting || tr.To != Connected {
		t.Errorf("connect: %+v", tr)
	}
	if !tr.Resync {
		t.Error("entering Connected should request a resync")
	}
	if tr.Notice != "" {
		t.Errorf("initial connect notice = %q, want none", tr.Notice)
	}
}

func TestConnectErrorShownOnce(t *testing.T) {
	m := New()
	m.Handle(Open)

	var notices []string
	for i := 0; i < 3; i++ {
		tr := m.Handle(ConnectError)
		if tr.To != Connecting {
			t.Fatalf("connect_error moved state to %v", tr.To)
		}
		if tr.Notice != "" {
			notices = append(notices, tr.Notice)
		}
	}
	if len(notices) != 1 || notices[0] != NoticeConnectError {
		t.Fatalf("notices = %v, want exactly one connect error notice", notices)
	}

	// The flag resets only once Connected is reached.
	m.Handle(ConnectedEvent)
	m.Handle(DisconnectedEvent)
	if tr := m.Handle(ConnectError); tr.Notice != NoticeConnectError {
		t.Errorf("connect_error after reconnect cycle notice = %q, want shown again", tr.Notice)
	}
	if m.State() != Reconnecting {
		t.Errorf("connect_error while reconnecting changed state to %v", m.State())
	}
}

func TestDisconnectAndReconnect(t *testing.T) {
	m := New()
	m.Handle(Open)
	m.Handle(ConnectedEvent)

	tr := m.Handle(DisconnectedEvent)
	if tr.To != Reconnecting || tr.Notice != NoticeDisconnected {
		t.Fatalf("disconnect: %+v", tr)
	}

	tr = m.Handle(ReconnectAttempt)
	if tr.Notice != NoticeReconnecting {
		t.Errorf("first attempt notice = %q", tr.Notice)
	}
	for i := 0; i < 4; i++ {
		if tr := m.Handle(ReconnectAttempt); tr.Notice != "" {
			t.Errorf("attempt %d notice = %q, want none", i+2, tr.Notice)
		}
	}

	tr = m.Handle(Reconnected)
	if tr.To != Connected || tr.Notice != NoticeReconnected || !tr.Resync {
		t.Errorf("reconnect: %+v", tr)
	}

	// Second outage shows the reconnecting notice again.
	m.Handle(DisconnectedEvent)
	if tr := m.Handle(ReconnectAttempt); tr.Notice != NoticeReconnecting {
		t.Errorf("second outage attempt notice = %q", tr.Notice)
	}
}

func TestReconnectFailed(t *testing.T) {
	m := New()
	m.Handle(Open)
	m.Handle(ConnectedEvent)
	m.Handle(DisconnectedEvent)
	m.Handle(ReconnectAttempt)

	tr := m.Handle(ReconnectFailed)
	if tr.To != Failed || tr.Notice != NoticeReconnectFailed {
		t.Fatalf("reconnect_failed: %+v", tr)
	}

	// Events that do not apply are absorbed.
	for _, ev := range []Event{DisconnectedEvent, ReconnectFailed, ReconnectAttempt, Open} {
		tr := m.Handle(ev)
		if tr.Changed() || tr.Notice != "" {
			t.Errorf("%v in Failed: %+v", ev, tr)
		}
	}
}

func TestReconnectFailedOnlyFromReconnecting(t *testing.T) {
	m := New()
	m.Handle(Open)
	m.Handle(ConnectedEvent)
	if tr := m.Handle(ReconnectFailed); tr.Changed() || tr.Notice != "" {
		t.Errorf("reconnect_failed while connected: %+v", tr)
	}
}

func TestResyncOnEveryEntryToConnected(t *testing.T) {
	m := New()
	m.Handle(Open)

	entries := 0
	seq := []Event{ConnectedEvent, DisconnectedEvent, Reconnected, DisconnectedEvent, ReconnectFailed, ConnectedEvent}
	for _, ev := range seq {
		if tr := m.Handle(ev); tr.Resync {
			entries++
		}
	}
	if entries != 3 {
		t.Errorf("resync count = %d, want 3", entries)
	}
	if m.State() != Connected {
		t.Errorf("connect from Failed should reach Connected, got %v", m.State())
	}
}

func TestClearNotices(t *testing.T) {
	m := New()
	m.Handle(Open)
	m.Handle(ConnectError)
	m.ClearNotices()
	if m.State() != Connecting {
		t.Errorf("state after ClearNotices = %v, want Connecting", m.State())
	}
	if tr := m.Handle(ConnectError); tr.Notice != NoticeConnectError {
		t.Error("ClearNotices should re-arm the connect error notice")
	}
}
