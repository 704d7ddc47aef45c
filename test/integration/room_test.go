//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/cortexuvula/roomchat/internal/config"
	"github.com/cortexuvula/roomchat/internal/health"
	"github.com/cortexuvula/roomchat/internal/journal"
	"github.com/cortexuvula/roomchat/internal/lifecycle"
	"github.com/cortexuvula/roomchat/internal/protocol"
	"github.com/cortexuvula/roomchat/internal/session"
	"github.com/cortexuvula/roomchat/internal/transport"
)

// relay is a minimal in-process room: it tracks joined names, keeps the
// message history and fans events out to every connection.
type relay struct {
	mu      sync.Mutex
	conns   map[*websocket.Conn]string
	history []protocol.ChatMessage
}

func newRelay() *relay {
	return &relay{conns: make(map[*websocket.Conn]string)}
}

func (r *relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	c, err := websocket.Accept(w, req, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	defer c.CloseNow()

	r.mu.Lock()
	r.conns[c] = ""
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		name := r.conns[c]
		delete(r.conns, c)
		r.mu.Unlock()
		if name != "" {
			r.broadcast(nil, protocol.EventUserLeft, name)
		}
	}()

	ctx := req.Context()
	for {
		var env protocol.Envelope
		if err := wsjson.Read(ctx, c, &env); err != nil {
			return
		}
		r.handle(ctx, c, env)
	}
}

func (r *relay) handle(ctx context.Context, c *websocket.Conn, env protocol.Envelope) {
	switch env.Event {
	case protocol.EventJoin:
		name, ok := protocol.DecodeName(env.Data)
		if !ok {
			return
		}
		r.mu.Lock()
		r.conns[c] = name
		users := r.namesLocked()
		r.mu.Unlock()
		r.send(ctx, c, protocol.EventJoin, users)
		r.broadcast(c, protocol.EventUserJoined, protocol.NamePayload{Name: name})

	case protocol.EventLeave:
		r.mu.Lock()
		name := r.conns[c]
		r.conns[c] = ""
		r.mu.Unlock()
		if name != "" {
			r.broadcast(c, protocol.EventUserLeft, name)
		}

	case protocol.EventCreateMessage:
		var p protocol.CreateMessagePayload
		if json.Unmarshal(env.Data, &p) != nil {
			return
		}
		msg := protocol.ChatMessage{Name: p.Name, Message: p.Message}
		r.mu.Lock()
		r.history = append(r.history, msg)
		r.mu.Unlock()
		r.broadcast(nil, protocol.EventMessage, msg)

	case protocol.EventTyping:
		var p protocol.TypingPayload
		if json.Unmarshal(env.Data, &p) != nil {
			return
		}
		r.broadcast(c, protocol.EventTyping, p)

	case protocol.EventFindAllMessages:
		r.mu.Lock()
		history := append([]protocol.ChatMessage{}, r.history...)
		r.mu.Unlock()
		r.send(ctx, c, protocol.EventFindAllMessages, history)
	}
}

func (r *relay) namesLocked() []string {
	var names []string
	for _, n := range r.conns {
		if n != "" {
			names = append(names, n)
		}
	}
	return names
}

func (r *relay) send(ctx context.Context, c *websocket.Conn, event string, payload any) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	c.Write(wctx, websocket.MessageText, frame)
}

// broadcast sends to every connection except skip.
func (r *relay) broadcast(skip *websocket.Conn, event string, payload any) {
	r.mu.Lock()
	targets := make([]*websocket.Conn, 0, len(r.conns))
	for c := range r.conns {
		if c != skip {
			targets = append(targets, c)
		}
	}
	r.mu.Unlock()
	for _, c := range targets {
		r.send(context.Background(), c, event, payload)
	}
}

type client struct {
	sess    *session.Session
	tr      *transport.Client
	journal *journal.Journal
}

func newClient(t *testing.T, url string) *client {
	t.Helper()
	cfg := config.DefaultConfig().Relay
	cfg.URL = url
	cfg.Origin = ""
	cfg.PingInterval = 0
	cfg.MessagesPerSecond = 0
	cfg.ReconnectInterval = 10 * time.Millisecond
	cfg.MaxReconnectDelay = 50 * time.Millisecond

	j := journal.New(100)
	var sess *session.Session
	tr := transport.New(cfg, j.Tap(func(ev protocol.Event) { sess.Handle(ev) }))
	sess = session.New(session.Options{
		Emitter:     j.Wrap(tr),
		QuietWindow: 100 * time.Millisecond,
	})

	c := &client{sess: sess, tr: tr, journal: j}
	t.Cleanup(func() {
		sess.Close()
		tr.Close()
	})
	return c
}

func (c *client) start(t *testing.T, name string) {
	t.Helper()
	c.sess.Open()
	if name != "" {
		c.sess.Login(name)
	}
	c.tr.Start(context.Background())
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func hasMessage(v session.View, author, body string) bool {
	for _, e := range v.Entries {
		if !e.Notice && e.Author == author && e.Body == body {
			return true
		}
	}
	return false
}

func hasNotice(v session.View, text string) bool {
	for _, e := range v.Entries {
		if e.Notice && e.Body == text {
			return true
		}
	}
	return false
}

func TestTwoClientsChat(t *testing.T) {
	srv := httptest.NewServer(newRelay())
	defer srv.Close()

	alice := newClient(t, srv.URL)
	alice.start(t, "alice")
	waitFor(t, "alice connected", func() bool { return alice.sess.View().Status == lifecycle.Connected })
	waitFor(t, "alice presence", func() bool { return alice.sess.View().Presence.Known })

	bob := newClient(t, srv.URL)
	bob.start(t, "bob")
	waitFor(t, "bob connected", func() bool { return bob.sess.View().Status == lifecycle.Connected })

	waitFor(t, "alice sees bob join", func() bool {
		v := alice.sess.View()
		return hasNotice(v, "bob joined the chat") && len(v.Presence.Users) == 1 && v.Presence.Users[0] == "bob"
	})
	waitFor(t, "bob sees alice online", func() bool {
		v := bob.sess.View()
		return len(v.Presence.Users) == 1 && v.Presence.Users[0] == "alice"
	})

	if !alice.sess.SendMessage("hello bob") {
		t.Fatal("SendMessage failed")
	}
	waitFor(t, "bob receives message", func() bool { return hasMessage(bob.sess.View(), "alice", "hello bob") })
	waitFor(t, "alice receives echo", func() bool { return hasMessage(alice.sess.View(), "alice", "hello bob") })

	for _, e := range alice.sess.View().Entries {
		if e.Author == "alice" && !e.Self {
			t.Error("own message should be marked Self")
		}
	}

	// Typing indicator travels to the other client and clears after the
	// quiet window.
	bob.sess.InputChanged()
	waitFor(t, "alice sees bob typing", func() bool { return alice.sess.View().Typing == "bob is typing..." })
	waitFor(t, "typing clears", func() bool { return alice.sess.View().Typing == "" })

	bob.sess.Logout()
	waitFor(t, "alice sees bob leave", func() bool {
		v := alice.sess.View()
		return hasNotice(v, "bob left the chat") && len(v.Presence.Users) == 0
	})

	if alice.journal.Len() == 0 {
		t.Error("journal recorded no traffic")
	}
	out := alice.journal.Recent(0, journal.Outbound, time.Time{})
	var sawCreate bool
	for _, r := range out {
		if r.Event == protocol.EventCreateMessage {
			sawCreate = true
		}
	}
	if !sawCreate {
		t.Errorf("journal missing outbound createMessage: %+v", out)
	}
}

func TestLateJoinerGetsHistory(t *testing.T) {
	srv := httptest.NewServer(newRelay())
	defer srv.Close()

	alice := newClient(t, srv.URL)
	alice.start(t, "alice")
	waitFor(t, "alice joined", func() bool { return alice.sess.View().Presence.Known })
	alice.sess.SendMessage("first")
	alice.sess.SendMessage("second")
	waitFor(t, "echoes", func() bool { return hasMessage(alice.sess.View(), "alice", "second") })

	carol := newClient(t, srv.URL)
	carol.start(t, "")
	waitFor(t, "carol history", func() bool {
		v := carol.sess.View()
		return hasMessage(v, "alice", "first") && hasMessage(v, "alice", "second")
	})
	if carol.sess.View().InRoom {
		t.Error("carol never logged in")
	}
}

func TestReconnectAfterConnectionDrop(t *testing.T) {
	srv := httptest.NewServer(newRelay())
	defer srv.Close()

	alice := newClient(t, srv.URL)
	alice.start(t, "alice")
	waitFor(t, "connected", func() bool {
		v := alice.sess.View()
		return v.Status == lifecycle.Connected && v.Presence.Known
	})

	srv.CloseClientConnections()
	waitFor(t, "reconnected", func() bool {
		v := alice.sess.View()
		return v.Status == lifecycle.Connected &&
			hasNotice(v, lifecycle.NoticeDisconnected) &&
			hasNotice(v, lifecycle.NoticeReconnected)
	})
	// The rejoin after reconnect restores the room membership.
	waitFor(t, "presence resynced", func() bool { return alice.sess.View().Presence.Known })
	if !alice.sess.View().InRoom {
		t.Error("identity should survive a reconnect")
	}
}

func TestHealthReflectsConnection(t *testing.T) {
	srv := httptest.NewServer(newRelay())

	alice := newClient(t, srv.URL)
	h := health.NewHandler(alice.sess, "test", false)

	code := func() int {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		return w.Code
	}

	if code() != http.StatusServiceUnavailable {
		t.Error("health should be degraded before connecting")
	}
	alice.start(t, "alice")
	waitFor(t, "healthy", func() bool { return code() == http.StatusOK })

	srv.CloseClientConnections()
	srv.Close()
	waitFor(t, "degraded", func() bool { return code() == http.StatusServiceUnavailable })
}
