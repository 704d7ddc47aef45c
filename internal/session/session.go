// Package session is the client engine facade. It owns the identity and the
// connection, presence, stream and typing state, applies transport events
// through a dispatch table, and exposes the result as a View snapshot.
package session

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cortexuvula/roomchat/internal/identity"
	"github.com/cortexuvula/roomchat/internal/lifecycle"
	"github.com/cortexuvula/roomchat/internal/metrics"
	"github.com/cortexuvula/roomchat/internal/presence"
	"github.com/cortexuvula/roomchat/internal/protocol"
	"github.com/cortexuvula/roomchat/internal/stream"
	"github.com/cortexuvula/roomchat/internal/typing"
)

// DefaultResyncTimeout bounds how long presence changes are held back waiting
// for the relay's snapshot after a join.
const DefaultResyncTimeout = 3 * time.Second

// Emitter sends an event to the relay. Emit must not block.
type Emitter interface {
	Emit(event string, payload any) error
}

// Options configures a Session. Only Emitter is required.
type Options struct {
	Emitter     Emitter
	Store       identity.Store
	Scheduler   typing.Scheduler
	QuietWindow time.Duration
	// ResyncTimeout defaults to DefaultResyncTimeout.
	ResyncTimeout time.Duration
	Now           func() time.Time
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

type handlerFunc func(ev protocol.Event) bool

// Session is safe for concurrent use. Every entry point takes the same lock
// so transport callbacks, timer callbacks and user actions apply one at a
// time.
type Session struct {
	mu sync.Mutex

	emitter Emitter
	store   identity.Store
	logger  *slog.Logger
	metrics *metrics.Metrics

	machine  *lifecycle.Machine
	presence *presence.Registry
	stream   *stream.Stream
	typing   *typing.Coordinator

	sched         typing.Scheduler
	resyncTimeout time.Duration
	resyncTimer   typing.Timer
	resyncGen     uint64

	identity     string
	historyStale bool
	closed       bool

	handlers  map[string]handlerFunc
	listeners []func(View)
}

// New builds a session in the Disconnected, pre-login state.
func New(opts Options) *Session {
	s := &Session{
		emitter:  opts.Emitter,
		store:    opts.Store,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		machine:  lifecycle.New(),
		presence: presence.New(),
		stream:   stream.New(opts.Now),
	}
	if s.store == nil {
		s.store = identity.NewMemoryStore()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.sched = opts.Scheduler
	if s.sched == nil {
		s.sched = typing.NewScheduler()
	}
	s.resyncTimeout = opts.ResyncTimeout
	if s.resyncTimeout <= 0 {
		s.resyncTimeout = DefaultResyncTimeout
	}
	s.typing = typing.New(s.sched, opts.QuietWindow, s.emitTyping)
	s.handlers = s.dispatchTable()
	return s
}

// OnUpdate registers fn to receive a View after every change. Listeners run
// outside the session lock and may call back into the session.
func (s *Session) OnUpdate(fn func(View)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Open marks the connection as being established. Call it before starting
// the transport.
func (s *Session) Open() {
	s.mu.Lock()
	tr := s.machine.Handle(lifecycle.Open)
	s.recordState()
	s.mu.Unlock()
	if tr.Changed() {
		s.notify()
	}
}

// Login sets the identity and joins the room. It rejects an empty name and
// a second login while already in the room under another name.
func (s *Session) Login(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if s.identity != "" {
		same := s.identity == name
		s.mu.Unlock()
		return same
	}
	s.identity = name
	if err := s.store.Save(name); err != nil {
		s.logger.Warn("failed to persist identity", "error", err)
	}
	if s.historyStale {
		s.send(protocol.EventFindAllMessages, nil)
		s.historyStale = false
	}
	if s.send(protocol.EventJoin, protocol.NamePayload{Name: name}) {
		s.beginResync()
	}
	s.logger.Info("logged in", "name", name)
	s.mu.Unlock()

	s.notify()
	return true
}

// Restore resumes a persisted identity. The join carries the bare name.
func (s *Session) Restore() bool {
	s.mu.Lock()
	if s.closed || s.identity != "" {
		s.mu.Unlock()
		return false
	}
	name, ok, err := s.store.Load()
	if err != nil {
		s.logger.Warn("failed to load identity", "error", err)
	}
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		s.mu.Unlock()
		return false
	}
	s.identity = name
	if s.send(protocol.EventJoin, name) {
		s.beginResync()
	}
	s.logger.Info("restored identity", "name", name)
	s.mu.Unlock()

	s.notify()
	return true
}

// Logout leaves the room, forgets the identity and clears presence, stream
// and typing state. The connection state itself is left alone.
func (s *Session) Logout() {
	s.mu.Lock()
	changed := s.logoutLocked()
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

func (s *Session) logoutLocked() bool {
	if s.identity == "" {
		return false
	}
	name := s.identity
	// The stop timer must be dead before leave goes out.
	s.typing.Reset()
	s.send(protocol.EventLeave, protocol.NamePayload{Name: name})
	if err := s.store.Clear(); err != nil {
		s.logger.Warn("failed to clear identity", "error", err)
	}
	s.identity = ""
	s.stopResyncTimer()
	s.presence.Reset()
	s.stream.Reset()
	s.machine.ClearNotices()
	s.historyStale = true
	s.recordCounts()
	s.logger.Info("logged out", "name", name)
	return true
}

// SendMessage asks the relay to broadcast body. The message appears in the
// stream when the relay echoes it back.
func (s *Session) SendMessage(body string) bool {
	body = strings.TrimSpace(body)
	if body == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.identity == "" {
		return false
	}
	return s.send(protocol.EventCreateMessage, protocol.CreateMessagePayload{Message: body, Name: s.identity})
}

// InputChanged reports a local keystroke for the typing indicator.
func (s *Session) InputChanged() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.typing.InputChanged(s.machine.State() == lifecycle.Connected, s.identity)
}

// SetQuietWindow changes the typing debounce window.
func (s *Session) SetQuietWindow(d time.Duration) {
	s.typing.SetQuietWindow(d)
}

// Close logs out and stops accepting operations. It does not close the
// transport; callers close it afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	changed := s.logoutLocked()
	s.typing.Cancel()
	s.stopResyncTimer()
	s.closed = true
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// Handle applies one transport event.
func (s *Session) Handle(ev protocol.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	h, ok := s.handlers[ev.Name]
	changed := false
	if ok {
		changed = h(ev)
	} else {
		s.logger.Debug("ignoring unhandled event", "event", ev.Name)
	}
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// View returns the current snapshot.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) send(event string, payload any) bool {
	if s.emitter == nil {
		return false
	}
	if err := s.emitter.Emit(event, payload); err != nil {
		s.logger.Debug("emit failed", "event", event, "error", err)
		return false
	}
	return true
}

// beginResync holds presence changes until the relay's snapshot arrives. A
// relay that never answers join with a snapshot releases them after
// resyncTimeout.
func (s *Session) beginResync() {
	s.presence.BeginResync()
	s.stopResyncTimer()
	gen := s.resyncGen
	s.resyncTimer = s.sched.AfterFunc(s.resyncTimeout, func() { s.resyncExpired(gen) })
}

func (s *Session) stopResyncTimer() {
	s.resyncGen++
	if s.resyncTimer != nil {
		s.resyncTimer.Stop()
		s.resyncTimer = nil
	}
}

func (s *Session) resyncExpired(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.resyncGen {
		s.mu.Unlock()
		return
	}
	s.resyncTimer = nil
	flushed := s.presence.Flush()
	if flushed {
		s.logger.Debug("presence snapshot not received, applying buffered changes")
		s.recordCounts()
	}
	s.mu.Unlock()
	if flushed {
		s.notify()
	}
}

func (s *Session) emitTyping(isTyping bool, name string) {
	s.send(protocol.EventTyping, protocol.TypingPayload{IsTyping: isTyping, Name: name})
}

func (s *Session) notify() {
	s.mu.Lock()
	if len(s.listeners) == 0 {
		s.mu.Unlock()
		return
	}
	v := s.viewLocked()
	listeners := make([]func(View), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(v)
	}
}

func (s *Session) recordState() {
	if s.metrics != nil {
		s.metrics.ConnectionState.Set(float64(s.machine.State()))
	}
}

func (s *Session) recordCounts() {
	if s.metrics == nil {
		return
	}
	s.metrics.UsersOnline.Set(float64(len(s.presence.Snapshot(s.identity).Users)))
	s.metrics.StreamEntries.Set(float64(s.stream.Len()))
}

func (s *Session) malformed(event string, data []byte) {
	s.logger.Warn("dropping malformed payload", "event", event, "data", string(data))
	if s.metrics != nil {
		s.metrics.MalformedPayloads.WithLabelValues(event).Inc()
	}
}
