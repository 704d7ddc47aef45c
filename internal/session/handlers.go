package session

import (
	"github.com/cortexuvula/roomchat/internal/lifecycle"
	"github.com/cortexuvula/roomchat/internal/protocol"
	"github.com/cortexuvula/roomchat/internal/stream"
)

func (s *Session) dispatchTable() map[string]handlerFunc {
	lc := func(ev lifecycle.Event) handlerFunc {
		return func(e protocol.Event) bool { return s.onLifecycle(ev, e) }
	}
	return map[string]handlerFunc{
		protocol.EventConnect:          lc(lifecycle.ConnectedEvent),
		protocol.EventDisconnect:       lc(lifecycle.DisconnectedEvent),
		protocol.EventConnectError:     lc(lifecycle.ConnectError),
		protocol.EventReconnectAttempt: lc(lifecycle.ReconnectAttempt),
		protocol.EventReconnect:        lc(lifecycle.Reconnected),
		protocol.EventReconnectFailed:  lc(lifecycle.ReconnectFailed),

		protocol.EventJoin:            s.onUsers,
		protocol.EventMessage:         s.onMessage,
		protocol.EventFindAllMessages: s.onHistory,
		protocol.EventUserJoined:      s.onUserJoined,
		protocol.EventUserLeft:        s.onUserLeft,
		protocol.EventTyping:          s.onTyping,
	}
}

func (s *Session) onLifecycle(ev lifecycle.Event, e protocol.Event) bool {
	tr := s.machine.Handle(ev)
	if tr.Changed() {
		s.logger.Info("connection state changed", "from", tr.From, "to", tr.To, "event", e.Name)
	}
	if e.Err != nil {
		s.logger.Debug("transport error", "event", e.Name, "attempt", e.Attempt, "error", e.Err)
	}
	if tr.Notice != "" {
		s.stream.AppendNotice(tr.Notice)
	}
	if tr.From == lifecycle.Connected && tr.To != lifecycle.Connected {
		s.typing.Cancel()
	}
	if tr.Resync {
		s.resync()
	}
	s.recordState()
	s.recordCounts()
	return tr.Changed() || tr.Notice != "" || tr.Resync
}

// resync refetches history and, when identified, rejoins so the relay's
// presence snapshot supersedes whatever was collected before.
func (s *Session) resync() {
	s.send(protocol.EventFindAllMessages, nil)
	s.historyStale = false
	if s.identity == "" {
		return
	}
	if s.send(protocol.EventJoin, protocol.NamePayload{Name: s.identity}) {
		s.beginResync()
	}
}

func (s *Session) onUsers(e protocol.Event) bool {
	names, skipped, ok := protocol.DecodeUsers(e.Data)
	if !ok {
		s.malformed(e.Name, e.Data)
		return false
	}
	if skipped > 0 {
		s.logger.Warn("skipped invalid users in presence snapshot", "skipped", skipped)
	}
	s.stopResyncTimer()
	s.presence.ReplaceAll(names)
	s.recordCounts()
	return true
}

func (s *Session) onMessage(e protocol.Event) bool {
	m, ok := protocol.DecodeMessage(e.Data)
	if !ok {
		s.malformed(e.Name, e.Data)
		return false
	}
	s.stream.Append(stream.Message{Author: m.Name, Body: m.Message})
	s.recordCounts()
	return true
}

func (s *Session) onHistory(e protocol.Event) bool {
	msgs, skipped, ok := protocol.DecodeMessages(e.Data)
	if !ok {
		s.malformed(e.Name, e.Data)
		return false
	}
	if skipped > 0 {
		s.logger.Warn("skipped invalid messages in history", "skipped", skipped)
	}
	history := make([]stream.Message, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, stream.Message{Author: m.Name, Body: m.Message})
	}
	s.stream.ReplaceAll(history)
	s.recordCounts()
	return true
}

func (s *Session) onUserJoined(e protocol.Event) bool {
	name, ok := protocol.DecodeName(e.Data)
	if !ok {
		s.malformed(e.Name, e.Data)
		return false
	}
	added := s.presence.Add(name)
	if added && name != s.identity {
		s.stream.AppendNotice(name + " joined the chat")
	}
	s.recordCounts()
	return added
}

func (s *Session) onUserLeft(e protocol.Event) bool {
	name, ok := protocol.DecodeName(e.Data)
	if !ok {
		s.malformed(e.Name, e.Data)
		return false
	}
	removed := s.presence.Remove(name)
	cleared := s.typing.ClearRemote(name)
	if removed && name != s.identity {
		s.stream.AppendNotice(name + " left the chat")
	}
	s.recordCounts()
	return removed || cleared
}

func (s *Session) onTyping(e protocol.Event) bool {
	p, ok := protocol.DecodeTyping(e.Data)
	if !ok {
		s.malformed(e.Name, e.Data)
		return false
	}
	if p.Name == s.identity {
		return false
	}
	return s.typing.SetRemote(p.Name, p.IsTyping)
}
