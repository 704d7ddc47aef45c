package session

import (
	"time"

	"github.com/cortexuvula/roomchat/internal/lifecycle"
	"github.com/cortexuvula/roomchat/internal/presence"
	"github.com/cortexuvula/roomchat/internal/stream"
	"github.com/cortexuvula/roomchat/internal/typing"
)

// View is a point-in-time copy of the session for renderers.
type View struct {
	Identity string          `json:"identity,omitempty"`
	InRoom   bool            `json:"inRoom"`
	Status   lifecycle.State `json:"status"`
	Presence presence.View   `json:"presence"`
	Entries  []Entry         `json:"entries"`
	Typing   string          `json:"typing,omitempty"`
	Typists  []string        `json:"typists,omitempty"`
}

// Entry is one transcript row. Notice rows have no author.
type Entry struct {
	ID     string    `json:"id"`
	Notice bool      `json:"notice,omitempty"`
	Author string    `json:"author,omitempty"`
	Body   string    `json:"body"`
	Self   bool      `json:"self,omitempty"`
	At     time.Time `json:"at"`
}

func (s *Session) viewLocked() View {
	typists := s.typing.Typists()
	v := View{
		Identity: s.identity,
		InRoom:   s.identity != "",
		Status:   s.machine.State(),
		Presence: s.presence.Snapshot(s.identity),
		Typing:   typing.Describe(typists),
		Typists:  typists,
	}
	entries := s.stream.Entries()
	v.Entries = make([]Entry, 0, len(entries))
	for _, e := range entries {
		switch e := e.(type) {
		case stream.Message:
			v.Entries = append(v.Entries, Entry{
				ID:     e.ID,
				Author: e.Author,
				Body:   e.Body,
				Self:   s.identity != "" && e.Author == s.identity,
				At:     e.ReceivedAt,
			})
		case stream.Notice:
			v.Entries = append(v.Entries, Entry{
				ID:     e.ID,
				Notice: true,
				Body:   e.Text,
				At:     e.ReceivedAt,
			})
		}
	}
	return v
}
