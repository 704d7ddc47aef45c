// Package stream holds the ordered chat transcript: messages from the relay
// interleaved with local system notices.
package stream

import (
	"time"

	"github.com/google/uuid"
)

// Entry is either a Message or a Notice.
type Entry interface {
	EntryID() string
	Time() time.Time
	isEntry()
}

// Message is a chat message delivered by the relay.
type Message struct {
	ID         string
	Author     string
	Body       string
	ReceivedAt time.Time
}

func (m Message) EntryID() string { return m.ID }
func (m Message) Time() time.Time { return m.ReceivedAt }
func (Message) isEntry()          {}

// Notice is a local annotation such as "carol joined the chat". Notices are
// never sent to or received from the relay.
type Notice struct {
	ID         string
	Text       string
	ReceivedAt time.Time
}

func (n Notice) EntryID() string { return n.ID }
func (n Notice) Time() time.Time { return n.ReceivedAt }
func (Notice) isEntry()          {}

// Stream is the transcript. It is not safe for concurrent use.
type Stream struct {
	entries []Entry
	now     func() time.Time
}

// New returns an empty stream. now stamps entries that arrive without a
// receive time; nil means time.Now.
func New(now func() time.Time) *Stream {
	if now == nil {
		now = time.Now
	}
	return &Stream{now: now}
}

// ReplaceAll makes the stream equal to history, dropping every prior entry
// including notices. Messages whose author and body match the entry already
// at the same position keep that entry's ID and receive time, so replacing
// with an identical history is not observable.
func (s *Stream) ReplaceAll(history []Message) {
	next := make([]Entry, 0, len(history))
	for i, m := range history {
		if i < len(s.entries) {
			if prev, ok := s.entries[i].(Message); ok && prev.Author == m.Author && prev.Body == m.Body {
				next = append(next, prev)
				continue
			}
		}
		next = append(next, s.stamp(m))
	}
	s.entries = next
}

// Append adds a message at the end and returns it as stored.
func (s *Stream) Append(m Message) Message {
	m = s.stamp(m)
	s.entries = append(s.entries, m)
	return m
}

// AppendNotice adds a local notice at the end and returns it.
func (s *Stream) AppendNotice(text string) Notice {
	n := Notice{ID: uuid.NewString(), Text: text, ReceivedAt: s.now()}
	s.entries = append(s.entries, n)
	return n
}

// Entries returns a copy of the transcript in order.
func (s *Stream) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of entries.
func (s *Stream) Len() int { return len(s.entries) }

// Reset empties the stream.
func (s *Stream) Reset() { s.entries = nil }

func (s *Stream) stamp(m Message) Message {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = s.now()
	}
	return m
}
