// Package journal keeps a bounded, in-memory record of recent relay traffic
// for the status listener.
package journal

import (
	"errors"
	"sync"
	"time"

	"github.com/cortexuvula/roomchat/internal/protocol"
)

// Direction says where an event came from.
type Direction string

const (
	Inbound   Direction = "in"
	Outbound  Direction = "out"
	Lifecycle Direction = "lifecycle"
)

// Record is one journaled event. Payloads are not kept, only their size.
type Record struct {
	Time      time.Time `json:"time"`
	Direction Direction `json:"direction"`
	Event     string    `json:"event"`
	Size      int       `json:"size,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Journal is a fixed-capacity ring of records. It is safe for concurrent use.
type Journal struct {
	mu      sync.RWMutex
	records []Record
	head    int // next write position
	count   int
	now     func() time.Time
}

// New creates a journal holding up to capacity records.
func New(capacity int) *Journal {
	if capacity <= 0 {
		capacity = 1
	}
	return &Journal{records: make([]Record, capacity), now: time.Now}
}

// Add stores r, overwriting the oldest record when full. A zero Time is
// stamped with the current time.
func (j *Journal) Add(r Record) {
	if r.Time.IsZero() {
		r.Time = j.now()
	}
	j.mu.Lock()
	j.records[j.head] = r
	j.head = (j.head + 1) % len(j.records)
	if j.count < len(j.records) {
		j.count++
	}
	j.mu.Unlock()
}

// Recent returns up to limit records, newest first. An empty dir matches
// every direction; a zero since matches every time.
func (j *Journal) Recent(limit int, dir Direction, since time.Time) []Record {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []Record
	size := len(j.records)
	for i := 0; i < j.count && (limit <= 0 || len(out) < limit); i++ {
		r := j.records[(j.head-1-i+size)%size]
		if dir != "" && r.Direction != dir {
			continue
		}
		if !since.IsZero() && r.Time.Before(since) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Len returns the number of records held.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.count
}

// Cap returns the capacity.
func (j *Journal) Cap() int { return len(j.records) }

// Tap returns a transport handler that journals each event before passing
// it to next.
func (j *Journal) Tap(next func(protocol.Event)) func(protocol.Event) {
	return func(ev protocol.Event) {
		r := Record{Direction: Inbound, Event: ev.Name, Size: len(ev.Data)}
		if protocol.IsLifecycle(ev.Name) {
			r.Direction = Lifecycle
		}
		if ev.Err != nil {
			r.Error = ev.Err.Error()
		}
		j.Add(r)
		next(ev)
	}
}

// Emitter is the outbound side of a transport.
type Emitter interface {
	Emit(event string, payload any) error
}

type tappedEmitter struct {
	j    *Journal
	next Emitter
}

func (t tappedEmitter) Emit(event string, payload any) error {
	err := t.next.Emit(event, payload)
	r := Record{Direction: Outbound, Event: event}
	if err != nil {
		r.Error = err.Error()
	}
	t.j.Add(r)
	return err
}

// Wrap returns an Emitter that journals every outbound event and its
// result.
func (j *Journal) Wrap(next Emitter) Emitter {
	if next == nil {
		return tappedEmitter{j: j, next: nopEmitter{}}
	}
	return tappedEmitter{j: j, next: next}
}

type nopEmitter struct{}

func (nopEmitter) Emit(string, any) error { return errors.New("journal: no emitter") }
