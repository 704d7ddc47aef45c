package journal

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cortexuvula/roomchat/internal/protocol"
)

func TestJournalBasic(t *testing.T) {
	j := New(5)
	if j.Len() != 0 || j.Cap() != 5 {
		t.Fatalf("Len/Cap = %d/%d", j.Len(), j.Cap())
	}

	j.Add(Record{Direction: Inbound, Event: "a"})
	j.Add(Record{Direction: Outbound, Event: "b"})

	got := j.Recent(0, "", time.Time{})
	if len(got) != 2 {
		t.Fatalf("Recent() returned %d, want 2", len(got))
	}
	if got[0].Event != "b" || got[1].Event != "a" {
		t.Errorf("order = %s, %s; want newest first", got[0].Event, got[1].Event)
	}
	if got[0].Time.IsZero() {
		t.Error("Add should stamp a zero time")
	}
}

func TestJournalWrap(t *testing.T) {
	j := New(3)
	for _, e := range []string{"a", "b", "c", "d", "e"} {
		j.Add(Record{Event: e})
	}
	if j.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", j.Len())
	}
	got := j.Recent(0, "", time.Time{})
	want := []string{"e", "d", "c"}
	for i, w := range want {
		if got[i].Event != w {
			t.Errorf("got[%d] = %q, want %q", i, got[i].Event, w)
		}
	}
}

func TestJournalFilters(t *testing.T) {
	j := New(10)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	j.Add(Record{Time: base, Direction: Inbound, Event: "old"})
	j.Add(Record{Time: base.Add(time.Minute), Direction: Outbound, Event: "sent"})
	j.Add(Record{Time: base.Add(2 * time.Minute), Direction: Inbound, Event: "new"})

	if got := j.Recent(0, Inbound, time.Time{}); len(got) != 2 {
		t.Errorf("inbound filter returned %d", len(got))
	}
	if got := j.Recent(0, "", base.Add(30*time.Second)); len(got) != 2 {
		t.Errorf("since filter returned %d", len(got))
	}
	if got := j.Recent(1, "", time.Time{}); len(got) != 1 || got[0].Event != "new" {
		t.Errorf("limit returned %+v", got)
	}
}

func TestTap(t *testing.T) {
	j := New(10)
	var seen []string
	h := j.Tap(func(ev protocol.Event) { seen = append(seen, ev.Name) })

	h(protocol.Event{Name: protocol.EventMessage, Data: json.RawMessage(`{"name":"a"}`)})
	h(protocol.Event{Name: protocol.EventConnectError, Err: errors.New("refused")})

	if len(seen) != 2 {
		t.Fatalf("next called %d times", len(seen))
	}
	got := j.Recent(0, "", time.Time{})
	if got[0].Direction != Lifecycle || got[0].Error != "refused" {
		t.Errorf("lifecycle record = %+v", got[0])
	}
	if got[1].Direction != Inbound || got[1].Size != 12 {
		t.Errorf("inbound record = %+v", got[1])
	}
}

type stubEmitter struct{ err error }

func (s stubEmitter) Emit(string, any) error { return s.err }

func TestWrap(t *testing.T) {
	j := New(10)
	ok := j.Wrap(stubEmitter{})
	bad := j.Wrap(stubEmitter{err: errors.New("queue full")})

	if err := ok.Emit(protocol.EventJoin, nil); err != nil {
		t.Fatal(err)
	}
	if err := bad.Emit(protocol.EventTyping, nil); err == nil {
		t.Fatal("error not propagated")
	}
	got := j.Recent(0, Outbound, time.Time{})
	if len(got) != 2 || got[0].Error != "queue full" || got[1].Error != "" {
		t.Errorf("records = %+v", got)
	}
	if err := j.Wrap(nil).Emit("x", nil); err == nil {
		t.Error("nil emitter should report an error")
	}
}

func TestJournalConcurrent(t *testing.T) {
	j := New(50)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < 100; k++ {
				j.Add(Record{Event: "x"})
				j.Recent(5, "", time.Time{})
			}
		}()
	}
	wg.Wait()
	if j.Len() != 50 {
		t.Errorf("Len() = %d, want 50", j.Len())
	}
}
