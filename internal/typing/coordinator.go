// Package typing implements the typing indicator protocol: a debounced local
// start/stop signal and the set of remote users currently typing.
package typing

import (
	"fmt"
	"sync"
	"time"
)

// DefaultQuietWindow is how long input must pause before "stopped typing"
// is sent.
const DefaultQuietWindow = time.Second

// EmitFunc sends a typing notification. It must not block.
type EmitFunc func(isTyping bool, name string)

// Coordinator owns the local stop timer and the remote typist set. Its
// methods may be called from the session and from timer callbacks.
type Coordinator struct {
	mu     sync.Mutex
	sched  Scheduler
	window time.Duration
	emit   EmitFunc

	active bool
	name   string
	timer  Timer
	gen    uint64

	remote []string // ordered by when they started
}

// New returns a coordinator. A non-positive window uses DefaultQuietWindow.
func New(sched Scheduler, window time.Duration, emit EmitFunc) *Coordinator {
	if window <= 0 {
		window = DefaultQuietWindow
	}
	return &Coordinator{sched: sched, window: window, emit: emit}
}

// SetQuietWindow changes the window for timers armed from now on.
func (c *Coordinator) SetQuietWindow(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.window = d
	c.mu.Unlock()
}

// InputChanged records a local keystroke. Nothing happens unless connected
// and name is set. The first input of a burst emits a start; every input
// re-arms the stop timer. It reports whether a start was emitted.
func (c *Coordinator) InputChanged(connected bool, name string) bool {
	if !connected || name == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	started := false
	if !c.active || c.name != name {
		c.active = true
		c.name = name
		c.emit(true, name)
		started = true
	}

	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.timer = c.sched.AfterFunc(c.window, func() { c.fire(gen) })
	return started
}

func (c *Coordinator) fire(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || !c.active {
		return
	}
	c.active = false
	c.timer = nil
	c.emit(false, c.name)
}

// Cancel disarms the stop timer without emitting. A timer that already fired
// but has not yet taken the lock is discarded.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.active = false
}

// Active reports whether a start has been sent without a matching stop.
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// SetRemote records a typing notification from another user. It reports
// whether the typist set changed.
func (c *Coordinator) SetRemote(name string, isTyping bool) bool {
	if name == "" {
		return false
	}
	if !isTyping {
		return c.ClearRemote(name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.remote {
		if n == name {
			return false
		}
	}
	c.remote = append(c.remote, name)
	return true
}

// ClearRemote removes name from the typist set.
func (c *Coordinator) ClearRemote(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, n := range c.remote {
		if n == name {
			c.remote = append(c.remote[:i], c.remote[i+1:]...)
			return true
		}
	}
	return false
}

// Typists returns the remote users currently typing, oldest first.
func (c *Coordinator) Typists() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.remote))
	copy(out, c.remote)
	return out
}

// Text renders the indicator line, or "" when nobody is typing.
func (c *Coordinator) Text() string {
	return Describe(c.Typists())
}

// Describe renders an indicator line for names.
func Describe(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing..."
	case 2:
		return names[0] + " and " + names[1] + " are typing..."
	default:
		return fmt.Sprintf("%d people are typing...", len(names))
	}
}

// Reset cancels the local timer and forgets every remote typist.
func (c *Coordinator) Reset() {
	c.Cancel()
	c.mu.Lock()
	c.remote = nil
	c.name = ""
	c.mu.Unlock()
}
