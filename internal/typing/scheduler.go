package typing

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// ClockScheduler adapts a clock.Clock. Production code uses clock.New();
// tests pass a *clock.Mock and advance it.
type ClockScheduler struct {
	Clock clock.Clock
}

// NewScheduler returns a scheduler on the wall clock.
func NewScheduler() ClockScheduler {
	return ClockScheduler{Clock: clock.New()}
}

func (s ClockScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return s.Clock.AfterFunc(d, f)
}
