// Package clock provides the time source used by wait timeouts. The active
// clock is process-wide and can be swapped for tests.
package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock is a monotonic time source with a blocking sleep.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// System is the wall clock.
var System Clock = systemClock{}

type holder struct{ c Clock }

var active atomic.Pointer[holder]

// Current returns the active clock.
func Current() Clock {
	if h := active.Load(); h != nil {
		return h.c
	}
	return System
}

// Override installs c for every goroutine until the returned restore func
// runs. Overrides nest; restore reinstates whatever was active before.
func Override(c Clock) (restore func()) {
	prev := active.Swap(&holder{c: c})
	return func() { active.Store(prev) }
}

// Use overrides the clock for the lifetime of a test.
func Use(tb interface{ Cleanup(func()) }, c Clock) {
	tb.Cleanup(Override(c))
}

// Manual is a clock that only moves when slept or advanced.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	sleeps int
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Sleep(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.sleeps++
	m.mu.Unlock()
}

func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Sleeps reports how many times Sleep was called.
func (m *Manual) Sleeps() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sleeps
}
