// Package clock provides a time abstraction for testability.
package clock

import (
	"sync"
	"time"
)

// Clock is an interface for time operations, allowing for easy mocking in tests.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// Since returns the time elapsed since t.
	Since(t time.Time) time.Duration
	// NewTicker returns a new Ticker.
	NewTicker(d time.Duration) Ticker
}

// Ticker wraps time.Ticker for mockability.
type Ticker interface {
	C() <-chan time.Time
	Stop()
	Reset(d time.Duration)
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

// New returns a new RealClock.
func New() Clock {
	return &RealClock{}
}

// Now returns the current time.
func (c *RealClock) Now() time.Time {
	return time.Now()
}

// Since returns the time elapsed since t.
func (c *RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// NewTicker returns a new Ticker.
func (c *RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

// realTicker wraps time.Ticker.
type realTicker struct {
	ticker *time.Ticker
}

func (t *realTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t *realTicker) Stop() {
	t.ticker.Stop()
}

func (t *realTicker) Reset(d time.Duration) {
	t.ticker.Reset(d)
}

// Monotonic wraps a Clock so that Now never moves backwards.
// A wall-clock step back (NTP correction, manual adjustment) is absorbed by
// returning the latest instant already handed out until real time catches up.
type Monotonic struct {
	Clock

	mu   sync.Mutex
	last time.Time
}

// NewMonotonic returns a Monotonic view over c.
func NewMonotonic(c Clock) *Monotonic {
	return &Monotonic{Clock: c}
}

// Now returns max(previous Now, underlying Now), with the monotonic reading stripped.
func (m *Monotonic) Now() time.Time {
	now := m.Clock.Now().Round(0)

	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Before(m.last) {
		return m.last
	}
	m.last = now
	return now
}

// Latest returns the latest of the given instants, or the zero time when none are set.
func Latest(ts ...time.Time) time.Time {
	var latest time.Time
	for _, t := range ts {
		if t.After(latest) {
			latest = t
		}
	}
	return latest
}
