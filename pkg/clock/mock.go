package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// MockClock is a Clock implementation for testing that allows manual time control.
type MockClock struct {
	mu      sync.RWMutex
	current time.Time
	tickers []*mockTicker
}

// NewMock returns a new MockClock set to the given time.
func NewMock(t time.Time) *MockClock {
	return &MockClock{current: t}
}

// Now returns the mock's current time.
func (c *MockClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Since returns the time elapsed since t.
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Set sets the mock clock's time. Setting an earlier time is allowed so tests
// can simulate wall-clock adjustments.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
	c.fireTickers()
}

// Add advances the mock clock by the given duration.
func (c *MockClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	c.fireTickers()
}

// fireTickers delivers a tick on every ticker whose deadline has passed.
// Must be called with mu held.
func (c *MockClock) fireTickers() {
	for _, t := range c.tickers {
		if t.stopped.Load() {
			continue
		}
		for !c.current.Before(t.next) {
			select {
			case t.ch <- c.current:
			default:
			}
			t.next = t.next.Add(t.interval)
		}
	}
}

// NewTicker returns a new mock Ticker.
func (c *MockClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &mockTicker{
		ch:       make(chan time.Time, 1),
		interval: d,
		next:     c.current.Add(d),
	}
	c.tickers = append(c.tickers, t)
	return t
}

// mockTicker implements Ticker for testing.
type mockTicker struct {
	ch       chan time.Time
	interval time.Duration
	next     time.Time
	stopped  atomic.Bool
}

func (t *mockTicker) C() <-chan time.Time {
	return t.ch
}

func (t *mockTicker) Stop() {
	t.stopped.Store(true)
}

func (t *mockTicker) Reset(d time.Duration) {
	t.interval = d
	t.stopped.Store(false)
}
