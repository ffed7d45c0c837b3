package mocks

import (
	"sync"
	"time"

	"github.com/mcoot/pxcanvas/internal/dependencies/clock"
)

// MockClock is a manually driven Clock. It is safe for concurrent use.
type MockClock struct {
	mu      sync.Mutex
	current time.Time
	waits   []time.Duration
	tickers []*MockTicker
}

// Ensure MockClock implements Clock
var _ clock.Clock = (*MockClock)(nil)

// NewMockClock creates a MockClock set to the given time
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{current: t}
}

// Now returns the mocked current time
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After advances the clock by d and fires immediately
func (c *MockClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.waits = append(c.waits, d)
	now := c.current
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// Advance moves the clock forward by the given duration
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Set sets the clock to the given time
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// Waits returns the durations passed to After, in call order
func (c *MockClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

// NewTicker returns a ticker that fires only when Tick is called
func (c *MockClock) NewTicker(d time.Duration) clock.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &MockTicker{Period: d, clock: c, ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

// Tick fires every running ticker once, without advancing the clock.
// A tick is dropped for a ticker that has not consumed its previous one.
func (c *MockClock) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tickers {
		if t.stopped {
			continue
		}
		select {
		case t.ch <- c.current:
		default:
		}
	}
}

// Tickers returns the number of running tickers with the given period
func (c *MockClock) Tickers(period time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tickers {
		if !t.stopped && t.Period == period {
			n++
		}
	}
	return n
}

// MockTicker is a Ticker driven by MockClock.Tick
type MockTicker struct {
	Period  time.Duration
	clock   *MockClock
	ch      chan time.Time
	stopped bool
}

// C returns the tick channel
func (t *MockTicker) C() <-chan time.Time {
	return t.ch
}

// Stop stops the ticker
func (t *MockTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.stopped = true
}
