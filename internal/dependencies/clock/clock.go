package clock

import "time"

// Clock is the source of server time for placements, reconnect backoff and
// periodic work
type Clock interface {
	// Now returns the current time in UTC
	Now() time.Time

	// After waits for the duration to elapse and then sends the current time
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a ticker firing every d
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers ticks on C until stopped
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock implements Clock using the system clock
type RealClock struct{}

// New creates a new RealClock
func New() *RealClock {
	return &RealClock{}
}

// Now returns the current system time in UTC
func (c *RealClock) Now() time.Time {
	return time.Now().UTC()
}

// After delegates to time.After
func (c *RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// NewTicker wraps time.NewTicker
func (c *RealClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }

func (r realTicker) Stop() { r.t.Stop() }
