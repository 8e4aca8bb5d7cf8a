package clock

import "time"

// Clock abstracts time for components that schedule work, so tests can
// drive scans without real sleeps.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
	Since(t time.Time) time.Duration
}

// Ticker mirrors the subset of time.Ticker the monitors use.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

// New returns a Clock backed by the system time.
func New() Clock {
	return realClock{}
}

func (realClock) Now() time.Time                  { return time.Now() }
func (realClock) Since(t time.Time) time.Duration { return time.Since(t) }

func (realClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (rt *realTicker) C() <-chan time.Time { return rt.t.C }
func (rt *realTicker) Stop()               { rt.t.Stop() }
