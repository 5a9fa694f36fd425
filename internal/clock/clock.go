// Package clock abstracts the timers the pipeline depends on so the flush
// interval and the session grace period can be driven deterministically in
// tests. Production code uses Real(); tests use Fake().
package clock

import "time"

// Clock is the subset of the time package the pipeline uses.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time

	// AfterFunc calls f in its own goroutine (real) or synchronously
	// during Advance (fake) once d has elapsed.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker delivers ticks on C every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stop func() bool
}

// Stop cancels the call. Returns false if it already fired or was stopped.
func (t *Timer) Stop() bool { return t.stop() }

// Ticker delivers periodic ticks. C has capacity 1; late ticks are dropped.
type Ticker struct {
	C <-chan time.Time

	stop  func()
	reset func(time.Duration)
}

// Stop turns the ticker off without closing C.
func (t *Ticker) Stop() { t.stop() }

// Reset restarts the tick cycle with interval d, measured from now.
func (t *Ticker) Reset(d time.Duration) { t.reset(d) }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

// Now strips the monotonic reading: durations across a system sleep must
// include the time spent asleep.
func (realClock) Now() time.Time { return time.Now().Round(0) }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stop: t.Stop}
}

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stop: t.Stop, reset: t.Reset}
}
