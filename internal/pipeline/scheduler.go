package pipeline

import (
	"strings"
	"sync"
	"time"

	"github.com/DevEngageLab/mtpush-sdk/internal/clock"
	"github.com/DevEngageLab/mtpush-sdk/internal/types"
)

// reason is a bit set of flush triggers.
type reason uint8

const (
	reasonInterval reason = 1 << iota
	reasonCapacity
	reasonSessionEnd
	reasonExplicit
	reasonShutdown
)

func (r reason) String() string {
	var parts []string
	for _, n := range []struct {
		bit  reason
		name string
	}{
		{reasonInterval, "interval"},
		{reasonCapacity, "capacity"},
		{reasonSessionEnd, "session_end"},
		{reasonExplicit, "explicit"},
		{reasonShutdown, "shutdown"},
	} {
		if r&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "+")
}

// trigger is everything requested since the last cycle started. Requests
// arriving while a cycle is running accumulate here and are served by one
// follow-up cycle.
type trigger struct {
	reasons reason
	// ended is the first session that ended since the last cycle.
	ended   types.SessionID
	waiters []chan struct{}
}

// scheduler owns flush timing. One goroutine runs every cycle, so at most
// one upload is in flight.
type scheduler struct {
	clock  clock.Clock
	ticker *clock.Ticker
	cycle  func(trigger)

	mu       sync.Mutex
	pending  trigger
	interval time.Duration
	retimed  bool
	stopped  bool

	notify chan struct{}
	stop   chan struct{}
	done   chan struct{}
}

// newScheduler arms the interval ticker before returning so a test clock
// sees it immediately, then starts the loop.
func newScheduler(clk clock.Clock, interval time.Duration, cycle func(trigger)) *scheduler {
	s := &scheduler{
		clock:    clk,
		ticker:   clk.NewTicker(interval),
		cycle:    cycle,
		interval: interval,
		notify:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

// request records a trigger. It never blocks.
func (s *scheduler) request(r reason, ended types.SessionID, waiter chan struct{}) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	s.pending.reasons |= r
	if ended != "" && s.pending.ended == "" {
		s.pending.ended = ended
	}
	if waiter != nil {
		s.pending.waiters = append(s.pending.waiters, waiter)
	}
	s.mu.Unlock()
	s.wake()
	return true
}

// setInterval changes the tick period, measured from the next loop pass.
func (s *scheduler) setInterval(d time.Duration) {
	s.mu.Lock()
	s.interval = d
	s.retimed = true
	s.mu.Unlock()
	s.wake()
}

func (s *scheduler) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *scheduler) take() (trigger, time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.pending
	s.pending = trigger{}
	retimed := s.retimed
	s.retimed = false
	return t, s.interval, retimed
}

func (s *scheduler) run() {
	defer close(s.done)
	defer s.ticker.Stop()

	for {
		var tick bool
		select {
		case <-s.stop:
			return
		case <-s.ticker.C:
			tick = true
		case <-s.notify:
		}

		t, interval, retimed := s.take()
		if retimed {
			s.restart(interval)
		}
		if tick {
			t.reasons |= reasonInterval
		}
		if t.reasons == 0 {
			continue
		}
		s.cycle(t)
		if t.reasons&reasonInterval == 0 && !retimed {
			// Any flush restarts the interval.
			s.restart(interval)
		}
	}
}

// restart re-arms the ticker and discards a tick that became stale.
func (s *scheduler) restart(d time.Duration) {
	s.ticker.Reset(d)
	select {
	case <-s.ticker.C:
	default:
	}
}

// shutdown stops the loop after the in-flight cycle, then returns the
// requests that never got a cycle.
func (s *scheduler) shutdown() trigger {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		<-s.done
		return trigger{}
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.stop)
	<-s.done
	t, _, _ := s.take()
	return t
}
