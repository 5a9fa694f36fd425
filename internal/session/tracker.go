// Package session tracks the activity window events are attributed to.
//
// State machine:
//
//	Ended --activity/foreground--> Active
//	Active --background--> BackgroundGrace   (grace timer armed)
//	BackgroundGrace --foreground--> Active    (same ID, timer cancelled)
//	BackgroundGrace --timer--> Ended          (onEnd called with the ending ID)
//
// All state lives on the tracker's own goroutine. Callers post signals and
// read an atomically published snapshot; they never mutate state inline, so
// a timeout firing cannot race a concurrent foreground transition.
//
// The grace period is wall-clock time, monotonic readings stripped, since
// the monotonic clock stops during system sleep. Before honoring a
// foreground or activity signal in BackgroundGrace the tracker checks how
// long the host has actually been in the background, so a process frozen
// past the timeout (suspend) ends the session even if the timer has not run
// yet. Activity is answered by the tracker goroutine, so the item that
// starts a session carries that session's ID.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/DevEngageLab/mtpush-sdk/internal/clock"
	"github.com/DevEngageLab/mtpush-sdk/internal/types"
)

// State of the current session.
type State int

const (
	StateEnded State = iota
	StateActive
	StateBackgroundGrace
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateBackgroundGrace:
		return "background_grace"
	default:
		return "ended"
	}
}

// Snapshot is a published, read-only view of the tracker.
type Snapshot struct {
	ID             types.SessionID
	State          State
	StartedAt      time.Time
	LastActivityAt time.Time
	// NextID is the ID the next session will take. Callers recording an
	// item while Ended stamp it with NextID.
	NextID types.SessionID
}

// Current returns the ID items recorded now should carry.
func (s Snapshot) Current() types.SessionID {
	if s.State == StateEnded {
		return s.NextID
	}
	return s.ID
}

type signalKind int

const (
	sigActivity signalKind = iota
	sigForeground
	sigBackground
	sigTimer
	sigTimeout
	sigBarrier
)

type signal struct {
	kind       signalKind
	at         time.Time
	generation uint64
	timeout    time.Duration
	done       chan struct{}
	reply      chan types.SessionID
}

// Tracker is the session state machine.
type Tracker struct {
	clock  clock.Clock
	logger zerolog.Logger
	onEnd  func(types.SessionID)

	mu      sync.Mutex
	pending []signal
	notify  chan struct{}
	stop    chan struct{}
	done    chan struct{}
	closed  bool

	snap atomic.Pointer[Snapshot]

	// Owned by run.
	state          Snapshot
	timeout        time.Duration
	backgroundedAt time.Time
	grace          *clock.Timer
	generation     uint64
}

// NewTracker starts a tracker with no session. onEnd runs on the tracker
// goroutine and must not block.
func NewTracker(clk clock.Clock, timeout time.Duration, onEnd func(types.SessionID), logger zerolog.Logger) *Tracker {
	if onEnd == nil {
		onEnd = func(types.SessionID) {}
	}
	t := &Tracker{
		clock:   clk,
		logger:  logger.With().Str("component", "session").Logger(),
		onEnd:   onEnd,
		notify:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		timeout: ClampTimeout(timeout),
		state:   Snapshot{State: StateEnded, NextID: types.NewSessionID()},
	}
	t.publish()
	go t.run()
	return t
}

// ClampTimeout bounds a configured session timeout.
func ClampTimeout(d time.Duration) time.Duration {
	if d < types.MinSessionTimeout {
		return types.MinSessionTimeout
	}
	return d
}

// Snapshot returns the last published state.
func (t *Tracker) Snapshot() Snapshot {
	return *t.snap.Load()
}

// Activity records that an item is being recorded and returns the session
// ID to stamp it with. An item recorded while Ended, or after the grace
// period ran out, starts the next session.
func (t *Tracker) Activity() types.SessionID {
	reply := make(chan types.SessionID, 1)
	if !t.post(signal{kind: sigActivity, at: t.clock.Now(), reply: reply}) {
		return t.Snapshot().Current()
	}
	select {
	case id := <-reply:
		return id
	case <-t.done:
		return t.Snapshot().Current()
	}
}

// Foreground signals a background-to-foreground transition.
func (t *Tracker) Foreground() {
	t.post(signal{kind: sigForeground, at: t.clock.Now()})
}

// Background signals a foreground-to-background transition.
func (t *Tracker) Background() {
	t.post(signal{kind: sigBackground, at: t.clock.Now()})
}

// SetTimeout changes the grace period. A grace timer already running is
// re-armed against the new value.
func (t *Tracker) SetTimeout(d time.Duration) time.Duration {
	d = ClampTimeout(d)
	t.post(signal{kind: sigTimeout, timeout: d})
	return d
}

// Sync blocks until every signal posted before the call is processed.
func (t *Tracker) Sync() {
	done := make(chan struct{})
	if !t.post(signal{kind: sigBarrier, done: done}) {
		return
	}
	select {
	case <-done:
	case <-t.done:
	}
}

// Close stops the tracker goroutine and its timer.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		<-t.done
		return
	}
	t.closed = true
	close(t.stop)
	t.mu.Unlock()
	<-t.done
}

func (t *Tracker) post(s signal) bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	t.pending = append(t.pending, s)
	t.mu.Unlock()

	select {
	case t.notify <- struct{}{}:
	default:
	}
	return true
}

func (t *Tracker) run() {
	defer close(t.done)
	defer func() {
		if t.grace != nil {
			t.grace.Stop()
		}
	}()

	for {
		select {
		case <-t.stop:
			return
		case <-t.notify:
		}

		t.mu.Lock()
		batch := t.pending
		t.pending = nil
		t.mu.Unlock()

		for _, s := range batch {
			t.handle(s)
			if s.reply != nil {
				s.reply <- t.state.ID
			}
		}
		t.publish()
		for _, s := range batch {
			if s.done != nil {
				close(s.done)
			}
		}
	}
}

func (t *Tracker) handle(s signal) {
	now := t.clock.Now()

	switch s.kind {
	case sigActivity:
		switch t.state.State {
		case StateEnded:
			t.begin(s.at)
		case StateBackgroundGrace:
			if t.expired(now) {
				t.end()
				t.begin(s.at)
				return
			}
			// Background work stays in the graced session without resuming it.
			t.state.LastActivityAt = s.at
		default:
			t.state.LastActivityAt = s.at
		}

	case sigForeground:
		switch t.state.State {
		case StateEnded:
			t.begin(s.at)
		case StateBackgroundGrace:
			if t.expired(now) {
				t.end()
				t.begin(s.at)
				return
			}
			t.cancelGrace()
			t.state.State = StateActive
			t.state.LastActivityAt = s.at
			t.logger.Debug().Str("session_id", string(t.state.ID)).Msg("session resumed")
		}

	case sigBackground:
		if t.state.State != StateActive {
			return
		}
		t.state.State = StateBackgroundGrace
		t.backgroundedAt = s.at
		t.armGrace(t.timeout)

	case sigTimer:
		if s.generation == t.generation && t.state.State == StateBackgroundGrace {
			t.end()
		}

	case sigTimeout:
		t.timeout = s.timeout
		if t.state.State == StateBackgroundGrace {
			remaining := t.timeout - wallSince(t.backgroundedAt, now)
			if remaining <= 0 {
				t.end()
				return
			}
			t.armGrace(remaining)
		}
	}
}

func (t *Tracker) expired(now time.Time) bool {
	return wallSince(t.backgroundedAt, now) >= t.timeout
}

// wallSince is now-from on the wall clock.
func wallSince(from, now time.Time) time.Duration {
	return now.Round(0).Sub(from.Round(0))
}

func (t *Tracker) begin(at time.Time) {
	t.cancelGrace()
	t.state = Snapshot{
		ID:             t.state.NextID,
		State:          StateActive,
		StartedAt:      at,
		LastActivityAt: at,
		NextID:         types.NewSessionID(),
	}
	t.logger.Debug().Str("session_id", string(t.state.ID)).Msg("session started")
}

func (t *Tracker) end() {
	t.cancelGrace()
	ended := t.state.ID
	t.state.State = StateEnded
	t.publish()
	t.logger.Debug().Str("session_id", string(ended)).Msg("session ended")
	t.onEnd(ended)
}

func (t *Tracker) armGrace(d time.Duration) {
	t.cancelGrace()
	gen := t.generation
	t.grace = t.clock.AfterFunc(d, func() {
		t.post(signal{kind: sigTimer, generation: gen})
	})
}

// cancelGrace stops the grace timer; bumping the generation also discards
// a timer signal already posted but not yet handled.
func (t *Tracker) cancelGrace() {
	t.generation++
	if t.grace != nil {
		t.grace.Stop()
		t.grace = nil
	}
}

func (t *Tracker) publish() {
	s := t.state
	t.snap.Store(&s)
}
