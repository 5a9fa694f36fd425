// Package dispatch delivers completion callbacks off the caller's goroutine.
//
// Every public operation that accepts a completion gets a Token. A Token
// may cover several parts (one per mutation produced by a map call); it
// fires once, after every part has resolved, with the first non-zero code
// observed. Resolve never blocks and never runs the callback inline, so a
// caller holding pipeline locks can resolve tokens safely.
package dispatch

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Result codes delivered to completions. Zero is success.
const (
	CodeOK              = 0
	CodeInvalidArgument = 1001
	CodeMergeConflict   = 1002
	CodeUploadFailed    = 1003
	CodeNotStarted      = 1004
	CodeStartFailed     = 1005
)

// Completion receives the outcome of an operation.
type Completion func(code int, message string)

// Token tracks the outstanding parts of one operation.
type Token struct {
	d        *Dispatcher
	fn       Completion
	mu       sync.Mutex
	parts    int
	resolved int
	code     int
	messages []string
	done     bool
}

// Resolve settles one part. Extra calls after the token fired are ignored.
func (t *Token) Resolve(code int, message string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.resolved++
	if code != CodeOK {
		if t.code == CodeOK {
			t.code = code
		}
		if message != "" {
			t.messages = append(t.messages, message)
		}
	}
	if t.resolved < t.parts {
		t.mu.Unlock()
		return
	}
	t.done = true
	code, msg := t.code, strings.Join(t.messages, "; ")
	t.mu.Unlock()

	if t.fn != nil {
		t.d.post(call{fn: t.fn, code: code, message: msg})
	}
}

// Done reports whether the token fired.
func (t *Token) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

type call struct {
	fn      Completion
	code    int
	message string
}

// Dispatcher runs completions on a single background goroutine in the order
// their tokens fired.
type Dispatcher struct {
	mu      sync.Mutex
	queue   []call
	notify  chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	logger  zerolog.Logger
	once    sync.Once
	closed  bool
}

// New creates a Dispatcher and starts its goroutine.
func New(logger zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		notify:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  logger.With().Str("component", "dispatch").Logger(),
	}
	go d.run()
	return d
}

// NewToken returns a token that fires fn after parts resolutions.
// parts < 1 is treated as 1. fn may be nil; the token still tracks state.
func (d *Dispatcher) NewToken(fn Completion, parts int) *Token {
	if parts < 1 {
		parts = 1
	}
	return &Token{d: d, fn: fn, parts: parts}
}

// Notify delivers a result that needs no batch, such as a rejection or a
// no-op, through the same goroutine as every other completion.
func (d *Dispatcher) Notify(fn Completion, code int, message string) {
	d.NewToken(fn, 1).Resolve(code, message)
}

func (d *Dispatcher) post(c call) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		go d.invoke(c)
		return
	}
	d.queue = append(d.queue, c)
	d.mu.Unlock()
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for {
		select {
		case <-d.notify:
			d.drain()
		case <-d.stop:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		d.mu.Lock()
		pending := d.queue
		d.queue = nil
		d.mu.Unlock()
		if len(pending) == 0 {
			return
		}
		for _, c := range pending {
			d.invoke(c)
		}
	}
}

// invoke isolates the dispatcher from panicking host callbacks.
func (d *Dispatcher) invoke(c call) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Msg("completion callback panicked")
		}
	}()
	c.fn(c.code, c.message)
}

// Close delivers already fired completions and stops the goroutine.
// Completions fired afterwards each run on their own goroutine.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.stop)
	})
	<-d.stopped
}
