// Package pipeline wires the event buffer, mutation queue, identity store,
// session tracker and collection policy into one context object, and runs
// the flush scheduler that hands batches to the Uploader.
//
// Public operations take the pipeline lock only long enough to append or
// enqueue; they never upload. The scheduler goroutine drains the buffer,
// the mutation queue and the batch header (identity, contacts) in one
// critical section, so a batch never holds half of one and half of the
// other with respect to its session tag.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/DevEngageLab/mtpush-sdk/internal/buffer"
	"github.com/DevEngageLab/mtpush-sdk/internal/clock"
	"github.com/DevEngageLab/mtpush-sdk/internal/dispatch"
	"github.com/DevEngageLab/mtpush-sdk/internal/identity"
	"github.com/DevEngageLab/mtpush-sdk/internal/mutation"
	"github.com/DevEngageLab/mtpush-sdk/internal/policy"
	"github.com/DevEngageLab/mtpush-sdk/internal/session"
	"github.com/DevEngageLab/mtpush-sdk/internal/types"
	"github.com/DevEngageLab/mtpush-sdk/internal/values"
)

// Uploader delivers a batch to the collector. It must not retain or
// modify the batch after returning; a non-nil error fails every item in it.
type Uploader interface {
	Upload(ctx context.Context, batch *types.Batch) error
}

// UploaderFunc adapts a function to Uploader.
type UploaderFunc func(ctx context.Context, batch *types.Batch) error

// Upload calls f.
func (f UploaderFunc) Upload(ctx context.Context, batch *types.Batch) error { return f(ctx, batch) }

// DefaultUploadTimeout bounds one Upload call.
const DefaultUploadTimeout = 30 * time.Second

// shutdownUploadTimeout bounds the final drain on Close.
const shutdownUploadTimeout = 5 * time.Second

// Config holds pipeline construction parameters. Zero values take defaults.
type Config struct {
	FlushInterval      time.Duration
	MaxEventCacheCount int
	SessionTimeout     time.Duration
	UploadTimeout      time.Duration
}

// Deps are the collaborators a pipeline is built from.
type Deps struct {
	Uploader Uploader
	Identity *identity.Store
	Policy   *policy.Policy
	Clock    clock.Clock
	Logger   zerolog.Logger
}

// Stats counts scheduler activity since construction.
type Stats struct {
	Cycles         uint64
	Uploads        uint64
	Failures       uint64
	EventsSent     uint64
	MutationsSent  uint64
	EventsRejected uint64
}

// Pipeline is the long-lived context shared by every public operation.
type Pipeline struct {
	clock         clock.Clock
	logger        zerolog.Logger
	uploader      Uploader
	identity      *identity.Store
	policy        *policy.Policy
	session       *session.Tracker
	uploadTimeout time.Duration

	// mu guards the buffer, the queue and the pending batch header.
	mu           sync.Mutex
	events       *buffer.Buffer
	queue        *mutation.Queue
	headerDirty  bool
	headerTokens []*dispatch.Token

	sched *scheduler

	cycles, uploads, failures atomic.Uint64
	eventsSent, mutationsSent atomic.Uint64
	eventsRejected            atomic.Uint64

	closeOnce sync.Once
}

// ClampFlushInterval bounds a configured report interval.
func ClampFlushInterval(d time.Duration) time.Duration {
	if d < types.MinFlushInterval {
		return types.MinFlushInterval
	}
	return d
}

// New builds a pipeline and starts its scheduler and session goroutines.
func New(cfg Config, deps Deps) *Pipeline {
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = types.DefaultFlushInterval
	}
	if cfg.MaxEventCacheCount == 0 {
		cfg.MaxEventCacheCount = types.DefaultMaxEventCacheCount
	}
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = types.DefaultSessionTimeout
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = DefaultUploadTimeout
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}

	p := &Pipeline{
		clock:         deps.Clock,
		logger:        deps.Logger.With().Str("component", "pipeline").Logger(),
		uploader:      deps.Uploader,
		identity:      deps.Identity,
		policy:        deps.Policy,
		uploadTimeout: cfg.UploadTimeout,
		events:        buffer.New(cfg.MaxEventCacheCount),
		queue:         mutation.New(),
	}
	p.session = session.NewTracker(deps.Clock, cfg.SessionTimeout, p.sessionEnded, deps.Logger)
	p.sched = newScheduler(deps.Clock, ClampFlushInterval(cfg.FlushInterval), p.cycle)
	return p
}

// RecordEvent validates, enriches and buffers one event. A validation
// failure resolves tok with CodeInvalidArgument and is also returned.
func (p *Pipeline) RecordEvent(name string, props map[string]any, tok *dispatch.Token) error {
	if err := values.ValidateEventName(name); err != nil {
		return p.reject(tok, "event", err)
	}
	properties, err := values.EventProperties(props)
	if err != nil {
		return p.reject(tok, "event", err)
	}

	e := types.Event{
		ID:         types.NewEventID(),
		Name:       name,
		Properties: properties,
		Timestamp:  p.clock.Now(),
		SessionID:  p.session.Activity(),
		Identity:   p.identity.Current(),
		Device:     p.policy.Enrich(),
	}

	p.mu.Lock()
	full := p.events.Append(e, tok)
	p.mu.Unlock()

	if full {
		p.sched.request(reasonCapacity, "", nil)
	}
	return nil
}

// Enqueue validates m, stamps the current identity on it and queues it
// for the next batch.
func (p *Pipeline) Enqueue(m types.Mutation, tok *dispatch.Token) error {
	if err := values.ValidateMutation(m); err != nil {
		return p.reject(tok, "mutation", err)
	}
	m.Identity = p.identity.Current()
	p.session.Activity()

	p.mu.Lock()
	p.queue.Enqueue(m, tok)
	p.mu.Unlock()
	return nil
}

// Identify updates the identity. The change rides in the next batch's
// header and tok resolves with that batch; a no-op resolves immediately.
func (p *Pipeline) Identify(userID, anonymousID string, tok *dispatch.Token) {
	id, changed := p.identity.Set(userID, anonymousID)
	if !changed {
		tok.Resolve(dispatch.CodeOK, "")
		return
	}
	p.logger.Info().Str("principal", id.Principal()).Msg("identity changed")
	p.markHeader(tok)
}

// SetContacts replaces the contacts and sends them with the next batch.
func (p *Pipeline) SetContacts(c types.Contacts, tok *dispatch.Token) {
	p.identity.SetContacts(c)
	p.markHeader(tok)
}

func (p *Pipeline) markHeader(tok *dispatch.Token) {
	p.mu.Lock()
	p.headerDirty = true
	if tok != nil {
		p.headerTokens = append(p.headerTokens, tok)
	}
	p.mu.Unlock()
}

// SetFlushInterval changes the report interval and returns the clamped value.
func (p *Pipeline) SetFlushInterval(d time.Duration) time.Duration {
	d = ClampFlushInterval(d)
	p.sched.setInterval(d)
	return d
}

// SetMaxEventCacheCount changes the capacity threshold and returns the
// clamped value. Shrinking below the buffered count requests a flush.
func (p *Pipeline) SetMaxEventCacheCount(n int) int {
	p.mu.Lock()
	capacity, full := p.events.SetCapacity(n)
	p.mu.Unlock()
	if full {
		p.sched.request(reasonCapacity, "", nil)
	}
	return capacity
}

// MaxEventCacheCount returns the current capacity threshold.
func (p *Pipeline) MaxEventCacheCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events.Capacity()
}

// SetSessionTimeout changes the background grace period.
func (p *Pipeline) SetSessionTimeout(d time.Duration) time.Duration {
	return p.session.SetTimeout(d)
}

// Background forwards a platform transition to the session tracker.
func (p *Pipeline) Background() { p.session.Background() }

// Foreground forwards a platform transition to the session tracker.
func (p *Pipeline) Foreground() { p.session.Foreground() }

// Session returns the current session state.
func (p *Pipeline) Session() session.Snapshot { return p.session.Snapshot() }

// Flush requests a cycle and waits until a cycle that started after the
// request has finished, or ctx is done.
func (p *Pipeline) Flush(ctx context.Context) error {
	// Let pending session signals (a timeout just fired) land first.
	p.session.Sync()
	done := make(chan struct{})
	if !p.sched.request(reasonExplicit, "", done) {
		return types.ErrNotStarted
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Cycles:         p.cycles.Load(),
		Uploads:        p.uploads.Load(),
		Failures:       p.failures.Load(),
		EventsSent:     p.eventsSent.Load(),
		MutationsSent:  p.mutationsSent.Load(),
		EventsRejected: p.eventsRejected.Load(),
	}
}

// Close stops the session tracker and the scheduler, then makes one
// best-effort upload of whatever is still buffered.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		p.session.Close()
		rest := p.sched.shutdown()
		rest.reasons |= reasonShutdown
		p.runCycle(rest, shutdownUploadTimeout)
	})
}

func (p *Pipeline) sessionEnded(id types.SessionID) {
	p.sched.request(reasonSessionEnd, id, nil)
}

func (p *Pipeline) reject(tok *dispatch.Token, kind string, err error) error {
	if kind == "event" {
		p.eventsRejected.Add(1)
	}
	p.logger.Debug().Err(err).Str("kind", kind).Msg("rejected")
	tok.Resolve(dispatch.CodeInvalidArgument, err.Error())
	return err
}

func (p *Pipeline) cycle(t trigger) {
	p.runCycle(t, p.uploadTimeout)
}

// runCycle is one flush: drain, build, upload, resolve.
func (p *Pipeline) runCycle(t trigger, timeout time.Duration) {
	defer func() {
		for _, w := range t.waiters {
			close(w)
		}
	}()
	p.cycles.Add(1)

	p.mu.Lock()
	entries := p.events.Drain()
	merged := p.queue.Drain()
	headerDirty := p.headerDirty
	headerTokens := p.headerTokens
	p.headerDirty = false
	p.headerTokens = nil
	sessionID := t.ended
	if sessionID == "" {
		sessionID = p.session.Snapshot().ID
	}
	id := p.identity.Current()
	contacts := p.identity.Contacts()
	p.mu.Unlock()

	for _, r := range merged.Rejected {
		r.Token.Resolve(dispatch.CodeMergeConflict, r.Err.Error())
	}

	tokens := make([]*dispatch.Token, 0, len(entries)+len(merged.Tokens)+len(headerTokens))
	events := make([]types.Event, 0, len(entries))
	for _, e := range entries {
		events = append(events, e.Event)
		tokens = append(tokens, e.Token)
	}
	tokens = append(tokens, merged.Tokens...)
	tokens = append(tokens, headerTokens...)

	if len(events) == 0 && merged.IsEmpty() && !headerDirty {
		for _, tok := range tokens {
			tok.Resolve(dispatch.CodeOK, "")
		}
		return
	}

	batch := &types.Batch{
		ID:         types.NewBatchID(),
		SessionID:  sessionID,
		Events:     events,
		Mutations:  merged.Mutations,
		Tombstones: merged.Tombstones,
		Identity:   id,
		Contacts:   contacts,
		EUID:       p.identity.EUID(),
		CreatedAt:  p.clock.Now(),
	}

	log := p.logger.With().
		Str("batch_id", string(batch.ID)).
		Str("session_id", string(batch.SessionID)).
		Str("reason", t.reasons.String()).
		Int("events", len(batch.Events)).
		Int("mutations", len(batch.Mutations)).
		Int("tombstones", len(batch.Tombstones)).
		Logger()

	p.uploads.Add(1)
	if err := p.upload(batch, timeout); err != nil {
		p.failures.Add(1)
		log.Warn().Err(err).Msg("batch upload failed")
		for _, tok := range tokens {
			tok.Resolve(dispatch.CodeUploadFailed, err.Error())
		}
		return
	}

	p.eventsSent.Add(uint64(len(batch.Events)))
	p.mutationsSent.Add(uint64(len(batch.Mutations) + len(batch.Tombstones)))
	log.Debug().Msg("batch uploaded")
	for _, tok := range tokens {
		tok.Resolve(dispatch.CodeOK, "")
	}
}

// upload calls the uploader with a deadline. A panicking uploader counts
// as a failed upload; it must never take the scheduler down.
func (p *Pipeline) upload(batch *types.Batch, timeout time.Duration) (err error) {
	if p.uploader == nil {
		return types.ErrNoUploader
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("uploader panicked: %v", r)
		}
	}()
	return p.uploader.Upload(ctx, batch)
}
