// Package sdk is the public surface of the MTMA analytics pipeline.
//
// A Service is inert until Start; operations before then report
// CodeNotStarted through their completion. Limits set before Start are
// remembered and applied when the pipeline is built.
package sdk

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/DevEngageLab/mtpush-sdk/internal/buffer"
	"github.com/DevEngageLab/mtpush-sdk/internal/clock"
	"github.com/DevEngageLab/mtpush-sdk/internal/dispatch"
	"github.com/DevEngageLab/mtpush-sdk/internal/identity"
	"github.com/DevEngageLab/mtpush-sdk/internal/pipeline"
	"github.com/DevEngageLab/mtpush-sdk/internal/policy"
	"github.com/DevEngageLab/mtpush-sdk/internal/session"
	"github.com/DevEngageLab/mtpush-sdk/internal/store"
	"github.com/DevEngageLab/mtpush-sdk/internal/transport"
	"github.com/DevEngageLab/mtpush-sdk/internal/types"
)

// limits are values set before Start. Zero means default.
type limits struct {
	flushInterval  time.Duration
	maxEvents      int
	sessionTimeout time.Duration
}

// Service owns one pipeline and the dispatcher its completions run on.
type Service struct {
	logger   zerolog.Logger
	dispatch *dispatch.Dispatcher
	policy   *policy.Policy

	mu       sync.RWMutex
	pipeline *pipeline.Pipeline
	identity *identity.Store
	limits   limits
	closers  []io.Closer
	closed   bool
}

// NewService returns an unstarted Service.
func NewService(logger zerolog.Logger) *Service {
	return &Service{
		logger:   logger.With().Str("component", "sdk").Logger(),
		dispatch: dispatch.New(logger),
		policy:   policy.New(nil),
	}
}

// Start builds the pipeline. It is idempotent: later calls update limits,
// collection toggles, the platform and the identity of the running
// pipeline. cfg.Completion fires once per call.
func (s *Service) Start(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.dispatch.Notify(cfg.Completion, CodeStartFailed, "service closed")
		return
	}
	if cfg.Platform != nil {
		s.policy.SetPlatform(cfg.Platform)
	}
	if cfg.Collect != nil {
		s.policy.Apply(*cfg.Collect)
	}

	if s.pipeline != nil {
		s.update(cfg)
		s.identify(s.pipeline, cfg.UserID)
		s.dispatch.Notify(cfg.Completion, CodeOK, "")
		return
	}

	if err := s.build(cfg); err != nil {
		s.logger.Error().Err(err).Msg("start failed")
		s.dispatch.Notify(cfg.Completion, CodeStartFailed, err.Error())
		return
	}
	s.identify(s.pipeline, cfg.UserID)
	s.logger.Info().Str("euid", s.identity.EUID()).Msg("pipeline started")
	s.dispatch.Notify(cfg.Completion, CodeOK, "")
}

// build assembles a pipeline from cfg and the remembered limits. Called
// with s.mu held.
func (s *Service) build(cfg Config) error {
	clk := cfg.clock
	if clk == nil {
		clk = clock.Real()
	}

	var closers []io.Closer
	fail := func(err error) error {
		for _, c := range closers {
			c.Close()
		}
		return err
	}

	var cache identity.Cache
	if cfg.CacheURL != "" {
		local, err := store.OpenLocal(cfg.CacheURL)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, local)
		cache = local
	}
	ids, err := identity.New(cache, clk.Now())
	if err != nil {
		return fail(err)
	}

	uploader := cfg.Uploader
	if uploader == nil {
		if cfg.Collector.Address == "" {
			return fail(types.ErrNoUploader)
		}
		up, err := transport.Dial(transport.Config{
			Address:  cfg.Collector.Address,
			APIKey:   cfg.AppKey,
			Insecure: cfg.Collector.Insecure,
			Compress: cfg.Collector.Compress,
		}, s.logger)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, up)
		uploader = up
	}

	l := s.limits
	if cfg.FlushInterval != 0 {
		l.flushInterval = cfg.FlushInterval
	}
	if cfg.MaxEventCacheCount != 0 {
		l.maxEvents = buffer.ClampCapacity(cfg.MaxEventCacheCount)
	}
	if cfg.SessionTimeout != 0 {
		l.sessionTimeout = session.ClampTimeout(cfg.SessionTimeout)
	}

	s.pipeline = pipeline.New(pipeline.Config{
		FlushInterval:      l.flushInterval,
		MaxEventCacheCount: l.maxEvents,
		SessionTimeout:     l.sessionTimeout,
		UploadTimeout:      cfg.UploadTimeout,
	}, pipeline.Deps{
		Uploader: uploader,
		Identity: ids,
		Policy:   s.policy,
		Clock:    clk,
		Logger:   s.logger,
	})
	s.identity = ids
	s.closers = closers
	return nil
}

// update applies the non-zero limits of cfg to a running pipeline.
func (s *Service) update(cfg Config) {
	if cfg.FlushInterval != 0 {
		s.pipeline.SetFlushInterval(cfg.FlushInterval)
	}
	if cfg.MaxEventCacheCount != 0 {
		s.pipeline.SetMaxEventCacheCount(cfg.MaxEventCacheCount)
	}
	if cfg.SessionTimeout != 0 {
		s.pipeline.SetSessionTimeout(cfg.SessionTimeout)
	}
}

func (s *Service) identify(p *pipeline.Pipeline, id *UserID) {
	if id == nil {
		return
	}
	p.Identify(id.UserID, id.AnonymousID, s.dispatch.NewToken(id.Completion, 1))
}

// running returns the pipeline, or nil before Start and after Close.
func (s *Service) running() *pipeline.Pipeline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pipeline
}

func (s *Service) notStarted(fn Completion) {
	s.dispatch.Notify(fn, CodeNotStarted, types.ErrNotStarted.Error())
}

// Identify sets the user. The completion fires with the batch that carries
// the change, or immediately if nothing changed.
func (s *Service) Identify(id UserID) {
	p := s.running()
	if p == nil {
		s.notStarted(id.Completion)
		return
	}
	s.identify(p, &id)
}

// SetUserContact replaces the user's contacts.
func (s *Service) SetUserContact(c UserContact) {
	p := s.running()
	if p == nil {
		s.notStarted(c.Completion)
		return
	}
	p.SetContacts(types.Contacts(c.Contacts), s.dispatch.NewToken(c.Completion, 1))
}

// RecordEvent buffers one event. An invalid name or property fails only
// this event.
func (s *Service) RecordEvent(name string, props map[string]any, fn Completion) {
	p := s.running()
	if p == nil {
		s.notStarted(fn)
		return
	}
	_ = p.RecordEvent(name, props, s.dispatch.NewToken(fn, 1))
}

// SetReportInterval sets the flush interval and returns the clamped value.
func (s *Service) SetReportInterval(d time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pipeline != nil {
		return s.pipeline.SetFlushInterval(d)
	}
	s.limits.flushInterval = pipeline.ClampFlushInterval(d)
	return s.limits.flushInterval
}

// SetMaxEventCacheCount sets the buffered-event threshold and returns the
// clamped value.
func (s *Service) SetMaxEventCacheCount(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pipeline != nil {
		return s.pipeline.SetMaxEventCacheCount(n)
	}
	s.limits.maxEvents = buffer.ClampCapacity(n)
	return s.limits.maxEvents
}

// SetSessionTimeout sets how long the app may stay in the background
// before its session ends, and returns the clamped value.
func (s *Service) SetSessionTimeout(d time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pipeline != nil {
		return s.pipeline.SetSessionTimeout(d)
	}
	s.limits.sessionTimeout = session.ClampTimeout(d)
	return s.limits.sessionTimeout
}

// SetCollectControl changes the collection toggles for items recorded from
// now on and returns the result.
func (s *Service) SetCollectControl(u CollectControl) Control {
	return s.policy.Apply(u)
}

// EUID returns the growth identifier, or "" before Start.
func (s *Service) EUID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return ""
	}
	return s.identity.EUID()
}

// EnterBackground reports that the app left the foreground.
func (s *Service) EnterBackground() {
	if p := s.running(); p != nil {
		p.Background()
	}
}

// EnterForeground reports that the app returned to the foreground.
func (s *Service) EnterForeground() {
	if p := s.running(); p != nil {
		p.Foreground()
	}
}

// Flush uploads what is buffered and waits for that cycle to finish.
func (s *Service) Flush(ctx context.Context) error {
	p := s.running()
	if p == nil {
		return types.ErrNotStarted
	}
	return p.Flush(ctx)
}

// Stats returns the pipeline counters.
func (s *Service) Stats() pipeline.Stats {
	if p := s.running(); p != nil {
		return p.Stats()
	}
	return pipeline.Stats{}
}

// Close drains the pipeline once more and releases its resources. Pending
// completions still fire.
func (s *Service) Close() {
	s.mu.Lock()
	p, closers := s.pipeline, s.closers
	s.pipeline, s.closers, s.closed = nil, nil, true
	s.mu.Unlock()

	if p != nil {
		p.Close()
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close failed")
		}
	}
	s.dispatch.Close()
}
