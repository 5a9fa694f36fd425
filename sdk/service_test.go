package sdk

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/DevEngageLab/mtpush-sdk/internal/clock"
	"github.com/DevEngageLab/mtpush-sdk/internal/types"
)

type outcome struct {
	code    int
	message string
}

// awaiter returns a completion and a function that blocks until it fires.
func awaiter(t *testing.T) (Completion, func() outcome) {
	t.Helper()
	ch := make(chan outcome, 1)
	fn := func(code int, message string) { ch <- outcome{code, message} }
	return fn, func() outcome {
		t.Helper()
		select {
		case o := <-ch:
			return o
		case <-time.After(5 * time.Second):
			t.Fatal("completion never fired")
			return outcome{}
		}
	}
}

type recorder struct {
	mu      sync.Mutex
	batches []*types.Batch
}

func (r *recorder) Upload(_ context.Context, b *types.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, b)
	return nil
}

func (r *recorder) all() []*types.Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*types.Batch(nil), r.batches...)
}

func started(t *testing.T, cfg Config) (*Service, *recorder) {
	t.Helper()
	rec := &recorder{}
	if cfg.Uploader == nil {
		cfg.Uploader = rec
	}
	cfg.clock = clock.Fake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	fn, wait := awaiter(t)
	cfg.Completion = fn

	s := NewService(zerolog.Nop())
	t.Cleanup(s.Close)
	s.Start(cfg)
	require.Equal(t, CodeOK, wait().code)
	return s, rec
}

func flush(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Flush(ctx))
}

func TestCallsBeforeStart(t *testing.T) {
	s := NewService(zerolog.Nop())
	defer s.Close()

	fn, wait := awaiter(t)
	s.RecordEvent("open", nil, fn)
	require.Equal(t, CodeNotStarted, wait().code)

	fn, wait = awaiter(t)
	s.SetProperty("plan", "pro", fn)
	require.Equal(t, CodeNotStarted, wait().code)

	require.ErrorIs(t, s.Flush(context.Background()), types.ErrNotStarted)
	require.Empty(t, s.EUID())
}

func TestStartWithoutUploaderFails(t *testing.T) {
	s := NewService(zerolog.Nop())
	defer s.Close()

	fn, wait := awaiter(t)
	s.Start(Config{Completion: fn})
	o := wait()
	require.Equal(t, CodeStartFailed, o.code)
	require.Contains(t, o.message, types.ErrNoUploader.Error())

	fn, wait = awaiter(t)
	s.RecordEvent("open", nil, fn)
	require.Equal(t, CodeNotStarted, wait().code)
}

func TestInvalidEventFailsAlone(t *testing.T) {
	s, rec := started(t, Config{})

	bad, waitBad := awaiter(t)
	good, waitGood := awaiter(t)
	s.RecordEvent("not valid!", nil, bad)
	s.RecordEvent("purchase", map[string]any{"amount": 9.5}, good)
	flush(t, s)

	require.Equal(t, CodeInvalidArgument, waitBad().code)
	require.Equal(t, CodeOK, waitGood().code)

	batches := rec.all()
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Events, 1)
	require.Equal(t, "purchase", batches[0].Events[0].Name)
	require.Equal(t, uint64(1), s.Stats().EventsRejected)
}

func TestSettersClamp(t *testing.T) {
	s := NewService(zerolog.Nop())
	defer s.Close()

	require.Equal(t, types.MinFlushInterval, s.SetReportInterval(time.Millisecond))
	require.Equal(t, types.MaxEventCacheCeiling, s.SetMaxEventCacheCount(10000))
	require.Equal(t, types.MinSessionTimeout, s.SetSessionTimeout(0))

	s.Start(Config{Uploader: &recorder{}, clock: clock.Fake(time.Now())})
	require.Equal(t, types.MinEventCacheCount, s.SetMaxEventCacheCount(-3))
	require.Equal(t, 2*time.Minute, s.SetReportInterval(2*time.Minute))
}

func TestStartIsIdempotent(t *testing.T) {
	s, rec := started(t, Config{})
	euid := s.EUID()
	require.NotEmpty(t, euid)

	other := &recorder{}
	userDone, waitUser := awaiter(t)
	fn, wait := awaiter(t)
	s.Start(Config{
		Uploader:   other,
		UserID:     &UserID{UserID: "alice", Completion: userDone},
		Completion: fn,
	})
	require.Equal(t, CodeOK, wait().code)
	require.Equal(t, euid, s.EUID())

	flush(t, s)
	require.Equal(t, CodeOK, waitUser().code)
	require.Empty(t, other.all())
	batches := rec.all()
	require.Len(t, batches, 1)
	require.Equal(t, "alice", batches[0].Identity.UserID)
}

func TestMapCallResolvesOnce(t *testing.T) {
	s, rec := started(t, Config{})

	fn, wait := awaiter(t)
	s.SetProperties(map[string]any{"plan": "pro", "flag": true, "seats": 3}, fn)
	flush(t, s)

	o := wait()
	require.Equal(t, CodeInvalidArgument, o.code)
	require.Contains(t, o.message, `"flag"`)

	batches := rec.all()
	require.Len(t, batches, 1)
	keys := map[string]types.Value{}
	for _, m := range batches[0].Mutations {
		keys[m.Key] = m.Value
	}
	require.Equal(t, map[string]types.Value{
		"plan":  types.StringValue("pro"),
		"seats": types.NumberValue(3),
	}, keys)
}

func TestEmptyMapSucceeds(t *testing.T) {
	s, _ := started(t, Config{})
	fn, wait := awaiter(t)
	s.IncreaseProperties(nil, fn)
	require.Equal(t, CodeOK, wait().code)
}

func TestPropertyOperations(t *testing.T) {
	s, rec := started(t, Config{})

	var waits []func() outcome
	add := func() Completion {
		fn, wait := awaiter(t)
		waits = append(waits, wait)
		return fn
	}
	s.IncreaseProperty("visits", 2, add())
	s.AddProperty("tags", []string{"vip", "beta"}, add())
	s.RemoveProperty("tags", []any{"beta"}, add())
	s.DeleteProperty("legacy", add())
	flush(t, s)
	for _, w := range waits {
		require.Equal(t, CodeOK, w().code)
	}

	batches := rec.all()
	require.Len(t, batches, 1)
	b := batches[0]
	require.Len(t, b.Tombstones, 1)
	require.Equal(t, "legacy", b.Tombstones[0].Key)
	byKey := map[string]types.Mutation{}
	for _, m := range b.Mutations {
		byKey[m.Key] = m
	}
	require.Equal(t, types.NumberValue(2), byKey["visits"].Value)
	require.Contains(t, byKey, "tags")
}

func TestIncreaseRejectsNonNumeric(t *testing.T) {
	s, _ := started(t, Config{})
	fn, wait := awaiter(t)
	s.IncreaseProperty("visits", "two", fn)
	require.Equal(t, CodeInvalidArgument, wait().code)
}

func TestUtmProperties(t *testing.T) {
	s, rec := started(t, Config{})

	fn, wait := awaiter(t)
	s.SetUtmProperties(map[string]string{"utm_source": "newsletter", "utm_bogus": "x"}, fn)
	flush(t, s)
	require.Equal(t, CodeInvalidArgument, wait().code)

	batches := rec.all()
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Mutations, 1)
	m := batches[0].Mutations[0]
	require.Equal(t, "$utm_source", m.Key)
	require.Equal(t, types.OpSet, m.Op)
	require.Equal(t, types.StringValue("newsletter"), m.Value)
}

func TestCollectControl(t *testing.T) {
	s := NewService(zerolog.Nop())
	defer s.Close()

	c := s.SetCollectControl(CollectControl{IDFA: Bool(true)})
	require.Equal(t, Control{IDFA: true, Carrier: true}, c)
	c = s.SetCollectControl(CollectControl{Carrier: Bool(false)})
	require.Equal(t, Control{IDFA: true}, c)
}

func TestEUIDSurvivesRestart(t *testing.T) {
	cache := "sqlite://" + filepath.Join(t.TempDir(), "cache.db")

	first := NewService(zerolog.Nop())
	first.Start(Config{Uploader: &recorder{}, CacheURL: cache})
	euid := first.EUID()
	require.NotEmpty(t, euid)
	first.Close()

	second := NewService(zerolog.Nop())
	defer second.Close()
	second.Start(Config{Uploader: &recorder{}, CacheURL: cache})
	require.Equal(t, euid, second.EUID())
}

func TestStartAfterCloseFails(t *testing.T) {
	s := NewService(zerolog.Nop())
	s.Close()
	fn, wait := awaiter(t)
	s.Start(Config{Uploader: &recorder{}, Completion: fn})
	require.Equal(t, CodeStartFailed, wait().code)
}
