package session

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/DevEngageLab/mtpush-sdk/internal/clock"
	"github.com/DevEngageLab/mtpush-sdk/internal/types"
)

type endRecorder struct {
	mu    sync.Mutex
	ended []types.SessionID
}

func (r *endRecorder) record(id types.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, id)
}

func (r *endRecorder) get() []types.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.SessionID(nil), r.ended...)
}

func newTracker(t *testing.T, timeout time.Duration) (*Tracker, *clock.FakeClock, *endRecorder) {
	t.Helper()
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	rec := &endRecorder{}
	tr := NewTracker(clk, timeout, rec.record, zerolog.Nop())
	t.Cleanup(tr.Close)
	return tr, clk, rec
}

func TestActivityStartsSession(t *testing.T) {
	tr, _, _ := newTracker(t, 30*time.Second)
	require.Equal(t, StateEnded, tr.Snapshot().State)

	next := tr.Snapshot().NextID
	id := tr.Activity()
	require.Equal(t, next, id)

	tr.Sync()
	snap := tr.Snapshot()
	require.Equal(t, StateActive, snap.State)
	require.Equal(t, id, snap.ID)
	require.NotEqual(t, id, snap.NextID)
}

func TestFlappingKeepsSession(t *testing.T) {
	tr, clk, rec := newTracker(t, 30*time.Second)
	id := tr.Activity()
	tr.Sync()
	started := tr.Snapshot().StartedAt

	for i := 0; i < 5; i++ {
		tr.Background()
		tr.Sync()
		require.Equal(t, StateBackgroundGrace, tr.Snapshot().State)
		clk.Advance(20 * time.Second)
		tr.Foreground()
		tr.Sync()
		require.Equal(t, StateActive, tr.Snapshot().State)
	}

	// 100s of wall time passed in total, but no single grace period expired.
	clk.Advance(25 * time.Second)
	tr.Sync()
	snap := tr.Snapshot()
	require.Equal(t, id, snap.ID)
	require.Equal(t, started, snap.StartedAt)
	require.Empty(t, rec.get())
}

func TestTimeoutEndsSessionOnce(t *testing.T) {
	tr, clk, rec := newTracker(t, 30*time.Second)
	first := tr.Activity()
	tr.Sync()

	tr.Background()
	tr.Sync()
	clk.WaitForTimers(1)
	clk.Advance(31 * time.Second)
	tr.Sync()

	require.Equal(t, []types.SessionID{first}, rec.get())
	require.Equal(t, StateEnded, tr.Snapshot().State)

	clk.Advance(time.Hour)
	tr.Sync()
	require.Len(t, rec.get(), 1)

	second := tr.Activity()
	tr.Sync()
	require.NotEqual(t, first, second)
	require.Equal(t, second, tr.Snapshot().ID)
	require.Equal(t, StateActive, tr.Snapshot().State)
}

// suspendedClock never fires timers within a test's horizon, the way a
// frozen process misses its grace timer while wall time moves on.
type suspendedClock struct {
	*clock.FakeClock
}

func (c suspendedClock) AfterFunc(_ time.Duration, f func()) *clock.Timer {
	return c.FakeClock.AfterFunc(100*365*24*time.Hour, f)
}

func newSuspendedTracker(t *testing.T, timeout time.Duration) (*Tracker, *clock.FakeClock, *endRecorder) {
	t.Helper()
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	rec := &endRecorder{}
	tr := NewTracker(suspendedClock{clk}, timeout, rec.record, zerolog.Nop())
	t.Cleanup(tr.Close)
	return tr, clk, rec
}

func TestForegroundAfterSuspendEndsSession(t *testing.T) {
	tr, clk, rec := newSuspendedTracker(t, 30*time.Second)
	first := tr.Activity()
	tr.Sync()
	tr.Background()
	tr.Sync()

	clk.Advance(2 * time.Minute)
	tr.Foreground()
	tr.Sync()

	require.Equal(t, []types.SessionID{first}, rec.get())
	snap := tr.Snapshot()
	require.Equal(t, StateActive, snap.State)
	require.NotEqual(t, first, snap.ID)
}

func TestActivityDuringGraceDoesNotResume(t *testing.T) {
	tr, clk, rec := newTracker(t, 30*time.Second)
	id := tr.Activity()
	tr.Sync()
	tr.Background()
	tr.Sync()

	clk.Advance(10 * time.Second)
	require.Equal(t, id, tr.Activity())
	tr.Sync()
	require.Equal(t, StateBackgroundGrace, tr.Snapshot().State)

	clk.Advance(25 * time.Second)
	tr.Sync()
	require.Equal(t, []types.SessionID{id}, rec.get())
}

func TestSetTimeoutRearmsGrace(t *testing.T) {
	tr, clk, rec := newTracker(t, time.Minute)
	id := tr.Activity()
	tr.Sync()
	tr.Background()
	tr.Sync()

	clk.Advance(10 * time.Second)
	require.Equal(t, 5*time.Second, tr.SetTimeout(5*time.Second))
	tr.Sync()
	require.Equal(t, []types.SessionID{id}, rec.get())
}

func TestClampTimeout(t *testing.T) {
	require.Equal(t, types.MinSessionTimeout, ClampTimeout(0))
	require.Equal(t, types.MinSessionTimeout, ClampTimeout(-time.Second))
	require.Equal(t, time.Minute, ClampTimeout(time.Minute))
}

func TestBackgroundWithoutSessionIsIgnored(t *testing.T) {
	tr, clk, rec := newTracker(t, 5*time.Second)
	tr.Background()
	tr.Sync()
	clk.Advance(time.Minute)
	tr.Sync()
	require.Equal(t, StateEnded, tr.Snapshot().State)
	require.Empty(t, rec.get())
	require.Zero(t, clk.Pending())
}

func TestActivityAfterSuspendCarriesNewSession(t *testing.T) {
	tr, clk, rec := newSuspendedTracker(t, 30*time.Second)
	first := tr.Activity()
	tr.Background()
	tr.Sync()

	clk.Advance(2 * time.Minute)
	stamped := tr.Activity()
	tr.Sync()

	require.Equal(t, []types.SessionID{first}, rec.get())
	snap := tr.Snapshot()
	require.Equal(t, StateActive, snap.State)
	require.NotEqual(t, first, stamped)
	require.Equal(t, snap.ID, stamped)
}

func TestWallSinceUsesWallClock(t *testing.T) {
	start := time.Now()
	later := start.Add(time.Minute)
	require.Equal(t, time.Minute, wallSince(start, later))
	require.Equal(t, time.Minute, wallSince(start, later.Round(0)))

	// Same wall time with and without a monotonic reading is no elapsed time.
	require.Zero(t, wallSince(start, start.Round(0)))
}
