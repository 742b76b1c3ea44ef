package pause_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signsync/internal/logging"
	"signsync/internal/pause"
	"signsync/internal/testsupport"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newController(t *testing.T) (*pause.Controller, *fakeClock) {
	t.Helper()
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	clock := &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	return pause.New(st, logging.NewNop(), pause.WithClock(clock.Now)), clock
}

func TestUnpausedByDefault(t *testing.T) {
	ctrl, _ := newController(t)
	ctx := context.Background()
	assert.False(t, ctrl.IsPaused(ctx))
	assert.NoError(t, ctrl.Check(ctx))
}

func TestPauseForAtLeastNeverShortens(t *testing.T) {
	ctrl, clock := newController(t)
	ctx := context.Background()

	long, err := ctrl.PauseForAtLeast(ctx, time.Hour)
	require.NoError(t, err)
	short, err := ctrl.PauseForAtLeast(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, short.Equal(long), "shorter pause must keep the later deadline")

	deadline, ok, err := ctrl.Deadline(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, deadline.Equal(clock.Now().Add(time.Hour)))

	longer, err := ctrl.PauseForAtLeast(ctx, 2*time.Hour)
	require.NoError(t, err)
	assert.True(t, longer.After(long))
}

func TestPauseUntilOverwrites(t *testing.T) {
	ctrl, clock := newController(t)
	ctx := context.Background()

	_, err := ctrl.PauseForAtLeast(ctx, 3*time.Hour)
	require.NoError(t, err)

	earlier := clock.Now().Add(time.Minute)
	require.NoError(t, ctrl.PauseUntil(ctx, &earlier))
	deadline, _, err := ctrl.Deadline(ctx)
	require.NoError(t, err)
	assert.True(t, deadline.Equal(earlier))

	require.NoError(t, ctrl.PauseUntil(ctx, nil))
	_, ok, err := ctrl.Deadline(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, ctrl.IsPaused(ctx))
}

func TestIsPausedBoundary(t *testing.T) {
	ctrl, clock := newController(t)
	ctx := context.Background()

	deadline := clock.Now().Add(time.Second)
	require.NoError(t, ctrl.PauseUntil(ctx, &deadline))
	assert.True(t, ctrl.IsPaused(ctx))
	assert.ErrorIs(t, ctrl.Check(ctx), pause.ErrInterrupted)

	clock.Advance(time.Second)
	assert.False(t, ctrl.IsPaused(ctx), "uploads are allowed at the deadline itself")
}

func TestCheckReportsCancellationAsInterrupted(t *testing.T) {
	ctrl, _ := newController(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ctrl.Check(ctx)
	assert.ErrorIs(t, err, pause.ErrInterrupted)
	assert.True(t, pause.IsInterrupted(err))
	assert.False(t, pause.IsInterrupted(errors.New("network down")))
}
