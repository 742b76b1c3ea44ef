package scheduler_test

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
	"signsync/internal/scheduler"
	"signsync/internal/store"
	"signsync/internal/testsupport"
	"signsync/internal/upload"
)

type fakeRunner struct {
	mu      sync.Mutex
	results []upload.Result
	calls   int
	called  chan struct{}
}

func newFakeRunner(results ...upload.Result) *fakeRunner {
	return &fakeRunner{results: results, called: make(chan struct{}, 16)}
}

func (f *fakeRunner) UploadData(context.Context) (upload.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	res := upload.Success
	if len(f.results) > 0 {
		res = f.results[0]
		f.results = f.results[1:]
	}
	f.called <- struct{}{}
	if res == upload.Failed {
		return res, errors.New("server unreachable")
	}
	return res, nil
}

func (f *fakeRunner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store *store.Store
	pause *pause.Controller
	clock *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	c := &clock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	return &fixture{store: st, pause: pause.New(st, logging.NewNop(), pause.WithClock(c.Now)), clock: c}
}

func (f *fixture) scheduler(t *testing.T, runner scheduler.Runner, withClock bool) *scheduler.Scheduler {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.InitialDelay = 3600
	cfg.Workflow.UploadInterval = 600
	cfg.Workflow.ErrorRetryInterval = 60
	cfg.Workflow.WatchdogInterval = 3600
	var opts []scheduler.Option
	if withClock {
		opts = append(opts, scheduler.WithClock(f.clock.Now))
	}
	return scheduler.New(cfg, f.store, runner, f.pause, logging.NewNop(), opts...)
}

func TestRunOncePlansNextCycleFromResult(t *testing.T) {
	cases := []struct {
		result upload.Result
		after  time.Duration
	}{
		{upload.Success, 600 * time.Second},
		{upload.Failed, 60 * time.Second},
		{upload.Interrupted, 60 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.result.String(), func(t *testing.T) {
			f := newFixture(t)
			runner := newFakeRunner(tc.result)
			s := f.scheduler(t, runner, true)
			ctx := context.Background()

			assert.Equal(t, tc.result, s.RunOnce(ctx))
			status := s.Status()
			assert.Equal(t, f.clock.Now().Add(tc.after), status.Next)
			assert.Equal(t, tc.result.String(), status.LastResult)

			persisted, ok, err := f.store.GetTime(ctx, scheduler.NextRunKey)
			require.NoError(t, err)
			require.True(t, ok)
			assert.True(t, persisted.Equal(status.Next))
			last, ok, err := f.store.GetString(ctx, scheduler.LastResultKey)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tc.result.String(), last)
		})
	}
}

func TestRunOnceDefersWhilePaused(t *testing.T) {
	f := newFixture(t)
	runner := newFakeRunner()
	s := f.scheduler(t, runner, true)
	ctx := context.Background()

	deadline, err := f.pause.PauseForAtLeast(ctx, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, upload.Interrupted, s.RunOnce(ctx))
	assert.Zero(t, runner.Calls())
	assert.True(t, s.Status().Next.Equal(deadline))

	f.clock.Advance(time.Hour)
	assert.Equal(t, upload.Success, s.RunOnce(ctx))
	assert.Equal(t, 1, runner.Calls())
}

func TestWatchdogReschedulesMissingOrStalePlan(t *testing.T) {
	f := newFixture(t)
	s := f.scheduler(t, newFakeRunner(), true)
	ctx := context.Background()

	assert.True(t, s.Watchdog(ctx), "nothing planned")
	assert.Equal(t, f.clock.Now(), s.Status().Next)

	s.RunOnce(ctx)
	assert.False(t, s.Watchdog(ctx), "fresh plan is left alone")

	f.clock.Advance(2*600*time.Second + time.Minute)
	assert.False(t, s.Watchdog(ctx), "overdue by less than two intervals")

	f.clock.Advance(10 * time.Minute)
	assert.True(t, s.Watchdog(ctx))
	assert.Equal(t, f.clock.Now(), s.Status().Next)
	assert.False(t, s.Status().Heartbeat.IsZero())
}

func TestStartRestoresPersistedPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	planned := time.Now().Add(48 * time.Hour).UTC()
	require.NoError(t, f.store.SetTime(ctx, scheduler.NextRunKey, planned))

	runner := newFakeRunner()
	s := f.scheduler(t, runner, false)
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	assert.True(t, s.Status().Next.Equal(planned))
	assert.True(t, s.Status().Running)
	assert.Error(t, s.Start(ctx), "second start is rejected")
}

func TestTriggerNowRunsCycle(t *testing.T) {
	f := newFixture(t)
	runner := newFakeRunner()
	s := f.scheduler(t, runner, false)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	s.TriggerNow(ctx)
	select {
	case <-runner.called:
	case <-time.After(5 * time.Second):
		t.Fatal("triggered cycle did not run")
	}
	require.Eventually(t, func() bool {
		return s.Status().LastResult == upload.Success.String()
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, s.Status().Next.After(time.Now().Add(5*time.Minute)), "success plans the regular interval")
}

type hookRunner struct {
	onRun func(ctx context.Context)
}

func (h *hookRunner) UploadData(ctx context.Context) (upload.Result, error) {
	h.onRun(ctx)
	return upload.Success, nil
}

func TestTriggerDuringActiveCycleIsHonoured(t *testing.T) {
	f := newFixture(t)
	runner := &hookRunner{}
	s := f.scheduler(t, runner, true)
	ctx := context.Background()
	runner.onRun = func(ctx context.Context) {
		require.True(t, s.Status().Active)
		s.TriggerNow(ctx)
	}

	assert.Equal(t, upload.Success, s.RunOnce(ctx))
	assert.Equal(t, f.clock.Now(), s.Status().Next, "held trigger plans an immediate cycle")

	runner.onRun = func(context.Context) {}
	s.RunOnce(ctx)
	assert.Equal(t, f.clock.Now().Add(600*time.Second), s.Status().Next, "trigger is consumed by one cycle")
}
