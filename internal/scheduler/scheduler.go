package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"signsync/internal/config"
	"signsync/internal/logging"
	"signsync/internal/services"
	"signsync/internal/store"
	"signsync/internal/upload"
)

// Preference keys owned by the scheduler.
const (
	NextRunKey    = "upload_schedule_next"
	LastResultKey = "upload_last_result"
)

// Runner executes one upload cycle.
type Runner interface {
	UploadData(ctx context.Context) (upload.Result, error)
}

// Pauser exposes the pause deadline.
type Pauser interface {
	Deadline(ctx context.Context) (time.Time, bool, error)
}

// Option configures optional Scheduler behavior.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// Status is a point-in-time view of the chain.
type Status struct {
	Running    bool
	Active     bool
	Next       time.Time
	LastRun    time.Time
	LastResult string
	LastError  string
	Heartbeat  time.Time
}

// Scheduler drives the upload chain.
type Scheduler struct {
	store  *store.Store
	runner Runner
	pauser Pauser
	logger *slog.Logger
	now    func() time.Time

	initialDelay     time.Duration
	uploadInterval   time.Duration
	retryInterval    time.Duration
	watchdogInterval time.Duration

	wake chan struct{}

	mu         sync.Mutex
	running    bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	active     bool
	pending    bool // trigger arrived during the active cycle
	next       time.Time
	lastRun    time.Time
	lastResult string
	lastErr    error
	heartbeat  time.Time
}

// New builds a scheduler from the workflow configuration.
func New(cfg *config.Config, st *store.Store, runner Runner, pauser Pauser, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Scheduler{
		store:            st,
		runner:           runner,
		pauser:           pauser,
		logger:           logging.NewComponentLogger(logger, "scheduler"),
		now:              time.Now,
		initialDelay:     seconds(cfg.Workflow.InitialDelay),
		uploadInterval:   seconds(cfg.Workflow.UploadInterval),
		retryInterval:    seconds(cfg.Workflow.ErrorRetryInterval),
		watchdogInterval: seconds(cfg.Workflow.WatchdogInterval),
		wake:             make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Start restores the persisted plan, runs the watchdog once, and begins the
// chain and watchdog loops.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	next, ok, err := s.store.GetTime(ctx, NextRunKey)
	if err != nil {
		logging.WarnWithContext(s.logger, "persisted upload plan unreadable", "schedule_load_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the state database"),
			logging.String(logging.FieldImpact, "upload chain restarts from the initial delay"),
		)
	}
	if !ok || err != nil {
		next = s.now().Add(s.initialDelay)
	}
	s.plan(ctx, next, "startup")
	s.Watchdog(ctx)

	s.wg.Add(2)
	go s.runChain(runCtx)
	go s.runWatchdog(runCtx)
	return nil
}

// Stop cancels both loops and waits for any active cycle to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// TriggerNow plans an immediate cycle. A trigger that lands during an active
// cycle is held and honoured once that cycle returns.
func (s *Scheduler) TriggerNow(ctx context.Context) {
	s.mu.Lock()
	if s.active {
		s.pending = true
		s.mu.Unlock()
		s.logger.Debug("upload trigger deferred until the active cycle ends",
			logging.String(logging.FieldEventType, "upload_trigger_deferred"),
		)
		return
	}
	s.mu.Unlock()
	s.plan(ctx, s.now(), "trigger")
}

// Status reports the current plan.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := Status{
		Running:    s.running,
		Active:     s.active,
		Next:       s.next,
		LastRun:    s.lastRun,
		LastResult: s.lastResult,
		Heartbeat:  s.heartbeat,
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	return status
}

// Watchdog re-plans the chain when nothing is scheduled or the plan is
// overdue by more than two upload intervals while no cycle is running. It
// reports whether it re-planned.
func (s *Scheduler) Watchdog(ctx context.Context) bool {
	s.mu.Lock()
	s.heartbeat = s.now()
	active := s.active
	next := s.next
	s.mu.Unlock()

	if active {
		return false
	}
	now := s.now()
	switch {
	case next.IsZero():
		s.logger.Info("no upload planned; rescheduling", logging.String(logging.FieldEventType, "watchdog_reschedule"))
	case now.Sub(next) > 2*s.uploadInterval:
		s.logger.Info("upload plan overdue; rescheduling",
			logging.String(logging.FieldEventType, "watchdog_reschedule"),
			logging.Time("planned", next),
		)
	default:
		return false
	}
	s.plan(ctx, now, "watchdog")
	return true
}

// plan records when the next cycle should start and wakes the chain loop.
func (s *Scheduler) plan(ctx context.Context, at time.Time, reason string) {
	s.mu.Lock()
	s.next = at
	s.mu.Unlock()
	if err := s.store.SetTime(ctx, NextRunKey, at); err != nil && ctx.Err() == nil {
		logging.WarnWithContext(s.logger, "failed to persist upload plan", "schedule_persist_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the state database"),
			logging.String(logging.FieldImpact, "the plan is lost if the daemon restarts"),
		)
	}
	s.logger.Debug("upload planned",
		logging.String(logging.FieldEventType, "upload_planned"),
		logging.Time("at", at),
		logging.String("reason", reason),
	)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) runChain(ctx context.Context) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		wait := s.next.Sub(s.now())
		s.mu.Unlock()
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
			continue
		case <-timer.C:
		}
		s.RunOnce(ctx)
	}
}

func (s *Scheduler) runWatchdog(ctx context.Context) {
	defer s.wg.Done()
	if s.watchdogInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.watchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Watchdog(ctx)
		}
	}
}

// RunOnce runs a cycle unless uploads are paused, then plans the next one.
func (s *Scheduler) RunOnce(ctx context.Context) upload.Result {
	if deadline, paused := s.pausedUntil(ctx); paused {
		s.logger.Info("uploads paused; deferring cycle",
			logging.String(logging.FieldEventType, "upload_deferred"),
			logging.Time("until", deadline),
		)
		s.plan(ctx, deadline, "paused")
		return upload.Interrupted
	}

	s.mu.Lock()
	s.active = true
	s.pending = false
	s.mu.Unlock()

	cycleCtx := services.WithCycleID(ctx, s.now().UTC().Format("20060102T150405.000"))
	res, err := s.runner.UploadData(cycleCtx)

	s.mu.Lock()
	s.active = false
	s.lastRun = s.now()
	s.lastResult = res.String()
	s.lastErr = err
	triggered := s.pending
	s.pending = false
	s.mu.Unlock()

	if ctx.Err() != nil {
		return res
	}
	if err := s.store.SetString(ctx, LastResultKey, res.String()); err != nil {
		s.logger.Debug("failed to persist last result", logging.Error(err))
	}

	if deadline, paused := s.pausedUntil(ctx); paused {
		s.plan(ctx, deadline, "paused")
		return res
	}
	switch {
	case triggered:
		s.plan(ctx, s.now(), "trigger")
	case res == upload.Success:
		s.plan(ctx, s.now().Add(s.uploadInterval), "success")
	case res == upload.Interrupted:
		s.plan(ctx, s.now().Add(s.retryInterval), "interrupted")
	default:
		s.plan(ctx, s.now().Add(s.retryInterval), "failed")
	}
	return res
}

func (s *Scheduler) pausedUntil(ctx context.Context) (time.Time, bool) {
	if s.pauser == nil {
		return time.Time{}, false
	}
	deadline, ok, err := s.pauser.Deadline(ctx)
	if err != nil || !ok {
		return time.Time{}, false
	}
	if !s.now().Before(deadline) {
		return time.Time{}, false
	}
	return deadline, true
}
