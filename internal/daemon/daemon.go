package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"signsync/internal/config"
	"signsync/internal/datamanager"
	"signsync/internal/logging"
	"signsync/internal/notifications"
	"signsync/internal/pause"
	"signsync/internal/scheduler"
	"signsync/internal/store"
	"signsync/internal/upload"
	"signsync/internal/watcher"
)

// Daemon coordinates the background upload services and enforces
// single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	manager   *datamanager.Manager
	pauser    *pause.Controller
	scheduler *scheduler.Scheduler
	notifier  notifications.Service
	logPath   string

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	watcher *watcher.Watcher
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running         bool
	PID             int
	Readiness       string
	Username        string
	DeviceID        string
	TutorialMode    bool
	CurrentSection  string
	Progress        int
	PausedUntil     time.Time
	StagedRecords   int
	PendingRecords  int
	RegisteredFiles int
	Scheduler       scheduler.Status
	DatabasePath    string
	LockFilePath    string
}

// New constructs a daemon around an opened store and a state manager.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger, mgr *datamanager.Manager, pauser *pause.Controller, notifier notifications.Service, logPath string) (*Daemon, error) {
	if cfg == nil || st == nil || mgr == nil || pauser == nil {
		return nil, errors.New("daemon requires config, store, state manager, and pause controller")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	logger = logging.NewComponentLogger(logger, "daemon")

	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		manager:   mgr,
		pauser:    pauser,
		scheduler: scheduler.New(cfg, st, mgr, pauser, logger),
		notifier:  notifier,
		logPath:   logPath,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, loads persisted state, and launches the
// upload chain and, when enabled, the upload directory watcher.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another signsync daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	fail := func(err error) error {
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	if err := d.manager.Initialize(runCtx); err != nil {
		return fail(fmt.Errorf("load state: %w", err))
	}
	if err := d.scheduler.Start(runCtx); err != nil {
		return fail(fmt.Errorf("start scheduler: %w", err))
	}
	if d.cfg.Upload.WatchUploadDir {
		w := watcher.New(d.cfg.UploadDir(), d.manager.Registry(), d.manager,
			time.Duration(d.cfg.Upload.SettleSeconds)*time.Second, d.logger,
			watcher.WithOnRegistered(func(string) { d.scheduler.TriggerNow(runCtx) }),
		)
		if err := w.Start(runCtx); err != nil {
			d.scheduler.Stop()
			return fail(fmt.Errorf("start upload watcher: %w", err))
		}
		d.watcher = w
	}

	d.ctx, d.cancel = runCtx, cancel
	d.running.Store(true)
	d.logger.Info("signsync daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.Bool("watching", d.watcher != nil),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.scheduler.Stop()
	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			d.logger.Debug("upload watcher stop failed", logging.Error(err))
		}
		d.watcher = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("signsync daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Manager exposes the state manager for control requests.
func (d *Daemon) Manager() *datamanager.Manager {
	return d.manager
}

// Pauser exposes the pause controller for control requests.
func (d *Daemon) Pauser() *pause.Controller {
	return d.pauser
}

// UploadNow runs one upload cycle through the scheduler so the next run is
// re-planned from its result. The cycle error, if any, is returned alongside.
func (d *Daemon) UploadNow(ctx context.Context) (upload.Result, error) {
	res := d.scheduler.RunOnce(ctx)
	if res == upload.Failed {
		if msg := d.scheduler.Status().LastError; msg != "" {
			return res, errors.New(msg)
		}
	}
	return res, nil
}

// TriggerUpload asks the chain to run as soon as possible.
func (d *Daemon) TriggerUpload(ctx context.Context) {
	d.scheduler.TriggerNow(ctx)
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Readiness:    d.manager.Readiness().String(),
		Progress:     d.manager.Progress(),
		Scheduler:    d.scheduler.Status(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
	}
	if snap := d.manager.Snapshot(); snap != nil {
		status.Username = snap.Username
		status.DeviceID = snap.DeviceID
		status.TutorialMode = snap.TutorialMode
		status.CurrentSection = snap.CurrentSection
	}
	if deadline, ok, err := d.pauser.Deadline(ctx); err == nil && ok && time.Now().Before(deadline) {
		status.PausedUntil = deadline
	}
	status.StagedRecords = d.manager.StagedCount()
	if pending, err := d.store.CountRecords(ctx); err == nil {
		status.PendingRecords = pending
	}
	if files, err := d.manager.Registry().List(ctx); err == nil {
		status.RegisteredFiles = len(files)
	}
	return status
}
