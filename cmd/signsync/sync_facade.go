package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/flock"

	"signsync/internal/config"
	"signsync/internal/datamanager"
	"signsync/internal/ipc"
	"signsync/internal/logging"
	"signsync/internal/notifications"
	"signsync/internal/pause"
	"signsync/internal/server"
	"signsync/internal/store"
)

// syncAPI is the set of state-changing operations the CLI performs. The IPC
// adapter forwards to a running daemon; the local adapter runs them in this
// process while holding the daemon lock.
type syncAPI interface {
	Attach(ctx context.Context, username, adminPassword string) (string, error)
	Register(ctx context.Context, relativePath string) (ipc.RegisterResponse, error)
	Log(ctx context.Context, message string) error
	Persist(ctx context.Context) (int, error)
	Upload(ctx context.Context) (ipc.UploadResponse, error)
	Pause(ctx context.Context, req ipc.PauseRequest) (ipc.PauseResponse, error)
	Directives(ctx context.Context) (ipc.DirectivesResponse, error)
	ReloadPrompts(ctx context.Context) ([]string, error)
	SetTutorialMode(ctx context.Context, enabled bool) error
	TestNotification(ctx context.Context) (ipc.TestNotificationResponse, error)
	Close() error
}

// openSyncAPI prefers the daemon and falls back to local execution when its
// socket is unreachable.
func (c *commandContext) openSyncAPI(ctx context.Context) (syncAPI, error) {
	if client, err := ipc.Dial(c.socketPath()); err == nil {
		return &syncIPCAdapter{client: client}, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return openLocalSync(ctx, cfg)
}

// --- IPC adapter ---

type syncIPCAdapter struct {
	client *ipc.Client
}

func (a *syncIPCAdapter) Attach(_ context.Context, username, adminPassword string) (string, error) {
	resp, err := a.client.Attach(ipc.AttachRequest{Username: username, AdminPassword: adminPassword})
	if err != nil {
		return "", err
	}
	return resp.Username, nil
}

func (a *syncIPCAdapter) Register(_ context.Context, relativePath string) (ipc.RegisterResponse, error) {
	resp, err := a.client.Register(relativePath)
	if err != nil {
		return ipc.RegisterResponse{}, err
	}
	return *resp, nil
}

func (a *syncIPCAdapter) Log(_ context.Context, message string) error {
	_, err := a.client.Log(message)
	return err
}

func (a *syncIPCAdapter) Persist(context.Context) (int, error) {
	resp, err := a.client.Persist()
	if err != nil {
		return 0, err
	}
	return resp.Flushed, nil
}

func (a *syncIPCAdapter) Upload(context.Context) (ipc.UploadResponse, error) {
	resp, err := a.client.Upload()
	if err != nil {
		return ipc.UploadResponse{}, err
	}
	return *resp, nil
}

func (a *syncIPCAdapter) Pause(_ context.Context, req ipc.PauseRequest) (ipc.PauseResponse, error) {
	resp, err := a.client.Pause(req)
	if err != nil {
		return ipc.PauseResponse{}, err
	}
	return *resp, nil
}

func (a *syncIPCAdapter) Directives(context.Context) (ipc.DirectivesResponse, error) {
	resp, err := a.client.Directives()
	if resp == nil {
		return ipc.DirectivesResponse{}, err
	}
	return *resp, err
}

func (a *syncIPCAdapter) ReloadPrompts(context.Context) ([]string, error) {
	resp, err := a.client.ReloadPrompts()
	if err != nil {
		return nil, err
	}
	return resp.Sections, nil
}

func (a *syncIPCAdapter) SetTutorialMode(_ context.Context, enabled bool) error {
	_, err := a.client.SetTutorialMode(enabled)
	return err
}

func (a *syncIPCAdapter) TestNotification(context.Context) (ipc.TestNotificationResponse, error) {
	resp, err := a.client.TestNotification()
	if resp == nil {
		return ipc.TestNotificationResponse{}, err
	}
	return *resp, err
}

func (a *syncIPCAdapter) Close() error {
	return a.client.Close()
}

// --- Local adapter ---

type syncLocalAdapter struct {
	cfg      *config.Config
	store    *store.Store
	lock     *flock.Flock
	manager  *datamanager.Manager
	pauser   *pause.Controller
	notifier notifications.Service
}

func openLocalSync(ctx context.Context, cfg *config.Config) (*syncLocalAdapter, error) {
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, errors.New("the signsync daemon holds the upload lock but its socket is unreachable; retry shortly or restart it")
	}

	st, err := store.Open(cfg)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open store: %w", err)
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		st.Close()
		_ = lock.Unlock()
		return nil, err
	}
	pauser := pause.New(st, logger)
	notifier := notifications.NewService(cfg)
	mgr := datamanager.NewWithDeps(cfg, st, logger, datamanager.Deps{
		Server:   server.New(cfg, logger),
		Gate:     pauser,
		Notifier: notifier,
	})
	if err := mgr.Initialize(ctx); err != nil {
		st.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("load state: %w", err)
	}
	return &syncLocalAdapter{cfg: cfg, store: st, lock: lock, manager: mgr, pauser: pauser, notifier: notifier}, nil
}

func (a *syncLocalAdapter) Attach(ctx context.Context, username, adminPassword string) (string, error) {
	username = strings.TrimSpace(username)
	if err := a.manager.AttachAccount(ctx, username, adminPassword); err != nil {
		return "", err
	}
	return username, nil
}

func (a *syncLocalAdapter) Register(ctx context.Context, relativePath string) (ipc.RegisterResponse, error) {
	file, err := a.manager.RegisterFile(ctx, relativePath)
	if err != nil {
		return ipc.RegisterResponse{}, err
	}
	return ipc.RegisterResponse{RelativePath: file.RelativePath, TutorialMode: file.TutorialMode}, nil
}

func (a *syncLocalAdapter) Log(ctx context.Context, message string) error {
	if err := a.manager.LogToServer(ctx, message); err != nil {
		return err
	}
	return a.manager.PersistData(ctx)
}

func (a *syncLocalAdapter) Persist(ctx context.Context) (int, error) {
	return a.manager.FlushStaged(ctx)
}

func (a *syncLocalAdapter) Upload(ctx context.Context) (ipc.UploadResponse, error) {
	res, err := a.manager.UploadData(ctx)
	resp := ipc.UploadResponse{Result: res.String()}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp, nil
}

func (a *syncLocalAdapter) Pause(ctx context.Context, req ipc.PauseRequest) (ipc.PauseResponse, error) {
	return ipc.ApplyPause(ctx, a.pauser, req)
}

func (a *syncLocalAdapter) Directives(ctx context.Context) (ipc.DirectivesResponse, error) {
	report, err := a.manager.RunDirectives(ctx)
	return ipc.DirectivesResponse{
		Executed:    report.Executed,
		Skipped:     report.Skipped,
		Failed:      report.Failed,
		ChangedUser: report.ChangedUser,
	}, err
}

func (a *syncLocalAdapter) ReloadPrompts(ctx context.Context) ([]string, error) {
	if err := a.manager.ReloadPrompts(ctx); err != nil {
		return nil, err
	}
	if snap := a.manager.Snapshot(); snap != nil && snap.Prompts != nil {
		return snap.Prompts.SectionNames(), nil
	}
	return nil, nil
}

func (a *syncLocalAdapter) SetTutorialMode(ctx context.Context, enabled bool) error {
	return a.manager.SetTutorialMode(ctx, enabled)
}

func (a *syncLocalAdapter) TestNotification(ctx context.Context) (ipc.TestNotificationResponse, error) {
	if strings.TrimSpace(a.cfg.Notifications.NtfyTopic) == "" {
		return ipc.TestNotificationResponse{Message: "ntfy topic not configured"}, nil
	}
	if err := a.notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return ipc.TestNotificationResponse{Message: "failed to send notification"}, err
	}
	return ipc.TestNotificationResponse{Sent: true, Message: "test notification sent"}, nil
}

func (a *syncLocalAdapter) Close() error {
	err := a.store.Close()
	if unlockErr := a.lock.Unlock(); err == nil {
		err = unlockErr
	}
	return err
}

func (c *commandContext) withSync(cmd interface{ Context() context.Context }, fn func(context.Context, syncAPI) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	api, err := c.openSyncAPI(ctx)
	if err != nil {
		return err
	}
	defer api.Close()
	return fn(ctx, api)
}
