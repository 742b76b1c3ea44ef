package ipc_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"signsync/internal/daemon"
	"signsync/internal/datamanager"
	"signsync/internal/ipc"
	"signsync/internal/logging"
	"signsync/internal/pause"
	"signsync/internal/server"
	"signsync/internal/testsupport"
)

const promptsJSON = `{"sections":[{"name":"alphabet","mainPrompts":[{"key":"a","prompt":"A"}]}]}`

type env struct {
	fake   *testsupport.FakeServer
	client *ipc.Client
	logDir string
}

func startServer(t *testing.T) env {
	t.Helper()
	fake := testsupport.NewFakeServer(t)
	fake.Prompts = []byte(promptsJSON)
	cfg := testsupport.NewConfig(t, testsupport.WithServerURL(fake.URL))
	cfg.Workflow.InitialDelay = 3600
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	st := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	pauser := pause.New(st, logger)
	mgr := datamanager.NewWithDeps(cfg, st, logger, datamanager.Deps{
		Server: server.NewWithDoer(fake.URL, "test", fake.Client(), logger),
		Gate:   pauser,
	})
	logPath := filepath.Join(cfg.Paths.LogDir, "ipc-test.log")
	if err := os.WriteFile(logPath, []byte("first\nsecond\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	d, err := daemon.New(cfg, st, logger, mgr, pauser, nil, logPath)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	// unix socket paths are length limited; keep it short
	socket := filepath.Join(os.TempDir(), "signsync-ipc-"+strings.ReplaceAll(t.Name(), "/", "_")+".sock")
	srv, err := ipc.NewServer(ctx, socket, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)
	t.Cleanup(d.Stop)

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	start, err := client.Start()
	if err != nil || !start.Started {
		t.Fatalf("start: %+v %v", start, err)
	}
	return env{fake: fake, client: client, logDir: cfg.Paths.LogDir}
}

func TestIPCStatusAndStop(t *testing.T) {
	e := startServer(t)

	status, err := e.client.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Running || status.Readiness != "ready" || status.PID == 0 {
		t.Fatalf("unexpected status %+v", status)
	}

	again, err := e.client.Start()
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if again.Started || !strings.Contains(again.Message, "already running") {
		t.Fatalf("expected already running, got %+v", again)
	}

	stop, err := e.client.Stop()
	if err != nil || !stop.Stopped {
		t.Fatalf("stop: %+v %v", stop, err)
	}
	status, err = e.client.Status()
	if err != nil {
		t.Fatalf("status after stop: %v", err)
	}
	if status.Running {
		t.Fatal("expected daemon to report stopped")
	}
}

func TestIPCAttachRegisterUpload(t *testing.T) {
	e := startServer(t)

	attach, err := e.client.Attach(ipc.AttachRequest{Username: "alice", AdminPassword: "test-admin"})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if attach.Username != "alice" {
		t.Fatalf("unexpected attach response %+v", attach)
	}

	if _, err := e.client.Log("hello from the cli"); err != nil {
		t.Fatalf("log: %v", err)
	}
	status, err := e.client.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Username != "alice" || status.PendingRecords == 0 {
		t.Fatalf("unexpected status %+v", status)
	}

	if _, err := e.client.Register("../outside.mp4"); err == nil {
		t.Fatal("expected escaping path to be rejected")
	}

	upload, err := e.client.Upload()
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if upload.Result != "success" {
		t.Fatalf("expected success, got %+v", upload)
	}
	status, err = e.client.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.PendingRecords != 0 || status.Progress != 100 {
		t.Fatalf("expected drained records at 100%%, got %+v", status)
	}
}

func TestIPCPause(t *testing.T) {
	e := startServer(t)

	resp, err := e.client.Pause(ipc.PauseRequest{Seconds: 600})
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !resp.Paused || time.Until(resp.Until) < 9*time.Minute {
		t.Fatalf("unexpected pause response %+v", resp)
	}

	upload, err := e.client.Upload()
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if upload.Result != "interrupted" {
		t.Fatalf("expected interrupted while paused, got %+v", upload)
	}

	if _, err := e.client.Pause(ipc.PauseRequest{Clear: true}); err != nil {
		t.Fatalf("clear: %v", err)
	}
	status, err := e.client.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.PausedUntil.IsZero() {
		t.Fatalf("expected pause cleared, got %s", status.PausedUntil)
	}

	if _, err := e.client.Pause(ipc.PauseRequest{}); err == nil {
		t.Fatal("expected empty pause request to fail")
	}
}

func TestIPCLogTail(t *testing.T) {
	e := startServer(t)

	resp, err := e.client.LogTail(ipc.LogTailRequest{Offset: -1, Limit: 1})
	if err != nil {
		t.Fatalf("log tail: %v", err)
	}
	if len(resp.Lines) != 1 || resp.Lines[0] != "second" {
		t.Fatalf("unexpected lines %#v", resp.Lines)
	}
}

func TestIPCTestNotificationWithoutTopic(t *testing.T) {
	e := startServer(t)
	resp, err := e.client.TestNotification()
	if err != nil {
		t.Fatalf("test notification: %v", err)
	}
	if resp.Sent {
		t.Fatal("expected no notification without a topic")
	}
}
