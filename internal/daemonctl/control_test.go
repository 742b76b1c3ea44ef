package daemonctl

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"signsync/internal/pause"
	"signsync/internal/store"
	"signsync/internal/testsupport"
)

func TestForceKillProcessRequiresPID(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "signsync.pid")
	if _, err := ForceKillProcess(pidPath, 0); err == nil {
		t.Fatal("expected error without pid")
	}
}

func TestForceKillProcessRefusesSelf(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "signsync.pid")
	if err := os.WriteFile(pidPath, []byte("0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ForceKillProcess(pidPath, os.Getpid()); err == nil {
		t.Fatal("expected refusal to kill the current process")
	}
}

func TestStopWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	socket := filepath.Join(t.TempDir(), "absent.sock")
	if _, err := StopAndTerminate(socket, cfg, time.Second); err != ErrDaemonNotRunning {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestBuildStatusSnapshotOffline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	if err := st.SetString(ctx, "login_username", "alice"); err != nil {
		t.Fatal(err)
	}
	until := time.Now().Add(time.Hour)
	if err := st.SetTime(ctx, pause.DeadlineKey, until); err != nil {
		t.Fatal(err)
	}
	if err := st.PutRecords(ctx, []store.Record{{Key: "log-1", Partition: "log", Payload: store.TextPayload("x"), CreatedAt: time.Now()}}); err != nil {
		t.Fatal(err)
	}
	st.Close()

	snap, err := BuildStatusSnapshot(ctx, filepath.Join(t.TempDir(), "absent.sock"), cfg)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	if snap.Daemon.Running {
		t.Fatal("expected offline snapshot")
	}
	if snap.Daemon.Username != "alice" || snap.Daemon.PendingRecords != 1 {
		t.Fatalf("unexpected offline status %+v", snap.Daemon)
	}
	if snap.Daemon.PausedUntil.IsZero() {
		t.Fatal("expected pause deadline in snapshot")
	}
	if len(snap.Checks) == 0 {
		t.Fatal("expected preflight checks")
	}
}
