// Package daemonctl launches, stops, and inspects the signsync daemon from
// the CLI.
package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"signsync/internal/config"
	"signsync/internal/datamanager"
	"signsync/internal/ipc"
	"signsync/internal/logging"
	"signsync/internal/pause"
	"signsync/internal/preflight"
	"signsync/internal/scheduler"
	"signsync/internal/server"
	"signsync/internal/store"
)

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
}

// StartState describes what EnsureStarted did.
type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
	StartStateRequested      StartState = "start_requested"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State    StartState
	Launched bool
	Message  string
}

// ErrDaemonNotRunning indicates daemon IPC is unavailable.
var ErrDaemonNotRunning = errors.New("daemon not running")

const pollInterval = 200 * time.Millisecond

// Launch starts `signsync daemon` in its own session so it outlives the
// calling terminal.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return errors.New("resolve executable: executable path is empty")
	}
	args := []string{"daemon"}
	if path := strings.TrimSpace(opts.ConfigPath); path != "" {
		args = append(args, "--config", path)
	}
	cmd := exec.Command(executablePath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return cmd.Process.Release()
}

// poll calls probe every pollInterval until it reports done or timeout
// elapses. It returns false on timeout.
func poll(timeout time.Duration, probe func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if probe() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}

// WaitForClient dials socketPath until the daemon answers or timeout elapses.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	var client *ipc.Client
	lastErr := errors.New("timeout waiting for daemon")
	ok := poll(timeout, func() bool {
		c, err := ipc.Dial(socketPath)
		if err != nil {
			lastErr = err
			return false
		}
		client = c
		return true
	})
	if !ok {
		return nil, fmt.Errorf("daemon failed to start: %w", lastErr)
	}
	return client, nil
}

// EnsureStarted launches the daemon when its socket is absent, then makes
// sure background processing is running.
func EnsureStarted(socketPath, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	result := StartResult{}
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if err := Launch(executablePath, opts); err != nil {
			return result, err
		}
		if client, err = WaitForClient(socketPath, waitTimeout); err != nil {
			return result, err
		}
		result.Launched = true
	}
	defer client.Close()

	if status, err := client.Status(); err == nil && status.Running {
		result.State = StartStateAlreadyRunning
		if result.Launched {
			result.State = StartStateStarted
		}
		return result, nil
	}

	resp, err := client.Start()
	if err != nil {
		return result, err
	}
	result.Message = strings.TrimSpace(resp.Message)
	result.State = StartStateRequested
	if resp.Started {
		result.State = StartStateStarted
	}
	return result, nil
}

// WaitForShutdown waits until the daemon socket stops accepting connections.
func WaitForShutdown(socketPath string, timeout time.Duration) error {
	gone := poll(timeout, func() bool {
		client, err := ipc.Dial(socketPath)
		if err != nil {
			return isDaemonUnavailable(err)
		}
		_ = client.Close()
		return false
	})
	if !gone {
		return fmt.Errorf("daemon did not stop within %s", timeout)
	}
	return nil
}

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	StopAcknowledged bool
	ForcedKill       bool
	PID              int
}

// StopAndTerminate stops background processing, sends SIGTERM to the daemon
// process, and force-kills it if the socket is still present after
// gracePeriod.
func StopAndTerminate(socketPath string, cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, err
	}
	pid := 0
	if status, statusErr := client.Status(); statusErr == nil {
		pid = status.PID
	}
	resp, err := client.Stop()
	_ = client.Close()
	if err != nil {
		return StopResult{}, err
	}
	result := StopResult{PID: pid, StopAcknowledged: resp.Stopped}

	if pid > 0 && pid != os.Getpid() {
		if proc, findErr := os.FindProcess(pid); findErr == nil {
			_ = proc.Signal(syscall.SIGTERM)
		}
	}
	if WaitForShutdown(socketPath, gracePeriod) == nil {
		return result, nil
	}

	killedPID, killErr := ForceKillProcess(cfg.PIDPath(), pid)
	if killErr != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", killErr)
	}
	_ = os.Remove(socketPath)
	result.ForcedKill = true
	result.PID = killedPID
	return result, nil
}

// ForceKillProcess sends SIGKILL to the daemon process and removes its pid
// file.
func ForceKillProcess(pidPath string, fallbackPID int) (int, error) {
	pid := fallbackPID
	data, err := os.ReadFile(pidPath)
	if err == nil {
		if parsed, parseErr := strconv.Atoi(strings.TrimSpace(string(data))); parseErr == nil && parsed > 0 {
			pid = parsed
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("read daemon pid file %q: %w", pidPath, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("unable to determine daemon pid (pid file: %s)", pidPath)
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Kill(); err != nil {
		return 0, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	return pid, nil
}

// Snapshot is the status view rendered by `signsync status`.
type Snapshot struct {
	Daemon ipc.StatusResponse
	Checks []preflight.Result
}

// BuildStatusSnapshot asks the daemon for status and falls back to reading
// the store directly when it is not reachable. Preflight checks always run
// locally.
func BuildStatusSnapshot(ctx context.Context, socketPath string, cfg *config.Config) (*Snapshot, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	snap := &Snapshot{}

	reached := false
	if client, err := ipc.Dial(socketPath); err == nil {
		if resp, statusErr := client.Status(); statusErr == nil {
			snap.Daemon = *resp
			reached = true
		}
		_ = client.Close()
	}
	if !reached {
		queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := offlineStatus(queryCtx, cfg, &snap.Daemon); err != nil {
			return nil, err
		}
	}

	token := readToken(cfg)
	prober := server.New(cfg, logging.NewNop())
	snap.Checks = append(snap.Checks, preflight.CheckAccountFromConfig(cfg))
	snap.Checks = append(snap.Checks, preflight.RunAll(ctx, cfg, prober, token)...)
	snap.Checks = append(snap.Checks, preflight.CheckNotificationsFromConfig(cfg))
	return snap, nil
}

// offlineStatus fills out from the store when no daemon answers. Values
// that cannot be read are left at their zero value.
func offlineStatus(ctx context.Context, cfg *config.Config, out *ipc.StatusResponse) error {
	st, err := store.Open(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	out.Readiness = "offline"
	out.DatabasePath = st.Path()
	out.LockPath = cfg.LockPath()

	for key, dst := range map[string]*string{
		datamanager.PrefUsername:       &out.Username,
		datamanager.PrefDeviceID:       &out.DeviceID,
		datamanager.PrefCurrentSection: &out.CurrentSection,
		scheduler.LastResultKey:        &out.LastResult,
	} {
		if v, ok, err := st.GetString(ctx, key); err == nil && ok {
			*dst = v
		}
	}
	if v, ok, err := st.GetBool(ctx, datamanager.PrefTutorialMode); err == nil && ok {
		out.TutorialMode = v
	}
	if v, ok, err := st.GetTime(ctx, pause.DeadlineKey); err == nil && ok && time.Now().Before(v) {
		out.PausedUntil = v
	}
	if v, ok, err := st.GetTime(ctx, scheduler.NextRunKey); err == nil && ok {
		out.NextRun = v
	}
	if n, err := st.CountRecords(ctx); err == nil {
		out.PendingRecords = n
	}
	if files, err := st.ListFiles(ctx); err == nil {
		out.RegisteredFiles = len(files)
	}
	return nil
}

func readToken(cfg *config.Config) string {
	data, err := os.ReadFile(cfg.LoginTokenPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func isDaemonUnavailable(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED)
}
