package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"signsync/internal/config"
	"signsync/internal/daemon"
	"signsync/internal/datamanager"
	"signsync/internal/ipc"
	"signsync/internal/logging"
	"signsync/internal/pause"
	"signsync/internal/server"
	"signsync/internal/testsupport"
)

const testPromptsJSON = `{"sections":[` +
	`{"name":"alphabet","mainPrompts":[{"key":"a","prompt":"A"},{"key":"b","prompt":"B"}],"tutorialPrompts":[{"key":"t","prompt":"T"}]},` +
	`{"name":"daily_words","mainPrompts":[{"key":"hello","prompt":"Hello"}]}]}`

type cliTestEnv struct {
	cfg        *config.Config
	fake       *testsupport.FakeServer
	socketPath string
	configPath string
}

// setupCLITestEnv writes a config pointing at a fake collection server. No
// daemon listens on socketPath, so commands run locally.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	fake := testsupport.NewFakeServer(t)
	fake.Prompts = []byte(testPromptsJSON)
	cfg := testsupport.NewConfig(t, testsupport.WithServerURL(fake.URL))
	cfg.Workflow.InitialDelay = 3600
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{
		cfg:        cfg,
		fake:       fake,
		socketPath: shortSocketPath(t),
		configPath: configPath,
	}
}

// startDaemon serves the daemon on env.socketPath for the rest of the test.
func (e *cliTestEnv) startDaemon(t *testing.T) *daemon.Daemon {
	t.Helper()
	st := testsupport.MustOpenStore(t, e.cfg)
	logger := logging.NewNop()
	pauser := pause.New(st, logger)
	mgr := datamanager.NewWithDeps(e.cfg, st, logger, datamanager.Deps{
		Server: server.NewWithDoer(e.fake.URL, "test", e.fake.Client(), logger),
		Gate:   pauser,
	})
	logPath := filepath.Join(e.cfg.Paths.LogDir, "signsync-test.log")
	if err := os.WriteFile(logPath, []byte("booted\nready\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	d, err := daemon.New(e.cfg, st, logger, mgr, pauser, nil, logPath)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv, err := ipc.NewServer(ctx, e.socketPath, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)
	t.Cleanup(d.Stop)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon start: %v", err)
	}
	return d
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return runCLI(t, args, e.socketPath, e.configPath)
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func shortSocketPath(t *testing.T) string {
	t.Helper()
	// unix socket paths are length limited
	path := filepath.Join(os.TempDir(), "signsync-cli-"+strings.ReplaceAll(t.Name(), "/", "_")+".sock")
	_ = os.Remove(path)
	t.Cleanup(func() { _ = os.Remove(path) })
	return path
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(
		"[paths]\ndata_dir = %q\nlog_dir = %q\n\n[server]\nbase_url = %q\nadmin_password = %q\napp_version = %q\n\n[upload]\nchunk_size_bytes = %d\nwatch_upload_dir = false\n\n[workflow]\ninitial_delay = %d\n",
		cfg.Paths.DataDir,
		cfg.Paths.LogDir,
		cfg.Server.BaseURL,
		cfg.Server.AdminPassword,
		cfg.Server.AppVersion,
		cfg.Upload.ChunkSizeBytes,
		cfg.Workflow.InitialDelay,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
