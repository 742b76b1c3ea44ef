// Package daemonrun builds the daemon process: per-run logging, store,
// state manager, control socket, and signal handling.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"signsync/internal/config"
	"signsync/internal/daemon"
	"signsync/internal/datamanager"
	"signsync/internal/ipc"
	"signsync/internal/logging"
	"signsync/internal/notifications"
	"signsync/internal/pause"
	"signsync/internal/preflight"
	"signsync/internal/server"
	"signsync/internal/store"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the signsync daemon and blocks until SIGINT/SIGTERM or cmdCtx
// ends.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := logging.RunLogPath(cfg.Paths.LogDir, runID)
	level := opts.LogLevel
	if strings.TrimSpace(level) == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := logging.EnsureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update signsync.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "signsync-*.log", Exclude: []string{logPath}},
	)
	logConfigSnapshot(logger, cfg)

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open store", logging.Error(err))
		return err
	}

	client := server.New(cfg, logger)
	pauser := pause.New(st, logger)
	notifier := notifications.NewService(cfg)
	mgr := datamanager.NewWithDeps(cfg, st, logger, datamanager.Deps{
		Server:   client,
		Gate:     pauser,
		Notifier: notifier,
	})

	d, err := daemon.New(cfg, st, logger, mgr, pauser, notifier, logPath)
	if err != nil {
		st.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logging.WarnWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration and data directory access, then run signsync start"),
			logging.String(logging.FieldImpact, "uploads will not run until the daemon is started"),
		)
	}
	logPreflight(signalCtx, logger, cfg, client)

	<-signalCtx.Done()
	logger.Info("signsync daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config, client *server.Client) {
	token := ""
	if data, err := os.ReadFile(cfg.LoginTokenPath()); err == nil {
		token = strings.TrimSpace(string(data))
	}
	for _, result := range preflight.RunAll(ctx, cfg, client, token) {
		if result.Passed {
			logger.Info("preflight check passed",
				logging.String(logging.FieldEventType, "preflight_ok"),
				logging.String("check", result.Name),
				logging.String("detail", result.Detail),
			)
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "uploads may fail until resolved"),
		)
	}
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("server", cfg.Server.BaseURL),
		logging.String("data_dir", cfg.Paths.DataDir),
		logging.Bool("admin_password_present", strings.TrimSpace(cfg.Server.AdminPassword) != ""),
		logging.Int("batch_size", cfg.Upload.BatchSize),
		logging.Int("chunk_size_bytes", cfg.Upload.ChunkSizeBytes),
		logging.Bool("watch_upload_dir", cfg.Upload.WatchUploadDir),
		logging.Int("upload_interval_s", cfg.Workflow.UploadInterval),
		logging.Bool("ntfy_enabled", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
	)
}
