package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"
	"time"

	"signsync/internal/daemon"
	"signsync/internal/logging"
	"signsync/internal/logs"
	"signsync/internal/pause"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("restrict socket permissions: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: serverCtx}
	if err := rpcServer.RegisterName(ServiceName, srv); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "CLI commands may fail to reach the daemon"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"),
				)
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale socket may confuse later CLI calls"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"),
		)
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.logger.Info("daemon started via IPC", logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.daemon.Stop()
	resp.Stopped = true
	s.logger.Info("daemon stopped via IPC", logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	*resp = StatusResponse{
		Running:         status.Running,
		PID:             status.PID,
		Readiness:       status.Readiness,
		Username:        status.Username,
		DeviceID:        status.DeviceID,
		TutorialMode:    status.TutorialMode,
		CurrentSection:  status.CurrentSection,
		Progress:        status.Progress,
		PausedUntil:     status.PausedUntil,
		StagedRecords:   status.StagedRecords,
		PendingRecords:  status.PendingRecords,
		RegisteredFiles: status.RegisteredFiles,
		CycleActive:     status.Scheduler.Active,
		NextRun:         status.Scheduler.Next,
		LastRun:         status.Scheduler.LastRun,
		LastResult:      status.Scheduler.LastResult,
		LastError:       status.Scheduler.LastError,
		LockPath:        status.LockFilePath,
		DatabasePath:    status.DatabasePath,
	}
	return nil
}

func (s *service) Upload(_ UploadRequest, resp *UploadResponse) error {
	res, err := s.daemon.UploadNow(s.ctx)
	resp.Result = res.String()
	if err != nil {
		resp.Error = err.Error()
	}
	return nil
}

func (s *service) Pause(req PauseRequest, resp *PauseResponse) error {
	out, err := ApplyPause(s.ctx, s.daemon.Pauser(), req)
	if err != nil {
		return err
	}
	if req.Clear {
		s.daemon.TriggerUpload(s.ctx)
	}
	*resp = out
	return nil
}

// ApplyPause performs a PauseRequest against pauser and reports the
// resulting deadline. The CLI uses it directly when no daemon is running.
func ApplyPause(ctx context.Context, pauser *pause.Controller, req PauseRequest) (PauseResponse, error) {
	switch {
	case req.Clear:
		if err := pauser.PauseUntil(ctx, nil); err != nil {
			return PauseResponse{}, err
		}
		return PauseResponse{}, nil
	case req.Until != nil:
		if err := pauser.PauseUntil(ctx, req.Until); err != nil {
			return PauseResponse{}, err
		}
	case req.Seconds > 0:
		if _, err := pauser.PauseForAtLeast(ctx, time.Duration(req.Seconds)*time.Second); err != nil {
			return PauseResponse{}, err
		}
	default:
		return PauseResponse{}, errors.New("pause requires a duration, a deadline, or clear")
	}
	deadline, ok, err := pauser.Deadline(ctx)
	if err != nil {
		return PauseResponse{}, err
	}
	return PauseResponse{Paused: ok && time.Now().Before(deadline), Until: deadline}, nil
}

func (s *service) Attach(req AttachRequest, resp *AttachResponse) error {
	username := strings.TrimSpace(req.Username)
	if err := s.daemon.Manager().AttachAccount(s.ctx, username, req.AdminPassword); err != nil {
		return err
	}
	resp.Username = username
	s.daemon.TriggerUpload(s.ctx)
	return nil
}

func (s *service) Register(req RegisterRequest, resp *RegisterResponse) error {
	file, err := s.daemon.Manager().RegisterFile(s.ctx, req.RelativePath)
	if err != nil {
		return err
	}
	resp.RelativePath = file.RelativePath
	resp.TutorialMode = file.TutorialMode
	return nil
}

func (s *service) Log(req LogRequest, _ *LogResponse) error {
	mgr := s.daemon.Manager()
	if err := mgr.LogToServer(s.ctx, req.Message); err != nil {
		return err
	}
	return mgr.PersistData(s.ctx)
}

func (s *service) Persist(_ PersistRequest, resp *PersistResponse) error {
	flushed, err := s.daemon.Manager().FlushStaged(s.ctx)
	if err != nil {
		return err
	}
	resp.Flushed = flushed
	return nil
}

func (s *service) Directives(_ DirectivesRequest, resp *DirectivesResponse) error {
	report, err := s.daemon.Manager().RunDirectives(s.ctx)
	resp.Executed = report.Executed
	resp.Skipped = report.Skipped
	resp.Failed = report.Failed
	resp.ChangedUser = report.ChangedUser
	return err
}

func (s *service) ReloadPrompts(_ ReloadPromptsRequest, resp *ReloadPromptsResponse) error {
	mgr := s.daemon.Manager()
	if err := mgr.ReloadPrompts(s.ctx); err != nil {
		return err
	}
	if snap := mgr.Snapshot(); snap != nil && snap.Prompts != nil {
		resp.Sections = snap.Prompts.SectionNames()
	}
	return nil
}

func (s *service) SetTutorialMode(req TutorialModeRequest, resp *TutorialModeResponse) error {
	if err := s.daemon.Manager().SetTutorialMode(s.ctx, req.Enabled); err != nil {
		return err
	}
	resp.Enabled = req.Enabled
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	logPath := s.daemon.LogPath()
	if logPath == "" {
		return nil
	}
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 && req.Follow {
		wait = time.Second
	}
	ctx := s.ctx
	if req.Follow && wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}
	result, err := logs.Tail(ctx, logPath, logs.TailOptions{
		Offset: req.Offset,
		Limit:  req.Limit,
		Follow: req.Follow,
		Wait:   wait,
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	resp.Lines = result.Lines
	resp.Offset = result.Offset
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
