package datamanager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"signsync/internal/config"
	"signsync/internal/logging"
	"signsync/internal/notifications"
	"signsync/internal/pause"
	"signsync/internal/prompts"
	"signsync/internal/registry"
	"signsync/internal/server"
	"signsync/internal/store"
	"signsync/internal/upload"
)

// Preference keys owned by the manager.
const (
	PrefUsername       = "login_username"
	PrefTutorialMode   = "tutorial_mode"
	PrefCurrentSection = "current_section"
	PrefPromptProgress = "prompt_progress"
	PrefDeviceID       = "device_id"
)

// Server is the remote API the manager drives.
type Server interface {
	upload.Server
	RegisterLogin(ctx context.Context, adminToken, newToken string) error
	Directives(ctx context.Context, token string) ([]server.Directive, error)
	DirectiveCompleted(ctx context.Context, token string, id int64) error
	Save(ctx context.Context, token string, batch any) error
	SaveState(ctx context.Context, token string, state any) error
	Prompts(ctx context.Context, token string) ([]byte, error)
	DownloadResource(ctx context.Context, token, path string, w io.Writer) (int64, error)
}

// Deps are the collaborators a Manager needs besides config and store.
type Deps struct {
	Server   Server
	Gate     upload.Gate
	Notifier notifications.Service
}

// Option configures optional Manager behavior.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithProgressObserver receives the cycle percentage whenever it increases.
func WithProgressObserver(fn func(percent int)) Option {
	return func(m *Manager) {
		m.onProgress = fn
	}
}

// Manager is the single owner of application state.
type Manager struct {
	cfg      *config.Config
	store    *store.Store
	registry *registry.Registry
	server   Server
	gate     upload.Gate
	uploader *upload.Uploader
	notifier notifications.Service
	logger   *slog.Logger
	now      func() time.Time

	onProgress    func(percent int)
	progress      atomic.Int32
	notifySampler *logging.ProgressSampler

	lock      chan struct{}
	state     atomic.Pointer[AppState]
	readiness atomic.Int32
	ready     chan struct{}
	readyOnce sync.Once

	// Guarded by lock.
	staged      map[string]int
	stagedOrder []store.Record
	// Mirrors len(stagedOrder) for lock-free reads.
	stagedCount atomic.Int64

	logSeq atomic.Int64
}

// New constructs a manager wired to the real server, pause controller, and
// notifier.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger) *Manager {
	return NewWithDeps(cfg, st, logger, Deps{
		Server:   server.New(cfg, logger),
		Gate:     pause.New(st, logger),
		Notifier: notifications.NewService(cfg),
	})
}

// NewWithDeps constructs a manager with explicit collaborators (used in tests).
func NewWithDeps(cfg *config.Config, st *store.Store, logger *slog.Logger, deps Deps, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.NewService(&config.Config{})
	}
	reg := registry.New(st, cfg.Paths.DataDir, logger)
	m := &Manager{
		cfg:      cfg,
		store:    st,
		registry: reg,
		server:   deps.Server,
		gate:     deps.Gate,
		notifier: deps.Notifier,
		logger:   logging.NewComponentLogger(logger, "datamanager"),
		now:      time.Now,
		lock:     make(chan struct{}, 1),
		ready:    make(chan struct{}),
		staged:   map[string]int{},

		notifySampler: logging.NewProgressSampler(25),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.uploader = upload.New(deps.Server, reg, deps.Gate, upload.Options{
		ChunkSize:   cfg.Upload.ChunkSizeBytes,
		ContentType: cfg.Upload.ContentType,
	}, logger)
	return m
}

// Registry exposes the registered file registry.
func (m *Manager) Registry() *registry.Registry {
	return m.registry
}

// Readiness reports the current load state.
func (m *Manager) Readiness() Readiness {
	return Readiness(m.readiness.Load())
}

// Snapshot returns the latest state, or nil before Initialize completes.
func (m *Manager) Snapshot() *AppState {
	return m.state.Load()
}

// Initialize loads persisted state once. Callers arriving while another
// caller is loading wait for it to finish. A failed load may be retried.
func (m *Manager) Initialize(ctx context.Context) error {
	if !m.readiness.CompareAndSwap(int32(Uninitialized), int32(Initializing)) {
		return m.AwaitReady(ctx)
	}
	h, err := m.acquire(ctx)
	if err != nil {
		m.readiness.Store(int32(Uninitialized))
		return err
	}
	defer h.release()

	state, err := m.loadState(ctx, h)
	if err != nil {
		m.readiness.Store(int32(Uninitialized))
		return fmt.Errorf("initialize state: %w", err)
	}
	m.state.Store(state)
	m.readiness.Store(int32(Ready))
	m.readyOnce.Do(func() { close(m.ready) })
	m.logger.Info("state loaded",
		logging.String(logging.FieldEventType, "state_ready"),
		logging.String(logging.FieldUsername, state.Username),
		logging.Bool("prompts_loaded", state.Prompts != nil),
		logging.Bool("tutorial_mode", state.TutorialMode),
	)
	return nil
}

// AwaitReady blocks until state is loaded or ctx ends.
func (m *Manager) AwaitReady(ctx context.Context) error {
	select {
	case <-m.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrStateUnavailable, ctx.Err())
	}
}

// current returns the snapshot or ErrStateUnavailable.
func (m *Manager) current() (*AppState, error) {
	state := m.state.Load()
	if state == nil {
		return nil, ErrStateUnavailable
	}
	return state, nil
}

// PromptState returns the snapshot, failing loudly when prompt data is absent.
func (m *Manager) PromptState() (*AppState, error) {
	state, err := m.current()
	if err != nil {
		return nil, err
	}
	if state.Prompts == nil {
		return nil, fmt.Errorf("%w: no prompts downloaded", ErrStateUnavailable)
	}
	return state, nil
}

func (m *Manager) loadState(ctx context.Context, _ held) (*AppState, error) {
	state := &AppState{Progress: prompts.Progress{}}

	token, err := readToken(m.cfg.LoginTokenPath())
	if err != nil {
		return nil, err
	}
	state.loginToken = token

	err = m.store.Edit(ctx, func(tx *store.Tx) error {
		if v, ok, err := tx.GetBool(ctx, PrefTutorialMode); err != nil {
			return err
		} else if ok {
			state.TutorialMode = v
		}
		if v, ok, err := tx.GetString(ctx, PrefCurrentSection); err != nil {
			return err
		} else if ok {
			state.CurrentSection = v
		}
		if v, ok, err := tx.GetString(ctx, PrefUsername); err != nil {
			return err
		} else if ok {
			state.Username = v
		}
		if _, err := tx.GetJSON(ctx, PrefPromptProgress, &state.Progress); err != nil {
			return err
		}
		deviceID, ok, err := tx.GetString(ctx, PrefDeviceID)
		if err != nil {
			return err
		}
		if !ok || deviceID == "" {
			deviceID = uuid.NewString()
			if err := tx.SetString(ctx, PrefDeviceID, deviceID); err != nil {
				return err
			}
		}
		state.DeviceID = deviceID
		return nil
	})
	if err != nil {
		return nil, err
	}
	if state.Username == "" {
		state.Username = usernameFromToken(token)
	}

	collection, err := prompts.LoadFile(m.cfg.PromptsPath())
	switch {
	case err == nil:
		state.Prompts = collection
		state.Progress = prompts.Reconcile(state.Progress, collection)
	case errors.Is(err, fs.ErrNotExist):
	default:
		logging.WarnWithContext(m.logger, "stored prompts unreadable; continuing without prompts", "prompts_load_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run signsync reload-prompts"),
			logging.String(logging.FieldImpact, "recording sessions cannot start until prompts are reloaded"),
		)
	}
	if state.Progress == nil {
		state.Progress = prompts.Progress{}
	}
	return state, nil
}

// setState persists the durable fields of next and publishes it.
func (m *Manager) setState(ctx context.Context, _ held, next *AppState) error {
	err := m.store.Edit(ctx, func(tx *store.Tx) error {
		if err := tx.SetBool(ctx, PrefTutorialMode, next.TutorialMode); err != nil {
			return err
		}
		if next.CurrentSection == "" {
			if err := tx.Remove(ctx, PrefCurrentSection); err != nil {
				return err
			}
		} else if err := tx.SetString(ctx, PrefCurrentSection, next.CurrentSection); err != nil {
			return err
		}
		if next.Username == "" {
			if err := tx.Remove(ctx, PrefUsername); err != nil {
				return err
			}
		} else if err := tx.SetString(ctx, PrefUsername, next.Username); err != nil {
			return err
		}
		return tx.SetJSON(ctx, PrefPromptProgress, next.Progress)
	})
	if err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	m.state.Store(next)
	return nil
}

func readToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read login token: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func usernameFromToken(token string) string {
	name, _, ok := strings.Cut(token, ":")
	if !ok {
		return ""
	}
	return name
}
