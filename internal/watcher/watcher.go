// Package watcher registers finished recordings dropped into the upload
// directory. A file is registered once its size has stayed the same for the
// configured settle time.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"signsync/internal/logging"
	"signsync/internal/registry"
)

// Registrar records a new file for upload.
type Registrar interface {
	RegisterFile(ctx context.Context, relativePath string) (*registry.File, error)
}

// Option configures optional Watcher behavior.
type Option func(*Watcher)

// WithPollInterval sets how often pending files are checked for stability.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.poll = d
		}
	}
}

// WithOnRegistered is called after each successful registration.
func WithOnRegistered(fn func(relativePath string)) Option {
	return func(w *Watcher) {
		w.onRegistered = fn
	}
}

type pendingFile struct {
	size    int64
	changed time.Time
}

// Watcher watches one directory.
type Watcher struct {
	dir       string
	registry  *registry.Registry
	registrar Registrar
	settle    time.Duration
	poll      time.Duration
	logger    *slog.Logger

	onRegistered func(relativePath string)

	fs *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]pendingFile

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a watcher for dir. Relative paths are resolved through reg.
func New(dir string, reg *registry.Registry, registrar Registrar, settle time.Duration, logger *slog.Logger, opts ...Option) *Watcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	w := &Watcher{
		dir:       dir,
		registry:  reg,
		registrar: registrar,
		settle:    settle,
		poll:      time.Second,
		logger:    logging.NewComponentLogger(logger, "watcher"),
		pending:   map[string]pendingFile{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start adds the directory watch, queues existing files, and starts the loops.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.fs = fsw

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		_ = fsw.Close()
		return fmt.Errorf("scan %s: %w", w.dir, err)
	}
	now := time.Now()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.track(filepath.Join(w.dir, entry.Name()), now)
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(2)
	go w.eventLoop(runCtx)
	go w.settleLoop(runCtx)
	w.logger.Info("watching upload directory",
		logging.String(logging.FieldEventType, "watcher_started"),
		logging.String(logging.FieldFilePath, w.dir),
		logging.Int("existing", len(entries)),
	)
	return nil
}

// Stop ends both loops and closes the fsnotify watcher.
func (w *Watcher) Stop() error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	w.wg.Wait()
	w.cancel = nil
	return w.fs.Close()
}

func ignored(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp") || strings.HasSuffix(base, ".part")
}

func (w *Watcher) track(path string, now time.Time) {
	if ignored(path) {
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	prev, ok := w.pending[path]
	if ok && prev.size == info.Size() {
		return
	}
	w.pending[path] = pendingFile{size: info.Size(), changed: now}
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			switch {
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				w.track(event.Name, time.Now())
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				w.mu.Lock()
				delete(w.pending, event.Name)
				w.mu.Unlock()
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logging.WarnWithContext(w.logger, "fsnotify error", "watcher_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "some recordings may be registered on the next scan"),
			)
		}
	}
}

func (w *Watcher) settleLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.registerSettled(ctx, now)
		}
	}
}

// registerSettled registers every pending file whose size has not changed
// for the settle time.
func (w *Watcher) registerSettled(ctx context.Context, now time.Time) {
	var ready []string
	w.mu.Lock()
	for path, p := range w.pending {
		info, err := os.Stat(path)
		if err != nil {
			delete(w.pending, path)
			continue
		}
		if info.Size() != p.size {
			w.pending[path] = pendingFile{size: info.Size(), changed: now}
			continue
		}
		if now.Sub(p.changed) >= w.settle {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		if err := w.register(ctx, path); err != nil && !errors.Is(err, context.Canceled) {
			logging.WarnWithContext(w.logger, "failed to register recording", "watcher_register_failed",
				logging.Error(err),
				logging.String(logging.FieldFilePath, path),
				logging.String(logging.FieldImpact, "recording will not upload until registered"),
			)
		}
	}
}

func (w *Watcher) register(ctx context.Context, path string) error {
	rel, err := w.registry.Relative(path)
	if err != nil {
		return err
	}
	existing, err := w.registry.Get(ctx, rel)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	if _, err := w.registrar.RegisterFile(ctx, rel); err != nil {
		return err
	}
	if w.onRegistered != nil {
		w.onRegistered(rel)
	}
	return nil
}
