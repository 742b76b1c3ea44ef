package datamanager

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"signsync/internal/fileutil"
	"signsync/internal/logging"
	"signsync/internal/prompts"
	"signsync/internal/registry"
	"signsync/internal/services"
)

// ReloadPrompts downloads prompts and their resources and reconciles
// progress with the new collection.
func (m *Manager) ReloadPrompts(ctx context.Context) error {
	if _, err := m.current(); err != nil {
		return err
	}
	h, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer h.release()
	return m.reloadPrompts(ctx, h)
}

func (m *Manager) reloadPrompts(ctx context.Context, h held) error {
	state, err := m.current()
	if err != nil {
		return err
	}
	if !state.Attached() {
		return ErrNotAttached
	}
	data, err := m.server.Prompts(ctx, state.loginToken)
	if err != nil {
		return fmt.Errorf("download prompts: %w", err)
	}
	collection, err := prompts.Parse(data)
	if err != nil {
		return err
	}
	for _, resource := range collection.ResourcePaths() {
		if err := m.downloadResource(ctx, state.loginToken, resource); err != nil {
			return err
		}
	}
	if err := fileutil.WriteFileAtomic(m.cfg.PromptsPath(), data, 0o644); err != nil {
		return fmt.Errorf("store prompts: %w", err)
	}

	next := state.with(func(s *AppState) {
		s.Prompts = collection
		s.Progress = prompts.Reconcile(s.Progress, collection)
		if _, ok := collection.Section(s.CurrentSection); !ok {
			s.CurrentSection = ""
		}
	})
	if err := m.setState(ctx, h, next); err != nil {
		return err
	}
	m.logger.Info("prompts reloaded",
		logging.String(logging.FieldEventType, "prompts_reloaded"),
		logging.Int("sections", len(collection.Sections)),
		logging.Int("resources", len(collection.ResourcePaths())),
	)
	return nil
}

func (m *Manager) downloadResource(ctx context.Context, token, resource string) error {
	clean := filepath.Clean(filepath.FromSlash(resource))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return services.Wrap(services.ErrValidation, "datamanager", "download resource",
			fmt.Sprintf("resource path %q escapes the resource directory", resource), nil)
	}
	dest := filepath.Join(m.cfg.ResourceDir(), clean)

	pr, pw := io.Pipe()
	go func() {
		_, err := m.server.DownloadResource(ctx, token, resource, pw)
		pw.CloseWithError(err)
	}()
	written, err := fileutil.WriteStreamAtomic(dest, pr, 0o644)
	_ = pr.Close()
	if err != nil {
		return fmt.Errorf("download resource %s: %w", resource, err)
	}
	m.logger.Debug("resource downloaded",
		logging.String(logging.FieldEventType, "resource_downloaded"),
		logging.String(logging.FieldFilePath, resource),
		logging.Int64("bytes", written),
	)
	return nil
}

// StateReport is the full snapshot sent to /save_state.
type StateReport struct {
	Username        string           `json:"username"`
	DeviceID        string           `json:"deviceId"`
	AppVersion      string           `json:"appVersion"`
	TutorialMode    bool             `json:"tutorialMode"`
	CurrentSection  string           `json:"currentSection,omitempty"`
	Progress        prompts.Progress `json:"promptProgress"`
	RegisteredFiles []registry.File  `json:"registeredFiles"`
	StagedRecords   int              `json:"stagedRecords"`
	PendingRecords  int              `json:"pendingRecords"`
	Timestamp       time.Time        `json:"timestamp"`
}

// UploadState sends a full state report to the server.
func (m *Manager) UploadState(ctx context.Context) error {
	if _, err := m.current(); err != nil {
		return err
	}
	h, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer h.release()
	return m.uploadState(ctx, h)
}

func (m *Manager) uploadState(ctx context.Context, _ held) error {
	state, err := m.current()
	if err != nil {
		return err
	}
	if !state.Attached() {
		return ErrNotAttached
	}
	files, err := m.registry.List(ctx)
	if err != nil {
		return err
	}
	pending, err := m.store.CountRecords(ctx)
	if err != nil {
		return err
	}
	report := StateReport{
		Username:        state.Username,
		DeviceID:        state.DeviceID,
		AppVersion:      m.cfg.Server.AppVersion,
		TutorialMode:    state.TutorialMode,
		CurrentSection:  state.CurrentSection,
		Progress:        state.Progress,
		RegisteredFiles: files,
		StagedRecords:   len(m.stagedOrder),
		PendingRecords:  pending,
		Timestamp:       m.now().UTC(),
	}
	if err := m.server.SaveState(ctx, state.loginToken, report); err != nil {
		return fmt.Errorf("upload state: %w", err)
	}
	m.logger.Info("state uploaded",
		logging.String(logging.FieldEventType, "state_uploaded"),
		logging.Int("registered_files", len(files)),
		logging.Int("pending_records", pending),
	)
	return nil
}
