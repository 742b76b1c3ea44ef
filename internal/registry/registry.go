// Package registry tracks recordings pending upload and their per-stage
// upload progress. Entries survive process restarts; each protocol stage
// persists its result through Update before the next one starts.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"signsync/internal/logging"
	"signsync/internal/store"
)

// File is one registered recording.
type File = store.RegisteredFile

// ErrInvalidPath is returned for paths that escape the data directory.
var ErrInvalidPath = errors.New("invalid registered file path")

// Registry is the durable set of files pending upload.
type Registry struct {
	store  *store.Store
	root   string
	logger *slog.Logger
}

// New builds a registry whose relative paths resolve against root.
func New(st *store.Store, root string, logger *slog.Logger) *Registry {
	return &Registry{
		store:  st,
		root:   root,
		logger: logging.NewComponentLogger(logger, "registry"),
	}
}

// Root returns the directory relative paths resolve against.
func (r *Registry) Root() string {
	return r.root
}

// Register adds or overwrites an entry with empty progress.
func (r *Registry) Register(ctx context.Context, relativePath string, tutorialMode bool) (*File, error) {
	clean, err := r.normalize(relativePath)
	if err != nil {
		return nil, err
	}
	file := File{RelativePath: clean, TutorialMode: tutorialMode}
	if err := r.store.PutFile(ctx, file); err != nil {
		return nil, err
	}
	r.logger.Info("file registered",
		logging.String(logging.FieldEventType, "file_registered"),
		logging.String(logging.FieldFilePath, clean),
		logging.Bool("tutorial_mode", tutorialMode),
	)
	return r.store.GetFile(ctx, clean)
}

// Get returns the entry for relativePath or nil.
func (r *Registry) Get(ctx context.Context, relativePath string) (*File, error) {
	clean, err := r.normalize(relativePath)
	if err != nil {
		return nil, err
	}
	return r.store.GetFile(ctx, clean)
}

// List returns every registered entry.
func (r *Registry) List(ctx context.Context) ([]File, error) {
	return r.store.ListFiles(ctx)
}

// Update persists incremental progress for an entry.
func (r *Registry) Update(ctx context.Context, file File) error {
	if file.UploadCompleted && (file.MD5 == "" || file.FileSize == nil) {
		return fmt.Errorf("update %s: completed upload requires checksum and size", file.RelativePath)
	}
	return r.store.PutFile(ctx, file)
}

// Forget removes the entry but leaves the file on disk.
func (r *Registry) Forget(ctx context.Context, relativePath string) error {
	clean, err := r.normalize(relativePath)
	if err != nil {
		return err
	}
	return r.store.DeleteFile(ctx, clean)
}

// Delete removes the entry and the underlying file. A file already gone from
// disk is not an error.
func (r *Registry) Delete(ctx context.Context, relativePath string) error {
	clean, err := r.normalize(relativePath)
	if err != nil {
		return err
	}
	if err := os.Remove(r.AbsPath(clean)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", clean, err)
	}
	if err := r.store.DeleteFile(ctx, clean); err != nil {
		return err
	}
	r.logger.Info("registered file deleted",
		logging.String(logging.FieldEventType, "file_deleted"),
		logging.String(logging.FieldFilePath, clean),
	)
	return nil
}

// AbsPath resolves a registered relative path on disk.
func (r *Registry) AbsPath(relativePath string) string {
	return filepath.Join(r.root, filepath.FromSlash(relativePath))
}

// Relative converts an absolute path under root into a registry key.
func (r *Registry) Relative(absPath string) (string, error) {
	rel, err := filepath.Rel(r.root, absPath)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidPath, absPath, err)
	}
	return r.normalize(rel)
}

func (r *Registry) normalize(relativePath string) (string, error) {
	trimmed := strings.TrimSpace(relativePath)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	if filepath.IsAbs(trimmed) {
		return "", fmt.Errorf("%w: %s is absolute", ErrInvalidPath, trimmed)
	}
	clean := filepath.ToSlash(filepath.Clean(trimmed))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %s escapes the data directory", ErrInvalidPath, trimmed)
	}
	return clean, nil
}

// ResetTransfer forgets the server-side upload state but keeps the local
// checksum and size, which still describe the file on disk.
func ResetTransfer(file *File) {
	file.UploadLink = ""
	file.SessionLink = ""
	file.UploadCompleted = false
	file.UploadVerified = false
}

// ResetProgress clears every upload progress field. Used when the file on disk
// no longer matches what was recorded or the server lost the blob.
func ResetProgress(file *File) {
	file.FileSize = nil
	file.MD5 = ""
	file.UploadLink = ""
	file.SessionLink = ""
	file.UploadCompleted = false
	file.UploadVerified = false
}
