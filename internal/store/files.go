package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RegisteredFile is the durable upload progress of one recording.
type RegisteredFile struct {
	RelativePath    string    `json:"relativePath"`
	FileSize        *int64    `json:"fileSize,omitempty"`
	MD5             string    `json:"md5,omitempty"`
	UploadLink      string    `json:"uploadLink,omitempty"`
	SessionLink     string    `json:"sessionLink,omitempty"`
	UploadCompleted bool      `json:"uploadCompleted"`
	UploadVerified  bool      `json:"uploadVerified"`
	TutorialMode    bool      `json:"tutorialMode"`
	RegisteredAt    time.Time `json:"registeredAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

const fileColumns = "relative_path, file_size, md5, upload_link, session_link, upload_completed, upload_verified, tutorial_mode, registered_at, updated_at"

func scanFile(scanner interface{ Scan(dest ...any) error }) (*RegisteredFile, error) {
	var (
		file          RegisteredFile
		size          sql.NullInt64
		md5           sql.NullString
		uploadLink    sql.NullString
		sessionLink   sql.NullString
		completed     int
		verified      int
		tutorial      int
		registeredRaw string
		updatedRaw    string
	)
	if err := scanner.Scan(&file.RelativePath, &size, &md5, &uploadLink, &sessionLink,
		&completed, &verified, &tutorial, &registeredRaw, &updatedRaw); err != nil {
		return nil, err
	}
	file.FileSize = int64Ptr(size)
	file.MD5 = md5.String
	file.UploadLink = uploadLink.String
	file.SessionLink = sessionLink.String
	file.UploadCompleted = completed != 0
	file.UploadVerified = verified != 0
	file.TutorialMode = tutorial != 0
	if ts, err := parseTimeString(registeredRaw); err == nil {
		file.RegisteredAt = ts
	}
	if ts, err := parseTimeString(updatedRaw); err == nil {
		file.UpdatedAt = ts
	}
	return &file, nil
}

// PutFile inserts or replaces a registered file row.
func (t *Tx) PutFile(ctx context.Context, file RegisteredFile) error {
	if file.RelativePath == "" {
		return errors.New("put file: empty relative path")
	}
	now := time.Now()
	registered := file.RegisteredAt
	if registered.IsZero() {
		registered = now
	}
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO registered_files (`+fileColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(relative_path) DO UPDATE SET
		   file_size = excluded.file_size,
		   md5 = excluded.md5,
		   upload_link = excluded.upload_link,
		   session_link = excluded.session_link,
		   upload_completed = excluded.upload_completed,
		   upload_verified = excluded.upload_verified,
		   tutorial_mode = excluded.tutorial_mode,
		   registered_at = excluded.registered_at,
		   updated_at = excluded.updated_at`,
		file.RelativePath, nullableInt64(file.FileSize), nullableString(file.MD5),
		nullableString(file.UploadLink), nullableString(file.SessionLink),
		boolToInt(file.UploadCompleted), boolToInt(file.UploadVerified), boolToInt(file.TutorialMode),
		formatTime(registered), formatTime(now))
	if err != nil {
		return fmt.Errorf("put file %s: %w", file.RelativePath, err)
	}
	return nil
}

// GetFile returns the registered file or nil when absent.
func (t *Tx) GetFile(ctx context.Context, relativePath string) (*RegisteredFile, error) {
	row := t.q.QueryRowContext(ctx, "SELECT "+fileColumns+" FROM registered_files WHERE relative_path = ?", relativePath)
	file, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", relativePath, err)
	}
	return file, nil
}

// ListFiles returns every registered file ordered by registration time.
func (t *Tx) ListFiles(ctx context.Context) ([]RegisteredFile, error) {
	rows, err := t.q.QueryContext(ctx, "SELECT "+fileColumns+" FROM registered_files ORDER BY registered_at, relative_path")
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []RegisteredFile
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, *file)
	}
	return files, rows.Err()
}

// DeleteFile removes a registered file row. Missing rows are not an error.
func (t *Tx) DeleteFile(ctx context.Context, relativePath string) error {
	if _, err := t.q.ExecContext(ctx, "DELETE FROM registered_files WHERE relative_path = ?", relativePath); err != nil {
		return fmt.Errorf("delete file %s: %w", relativePath, err)
	}
	return nil
}

func (s *Store) PutFile(ctx context.Context, file RegisteredFile) error {
	ctx = ensureContext(ctx)
	return s.Edit(ctx, func(tx *Tx) error { return tx.PutFile(ctx, file) })
}

func (s *Store) GetFile(ctx context.Context, relativePath string) (*RegisteredFile, error) {
	return s.view().GetFile(ensureContext(ctx), relativePath)
}

func (s *Store) ListFiles(ctx context.Context) ([]RegisteredFile, error) {
	return s.view().ListFiles(ensureContext(ctx))
}

func (s *Store) DeleteFile(ctx context.Context, relativePath string) error {
	ctx = ensureContext(ctx)
	return s.Edit(ctx, func(tx *Tx) error { return tx.DeleteFile(ctx, relativePath) })
}
