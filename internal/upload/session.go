package upload

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"signsync/internal/logging"
	"signsync/internal/pause"
	"signsync/internal/registry"
	"signsync/internal/server"
	"signsync/internal/services"
)

// Server is the subset of the server client the pipeline needs.
type Server interface {
	RequestUploadLink(ctx context.Context, token string, req server.UploadLinkRequest) (string, error)
	StartSession(ctx context.Context, uploadLink, md5Base64, contentType string) (string, error)
	QuerySession(ctx context.Context, sessionLink string, total int64) (server.SessionState, error)
	UploadRange(ctx context.Context, sessionLink string, body io.Reader, start, total int64) error
	Verify(ctx context.Context, token, path, md5 string) (server.VerifyResult, error)
}

// Options tunes an Uploader.
type Options struct {
	ChunkSize   int
	ContentType string
	// OnProgress receives bytes accounted for so far (including any resumed
	// offset) and the file size during the transfer stage.
	OnProgress func(path string, done, total int64)
}

// Uploader runs upload sessions for registered files.
type Uploader struct {
	server   Server
	registry *registry.Registry
	gate     Gate
	opts     Options
	logger   *slog.Logger
	sampler  *logging.ProgressSampler
}

// New builds an Uploader.
func New(srv Server, reg *registry.Registry, gate Gate, opts Options, logger *slog.Logger) *Uploader {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1 << 20
	}
	if opts.ContentType == "" {
		opts.ContentType = "video/mp4"
	}
	return &Uploader{
		server:   srv,
		registry: reg,
		gate:     gate,
		opts:     opts,
		logger:   logging.NewComponentLogger(logger, "upload"),
		sampler:  logging.NewProgressSampler(25),
	}
}

// session carries the state of one attempt on one file.
type session struct {
	u      *Uploader
	token  string
	file   registry.File
	abs    string
	size   int64
	logger *slog.Logger
}

// Upload drives file through every remaining stage. The returned error
// explains a Failed result and is nil otherwise.
func (u *Uploader) Upload(ctx context.Context, token string, file registry.File) (Result, error) {
	ctx = services.WithFilePath(ctx, file.RelativePath)
	s := &session{
		u:      u,
		token:  token,
		file:   file,
		abs:    u.registry.AbsPath(file.RelativePath),
		logger: logging.WithContext(ctx, u.logger),
	}

	info, err := os.Stat(s.abs)
	if errors.Is(err, fs.ErrNotExist) {
		logging.WarnWithContext(s.logger, "registered file missing on disk; dropping entry", "upload_orphan_removed",
			logging.String(logging.FieldErrorHint, "the recording was deleted outside signsync"),
			logging.String(logging.FieldImpact, "nothing to upload for this entry"),
		)
		if err := u.registry.Forget(ctx, file.RelativePath); err != nil {
			return Failed, err
		}
		return Success, nil
	}
	if err != nil {
		return Failed, fmt.Errorf("stat %s: %w", file.RelativePath, err)
	}
	s.size = info.Size()

	if s.file.FileSize != nil && *s.file.FileSize != s.size {
		logging.WarnWithContext(s.logger, "file size changed since checksum; restarting upload", "upload_size_drift",
			logging.Int64("recorded_size", *s.file.FileSize),
			logging.Int64("current_size", s.size),
			logging.String(logging.FieldImpact, "upload progress discarded"),
		)
		registry.ResetProgress(&s.file)
		if err := s.persist(ctx); err != nil {
			return Failed, err
		}
	}

	return s.run(ctx)
}

func (s *session) run(ctx context.Context) (Result, error) {
	steps := []struct {
		stage Stage
		fn    func(context.Context) error
	}{
		{StageChecksum, s.checksum},
		{StageUploadLink, s.acquireUploadLink},
		{StageSessionLink, s.acquireSessionLink},
		{StageTransfer, s.transfer},
		{StageVerify, s.verify},
	}
	for _, step := range steps {
		stageCtx := services.WithStage(ctx, string(step.stage))
		if err := s.u.gate.Check(stageCtx); err != nil {
			return s.interrupted(step.stage), nil
		}
		if err := step.fn(stageCtx); err != nil {
			if pause.IsInterrupted(err) {
				return s.interrupted(step.stage), nil
			}
			if errors.Is(err, errVerified) {
				return Success, nil
			}
			logging.WarnWithContext(logging.WithContext(stageCtx, s.u.logger), "upload stage failed; will retry", "upload_stage_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, services.Hint(err)),
				logging.String(logging.FieldImpact, "file stays registered for the next cycle"),
			)
			return Failed, err
		}
	}
	return Success, nil
}

// errVerified ends the pipeline early once the file is gone.
var errVerified = errors.New("verified")

func (s *session) interrupted(stage Stage) Result {
	s.logger.Info("upload paused",
		logging.String(logging.FieldEventType, "upload_interrupted"),
		logging.String(logging.FieldStage, string(stage)),
	)
	return Interrupted
}

func (s *session) persist(ctx context.Context) error {
	if err := s.u.registry.Update(ctx, s.file); err != nil {
		return fmt.Errorf("persist progress: %w", err)
	}
	return nil
}

func (s *session) checksum(ctx context.Context) error {
	if s.file.MD5 != "" {
		return nil
	}
	f, err := os.Open(s.abs)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.file.RelativePath, err)
	}
	defer f.Close()

	hash := md5.New()
	buf := make([]byte, s.u.opts.ChunkSize)
	var total int64
	for {
		if err := s.u.gate.Check(ctx); err != nil {
			return err
		}
		n, err := io.ReadFull(f, buf)
		hash.Write(buf[:n])
		total += int64(n)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", s.file.RelativePath, err)
		}
	}
	if total != s.size {
		return services.Wrap(services.ErrTransient, "upload", string(StageChecksum),
			fmt.Sprintf("file changed while hashing (%d of %d bytes)", total, s.size), nil)
	}

	size := s.size
	s.file.MD5 = hex.EncodeToString(hash.Sum(nil))
	s.file.FileSize = &size
	s.logger.Debug("checksum computed",
		logging.String(logging.FieldEventType, "upload_checksum"),
		logging.String("md5", s.file.MD5),
		logging.Int64("bytes", size),
	)
	return s.persist(ctx)
}

func (s *session) acquireUploadLink(ctx context.Context) error {
	if s.file.UploadLink != "" {
		return nil
	}
	link, err := s.u.server.RequestUploadLink(ctx, s.token, server.UploadLinkRequest{
		Path:         s.file.RelativePath,
		MD5:          s.file.MD5,
		FileSize:     *s.file.FileSize,
		TutorialMode: s.file.TutorialMode,
	})
	if err != nil {
		return err
	}
	s.file.UploadLink = link
	return s.persist(ctx)
}

func (s *session) acquireSessionLink(ctx context.Context) error {
	if s.file.SessionLink != "" {
		return nil
	}
	raw, err := hex.DecodeString(s.file.MD5)
	if err != nil || len(raw) != md5.Size {
		registry.ResetProgress(&s.file)
		if perr := s.persist(ctx); perr != nil {
			return perr
		}
		return services.Wrap(services.ErrProtocol, "upload", string(StageSessionLink), "stored checksum is malformed", err)
	}
	link, err := s.u.server.StartSession(ctx, s.file.UploadLink, base64.StdEncoding.EncodeToString(raw), s.u.opts.ContentType)
	if err != nil {
		return err
	}
	s.file.SessionLink = link
	if err := s.persist(ctx); err != nil {
		return err
	}
	// A session opened in this attempt holds no bytes, so no probe is needed.
	return s.send(ctx, 0)
}

// transfer resumes a session that existed before this attempt.
func (s *session) transfer(ctx context.Context) error {
	if s.file.UploadCompleted {
		return nil
	}
	probeCtx := services.WithStage(ctx, string(StageSessionState))
	state, err := s.u.server.QuerySession(probeCtx, s.file.SessionLink, s.size)
	if err != nil {
		if pause.IsInterrupted(err) || ctx.Err() != nil {
			return fmt.Errorf("%w: %w", pause.ErrInterrupted, err)
		}
		if server.StatusCode(err) != 0 || errors.Is(err, services.ErrProtocol) {
			logging.WarnWithContext(logging.WithContext(probeCtx, s.u.logger), "upload session unusable; starting over", "upload_session_reset",
				logging.Error(err),
				logging.String(logging.FieldImpact, "file is re-uploaded from byte 0"),
			)
			registry.ResetProgress(&s.file)
			if perr := s.persist(ctx); perr != nil {
				return perr
			}
		}
		return err
	}
	if state.Complete {
		s.file.UploadCompleted = true
		return s.persist(ctx)
	}
	s.logger.Info("resuming upload",
		logging.String(logging.FieldEventType, "upload_resume"),
		logging.Int64("offset", state.Committed),
		logging.Int64("bytes", s.size),
	)
	return s.send(ctx, state.Committed)
}

// send streams bytes [offset, size) and marks the file completed on a 2xx.
func (s *session) send(ctx context.Context, offset int64) error {
	if s.file.UploadCompleted {
		return nil
	}
	ctx = services.WithStage(ctx, string(StageTransfer))
	if err := s.u.gate.Check(ctx); err != nil {
		return err
	}
	f, err := os.Open(s.abs)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.file.RelativePath, err)
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek %s: %w", s.file.RelativePath, err)
	}

	s.u.sampler.Reset()
	reader := newPausingReader(ctx, io.LimitReader(f, s.size-offset), s.u.gate, s.u.opts.ChunkSize, func(sent int64) {
		done := offset + sent
		if s.u.opts.OnProgress != nil {
			s.u.opts.OnProgress(s.file.RelativePath, done, s.size)
		}
		if s.size > 0 && s.u.sampler.ShouldLog(float64(done)*100/float64(s.size), s.file.RelativePath) {
			s.logger.Debug("upload progress",
				logging.String(logging.FieldEventType, "upload_progress"),
				logging.Int64("bytes_sent", done),
				logging.Int64("bytes", s.size),
			)
		}
	})
	err = s.u.server.UploadRange(ctx, s.file.SessionLink, reader, offset, s.size)
	if reader.Interrupted() {
		return pause.ErrInterrupted
	}
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", pause.ErrInterrupted, err)
		}
		return err
	}
	s.file.UploadCompleted = true
	s.logger.Info("upload transferred",
		logging.String(logging.FieldEventType, "upload_transferred"),
		logging.Int64("offset", offset),
		logging.Int64("bytes_sent", reader.Sent()),
	)
	return s.persist(ctx)
}

func (s *session) verify(ctx context.Context) error {
	res, err := s.u.server.Verify(ctx, s.token, s.file.RelativePath, s.file.MD5)
	if err != nil {
		return err
	}
	switch {
	case res.FileNotFound:
		registry.ResetTransfer(&s.file)
		if err := s.persist(ctx); err != nil {
			return err
		}
		return services.Wrap(services.ErrNotFound, "upload", string(StageVerify), "server has no blob for this file", nil)
	case !res.Verified:
		registry.ResetTransfer(&s.file)
		if err := s.persist(ctx); err != nil {
			return err
		}
		return services.Wrap(services.ErrTransient, "upload", string(StageVerify), "server blob does not match the local checksum", nil)
	}

	s.file.UploadVerified = true
	if err := s.persist(ctx); err != nil {
		return err
	}
	if err := s.u.registry.Delete(ctx, s.file.RelativePath); err != nil {
		return err
	}
	s.logger.Info("upload verified",
		logging.String(logging.FieldEventType, "upload_verified"),
		logging.Int64("bytes", s.size),
	)
	return errVerified
}
