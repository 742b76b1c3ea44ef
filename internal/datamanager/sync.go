package datamanager

import (
	"context"
	"errors"
	"fmt"

	"signsync/internal/logging"
	"signsync/internal/notifications"
	"signsync/internal/pause"
	"signsync/internal/services"
	"signsync/internal/store"
	"signsync/internal/upload"
)

// UploadData runs one synchronization cycle under the lock: directives, then
// staged records in batches, then registered files. Failed means something is
// left for a later cycle and the returned error explains why. Interrupted
// means a pause or cancellation stopped the cycle.
func (m *Manager) UploadData(ctx context.Context) (upload.Result, error) {
	if _, err := m.current(); err != nil {
		return upload.Failed, err
	}
	h, err := m.acquire(ctx)
	if err != nil {
		return upload.Interrupted, nil
	}
	defer h.release()

	res, err := m.uploadData(ctx, h)
	switch res {
	case upload.Interrupted:
		m.logger.Info("upload cycle paused", logging.String(logging.FieldEventType, "upload_cycle_interrupted"))
	case upload.Failed:
		logging.WarnWithContext(m.logger, "upload cycle incomplete; retrying later", "upload_cycle_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, services.Hint(err)),
			logging.String(logging.FieldImpact, "pending data stays queued for the next cycle"),
		)
		m.publish(ctx, notifications.EventUploadFailed, notifications.Payload{"error": errorSummary(err)})
	case upload.Success:
		m.logger.Info("upload cycle complete", logging.String(logging.FieldEventType, "upload_cycle_complete"))
	}
	return res, err
}

func (m *Manager) uploadData(ctx context.Context, h held) (upload.Result, error) {
	state, err := m.current()
	if err != nil {
		return upload.Failed, err
	}
	if !state.Attached() {
		return upload.Failed, ErrNotAttached
	}
	if err := m.gate.Check(ctx); err != nil {
		return upload.Interrupted, nil
	}
	m.progress.Store(0)
	m.notifySampler.Reset()

	var failures []error

	report, err := m.runDirectives(ctx, h)
	switch {
	case pause.IsInterrupted(err):
		return upload.Interrupted, nil
	case err != nil:
		failures = append(failures, err)
	case !report.OK():
		failures = append(failures, fmt.Errorf("%d directives failed", report.Failed))
	}

	// Directives may have switched identity.
	if state, err = m.current(); err != nil {
		return upload.Failed, err
	}
	token := state.loginToken

	records, err := m.store.ListRecords(ctx)
	if err != nil {
		return upload.Failed, errors.Join(append(failures, err)...)
	}
	files, err := m.registry.List(ctx)
	if err != nil {
		return upload.Failed, errors.Join(append(failures, err)...)
	}
	batches := batch(records, m.cfg.Upload.BatchSize)
	total := len(batches) + len(files)
	done := 0
	if total > 0 {
		m.publish(ctx, notifications.EventUploadStarted, notifications.Payload{"records": len(records), "files": len(files)})
	}

	for i, chunk := range batches {
		if err := m.gate.Check(ctx); err != nil {
			return upload.Interrupted, nil
		}
		if err := m.uploadBatch(ctx, token, chunk); err != nil {
			if ctx.Err() != nil {
				return upload.Interrupted, nil
			}
			failures = append(failures, fmt.Errorf("batch %d of %d: %w", i+1, len(batches), err))
		}
		done++
		m.reportProgress(ctx, done, total)
	}

	for _, file := range files {
		res, err := m.uploader.Upload(ctx, token, file)
		switch res {
		case upload.Interrupted:
			return upload.Interrupted, nil
		case upload.Failed:
			failures = append(failures, fmt.Errorf("file %s: %w", file.RelativePath, err))
		}
		done++
		m.reportProgress(ctx, done, total)
	}

	if len(failures) > 0 {
		return upload.Failed, errors.Join(failures...)
	}
	m.reportProgress(ctx, 1, 1)
	if total > 0 {
		m.publish(ctx, notifications.EventUploadCompleted, nil)
	}
	return upload.Success, nil
}

// uploadBatch sends one batch and deletes exactly its keys once the server
// acknowledges it.
func (m *Manager) uploadBatch(ctx context.Context, token string, records []store.Record) error {
	if err := m.server.Save(ctx, token, records); err != nil {
		return err
	}
	keys := make([]string, len(records))
	for i, record := range records {
		keys[i] = record.Key
	}
	if err := m.store.DeleteRecords(ctx, keys); err != nil {
		return fmt.Errorf("remove acknowledged records: %w", err)
	}
	m.logger.Debug("record batch uploaded",
		logging.String(logging.FieldEventType, "records_uploaded"),
		logging.Int("count", len(records)),
	)
	return nil
}

func batch(records []store.Record, size int) [][]store.Record {
	if size <= 0 {
		size = 100
	}
	var out [][]store.Record
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		out = append(out, records[start:end])
	}
	return out
}

// Progress returns the percentage reached by the current or last cycle.
func (m *Manager) Progress() int {
	return int(m.progress.Load())
}

// reportProgress publishes the cycle percentage. It never decreases within a
// cycle. Callers hold the lock.
func (m *Manager) reportProgress(ctx context.Context, done, total int) {
	if total <= 0 {
		return
	}
	percent := int32(done * 100 / total)
	for {
		prev := m.progress.Load()
		if percent <= prev {
			return
		}
		if m.progress.CompareAndSwap(prev, percent) {
			break
		}
	}
	if m.onProgress != nil {
		m.onProgress(int(percent))
	}
	if !m.notifySampler.ShouldLog(float64(percent), "") {
		return
	}
	m.publish(ctx, notifications.EventUploadProgress, notifications.Payload{"percent": int(percent)})
}

func (m *Manager) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := m.notifier.Publish(ctx, event, payload); err != nil {
		m.logger.Debug("notification failed",
			logging.String(logging.FieldEventType, "notification_failed"),
			logging.String("event", string(event)),
			logging.Error(err),
		)
	}
}

func errorSummary(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
