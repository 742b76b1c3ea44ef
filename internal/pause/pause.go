// Package pause is the process-wide gate that keeps background synchronization
// from competing with foreground recording. The deadline lives in the durable
// store so it survives restarts and is shared between the CLI and the daemon.
package pause

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"signsync/internal/logging"
	"signsync/internal/store"
)

// DeadlineKey is the preference holding the pause deadline.
const DeadlineKey = "pause_deadline"

// ErrInterrupted signals that work stopped because uploads are paused or the
// caller's context ended. It means "try later", never a failure.
var ErrInterrupted = errors.New("upload interrupted")

// Controller reads and mutates the pause deadline.
type Controller struct {
	store  *store.Store
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// New builds a controller backed by st.
func New(st *store.Store, logger *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		store:  st,
		now:    time.Now,
		logger: logging.NewComponentLogger(logger, "pause"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PauseUntil overwrites the deadline. A nil deadline clears the pause.
func (c *Controller) PauseUntil(ctx context.Context, deadline *time.Time) error {
	if deadline == nil {
		if err := c.store.Remove(ctx, DeadlineKey); err != nil {
			return fmt.Errorf("clear pause: %w", err)
		}
		c.logger.Info("upload pause cleared", logging.String(logging.FieldEventType, "pause_cleared"))
		return nil
	}
	if err := c.store.SetTime(ctx, DeadlineKey, *deadline); err != nil {
		return fmt.Errorf("set pause: %w", err)
	}
	c.logger.Info("uploads paused",
		logging.String(logging.FieldEventType, "pause_set"),
		logging.Time("until", *deadline),
	)
	return nil
}

// PauseForAtLeast extends the deadline to now+d unless an existing deadline is
// already later. It never shortens a pause.
func (c *Controller) PauseForAtLeast(ctx context.Context, d time.Duration) (time.Time, error) {
	candidate := c.now().Add(d)
	var effective time.Time
	err := c.store.Edit(ctx, func(tx *store.Tx) error {
		current, ok, err := tx.GetTime(ctx, DeadlineKey)
		if err != nil {
			return err
		}
		if ok && !current.Before(candidate) {
			effective = current
			return nil
		}
		effective = candidate
		return tx.SetTime(ctx, DeadlineKey, candidate)
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("extend pause: %w", err)
	}
	c.logger.Debug("uploads paused for at least",
		logging.String(logging.FieldEventType, "pause_extended"),
		logging.Duration("requested", d),
		logging.Time("until", effective),
	)
	return effective, nil
}

// Deadline returns the stored deadline, if any.
func (c *Controller) Deadline(ctx context.Context) (time.Time, bool, error) {
	return c.store.GetTime(ctx, DeadlineKey)
}

// IsPaused reports whether now is strictly before the stored deadline. A
// store read failure is logged and treated as not paused.
func (c *Controller) IsPaused(ctx context.Context) bool {
	deadline, ok, err := c.Deadline(ctx)
	if err != nil {
		logging.WarnWithContext(c.logger, "pause deadline unreadable", "pause_read_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "uploads proceed as if unpaused"),
		)
		return false
	}
	return ok && c.now().Before(deadline)
}

// Check returns ErrInterrupted when uploads are paused or ctx is done. Long
// running steps call it at every suspension point.
func (c *Controller) Check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrInterrupted, err)
	}
	if c.IsPaused(ctx) {
		return ErrInterrupted
	}
	return nil
}

// IsInterrupted reports whether err came from a pause or cancellation.
func IsInterrupted(err error) bool {
	return errors.Is(err, ErrInterrupted) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
