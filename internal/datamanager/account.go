package datamanager

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"signsync/internal/fileutil"
	"signsync/internal/logging"
	"signsync/internal/prompts"
)

var usernamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{2,}$`)

// ValidateUsername checks the account name format.
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("%w: %q must start with a lowercase letter and contain at least 3 of [a-z0-9_]", ErrInvalidUsername, username)
	}
	return nil
}

// NewLoginToken builds a fresh credential for username.
func NewLoginToken(username string) string {
	return username + ":" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// AttachAccount registers a new login token for username using the admin
// password, stores it, and reloads prompts from scratch. The lock is held for
// the whole operation. A registration failure leaves prior state untouched.
func (m *Manager) AttachAccount(ctx context.Context, username, adminPassword string) error {
	if err := ValidateUsername(username); err != nil {
		return err
	}
	if _, err := m.current(); err != nil {
		return err
	}
	h, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer h.release()

	token := NewLoginToken(username)
	if err := m.server.RegisterLogin(ctx, "admin:"+adminPassword, token); err != nil {
		return fmt.Errorf("register login for %s: %w", username, err)
	}
	if err := m.switchAccount(ctx, h, username, token); err != nil {
		return err
	}
	m.logger.Info("account attached",
		logging.String(logging.FieldEventType, "account_attached"),
		logging.String(logging.FieldUsername, username),
	)
	if err := m.reloadPrompts(ctx, h); err != nil {
		return fmt.Errorf("account attached but prompt reload failed: %w", err)
	}
	return nil
}

// switchAccount stores token as the active credential and clears progress
// that belonged to the previous identity.
func (m *Manager) switchAccount(ctx context.Context, h held, username, token string) error {
	if err := fileutil.WriteFileAtomic(m.cfg.LoginTokenPath(), []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("store login token: %w", err)
	}
	state, err := m.current()
	if err != nil {
		return err
	}
	next := state.with(func(s *AppState) {
		s.loginToken = token
		s.Username = username
		s.CurrentSection = ""
		s.Progress = prompts.Reconcile(nil, s.Prompts)
	})
	return m.setState(ctx, h, next)
}
