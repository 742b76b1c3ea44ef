package datamanager

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"signsync/internal/logging"
	"signsync/internal/pause"
	"signsync/internal/server"
	"signsync/internal/services"
)

// Kind is the closed set of server directives.
type Kind int

const (
	KindNoop Kind = iota
	KindChangeUser
	KindResetStatistics
	KindReloadPrompts
	KindDeleteFile
	KindSetTutorialMode
	KindUploadState
)

var kindNames = map[string]Kind{
	"noop":            KindNoop,
	"changeUser":      KindChangeUser,
	"resetStatistics": KindResetStatistics,
	"reloadPrompts":   KindReloadPrompts,
	"deleteFile":      KindDeleteFile,
	"setTutorialMode": KindSetTutorialMode,
	"uploadState":     KindUploadState,
}

func (k Kind) String() string {
	for name, kind := range kindNames {
		if kind == k {
			return name
		}
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// ParseKind maps a directive op onto its Kind.
func ParseKind(op string) (Kind, error) {
	kind, ok := kindNames[strings.TrimSpace(op)]
	if !ok {
		return 0, services.Wrap(services.ErrValidation, "directives", "parse", fmt.Sprintf("unknown op %q", op), nil)
	}
	return kind, nil
}

// ChangeUserValue is the value carried by a changeUser directive.
type ChangeUserValue struct {
	Username   string `json:"username"`
	LoginToken string `json:"loginToken"`
}

// DirectiveReport summarizes one RunDirectives pass.
type DirectiveReport struct {
	Executed    int
	Skipped     int
	Failed      int
	ChangedUser bool
}

// OK reports whether every recognized directive completed.
func (r DirectiveReport) OK() bool {
	return r.Failed == 0
}

// RunDirectives fetches and executes pending directives in order.
func (m *Manager) RunDirectives(ctx context.Context) (DirectiveReport, error) {
	if _, err := m.current(); err != nil {
		return DirectiveReport{}, err
	}
	h, err := m.acquire(ctx)
	if err != nil {
		return DirectiveReport{}, err
	}
	defer h.release()
	return m.runDirectives(ctx, h)
}

// runDirectives returns an error only for interruption or when the directive
// list itself could not be fetched. A changeUser directive ends the pass and
// reloads prompts for the new identity.
func (m *Manager) runDirectives(ctx context.Context, h held) (DirectiveReport, error) {
	var report DirectiveReport
	state, err := m.current()
	if err != nil {
		return report, err
	}
	if !state.Attached() {
		return report, ErrNotAttached
	}
	if err := m.gate.Check(ctx); err != nil {
		return report, err
	}
	token := state.loginToken
	directives, err := m.server.Directives(ctx, token)
	if err != nil {
		return report, fmt.Errorf("fetch directives: %w", err)
	}

	for _, directive := range directives {
		if err := m.gate.Check(ctx); err != nil {
			return report, err
		}
		logger := m.logger.With(
			logging.Int64(logging.FieldDirectiveID, directive.ID),
			logging.String(logging.FieldDirectiveOp, directive.Op),
		)
		kind, err := ParseKind(directive.Op)
		if err != nil {
			report.Skipped++
			logging.WarnWithContext(logger, "skipping unrecognized directive", "directive_unknown",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "upgrade signsync to handle this directive"),
				logging.String(logging.FieldImpact, "directive stays pending on the server"),
			)
			continue
		}

		if err := m.execute(ctx, h, kind, directive); err != nil {
			if pause.IsInterrupted(err) {
				return report, err
			}
			report.Failed++
			logging.WarnWithContext(logger, "directive failed; will retry next cycle", "directive_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, services.Hint(err)),
				logging.String(logging.FieldImpact, "later directives in this batch are deferred"),
			)
			return report, nil
		}
		if err := m.server.DirectiveCompleted(ctx, token, directive.ID); err != nil {
			report.Failed++
			logging.WarnWithContext(logger, "directive acknowledgement failed", "directive_ack_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, services.Hint(err)),
				logging.String(logging.FieldImpact, "server will resend the directive"),
			)
			return report, nil
		}
		report.Executed++
		logger.Info("directive executed", logging.String(logging.FieldEventType, "directive_executed"))

		if kind == KindChangeUser {
			report.ChangedUser = true
			if err := m.reloadPrompts(ctx, h); err != nil {
				report.Failed++
				logging.WarnWithContext(logger, "prompt reload after user change failed", "directive_reload_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "run signsync reload-prompts"),
					logging.String(logging.FieldImpact, "prompts still belong to the previous user"),
				)
			}
			return report, nil
		}
	}
	return report, nil
}

func (m *Manager) execute(ctx context.Context, h held, kind Kind, directive server.Directive) error {
	switch kind {
	case KindNoop:
		return nil
	case KindChangeUser:
		var value ChangeUserValue
		if err := json.Unmarshal([]byte(directive.Value), &value); err != nil {
			return services.Wrap(services.ErrValidation, "directives", "changeUser", "decode value", err)
		}
		if err := ValidateUsername(value.Username); err != nil {
			return err
		}
		if strings.TrimSpace(value.LoginToken) == "" {
			return services.Wrap(services.ErrValidation, "directives", "changeUser", "missing login token", nil)
		}
		return m.switchAccount(ctx, h, value.Username, strings.TrimSpace(value.LoginToken))
	case KindResetStatistics:
		return m.resetStatistics(ctx, h)
	case KindReloadPrompts:
		return m.reloadPrompts(ctx, h)
	case KindDeleteFile:
		return m.registry.Delete(ctx, directive.Value)
	case KindSetTutorialMode:
		enabled, err := strconv.ParseBool(strings.TrimSpace(directive.Value))
		if err != nil {
			return services.Wrap(services.ErrValidation, "directives", "setTutorialMode", "decode value", err)
		}
		return m.setTutorialMode(ctx, h, enabled)
	case KindUploadState:
		return m.uploadState(ctx, h)
	default:
		return fmt.Errorf("directive kind %v has no handler", kind)
	}
}
