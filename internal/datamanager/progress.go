package datamanager

import (
	"context"
	"fmt"

	"signsync/internal/logging"
	"signsync/internal/prompts"
	"signsync/internal/services"
)

// SetTutorialMode switches between tutorial and main prompts.
func (m *Manager) SetTutorialMode(ctx context.Context, enabled bool) error {
	h, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer h.release()
	return m.setTutorialMode(ctx, h, enabled)
}

func (m *Manager) setTutorialMode(ctx context.Context, h held, enabled bool) error {
	state, err := m.current()
	if err != nil {
		return err
	}
	return m.setState(ctx, h, state.with(func(s *AppState) { s.TutorialMode = enabled }))
}

// SetCurrentSection selects the section the next session records from.
func (m *Manager) SetCurrentSection(ctx context.Context, name string) error {
	h, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer h.release()

	state, err := m.PromptState()
	if err != nil {
		return err
	}
	if _, ok := state.Prompts.Section(name); !ok {
		return services.Wrap(services.ErrNotFound, "datamanager", "set section", fmt.Sprintf("unknown section %q", name), nil)
	}
	return m.setState(ctx, h, state.with(func(s *AppState) { s.CurrentSection = name }))
}

// AdvancePrompt records that one more prompt of section was completed in the
// current mode and returns the new counters.
func (m *Manager) AdvancePrompt(ctx context.Context, section string) (prompts.SectionProgress, error) {
	h, err := m.acquire(ctx)
	if err != nil {
		return prompts.SectionProgress{}, err
	}
	defer h.release()

	state, err := m.PromptState()
	if err != nil {
		return prompts.SectionProgress{}, err
	}
	progress, err := prompts.Advance(state.Progress, state.Prompts, section, state.TutorialMode)
	if err != nil {
		return prompts.SectionProgress{}, err
	}
	if err := m.setState(ctx, h, state.with(func(s *AppState) { s.Progress = progress })); err != nil {
		return prompts.SectionProgress{}, err
	}
	return progress[section], nil
}

func (m *Manager) resetStatistics(ctx context.Context, h held) error {
	state, err := m.current()
	if err != nil {
		return err
	}
	next := state.with(func(s *AppState) { s.Progress = prompts.Reconcile(nil, s.Prompts) })
	if err := m.setState(ctx, h, next); err != nil {
		return err
	}
	m.logger.Info("prompt statistics reset",
		logging.String(logging.FieldEventType, "statistics_reset"),
	)
	return nil
}
