package datamanager

import (
	"context"
	"fmt"
)

// held proves the caller owns the manager lock. Only acquire creates one, and
// helpers that require the lock take it as a parameter instead of locking
// again.
type held struct {
	m *Manager
}

func (m *Manager) acquire(ctx context.Context) (held, error) {
	select {
	case m.lock <- struct{}{}:
		return held{m: m}, nil
	case <-ctx.Done():
		return held{}, fmt.Errorf("acquire state lock: %w", ctx.Err())
	}
}

func (h held) release() {
	<-h.m.lock
}
