package datamanager

import (
	"errors"
	"fmt"

	"signsync/internal/prompts"
)

// Readiness tracks whether persisted state has been loaded.
type Readiness int32

const (
	Uninitialized Readiness = iota
	Initializing
	Ready
)

func (r Readiness) String() string {
	switch r {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("readiness(%d)", int32(r))
	}
}

var (
	// ErrStateUnavailable is returned when state is requested before it has
	// been loaded, or prompt data is required but absent.
	ErrStateUnavailable = errors.New("prompt state not available")
	// ErrInvalidUsername rejects usernames outside ^[a-z][a-z0-9_]{2,}$.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrNotAttached is returned by server operations when no login token is
	// stored.
	ErrNotAttached = errors.New("no account attached")
)

// AppState is one immutable snapshot. Callers must not modify a snapshot they
// received; the manager replaces it instead.
type AppState struct {
	TutorialMode   bool
	Prompts        *prompts.Collection
	Progress       prompts.Progress
	CurrentSection string
	Username       string
	DeviceID       string

	loginToken string
}

// Attached reports whether a login token is present.
func (s *AppState) Attached() bool {
	return s != nil && s.loginToken != ""
}

// with returns a copy of s with fn applied. Progress is deep-copied so the
// original snapshot stays untouched.
func (s *AppState) with(fn func(*AppState)) *AppState {
	next := *s
	next.Progress = s.Progress.Clone()
	fn(&next)
	return &next
}
