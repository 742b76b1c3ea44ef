package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// CurrentLogName is the stable name pointing at the active daemon run log.
const CurrentLogName = "signsync.log"

// RunLogPath returns the per-run daemon log file for runID.
func RunLogPath(logDir, runID string) string {
	return filepath.Join(logDir, "signsync-"+runID+".log")
}

// CurrentLogPath returns the stable pointer path inside logDir.
func CurrentLogPath(logDir string) string {
	return filepath.Join(logDir, CurrentLogName)
}

// EnsureCurrentLogPointer repoints CurrentLogName at target, preferring a
// symlink and falling back to a hard link.
func EnsureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	pointer := CurrentLogPath(logDir)
	if err := os.Remove(pointer); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	symErr := os.Symlink(target, pointer)
	if symErr == nil {
		return nil
	}
	if err := os.Link(target, pointer); err != nil {
		return fmt.Errorf("link log pointer: %w", errors.Join(symErr, err))
	}
	return nil
}
