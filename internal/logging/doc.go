// Package logging assembles structured slog loggers and formatting helpers used
// across signsync.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so upload code can automatically
// tag log lines with file paths, upload stages, and cycle IDs. The package also
// provides a no-op logger for tests and wiring code that cannot fail.
package logging
