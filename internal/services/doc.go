// Package services defines shared error markers and context helpers consumed
// by the server client, the upload session, and the state manager.
//
// Context helpers stamp registered file paths, upload stages, and cycle
// correlation identifiers for logging. The Wrap helper tags failures with a
// marker so callers can tell retry-later failures from ones that need a reset
// or operator attention.
package services
