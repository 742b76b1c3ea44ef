// Package ipc exposes the daemon over JSON-RPC on a Unix domain socket and
// ships the matching client used by the CLI.
//
// The CLI routes every state-changing command through this socket while the
// daemon runs, so the daemon's in-memory snapshot and data lock stay the only
// writers. Request and response types live in types.go; add new calls there to
// keep the protocol in one place.
package ipc
