// Package daemon coordinates the long-running signsync process.
//
// It wires the durable store, the state manager, the upload scheduler, and
// the optional upload directory watcher into a single lifecycle guarded by a
// flock so only one instance uploads at a time. Control requests from the CLI
// arrive through the ipc package and call into the accessors exposed here.
//
// Keep orchestration logic here: upload and state semantics live in their own
// packages while the daemon focuses on startup, shutdown, and status.
package daemon
