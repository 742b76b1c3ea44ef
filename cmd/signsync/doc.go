// Package main hosts the signsync CLI entrypoint and command graph.
//
// Commands that change upload state go through the daemon's control socket
// when it is running and fall back to an in-process state manager otherwise.
// Read-only listings open the store directly.
package main
