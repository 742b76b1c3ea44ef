// Package logs reads the daemon log for `signsync log tail` and the ipc
// LogTail call.
//
// A negative offset returns the last N lines; a non-negative offset resumes
// from a previous read. Follow mode blocks until new lines arrive, the wait
// elapses, or the context ends.
package logs
