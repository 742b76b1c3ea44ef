// Package scheduler keeps the background upload chain alive.
//
// The Scheduler runs one upload cycle at a time, plans the next one from the
// cycle's result, and persists the planned time so a restarted daemon picks
// the chain back up. A watchdog re-plans the chain whenever it finds nothing
// scheduled or a plan that is long overdue.
package scheduler
