// Package lockfile guarantees that at most one orchestrator instance drives
// the worker at a time.
//
// The lock file holds the owner's pid as decimal text. A recorded pid whose
// process is gone never blocks a new run; the stale record is overwritten.
// The check-then-claim step is serialized with an advisory flock on a
// sibling "<lock>.flock" file so two starters racing over the same stale
// record cannot both win. The pid file itself remains the only source of
// truth for ownership.
package lockfile
