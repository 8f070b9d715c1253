// Package history keeps a SQLite record of past runs and their rounds for
// the history and status commands.
//
// The store is written once per run after the summary. It is informational
// only; the run log and summary file stay authoritative.
package history
