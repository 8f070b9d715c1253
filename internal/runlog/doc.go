// Package runlog stores the combined worker output of one orchestrator run.
//
// The log is append-only: lines are never rewritten or truncated. Readers
// take a trailing window for quota parsing, scan the whole file once for the
// end-of-run summary, or follow it from an offset for the logs command.
package runlog
