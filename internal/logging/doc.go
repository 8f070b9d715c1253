// Package logging assembles structured slog loggers and formatting helpers used
// across quotarun.
//
// It owns the console/JSON handlers, the per-run tee that mirrors stdout into
// the run's JSON log file, and context helpers that tag lines with the run ID
// and round number. Log retention pruning for the log directory also lives
// here.
package logging
