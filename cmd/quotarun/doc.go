// Package main hosts the quotarun CLI entrypoint and command graph.
//
// Invoked without a subcommand it performs one orchestration run and exits
// with the run's status, which makes it suitable for cron or a systemd timer.
// The remaining commands inspect state left behind by runs: the lock owner,
// the last result, run history and the current run log. Configuration
// resolution and logger setup are centralized here so commands stay thin.
package main
