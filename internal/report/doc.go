// Package report produces the end-of-run artifacts: a JSON summary record and
// the plain-text result file consumed by external monitors.
//
// Reporting is best effort. Every failure is logged and swallowed so that the
// run's exit status never depends on it.
package report
