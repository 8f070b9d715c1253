// Package preflight runs readiness checks before a run and for the status
// command: worker availability and directory access.
//
// Checks never fail a run on their own; the loop logs failures as warnings
// and lets the worker launch decide.
package preflight
