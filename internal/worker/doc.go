// Package worker launches one batch worker subprocess per round.
//
// Each round runs exactly one process with the orchestrator-supplied
// environment and blocks until it exits. Stdout and stderr are merged line by
// line in arrival order and every line is appended to the run log as it
// arrives. There is no retry and no timeout; a non-zero exit is an ordinary
// round outcome. Only a failure to start the process is reported as an error
// (wrapping ErrLaunch).
package worker
