// Package orchestrator drives the round loop.
//
// A run claims the single-instance lock, then invokes the worker round after
// round. After each round it parses the trailing window of the run log,
// decides, and either sleeps, continues at once or stops. Stops happen on a
// terminal decision, on reaching the round ceiling, on a worker launch
// failure, or on cancellation. Once the lock is held, every exit path writes
// the summary and result files and releases the lock exactly once.
//
// The loop is strictly sequential: one control goroutine, one worker process
// at a time. A round in progress is never cancelled; cancellation only cuts
// short the pause between rounds.
package orchestrator
