package lockfile

import (
	"errors"

	"golang.org/x/sys/unix"
)

// ProcessChecker reports whether a process id refers to a running process.
// A non-nil error means liveness could not be determined.
type ProcessChecker interface {
	Alive(pid int) (bool, error)
}

// ProcessCheckerFunc adapts a function to ProcessChecker.
type ProcessCheckerFunc func(pid int) (bool, error)

func (f ProcessCheckerFunc) Alive(pid int) (bool, error) { return f(pid) }

type unixChecker struct{}

// Alive probes pid with signal 0. EPERM means the process exists under
// another user.
func (unixChecker) Alive(pid int) (bool, error) {
	if pid <= 0 {
		return false, nil
	}
	err := unix.Kill(pid, 0)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, unix.ESRCH):
		return false, nil
	case errors.Is(err, unix.EPERM):
		return true, nil
	default:
		return false, err
	}
}

// SystemChecker returns the signal-0 liveness probe.
func SystemChecker() ProcessChecker {
	return unixChecker{}
}
