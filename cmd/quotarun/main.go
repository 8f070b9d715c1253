package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// exitError carries a process exit status out of the command tree. A nil err
// exits silently.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var exit *exitError
	if errors.As(err, &exit) {
		if exit.err != nil && !errors.Is(exit.err, context.Canceled) {
			fmt.Fprintln(os.Stderr, exit.err)
		}
		return exit.code
	}
	if !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
	}
	return 1
}
