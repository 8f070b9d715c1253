package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"
)

// Command describes one worker process launch.
type Command struct {
	Binary string
	Args   []string
	Dir    string
	Env    []string
}

// Executor abstracts process execution for testability. Run blocks until the
// process exits and reports its exit code. A start failure must be returned
// as an error wrapping ErrLaunch.
type Executor interface {
	Run(ctx context.Context, cmd Command, onLine func(string)) (int, error)
}

const maxLineBytes = 1024 * 1024

type commandExecutor struct{}

// Run ignores ctx cancellation once the process has started; a round is
// never interrupted midway.
func (commandExecutor) Run(ctx context.Context, command Command, onLine func(string)) (int, error) {
	cmd := exec.Command(command.Binary, command.Args...) //nolint:gosec
	cmd.Dir = command.Dir
	cmd.Env = command.Env
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("%w: stdout pipe: %v", ErrLaunch, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("%w: stderr pipe: %v", ErrLaunch, err)
	}
	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("%w: start %s: %v", ErrLaunch, command.Binary, err)
	}

	var mu sync.Mutex
	forward := func(line string) {
		mu.Lock()
		defer mu.Unlock()
		if onLine != nil {
			onLine(line)
		}
	}

	var pumps errgroup.Group
	pumps.Go(func() error { return pump(stdout, forward) })
	pumps.Go(func() error { return pump(stderr, forward) })
	scanErr := pumps.Wait()

	code := exitCode(cmd.Wait())
	if scanErr != nil {
		return code, fmt.Errorf("scan worker output: %w", scanErr)
	}
	return code, nil
}

// pump forwards lines from r and drains the remainder after a scan error so
// the process never blocks on a full pipe.
func pump(r io.Reader, forward func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		forward(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		_, _ = io.Copy(io.Discard, r)
		return err
	}
	return nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return exitErr.ExitCode()
}
