package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"quotarun/internal/config"
	"quotarun/internal/logging"
	"quotarun/internal/runlog"
)

// ErrLaunch reports that the worker process could not be started.
var ErrLaunch = errors.New("worker launch failed")

// Round is the raw outcome of one worker invocation.
type Round struct {
	Ordinal    int
	Output     []string
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns the wall time of the round.
func (r Round) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Invoker runs the configured worker once per round.
type Invoker struct {
	command Command
	log     runlog.Log
	exec    Executor
	logger  *slog.Logger
	now     func() time.Time
}

// Option customizes an Invoker.
type Option func(*Invoker)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(i *Invoker) {
		if exec != nil {
			i.exec = exec
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Invoker) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithClock overrides the time source used for round timestamps.
func WithClock(now func() time.Time) Option {
	return func(i *Invoker) {
		if now != nil {
			i.now = now
		}
	}
}

// New builds an invoker for the worker described by cfg, appending output
// to log. The environment is resolved once here.
func New(cfg *config.Config, log runlog.Log, opts ...Option) (*Invoker, error) {
	if cfg == nil {
		return nil, errors.New("worker: config is nil")
	}
	if log == nil {
		return nil, errors.New("worker: run log is nil")
	}
	binary := cfg.WorkerBinary()
	if binary == "" {
		return nil, errors.New("worker: command is empty")
	}
	env, err := BuildEnv(os.Environ(), cfg.Worker)
	if err != nil {
		return nil, err
	}
	inv := &Invoker{
		command: Command{
			Binary: binary,
			Args:   append([]string(nil), cfg.Worker.Args...),
			Dir:    strings.TrimSpace(cfg.Worker.Workdir),
			Env:    env,
		},
		log:    log,
		exec:   commandExecutor{},
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(inv)
	}
	inv.logger = logging.NewComponentLogger(inv.logger, "worker")
	return inv, nil
}

// RunRound executes the worker exactly once. A launch failure returns an
// error wrapping ErrLaunch; every other outcome, including a non-zero exit,
// is a completed round.
func (i *Invoker) RunRound(ctx context.Context, ordinal int) (Round, error) {
	logger := logging.WithContext(ctx, i.logger)
	round := Round{Ordinal: ordinal, StartedAt: i.now().UTC()}

	i.appendLine(logger, fmt.Sprintf("==> round %d started %s", ordinal, round.StartedAt.Format(time.RFC3339)))
	logger.Debug("worker starting",
		logging.String("binary", i.command.Binary),
		logging.String("args", strings.Join(i.command.Args, " ")),
		logging.String("workdir", i.command.Dir),
	)

	code, err := i.exec.Run(ctx, i.command, func(line string) {
		round.Output = append(round.Output, line)
		i.appendLine(logger, line)
	})
	round.FinishedAt = i.now().UTC()
	round.ExitCode = code

	if err != nil {
		if errors.Is(err, ErrLaunch) {
			i.appendLine(logger, fmt.Sprintf("==> round %d launch failed: %v", ordinal, err))
			return round, err
		}
		logging.WarnWithContext(logger, "worker output capture incomplete", "worker_capture_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "worker printed a line longer than 1 MiB"),
			logging.String(logging.FieldImpact, "quota signals for this round may be missing"),
		)
	}

	i.appendLine(logger, fmt.Sprintf("==> round %d exited code=%d", ordinal, code))
	logger.Info("worker finished",
		logging.Int("exit_code", code),
		logging.Int("lines", len(round.Output)),
		logging.Duration("duration", round.Duration()),
		logging.String(logging.FieldEventType, "round_finished"),
	)
	return round, nil
}

func (i *Invoker) appendLine(logger *slog.Logger, line string) {
	if err := i.log.Append(line); err != nil {
		logging.WarnWithContext(logger, "run log append failed", "runlog_append_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check free space and permissions on paths.log_dir"),
			logging.String(logging.FieldImpact, "line missing from run log"),
		)
	}
}
