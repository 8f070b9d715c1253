package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"quotarun/internal/decision"
	"quotarun/internal/lockfile"
	"quotarun/internal/logging"
	"quotarun/internal/preflight"
	"quotarun/internal/report"
	"quotarun/internal/runlog"
)

// Run performs one complete run. It returns lockfile.ErrAlreadyRunning (with
// exit code 0) when another live instance holds the lock, and any other lock
// error as-is. Once the lock is held, the outcome carries the exit status and
// the error is nil unless the run could not be set up.
func (o *Orchestrator) Run(ctx context.Context) (Outcome, error) {
	ctx = logging.WithRunID(ctx, o.runID)
	logger := logging.WithContext(ctx, o.logger)
	outcome := Outcome{RunID: o.runID}

	handle, err := o.guard.Acquire(ctx)
	if err != nil {
		if errors.Is(err, lockfile.ErrAlreadyRunning) {
			logger.Info("another instance is running; exiting",
				logging.String("lock_file", o.guard.Path()),
				logging.String(logging.FieldEventType, "already_running"),
			)
			return outcome, err
		}
		return outcome, fmt.Errorf("acquire lock: %w", err)
	}
	defer func() {
		if err := o.guard.Release(handle); err != nil {
			logging.WarnWithContext(logger, "lock release failed", "lock_release_failed",
				logging.String("lock_file", handle.Path()),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "remove the lock file manually"),
				logging.String(logging.FieldImpact, "next run recovers it once this pid is gone"),
			)
		}
	}()

	started := o.now().UTC()
	logger.Info("run started",
		logging.String(logging.FieldEventType, "run_started"),
		logging.Int("pid", handle.PID),
		logging.Int("max_rounds", o.cfg.Policy.MaxRounds),
	)

	log, err := o.openLog(started.Format(runlog.StampLayout))
	if err != nil && log == nil {
		return o.finish(ctx, outcome, nil, started, TerminationSetupFailure, ExitSetupFailure, nil),
			fmt.Errorf("open run log: %w", err)
	}
	if err != nil {
		logging.WarnWithContext(logger, "current log pointer not updated", "runlog_pointer_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "logs command may show the previous run"),
		)
	}
	if closer, ok := log.(interface{ Close() error }); ok {
		defer closer.Close()
	}
	o.pruneLogs(log.Path())
	o.logPreflight(ctx)

	runner, err := o.newRunner(log)
	if err != nil {
		return o.finish(ctx, outcome, log, started, TerminationSetupFailure, ExitSetupFailure, nil),
			fmt.Errorf("prepare worker: %w", err)
	}

	termination, exitCode, rounds, launchErr := o.loop(ctx, runner, log)
	outcome.Rounds = rounds
	return o.finish(ctx, outcome, log, started, termination, exitCode, launchErr), nil
}

func (o *Orchestrator) loop(ctx context.Context, runner RoundRunner, log runlog.Log) (report.Termination, int, []Round, error) {
	var (
		rounds   []Round
		lastExit int
	)
	maxRounds := o.cfg.Policy.MaxRounds

	for ordinal := 1; ordinal <= maxRounds; ordinal++ {
		if ctx.Err() != nil {
			o.logger.Info("run interrupted before round", logging.Int(logging.FieldRound, ordinal))
			return report.TerminationInterrupted, ExitInterrupted, rounds, nil
		}
		roundCtx := logging.WithRound(ctx, ordinal)
		logger := logging.WithContext(roundCtx, o.logger)

		raw, err := runner.RunRound(roundCtx, ordinal)
		if err != nil {
			logging.ErrorWithContext(logger, "worker launch failed; stopping run", "worker_launch_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check worker.command and worker.workdir"),
			)
			return report.TerminationLaunchFailure, ExitLaunchFailure, rounds, err
		}
		lastExit = raw.ExitCode

		window, err := log.Tail(o.cfg.Policy.TailLines)
		if err != nil {
			logging.WarnWithContext(logger, "run log tail failed; parsing captured output", "runlog_tail_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "signals limited to this round's output"),
			)
			window = trailing(raw.Output, o.cfg.Policy.TailLines)
		}
		sig := o.parser.Parse(window)
		verdict := o.policy.Decide(sig)
		round := Round{
			Round:    raw,
			Signals:  sig,
			Scope:    sig.Scope(o.policy.LongTermThresholdHours),
			Decision: verdict,
			Pause:    o.policy.Pause(verdict),
		}
		rounds = append(rounds, round)
		o.logRound(logger, round)

		switch verdict {
		case decision.StopBudgetExhausted:
			return report.TerminationBudgetExhausted, lastExit, rounds, nil
		case decision.StopNoWork:
			return report.TerminationNoWork, lastExit, rounds, nil
		}

		if ordinal == maxRounds {
			logging.WarnWithContext(logger, "round ceiling reached; stopping", "round_ceiling",
				logging.Int("max_rounds", maxRounds),
				logging.String(logging.FieldErrorHint, "raise policy.max_rounds if the backlog is larger"),
				logging.String(logging.FieldImpact, "remaining work waits for the next scheduled run"),
			)
			return report.TerminationRoundCeiling, lastExit, rounds, nil
		}

		if round.Pause > 0 {
			if err := o.sleeper.Sleep(ctx, round.Pause); err != nil {
				o.logger.Info("run interrupted during pause", logging.Int(logging.FieldRound, ordinal))
				return report.TerminationInterrupted, ExitInterrupted, rounds, nil
			}
		}
	}
	// Only reached when max_rounds < 1, which config validation rejects.
	return report.TerminationRoundCeiling, lastExit, rounds, nil
}

func (o *Orchestrator) logRound(logger *slog.Logger, round Round) {
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "round_decided"),
		logging.Int("exit_code", round.ExitCode),
		logging.Int("units", round.Signals.UnitsProcessed),
		logging.Bool("exhausted", round.Signals.AnyExhaustion),
		logging.String("scope", string(round.Scope)),
		logging.Duration("pause", round.Pause),
	}
	if round.Signals.HasLongTerm {
		attrs = append(attrs, logging.Float64("long_term_hours", round.Signals.LongTermConsumed))
	}
	if round.Signals.HasShortTerm {
		attrs = append(attrs, logging.Float64("short_term_hours", round.Signals.ShortTermConsumed))
	}
	attrs = append(attrs, logging.DecisionAttrs("round", round.Decision.String(), decision.Reason(round.Decision))...)
	logger.Info("round decided", logging.Args(attrs...)...)
}

func (o *Orchestrator) logPreflight(ctx context.Context) {
	logger := logging.WithContext(ctx, o.logger)
	for _, result := range preflight.Failed(preflight.RunAll(o.cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "the run may fail once the worker starts"),
		)
	}
}

func (o *Orchestrator) pruneLogs(current string) {
	dir := o.cfg.Paths.LogDir
	if dir == "" {
		return
	}
	logging.CleanupOldLogs(o.logger, o.cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: dir, Pattern: "run-*.log", Exclude: []string{current}},
		logging.RetentionTarget{Dir: dir, Pattern: "orchestrator-*.log"},
	)
}

func trailing(lines []string, n int) []string {
	if n <= 0 || len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
