package orchestrator

import (
	"context"
	"time"

	"quotarun/internal/history"
	"quotarun/internal/logging"
	"quotarun/internal/report"
	"quotarun/internal/runlog"
)

// finish writes the summary and result files, records history and sends
// notifications. It runs on every path after the lock is held.
func (o *Orchestrator) finish(ctx context.Context, outcome Outcome, log runlog.Log, started time.Time, termination report.Termination, exitCode int, launchErr error) Outcome {
	// Reporting must complete even when the run was interrupted.
	ctx = context.WithoutCancel(ctx)
	logger := logging.WithContext(ctx, o.logger)

	outcome.Termination = termination
	outcome.ExitCode = exitCode
	outcome.LaunchErr = launchErr

	units := 0
	lastDecision := ""
	for _, r := range outcome.Rounds {
		units += r.Signals.UnitsProcessed
		lastDecision = r.Decision.String()
	}
	summary := report.Summary{
		RunID:          o.runID,
		Termination:    termination,
		ExitCode:       exitCode,
		Rounds:         len(outcome.Rounds),
		UnitsProcessed: units,
		LastDecision:   lastDecision,
		StartedAt:      started,
		FinishedAt:     o.now().UTC(),
	}
	outcome.Summary = o.reporter.Finalize(log, summary)

	o.record(ctx, outcome)
	o.notify(ctx, outcome)

	logger.Info("run finished",
		logging.String(logging.FieldEventType, "run_finished"),
		logging.String("termination", string(termination)),
		logging.Int("exit_code", exitCode),
		logging.Int("rounds", len(outcome.Rounds)),
	)
	return outcome
}

func (o *Orchestrator) record(ctx context.Context, outcome Outcome) {
	logger := logging.WithContext(ctx, o.logger)
	recorder, closeFn, err := o.recorder()
	if err != nil {
		logging.WarnWithContext(logger, "history store unavailable", "history_open_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check paths.history_db"),
			logging.String(logging.FieldImpact, "run missing from history"),
		)
		return
	}
	defer closeFn()
	if err := recorder.Record(ctx, historyRun(outcome)); err != nil {
		logging.WarnWithContext(logger, "history record failed", "history_record_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "run missing from history"),
		)
	}
}

func (o *Orchestrator) notify(ctx context.Context, outcome Outcome) {
	var err error
	switch outcome.Termination {
	case report.TerminationLaunchFailure:
		err = o.notifier.NotifyLaunchFailure(ctx, outcome.LaunchErr)
	case report.TerminationBudgetExhausted:
		var longTerm float64
		if n := len(outcome.Rounds); n > 0 {
			longTerm = outcome.Rounds[n-1].Signals.LongTermConsumed
		}
		err = o.notifier.NotifyBudgetExhausted(ctx, outcome.Summary, longTerm)
	default:
		err = o.notifier.NotifyRunCompleted(ctx, outcome.Summary)
	}
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, o.logger), "notification failed", "notification_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
			logging.String(logging.FieldImpact, "run outcome not pushed"),
		)
	}
}

func historyRun(outcome Outcome) history.Run {
	s := outcome.Summary
	run := history.Run{
		ID:             outcome.RunID,
		StartedAt:      s.StartedAt,
		FinishedAt:     s.FinishedAt,
		Termination:    string(outcome.Termination),
		ExitCode:       outcome.ExitCode,
		Rounds:         len(outcome.Rounds),
		UnitsProcessed: s.UnitsProcessed,
		Successes:      s.Successes,
		Failures:       s.Failures,
		Artifacts:      s.Artifacts,
		LogPath:        s.LogPath,
		RoundRecords:   make([]history.Round, 0, len(outcome.Rounds)),
	}
	for _, r := range outcome.Rounds {
		rec := history.Round{
			Ordinal:        r.Ordinal,
			StartedAt:      r.StartedAt,
			FinishedAt:     r.FinishedAt,
			ExitCode:       r.ExitCode,
			UnitsProcessed: r.Signals.UnitsProcessed,
			Exhausted:      r.Signals.AnyExhaustion,
			Scope:          string(r.Scope),
			Decision:       r.Decision.String(),
		}
		if r.Signals.HasLongTerm {
			consumed := r.Signals.LongTermConsumed
			rec.LongTermConsumed = &consumed
		}
		run.RoundRecords = append(run.RoundRecords, rec)
	}
	return run
}
