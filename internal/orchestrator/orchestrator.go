package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"quotarun/internal/config"
	"quotarun/internal/decision"
	"quotarun/internal/history"
	"quotarun/internal/lockfile"
	"quotarun/internal/logging"
	"quotarun/internal/notifications"
	"quotarun/internal/report"
	"quotarun/internal/runlog"
	"quotarun/internal/signals"
	"quotarun/internal/worker"
)

// Exit statuses for terminations that do not inherit the worker's code.
const (
	ExitLaunchFailure = 127
	ExitInterrupted   = 130
	ExitSetupFailure  = 1
)

// TerminationSetupFailure marks a run that held the lock but could not open
// its run log or prepare the worker.
const TerminationSetupFailure report.Termination = "setup_failure"

// RoundRunner runs the worker once per call.
type RoundRunner interface {
	RunRound(ctx context.Context, ordinal int) (worker.Round, error)
}

// Recorder persists finished runs.
type Recorder interface {
	Record(ctx context.Context, run history.Run) error
}

// Round is a finalized round: the raw worker outcome plus what was parsed
// and decided from it.
type Round struct {
	worker.Round
	Signals  signals.Signals
	Scope    signals.Scope
	Decision decision.Decision
	Pause    time.Duration
}

// Outcome describes how a run ended.
type Outcome struct {
	RunID       string
	Termination report.Termination
	ExitCode    int
	Rounds      []Round
	Summary     report.Summary
	// LaunchErr holds the worker start failure for launch_failure runs.
	LaunchErr error
}

// Orchestrator owns one run of the round loop.
type Orchestrator struct {
	cfg       *config.Config
	guard     *lockfile.Guard
	parser    *signals.Parser
	policy    decision.Policy
	reporter  *report.Reporter
	notifier  notifications.Service
	sleeper   Sleeper
	base      *slog.Logger
	logger    *slog.Logger
	now       func() time.Time
	runID     string
	openLog   func(stamp string) (runlog.Log, error)
	newRunner func(log runlog.Log) (RoundRunner, error)
	recorder  func() (Recorder, func(), error)
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.base = logger
		}
	}
}

// WithSleeper replaces the inter-round timer.
func WithSleeper(s Sleeper) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.sleeper = s
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRunID fixes the run identifier.
func WithRunID(id string) Option {
	return func(o *Orchestrator) {
		if id != "" {
			o.runID = id
		}
	}
}

// WithNotifier replaces the notification service.
func WithNotifier(n notifications.Service) Option {
	return func(o *Orchestrator) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithRunLog makes every run append to log instead of a new file in the log
// directory.
func WithRunLog(log runlog.Log) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.openLog = func(string) (runlog.Log, error) { return log, nil }
		}
	}
}

// WithRunner replaces worker construction. build receives the run log the
// runner must append to.
func WithRunner(build func(log runlog.Log) (RoundRunner, error)) Option {
	return func(o *Orchestrator) {
		if build != nil {
			o.newRunner = build
		}
	}
}

// WithExecutor keeps the default worker invoker but swaps its process
// executor.
func WithExecutor(exec worker.Executor) Option {
	return func(o *Orchestrator) {
		o.newRunner = func(log runlog.Log) (RoundRunner, error) {
			return worker.New(o.cfg, log, worker.WithExecutor(exec), worker.WithLogger(o.base))
		}
	}
}

// WithRecorder replaces the history store.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = func() (Recorder, func(), error) { return r, func() {}, nil }
		}
	}
}

// New builds an orchestrator for cfg. The default collaborators are the
// signal-0 lock guard, a per-run log file, the subprocess worker, the SQLite
// history store and ntfy.
func New(cfg *config.Config, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("orchestrator: config is nil")
	}
	o := &Orchestrator{
		cfg:      cfg,
		parser:   signals.NewParser(cfg.Markers),
		policy:   decision.PolicyFromConfig(cfg),
		notifier: notifications.NewService(cfg),
		sleeper:  timerSleeper{},
		base:     logging.NewNop(),
		now:      time.Now,
		runID:    uuid.NewString(),
	}
	o.openLog = func(stamp string) (runlog.Log, error) {
		log, err := runlog.Create(cfg.Paths.LogDir, stamp)
		if log == nil {
			return nil, err
		}
		return log, err
	}
	o.newRunner = func(log runlog.Log) (RoundRunner, error) {
		return worker.New(cfg, log, worker.WithLogger(o.base))
	}
	o.recorder = func() (Recorder, func(), error) {
		store, err := history.Open(cfg.Paths.HistoryDB)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}
	for _, opt := range opts {
		opt(o)
	}
	o.guard = lockfile.New(cfg.Paths.LockFile,
		lockfile.WithRecoverUnknown(cfg.Lock.RecoverUnknownLiveness),
		lockfile.WithLogger(o.base),
	)
	o.reporter = report.New(cfg, o.base)
	o.logger = logging.NewComponentLogger(o.base, "orchestrator")
	return o, nil
}

// RunID returns the identifier of the run this orchestrator performs.
func (o *Orchestrator) RunID() string {
	return o.runID
}
