package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"quotarun/internal/config"
	"quotarun/internal/decision"
	"quotarun/internal/history"
	"quotarun/internal/lockfile"
	"quotarun/internal/orchestrator"
	"quotarun/internal/report"
	"quotarun/internal/runlog"
	"quotarun/internal/testsupport"
	"quotarun/internal/worker"
)

var (
	productive     = []string{"[1/4] BV1xK4y1C7af ok | 300.2s", "Run done | this_run=3 | daily=2.62h"}
	shortExhausted = []string{"All keys exhausted", "Run done | this_run=1 | hourly=2.00h daily=3.48h"}
	longExhausted  = []string{"All keys exhausted", "Run done | this_run=0 | daily=7.20h"}
	idle           = []string{"Run done | this_run=0 | stats={}"}
)

type scriptedRound struct {
	lines []string
	code  int
	err   error
}

type scriptedExecutor struct {
	mu     sync.Mutex
	rounds []scriptedRound
	calls  int
}

func (s *scriptedExecutor) Run(_ context.Context, _ worker.Command, onLine func(string)) (int, error) {
	s.mu.Lock()
	idx := min(s.calls, len(s.rounds)-1)
	s.calls++
	round := s.rounds[idx]
	s.mu.Unlock()

	if round.err != nil {
		return -1, round.err
	}
	for _, line := range round.lines {
		onLine(line)
	}
	return round.code, nil
}

func (s *scriptedExecutor) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingSleeper struct {
	pauses []time.Duration
	err    error
}

func (r *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	r.pauses = append(r.pauses, d)
	return r.err
}

type recordingNotifier struct {
	completed     []report.Summary
	budget        []float64
	launchErrs    []error
	notifyFailure error
}

func (n *recordingNotifier) NotifyRunCompleted(_ context.Context, summary report.Summary) error {
	n.completed = append(n.completed, summary)
	return n.notifyFailure
}

func (n *recordingNotifier) NotifyBudgetExhausted(_ context.Context, _ report.Summary, hours float64) error {
	n.budget = append(n.budget, hours)
	return n.notifyFailure
}

func (n *recordingNotifier) NotifyLaunchFailure(_ context.Context, err error) error {
	n.launchErrs = append(n.launchErrs, err)
	return n.notifyFailure
}

func (n *recordingNotifier) TestNotification(context.Context) error { return nil }

type memoryRecorder struct {
	runs []history.Run
}

func (m *memoryRecorder) Record(_ context.Context, run history.Run) error {
	m.runs = append(m.runs, run)
	return nil
}

type harness struct {
	cfg      *config.Config
	exec     *scriptedExecutor
	sleeper  *recordingSleeper
	notifier *recordingNotifier
	recorder *memoryRecorder
	orch     *orchestrator.Orchestrator
}

// newHarness wires an orchestrator around scripted rounds. The tail window is
// sized so each decision sees only its own round: header, two output lines
// and the exit footer.
func newHarness(t *testing.T, cfg *config.Config, rounds ...scriptedRound) *harness {
	t.Helper()

	cfg.Policy.TailLines = 4
	h := &harness{
		cfg:      cfg,
		exec:     &scriptedExecutor{rounds: rounds},
		sleeper:  &recordingSleeper{},
		notifier: &recordingNotifier{},
		recorder: &memoryRecorder{},
	}
	orch, err := orchestrator.New(cfg,
		orchestrator.WithExecutor(h.exec),
		orchestrator.WithSleeper(h.sleeper),
		orchestrator.WithNotifier(h.notifier),
		orchestrator.WithRecorder(h.recorder),
		orchestrator.WithRunID("run-under-test"),
	)
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	h.orch = orch
	return h
}

func (h *harness) run(t *testing.T) orchestrator.Outcome {
	t.Helper()
	outcome, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	assertLockReleased(t, h.cfg)
	return outcome
}

func decisions(outcome orchestrator.Outcome) []decision.Decision {
	out := make([]decision.Decision, 0, len(outcome.Rounds))
	for _, r := range outcome.Rounds {
		out = append(out, r.Decision)
	}
	return out
}

func assertLockReleased(t *testing.T, cfg *config.Config) {
	t.Helper()
	if _, err := os.Stat(cfg.Paths.LockFile); !os.IsNotExist(err) {
		t.Fatalf("expected lock file removed, stat err=%v", err)
	}
}

func TestRunStopsWhenBacklogIsEmpty(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	h := newHarness(t, cfg,
		scriptedRound{lines: productive},
		scriptedRound{lines: productive},
		scriptedRound{lines: idle},
	)

	outcome := h.run(t)

	want := []decision.Decision{decision.ContinueNoPause, decision.ContinueNoPause, decision.StopNoWork}
	if got := decisions(outcome); !reflect.DeepEqual(got, want) {
		t.Fatalf("decisions = %v, want %v", got, want)
	}
	if outcome.Termination != report.TerminationNoWork || outcome.ExitCode != 0 {
		t.Fatalf("unexpected outcome %s/%d", outcome.Termination, outcome.ExitCode)
	}
	if len(h.sleeper.pauses) != 0 {
		t.Fatalf("expected no pauses with short pause disabled, got %v", h.sleeper.pauses)
	}
	if outcome.Summary.UnitsProcessed != 6 || outcome.Summary.Successes != 2 {
		t.Fatalf("unexpected summary %+v", outcome.Summary)
	}
	if len(h.notifier.completed) != 1 {
		t.Fatalf("expected one completion notification, got %d", len(h.notifier.completed))
	}

	summary, err := report.ReadSummary(cfg.Paths.SummaryFile)
	if err != nil {
		t.Fatalf("ReadSummary: %v", err)
	}
	if summary.RunID != "run-under-test" || summary.Rounds != 3 || summary.LastDecision != "STOP_NO_WORK" {
		t.Fatalf("unexpected summary file %+v", summary)
	}
	status, _, err := report.ReadResult(cfg.Paths.ResultFile)
	if err != nil {
		t.Fatalf("ReadResult: %v", err)
	}
	if !strings.HasPrefix(status, "exit=0 ") {
		t.Fatalf("unexpected result status %q", status)
	}
}

func TestRunWaitsForReplenishmentAfterShortTermExhaustion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Policy.ShortPauseSeconds = 30
	h := newHarness(t, cfg,
		scriptedRound{lines: shortExhausted},
		scriptedRound{lines: productive},
		scriptedRound{lines: idle},
	)

	outcome := h.run(t)

	want := []decision.Decision{decision.WaitForReplenishment, decision.ContinueShortPause, decision.StopNoWork}
	if got := decisions(outcome); !reflect.DeepEqual(got, want) {
		t.Fatalf("decisions = %v, want %v", got, want)
	}
	wantPauses := []time.Duration{time.Second, 30 * time.Second}
	if !reflect.DeepEqual(h.sleeper.pauses, wantPauses) {
		t.Fatalf("pauses = %v, want %v", h.sleeper.pauses, wantPauses)
	}
	if outcome.Rounds[0].Signals.ShortTermConsumed != 2.0 {
		t.Fatalf("expected hourly consumption parsed, got %+v", outcome.Rounds[0].Signals)
	}
}

func TestRunStopsWhenLongTermBudgetExceeded(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	h := newHarness(t, cfg,
		scriptedRound{lines: productive},
		scriptedRound{lines: longExhausted},
		scriptedRound{lines: productive},
	)

	outcome := h.run(t)

	if outcome.Termination != report.TerminationBudgetExhausted || outcome.ExitCode != 0 {
		t.Fatalf("unexpected outcome %s/%d", outcome.Termination, outcome.ExitCode)
	}
	if h.exec.Calls() != 2 {
		t.Fatalf("expected worker to stop after budget round, ran %d times", h.exec.Calls())
	}
	if len(h.notifier.budget) != 1 || h.notifier.budget[0] != 7.2 {
		t.Fatalf("expected budget notification with 7.2h, got %v", h.notifier.budget)
	}
	if len(h.notifier.completed) != 0 {
		t.Fatal("budget stop should not send a completion notification")
	}
}

func TestRunStopsAtRoundCeilingWithoutTrailingPause(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxRounds(3))
	cfg.Policy.ShortPauseSeconds = 30
	h := newHarness(t, cfg, scriptedRound{lines: productive})

	outcome := h.run(t)

	if outcome.Termination != report.TerminationRoundCeiling || outcome.ExitCode != 0 {
		t.Fatalf("unexpected outcome %s/%d", outcome.Termination, outcome.ExitCode)
	}
	if h.exec.Calls() != 3 || len(outcome.Rounds) != 3 {
		t.Fatalf("expected exactly 3 rounds, got calls=%d rounds=%d", h.exec.Calls(), len(outcome.Rounds))
	}
	if len(h.sleeper.pauses) != 2 {
		t.Fatalf("expected pauses only between rounds, got %v", h.sleeper.pauses)
	}
}

func TestRunExitCodeInheritsLastWorkerExit(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	h := newHarness(t, cfg,
		scriptedRound{lines: productive, code: 1},
		scriptedRound{lines: idle, code: 3},
	)

	outcome := h.run(t)

	if outcome.Termination != report.TerminationNoWork {
		t.Fatalf("unexpected termination %s", outcome.Termination)
	}
	if outcome.ExitCode != 3 {
		t.Fatalf("expected last worker exit 3, got %d", outcome.ExitCode)
	}
}

func TestRunLaunchFailureWritesReportAndReleasesLock(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	launchErr := fmt.Errorf("%w: exec: \"worker\": executable file not found in $PATH", worker.ErrLaunch)
	h := newHarness(t, cfg, scriptedRound{err: launchErr})

	outcome := h.run(t)

	if outcome.Termination != report.TerminationLaunchFailure || outcome.ExitCode != orchestrator.ExitLaunchFailure {
		t.Fatalf("unexpected outcome %s/%d", outcome.Termination, outcome.ExitCode)
	}
	if !errors.Is(outcome.LaunchErr, worker.ErrLaunch) {
		t.Fatalf("expected launch error, got %v", outcome.LaunchErr)
	}
	if len(outcome.Rounds) != 0 || len(h.sleeper.pauses) != 0 {
		t.Fatalf("launch failure must not produce rounds or pauses: %+v", outcome)
	}
	if len(h.notifier.launchErrs) != 1 {
		t.Fatalf("expected one launch notification, got %d", len(h.notifier.launchErrs))
	}
	status, _, err := report.ReadResult(cfg.Paths.ResultFile)
	if err != nil {
		t.Fatalf("ReadResult: %v", err)
	}
	if !strings.HasPrefix(status, "exit=127 ") {
		t.Fatalf("unexpected result status %q", status)
	}
	summary, err := report.ReadSummary(cfg.Paths.SummaryFile)
	if err != nil {
		t.Fatalf("ReadSummary: %v", err)
	}
	if summary.Termination != report.TerminationLaunchFailure {
		t.Fatalf("unexpected summary termination %s", summary.Termination)
	}
	if len(h.recorder.runs) != 1 || h.recorder.runs[0].ExitCode != 127 {
		t.Fatalf("expected launch failure recorded, got %+v", h.recorder.runs)
	}
}

func TestRunInterruptedDuringPause(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Policy.ShortPauseSeconds = 30
	h := newHarness(t, cfg, scriptedRound{lines: productive})
	h.sleeper.err = context.Canceled

	outcome := h.run(t)

	if outcome.Termination != report.TerminationInterrupted || outcome.ExitCode != orchestrator.ExitInterrupted {
		t.Fatalf("unexpected outcome %s/%d", outcome.Termination, outcome.ExitCode)
	}
	if h.exec.Calls() != 1 {
		t.Fatalf("expected no further rounds after interrupt, got %d", h.exec.Calls())
	}
	if _, err := os.Stat(cfg.Paths.SummaryFile); err != nil {
		t.Fatalf("expected summary written on interrupt: %v", err)
	}
}

func TestRunRefusesWhenAnotherInstanceIsAlive(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := os.MkdirAll(filepath.Dir(cfg.Paths.LockFile), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	owner := []byte(strconv.Itoa(os.Getpid()) + "\n")
	if err := os.WriteFile(cfg.Paths.LockFile, owner, 0o644); err != nil {
		t.Fatalf("write lock: %v", err)
	}
	h := newHarness(t, cfg, scriptedRound{lines: productive})

	outcome, err := h.orch.Run(context.Background())
	if !errors.Is(err, lockfile.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if outcome.ExitCode != 0 {
		t.Fatalf("already running should exit 0, got %d", outcome.ExitCode)
	}
	if h.exec.Calls() != 0 {
		t.Fatalf("worker must not run, ran %d times", h.exec.Calls())
	}
	data, err := os.ReadFile(cfg.Paths.LockFile)
	if err != nil || string(data) != string(owner) {
		t.Fatalf("lock file modified: %q err=%v", data, err)
	}
	if _, err := os.Stat(runlog.CurrentPath(cfg.Paths.LogDir)); !os.IsNotExist(err) {
		t.Fatalf("run log must not be created, stat err=%v", err)
	}
	if _, err := os.Stat(cfg.Paths.SummaryFile); !os.IsNotExist(err) {
		t.Fatalf("summary must not be written, stat err=%v", err)
	}
}

func TestRunRecoversStaleLock(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := os.MkdirAll(filepath.Dir(cfg.Paths.LockFile), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(cfg.Paths.LockFile, []byte("not-a-pid\n"), 0o644); err != nil {
		t.Fatalf("write lock: %v", err)
	}
	h := newHarness(t, cfg, scriptedRound{lines: idle})

	outcome := h.run(t)
	if outcome.Termination != report.TerminationNoWork {
		t.Fatalf("unexpected termination %s", outcome.Termination)
	}
}

func TestRunRecordsHistory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Policy.TailLines = 4
	exec := &scriptedExecutor{rounds: []scriptedRound{{lines: productive}, {lines: longExhausted}}}
	orch, err := orchestrator.New(cfg,
		orchestrator.WithExecutor(exec),
		orchestrator.WithSleeper(&recordingSleeper{}),
	)
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	outcome, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()
	runs, err := store.Recent(ctx, 5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != outcome.RunID || runs[0].Termination != "budget_exhausted" {
		t.Fatalf("unexpected history %+v", runs)
	}
	rounds, err := store.Rounds(ctx, outcome.RunID)
	if err != nil {
		t.Fatalf("Rounds: %v", err)
	}
	if len(rounds) != 2 {
		t.Fatalf("expected 2 round records, got %d", len(rounds))
	}
	last := rounds[1]
	if last.Decision != "STOP_BUDGET_EXHAUSTED" || !last.Exhausted || last.Scope != "long_term" {
		t.Fatalf("unexpected round record %+v", last)
	}
	if last.LongTermConsumed == nil || *last.LongTermConsumed != 7.2 {
		t.Fatalf("expected long-term consumption recorded, got %v", last.LongTermConsumed)
	}
}

func TestRunWithScriptedWorkerProcess(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithOutputDir())
	script := testsupport.WriteWorkerScript(t, testsupport.BaseDir(cfg),
		testsupport.ScriptRound{Lines: productive},
		testsupport.ScriptRound{Lines: []string{"!ERR: transient upstream error", "Run done | this_run=0"}, Exit: 2},
	)
	cfg.Worker.Command = script
	cfg.Policy.TailLines = 4
	testsupport.WriteArtifacts(t, cfg.Paths.OutputDir, "BV1", ".txt", 3)

	orch, err := orchestrator.New(cfg,
		orchestrator.WithSleeper(&recordingSleeper{}),
		orchestrator.WithNotifier(&recordingNotifier{}),
		orchestrator.WithRecorder(&memoryRecorder{}),
	)
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	outcome, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertLockReleased(t, cfg)

	if got := testsupport.WorkerInvocations(t, script); got != 2 {
		t.Fatalf("expected 2 worker invocations, got %d", got)
	}
	if outcome.Termination != report.TerminationNoWork || outcome.ExitCode != 2 {
		t.Fatalf("unexpected outcome %s/%d", outcome.Termination, outcome.ExitCode)
	}
	if outcome.Summary.Failures != 1 || outcome.Summary.Artifacts != 3 {
		t.Fatalf("unexpected summary %+v", outcome.Summary)
	}

	data, err := os.ReadFile(runlog.CurrentPath(cfg.Paths.LogDir))
	if err != nil {
		t.Fatalf("read current log: %v", err)
	}
	content := string(data)
	for _, want := range []string{"==> round 1 started", "==> round 2 exited code=2", "ERR: transient upstream error"} {
		if !strings.Contains(content, want) {
			t.Fatalf("run log missing %q:\n%s", want, content)
		}
	}
}
