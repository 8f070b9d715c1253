package worker_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"testing"

	"quotarun/internal/runlog"
	"quotarun/internal/testsupport"
	"quotarun/internal/worker"
)

type stubExecutor struct {
	lines    []string
	code     int
	err      error
	calls    int
	commands []worker.Command
}

func (s *stubExecutor) Run(_ context.Context, cmd worker.Command, onLine func(string)) (int, error) {
	s.calls++
	s.commands = append(s.commands, cmd)
	for _, line := range s.lines {
		onLine(line)
	}
	return s.code, s.err
}

func TestRunRoundAppendsHeaderAndOutput(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorker("worker", "--batch"))
	log := runlog.NewMemory()
	stub := &stubExecutor{lines: []string{"BV1 ok | 12 lines", "Run done | this_run=1 | stats={}"}, code: 0}

	inv, err := worker.New(cfg, log, worker.WithExecutor(stub))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	round, err := inv.RunRound(context.Background(), 2)
	if err != nil {
		t.Fatalf("RunRound: %v", err)
	}
	if stub.calls != 1 {
		t.Fatalf("expected exactly one execution, got %d", stub.calls)
	}
	if round.Ordinal != 2 || round.ExitCode != 0 {
		t.Fatalf("unexpected round %+v", round)
	}
	if !reflect.DeepEqual(round.Output, stub.lines) {
		t.Fatalf("unexpected output %v", round.Output)
	}
	if got := stub.commands[0]; got.Binary != "worker" || !reflect.DeepEqual(got.Args, []string{"--batch"}) {
		t.Fatalf("unexpected command %+v", got)
	}

	lines := log.Lines()
	if len(lines) != 4 {
		t.Fatalf("expected header, two output lines and footer, got %v", lines)
	}
	if !strings.HasPrefix(lines[0], "==> round 2 started") {
		t.Fatalf("missing round header: %q", lines[0])
	}
	if lines[3] != "==> round 2 exited code=0" {
		t.Fatalf("unexpected footer %q", lines[3])
	}
}

func TestRunRoundNonZeroExitIsOrdinary(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stub := &stubExecutor{lines: []string{"ERR: boom"}, code: 3}
	inv, err := worker.New(cfg, runlog.NewMemory(), worker.WithExecutor(stub))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	round, err := inv.RunRound(context.Background(), 1)
	if err != nil {
		t.Fatalf("non-zero exit must not be an error, got %v", err)
	}
	if round.ExitCode != 3 {
		t.Fatalf("expected exit 3, got %d", round.ExitCode)
	}
}

func TestRunRoundLaunchFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorker(filepath.Join(t.TempDir(), "missing-worker")))
	inv, err := worker.New(cfg, runlog.NewMemory())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = inv.RunRound(context.Background(), 1)
	if !errors.Is(err, worker.ErrLaunch) {
		t.Fatalf("expected ErrLaunch, got %v", err)
	}
}

func TestRunRoundRealProcessMergesStreams(t *testing.T) {
	dir := t.TempDir()
	script := testsupport.WriteWorkerScript(t, dir,
		testsupport.ScriptRound{Lines: []string{"first", "!to stderr", "All keys exhausted"}, Exit: 2},
	)
	cfg := testsupport.NewConfig(t, testsupport.WithWorker(script))
	path := filepath.Join(dir, "run.log")
	log, err := runlog.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	inv, err := worker.New(cfg, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	round, err := inv.RunRound(context.Background(), 1)
	if err != nil {
		t.Fatalf("RunRound: %v", err)
	}
	if round.ExitCode != 2 {
		t.Fatalf("expected exit 2, got %d", round.ExitCode)
	}
	for _, want := range []string{"first", "to stderr", "All keys exhausted"} {
		if !slices.Contains(round.Output, want) {
			t.Fatalf("missing %q in captured output %v", want, round.Output)
		}
	}
	tail, err := log.Tail(10)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Contains(tail, "to stderr") {
		t.Fatalf("stderr line not persisted: %v", tail)
	}
	if testsupport.WorkerInvocations(t, script) != 1 {
		t.Fatal("expected exactly one worker process")
	}
}

func TestRunRoundPassesEnvironment(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "env.sh")
	body := "#!/bin/sh\necho \"proxy=$HTTPS_PROXY key=$QUOTA_KEY file=$FROM_FILE\"\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("FROM_FILE=dotenv\nQUOTA_KEY=overridden\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := testsupport.NewConfig(t, testsupport.WithWorker(script))
	cfg.Worker.EnvFile = envFile
	cfg.Worker.Env = map[string]string{"QUOTA_KEY": "k1"}
	cfg.Worker.ProxyURL = "http://127.0.0.1:7890"

	inv, err := worker.New(cfg, runlog.NewMemory())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	round, err := inv.RunRound(context.Background(), 1)
	if err != nil {
		t.Fatalf("RunRound: %v", err)
	}
	want := "proxy=http://127.0.0.1:7890 key=k1 file=dotenv"
	if len(round.Output) != 1 || round.Output[0] != want {
		t.Fatalf("unexpected env output %v", round.Output)
	}
}

func TestNewFailsOnMissingEnvFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Worker.EnvFile = filepath.Join(t.TempDir(), "absent.env")
	if _, err := worker.New(cfg, runlog.NewMemory()); err == nil {
		t.Fatal("expected error for missing env file")
	}
}

func TestBuildEnvOverridesBase(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Worker.Env = map[string]string{"PATH": "/opt/bin"}
	cfg.Worker.NoProxy = "localhost"

	env, err := worker.BuildEnv([]string{"PATH=/usr/bin", "HOME=/root", "broken"}, cfg.Worker)
	if err != nil {
		t.Fatalf("BuildEnv: %v", err)
	}
	want := []string{"HOME=/root", "NO_PROXY=localhost", "PATH=/opt/bin", "no_proxy=localhost"}
	if !reflect.DeepEqual(env, want) {
		t.Fatalf("BuildEnv = %v, want %v", env, want)
	}
}
