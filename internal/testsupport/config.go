package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"quotarun/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Pauses are zeroed so loop tests never sleep for real.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	state := filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StateDir = state
	cfgVal.Paths.OutputDir = filepath.Join(base, "output")
	cfgVal.Paths.LockFile = filepath.Join(state, "quotarun.lock")
	cfgVal.Paths.ResultFile = filepath.Join(state, "last_result.txt")
	cfgVal.Paths.SummaryFile = filepath.Join(state, "last_run.json")
	cfgVal.Paths.HistoryDB = filepath.Join(state, "history.db")
	cfgVal.Worker.Command = "/bin/true"
	cfgVal.Policy.ReplenishWaitSeconds = 1
	cfgVal.Policy.ShortPauseSeconds = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithWorker sets the worker command line.
func WithWorker(command string, args ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Worker.Command = command
		b.cfg.Worker.Args = args
	}
}

// WithMaxRounds overrides the round ceiling.
func WithMaxRounds(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Policy.MaxRounds = n
	}
}

// WithOutputDir creates the worker output directory.
func WithOutputDir() ConfigOption {
	return func(b *configBuilder) {
		if err := os.MkdirAll(b.cfg.Paths.OutputDir, 0o755); err != nil {
			b.t.Fatalf("mkdir output dir: %v", err)
		}
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH for the duration of the test.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
