package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"quotarun/internal/testsupport"
)

type cliTestEnv struct {
	baseDir    string
	configPath string
	logDir     string
	stateDir   string
	outputDir  string
	worker     string
}

// setupCLITestEnv writes a config file whose worker replays rounds.
func setupCLITestEnv(t *testing.T, rounds ...testsupport.ScriptRound) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	env := &cliTestEnv{
		baseDir:    base,
		configPath: filepath.Join(base, "config.toml"),
		logDir:     filepath.Join(base, "logs"),
		stateDir:   filepath.Join(base, "state"),
		outputDir:  filepath.Join(base, "output"),
	}
	env.worker = testsupport.WriteWorkerScript(t, base, rounds...)
	writeTestConfig(t, env)
	return env
}

func writeTestConfig(t *testing.T, env *cliTestEnv) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
log_dir = %q
state_dir = %q
output_dir = %q

[worker]
command = %q

[policy]
max_rounds = 5
replenish_wait_seconds = 1
short_pause_seconds = 0
tail_lines = 4

[logging]
level = "warn"
`, env.logDir, env.stateDir, env.outputDir, env.worker)
	if err := os.WriteFile(env.configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !bytes.Contains([]byte(haystack), []byte(needle)) {
		t.Fatalf("expected %q in output:\n%s", needle, haystack)
	}
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}
