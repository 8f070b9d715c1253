package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// ScriptRound is the scripted output of one stub worker invocation. Lines
// prefixed with "!" are written to stderr.
type ScriptRound struct {
	Lines []string
	Exit  int
}

const workerScript = `#!/bin/sh
dir='%s'
n=$(cat "$dir/count" 2>/dev/null || echo 0)
n=$((n+1))
echo "$n" > "$dir/count"
out="$dir/round-$n.out"
code="$dir/round-$n.code"
if [ ! -f "$out" ]; then
	out="$dir/round-last.out"
	code="$dir/round-last.code"
fi
while IFS= read -r line; do
	case "$line" in
	'!'*) printf '%%s\n' "${line#!}" >&2 ;;
	*) printf '%%s\n' "$line" ;;
	esac
done < "$out"
exit "$(cat "$code")"
`

// WriteWorkerScript writes an executable shell worker that replays rounds in
// order, repeating the last one once they run out. It returns the script path.
func WriteWorkerScript(t testing.TB, dir string, rounds ...ScriptRound) string {
	t.Helper()

	if len(rounds) == 0 {
		rounds = []ScriptRound{{}}
	}
	dataDir := filepath.Join(dir, "worker-data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dataDir, err)
	}
	write := func(name, content string) {
		if err := os.WriteFile(filepath.Join(dataDir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	for i, round := range rounds {
		body := ""
		if len(round.Lines) > 0 {
			body = strings.Join(round.Lines, "\n") + "\n"
		}
		write(fmt.Sprintf("round-%d.out", i+1), body)
		write(fmt.Sprintf("round-%d.code", i+1), strconv.Itoa(round.Exit))
		if i == len(rounds)-1 {
			write("round-last.out", body)
			write("round-last.code", strconv.Itoa(round.Exit))
		}
	}

	script := filepath.Join(dir, "worker.sh")
	if err := os.WriteFile(script, []byte(fmt.Sprintf(workerScript, dataDir)), 0o755); err != nil {
		t.Fatalf("write worker script: %v", err)
	}
	return script
}

// WorkerInvocations returns how many times the script at path has run.
func WorkerInvocations(t testing.TB, script string) int {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(filepath.Dir(script), "worker-data", "count"))
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}
		t.Fatalf("read invocation count: %v", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("parse invocation count: %v", err)
	}
	return n
}
