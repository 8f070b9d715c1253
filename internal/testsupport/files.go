package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// WriteArtifacts creates count small files named prefix-N.ext in dir.
func WriteArtifacts(t testing.TB, dir, prefix, ext string, count int) {
	t.Helper()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	for i := 1; i <= count; i++ {
		path := filepath.Join(dir, fmt.Sprintf("%s-%d%s", prefix, i, ext))
		if err := os.WriteFile(path, []byte("transcript\n"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
}
