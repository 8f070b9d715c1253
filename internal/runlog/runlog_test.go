package runlog_test

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"sync"
	"testing"
	"time"

	"quotarun/internal/runlog"
)

func TestCreateAppendsAndPointsCurrent(t *testing.T) {
	dir := t.TempDir()
	log, err := runlog.Create(dir, "20260101T000000.000Z")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer log.Close()

	for _, line := range []string{"first", "second\r\n", "multi\nline"} {
		if err := log.Append(line); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	data, err := os.ReadFile(runlog.CurrentPath(dir))
	if err != nil {
		t.Fatalf("read current pointer: %v", err)
	}
	if string(data) != "first\nsecond\nmulti line\n" {
		t.Fatalf("unexpected contents %q", data)
	}
	if filepath.Base(log.Path()) != "run-20260101T000000.000Z.log" {
		t.Fatalf("unexpected run log name %q", log.Path())
	}
}

func TestFileNeverTruncatesExistingContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	if err := os.WriteFile(path, []byte("earlier\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	log, err := runlog.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := log.Append("later"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	_ = log.Close()

	var got []string
	if err := log.Scan(func(line string) bool {
		got = append(got, line)
		return true
	}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"earlier", "later"}) {
		t.Fatalf("unexpected lines %v", got)
	}
	if err := log.Append("after close"); err == nil {
		t.Fatal("expected append after close to fail")
	}
}

func TestTailReturnsTrailingWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	file, err := runlog.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	memory := runlog.NewMemory()

	for i := 1; i <= 7; i++ {
		line := "line " + strconv.Itoa(i)
		if err := file.Append(line); err != nil {
			t.Fatal(err)
		}
		_ = memory.Append(line)
	}

	want := []string{"line 5", "line 6", "line 7"}
	for name, log := range map[string]runlog.Log{"file": file, "memory": memory} {
		got, err := log.Tail(3)
		if err != nil {
			t.Fatalf("%s Tail: %v", name, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("%s tail = %v, want %v", name, got, want)
		}
		all, err := log.Tail(50)
		if err != nil {
			t.Fatalf("%s Tail: %v", name, err)
		}
		if len(all) != 7 {
			t.Fatalf("%s expected whole log when window exceeds size, got %d lines", name, len(all))
		}
	}
}

func TestScanStopsEarly(t *testing.T) {
	memory := runlog.NewMemory("a", "b", "c")
	var seen []string
	_ = memory.Scan(func(line string) bool {
		seen = append(seen, line)
		return line != "b"
	})
	if !reflect.DeepEqual(seen, []string{"a", "b"}) {
		t.Fatalf("unexpected scan %v", seen)
	}
}

func TestReadMissingFile(t *testing.T) {
	result, err := runlog.Read(context.Background(), filepath.Join(t.TempDir(), "missing.log"), runlog.TailOptions{Offset: -1, Limit: 5})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(result.Lines) != 0 || result.Offset != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestReadFromOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	if err := os.WriteFile(path, []byte("one\ntwo\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	first, err := runlog.Read(context.Background(), path, runlog.TailOptions{Offset: -1, Limit: 1})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !reflect.DeepEqual(first.Lines, []string{"two"}) {
		t.Fatalf("unexpected tail %v", first.Lines)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString("three\n")
	_ = f.Close()

	next, err := runlog.Read(context.Background(), path, runlog.TailOptions{Offset: first.Offset})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !reflect.DeepEqual(next.Lines, []string{"three"}) {
		t.Fatalf("unexpected follow-up lines %v", next.Lines)
	}
}

func TestFollowDeliversAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	log, err := runlog.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()
	_ = log.Append("before follow")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var mu sync.Mutex
	var got []string
	done := make(chan error, 1)
	go func() {
		done <- runlog.Follow(ctx, path, -1, 20*time.Millisecond, func(line string) {
			mu.Lock()
			got = append(got, line)
			n := len(got)
			mu.Unlock()
			if n == 2 {
				cancel()
			}
		})
	}()

	time.Sleep(50 * time.Millisecond)
	_ = log.Append("round 1 started")
	_ = log.Append("this_run=3")

	if err := <-done; err != nil {
		t.Fatalf("Follow: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(got, []string{"round 1 started", "this_run=3"}) {
		t.Fatalf("unexpected followed lines %v", got)
	}
}
