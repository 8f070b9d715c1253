package runlog

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"quotarun/internal/fileutil"
)

// CurrentName is the pointer to the newest run log inside the log directory.
const CurrentName = "current.log"

// StampLayout formats the UTC start time embedded in per-run file names.
const StampLayout = "20060102T150405.000Z"

// Log is an append-only line log.
type Log interface {
	Append(line string) error
	// Tail returns up to n trailing lines in file order.
	Tail(n int) ([]string, error)
	// Scan visits every line in order until fn returns false.
	Scan(fn func(line string) bool) error
	Path() string
}

// File is a Log backed by a file opened in append mode.
type File struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// FileName returns the run log file name for stamp.
func FileName(stamp string) string {
	return fmt.Sprintf("run-%s.log", stamp)
}

// CurrentPath returns the current run log pointer within logDir.
func CurrentPath(logDir string) string {
	return filepath.Join(logDir, CurrentName)
}

// Create opens the run log for stamp in logDir and points current.log at it.
// A pointer failure is returned alongside a usable log.
func Create(logDir, stamp string) (*File, error) {
	if strings.TrimSpace(logDir) == "" {
		return nil, errors.New("run log directory is empty")
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	log, err := Open(filepath.Join(logDir, FileName(stamp)))
	if err != nil {
		return nil, err
	}
	if err := fileutil.ReplaceLink(log.path, CurrentPath(logDir)); err != nil {
		return log, fmt.Errorf("update current log pointer: %w", err)
	}
	return log, nil
}

// Open opens path for appending, creating it when missing.
func Open(path string) (*File, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	return &File{file: file, path: path}, nil
}

func (l *File) Append(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return errors.New("run log closed")
	}
	if _, err := l.file.WriteString(normalizeLine(line) + "\n"); err != nil {
		return fmt.Errorf("append run log: %w", err)
	}
	return nil
}

func (l *File) Tail(n int) ([]string, error) {
	lines, _, err := readLastLines(l.path, n)
	return lines, err
}

func (l *File) Scan(fn func(line string) bool) error {
	file, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open run log: %w", err)
	}
	defer file.Close()

	scanner := newScanner(file)
	for scanner.Scan() {
		if !fn(scanner.Text()) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read run log: %w", err)
	}
	return nil
}

func (l *File) Path() string {
	return l.path
}

// Close releases the file handle. Appends after Close fail.
func (l *File) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Memory is an in-memory Log.
type Memory struct {
	mu    sync.Mutex
	lines []string
}

// NewMemory returns a Memory log seeded with lines.
func NewMemory(lines ...string) *Memory {
	return &Memory{lines: append([]string(nil), lines...)}
}

func (m *Memory) Append(line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, normalizeLine(line))
	return nil
}

func (m *Memory) Tail(n int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 {
		return nil, nil
	}
	start := len(m.lines) - n
	if start < 0 {
		start = 0
	}
	return append([]string(nil), m.lines[start:]...), nil
}

func (m *Memory) Scan(fn func(line string) bool) error {
	m.mu.Lock()
	lines := append([]string(nil), m.lines...)
	m.mu.Unlock()
	for _, line := range lines {
		if !fn(line) {
			return nil
		}
	}
	return nil
}

func (m *Memory) Path() string {
	return ""
}

// Lines returns a copy of every appended line.
func (m *Memory) Lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lines...)
}

func normalizeLine(line string) string {
	line = strings.TrimRight(line, "\r\n")
	return strings.ReplaceAll(line, "\n", " ")
}

func newScanner(file *os.File) *bufio.Scanner {
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return scanner
}
