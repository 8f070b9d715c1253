package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"quotarun/internal/config"
	"quotarun/internal/fileutil"
	"quotarun/internal/logging"
	"quotarun/internal/runlog"
)

// Reporter writes the summary and result files for a finished run.
type Reporter struct {
	markers      config.Markers
	outputDir    string
	pattern      string
	excerptLines int
	summaryPath  string
	resultPath   string
	logger       *slog.Logger
}

// New builds a reporter from cfg.
func New(cfg *config.Config, logger *slog.Logger) *Reporter {
	return &Reporter{
		markers:      cfg.Markers,
		outputDir:    cfg.Paths.OutputDir,
		pattern:      cfg.Report.ArtifactPattern,
		excerptLines: cfg.Report.ExcerptLines,
		summaryPath:  cfg.Paths.SummaryFile,
		resultPath:   cfg.Paths.ResultFile,
		logger:       logging.NewComponentLogger(logger, "report"),
	}
}

// Tally is the outcome of one full pass over the run log.
type Tally struct {
	Successes int
	Failures  int
	Excerpt   []string
}

// Finalize completes summary with log counts and artifacts, then writes the
// summary and result files. Failures are logged, never returned.
func (r *Reporter) Finalize(log runlog.Log, summary Summary) Summary {
	if log != nil {
		if summary.LogPath == "" {
			summary.LogPath = log.Path()
		}
	}
	if !summary.StartedAt.IsZero() && !summary.FinishedAt.IsZero() {
		summary.ElapsedSeconds = int64(summary.FinishedAt.Sub(summary.StartedAt).Round(time.Second) / time.Second)
	}

	var tally Tally
	if log != nil {
		var err error
		tally, err = CountMarkers(log, r.markers, r.excerptLines)
		if err != nil {
			logging.WarnWithContext(r.logger, "run log scan failed", "report_scan_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "success and failure counts may be incomplete"),
			)
		}
	}
	summary.Successes = tally.Successes
	summary.Failures = tally.Failures

	artifacts, err := CountArtifacts(r.outputDir, r.pattern)
	if err != nil {
		logging.WarnWithContext(r.logger, "artifact count failed", "report_artifacts_failed",
			logging.String("output_dir", r.outputDir),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check paths.output_dir"),
			logging.String(logging.FieldImpact, "artifact count reported as 0"),
		)
	}
	summary.Artifacts = artifacts

	if err := WriteSummary(r.summaryPath, summary); err != nil {
		logging.WarnWithContext(r.logger, "summary write failed", "report_summary_failed",
			logging.String("path", r.summaryPath),
			logging.Error(err),
			logging.String(logging.FieldImpact, "last run summary is stale"),
		)
	}
	if err := WriteResult(r.resultPath, summary.ExitCode, summary.FinishedAt, tally.Excerpt); err != nil {
		logging.WarnWithContext(r.logger, "result file write failed", "report_result_failed",
			logging.String("path", r.resultPath),
			logging.Error(err),
			logging.String(logging.FieldImpact, "external monitors see a stale result"),
		)
	}

	r.logger.Info("run summary",
		logging.String(logging.FieldEventType, "run_summary"),
		logging.String("termination", string(summary.Termination)),
		logging.Int("exit_code", summary.ExitCode),
		logging.Int("rounds", summary.Rounds),
		logging.Int("successes", summary.Successes),
		logging.Int("failures", summary.Failures),
		logging.Int("artifacts", summary.Artifacts),
	)
	return summary
}

// CountMarkers scans log once. A line counts at most once per category. The
// excerpt holds the last excerptLines lines containing an informative marker.
func CountMarkers(log runlog.Log, markers config.Markers, excerptLines int) (Tally, error) {
	var tally Tally
	var ring []string
	if excerptLines > 0 {
		ring = make([]string, 0, excerptLines)
	}
	err := log.Scan(func(line string) bool {
		if containsAny(line, markers.Success) {
			tally.Successes++
		}
		if containsAny(line, markers.Failure) {
			tally.Failures++
		}
		if excerptLines > 0 && containsAny(line, markers.Informative) {
			if len(ring) == excerptLines {
				ring = append(ring[:0], ring[1:]...)
			}
			ring = append(ring, line)
		}
		return true
	})
	tally.Excerpt = ring
	return tally, err
}

func containsAny(line string, markers []string) bool {
	for _, marker := range markers {
		if marker != "" && strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

// CountArtifacts counts regular files in dir whose names match pattern. A
// missing directory counts as zero.
func CountArtifacts(dir, pattern string) (int, error) {
	if strings.TrimSpace(dir) == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read output dir: %w", err)
	}
	count := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if pattern != "" {
			matched, err := filepath.Match(pattern, entry.Name())
			if err != nil {
				return count, fmt.Errorf("match artifact pattern: %w", err)
			}
			if !matched {
				continue
			}
		}
		count++
	}
	return count, nil
}

// WriteSummary writes summary as indented JSON, atomically.
func WriteSummary(path string, summary Summary) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	summary.StartedAt = summary.StartedAt.UTC()
	summary.FinishedAt = summary.FinishedAt.UTC()
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return fileutil.WriteFileAtomic(path, append(data, '\n'), 0o644)
}

// WriteResult writes the result file: a status line followed by the excerpt.
func WriteResult(path string, exitCode int, at time.Time, excerpt []string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "exit=%d time=%s\n", exitCode, at.UTC().Format(time.RFC3339))
	for _, line := range excerpt {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return fileutil.WriteFileAtomic(path, []byte(b.String()), 0o644)
}

// ReadResult returns the status line and excerpt of a result file.
func ReadResult(path string) (string, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 0 {
		return "", nil, nil
	}
	return lines[0], lines[1:], nil
}

// ReadSummary loads a summary written by WriteSummary.
func ReadSummary(path string) (Summary, error) {
	var summary Summary
	data, err := os.ReadFile(path)
	if err != nil {
		return summary, err
	}
	if err := json.Unmarshal(data, &summary); err != nil {
		return summary, fmt.Errorf("decode summary: %w", err)
	}
	return summary, nil
}
