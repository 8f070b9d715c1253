package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains file and directory locations shared by the orchestrator and
// its external consumers.
type Paths struct {
	LogDir      string `toml:"log_dir"`
	StateDir    string `toml:"state_dir"`
	OutputDir   string `toml:"output_dir"`
	LockFile    string `toml:"lock_file"`
	ResultFile  string `toml:"result_file"`
	SummaryFile string `toml:"summary_file"`
	HistoryDB   string `toml:"history_db"`
}

// Worker describes how the batch worker subprocess is launched.
type Worker struct {
	Command string            `toml:"command"`
	Args    []string          `toml:"args"`
	Workdir string            `toml:"workdir"`
	Env     map[string]string `toml:"env"`
	EnvFile string            `toml:"env_file"`
	// ProxyURL is exported to the worker as HTTP(S)_PROXY and ALL_PROXY.
	ProxyURL string `toml:"proxy_url"`
	NoProxy  string `toml:"no_proxy"`
}

// Policy holds the round loop limits and quota thresholds.
type Policy struct {
	MaxRounds              int     `toml:"max_rounds"`
	LongTermThresholdHours float64 `toml:"long_term_threshold_hours"`
	ReplenishWaitSeconds   int     `toml:"replenish_wait_seconds"`
	ShortPauseSeconds      int     `toml:"short_pause_seconds"`
	TailLines              int     `toml:"tail_lines"`
}

// Markers lists the text markers the worker prints.
type Markers struct {
	Units       string   `toml:"units"`
	Exhausted   string   `toml:"exhausted"`
	LongTerm    string   `toml:"long_term"`
	ShortTerm   string   `toml:"short_term"`
	Success     []string `toml:"success"`
	Failure     []string `toml:"failure"`
	Informative []string `toml:"informative"`
}

// Report controls the end-of-run summary and result file.
type Report struct {
	ArtifactPattern string `toml:"artifact_pattern"`
	ExcerptLines    int    `toml:"excerpt_lines"`
}

// Lock contains lock file recovery behaviour.
type Lock struct {
	// RecoverUnknownLiveness allows claiming a lock whose owner liveness could
	// not be determined.
	RecoverUnknownLiveness bool `toml:"recover_unknown_liveness"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for quotarun.
//
// Configuration sections by subsystem:
//   - Paths: log, state and output locations plus lock/result/summary files
//   - Worker: subprocess command line and injected environment
//   - Policy: round ceiling, quota thresholds and pauses
//   - Markers: worker output markers recognized by the parser and reporter
//   - Report: summary artifact counting and result excerpt size
//   - Lock: stale lock recovery behaviour
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Worker        Worker        `toml:"worker"`
	Policy        Policy        `toml:"policy"`
	Markers       Markers       `toml:"markers"`
	Report        Report        `toml:"report"`
	Lock          Lock          `toml:"lock"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/quotarun/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("quotarun.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the orchestrator writes into.
// OutputDir belongs to the worker and is never created here.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.LogDir,
		c.Paths.StateDir,
		filepath.Dir(c.Paths.LockFile),
		filepath.Dir(c.Paths.ResultFile),
		filepath.Dir(c.Paths.SummaryFile),
		filepath.Dir(c.Paths.HistoryDB),
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ReplenishWait returns the pause applied while the short-term quota refills.
func (c *Config) ReplenishWait() time.Duration {
	return time.Duration(c.Policy.ReplenishWaitSeconds) * time.Second
}

// ShortPause returns the pause between productive rounds.
func (c *Config) ShortPause() time.Duration {
	return time.Duration(c.Policy.ShortPauseSeconds) * time.Second
}

// WorkerBinary returns the configured worker executable.
func (c *Config) WorkerBinary() string {
	return strings.TrimSpace(c.Worker.Command)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
