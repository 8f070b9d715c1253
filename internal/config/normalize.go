package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeWorker(); err != nil {
		return err
	}
	c.normalizePolicy()
	c.normalizeMarkers()
	c.normalizeReport()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(strings.TrimSpace(c.Paths.OutputDir)); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}

	stateFiles := []struct {
		key      string
		value    *string
		fallback string
	}{
		{key: "paths.lock_file", value: &c.Paths.LockFile, fallback: defaultLockFileName},
		{key: "paths.result_file", value: &c.Paths.ResultFile, fallback: defaultResultFileName},
		{key: "paths.summary_file", value: &c.Paths.SummaryFile, fallback: defaultSummaryFileName},
		{key: "paths.history_db", value: &c.Paths.HistoryDB, fallback: defaultHistoryDBName},
	}
	for _, file := range stateFiles {
		if strings.TrimSpace(*file.value) == "" {
			*file.value = filepath.Join(c.Paths.StateDir, file.fallback)
		}
		if *file.value, err = expandPath(strings.TrimSpace(*file.value)); err != nil {
			return fmt.Errorf("%s: %w", file.key, err)
		}
	}
	return nil
}

func (c *Config) normalizeWorker() error {
	var err error
	c.Worker.Command = strings.TrimSpace(c.Worker.Command)
	if c.Worker.Command == "" {
		if value, ok := os.LookupEnv("QUOTARUN_WORKER"); ok {
			c.Worker.Command = strings.TrimSpace(value)
		}
	}
	if c.Worker.Workdir = strings.TrimSpace(c.Worker.Workdir); c.Worker.Workdir != "" {
		if c.Worker.Workdir, err = expandPath(c.Worker.Workdir); err != nil {
			return fmt.Errorf("worker.workdir: %w", err)
		}
	}
	if c.Worker.EnvFile = strings.TrimSpace(c.Worker.EnvFile); c.Worker.EnvFile != "" {
		if c.Worker.EnvFile, err = expandPath(c.Worker.EnvFile); err != nil {
			return fmt.Errorf("worker.env_file: %w", err)
		}
	}
	c.Worker.ProxyURL = strings.TrimSpace(c.Worker.ProxyURL)
	if c.Worker.ProxyURL == "" {
		if value, ok := os.LookupEnv("QUOTARUN_PROXY_URL"); ok {
			c.Worker.ProxyURL = strings.TrimSpace(value)
		}
	}
	c.Worker.NoProxy = strings.TrimSpace(c.Worker.NoProxy)
	if c.Worker.Env == nil {
		c.Worker.Env = map[string]string{}
	}
	for key, value := range c.Worker.Env {
		trimmed := strings.TrimSpace(key)
		if trimmed == key {
			continue
		}
		delete(c.Worker.Env, key)
		if trimmed != "" {
			c.Worker.Env[trimmed] = value
		}
	}
	return nil
}

func (c *Config) normalizePolicy() {
	if c.Policy.MaxRounds <= 0 {
		c.Policy.MaxRounds = defaultMaxRounds
	}
	if c.Policy.TailLines <= 0 {
		c.Policy.TailLines = defaultTailLines
	}
	if c.Policy.ShortPauseSeconds < 0 {
		c.Policy.ShortPauseSeconds = 0
	}
}

func (c *Config) normalizeMarkers() {
	c.Markers.Units = strings.TrimSpace(c.Markers.Units)
	if c.Markers.Units == "" {
		c.Markers.Units = defaultUnitsMarker
	}
	if strings.TrimSpace(c.Markers.Exhausted) == "" {
		c.Markers.Exhausted = defaultExhaustedMarker
	}
	c.Markers.LongTerm = strings.TrimSpace(c.Markers.LongTerm)
	if c.Markers.LongTerm == "" {
		c.Markers.LongTerm = defaultLongTermMarker
	}
	c.Markers.ShortTerm = strings.TrimSpace(c.Markers.ShortTerm)
	if c.Markers.ShortTerm == "" {
		c.Markers.ShortTerm = defaultShortTermMarker
	}
	c.Markers.Success = markerList(c.Markers.Success, defaultSuccessMarkers)
	c.Markers.Failure = markerList(c.Markers.Failure, defaultFailureMarkers)
	c.Markers.Informative = markerList(c.Markers.Informative, defaultInformativeMarkers)
}

// markerList drops empty and duplicate entries. Surrounding whitespace is
// significant in markers such as " ok |" and is kept.
func markerList(values, fallback []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		if strings.TrimSpace(value) == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	if len(out) == 0 {
		return cloneStrings(fallback)
	}
	return out
}

func (c *Config) normalizeReport() {
	c.Report.ArtifactPattern = strings.TrimSpace(c.Report.ArtifactPattern)
	if c.Report.ArtifactPattern == "" {
		c.Report.ArtifactPattern = defaultArtifactPattern
	}
	if c.Report.ExcerptLines < 0 {
		c.Report.ExcerptLines = 0
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("QUOTARUN_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
