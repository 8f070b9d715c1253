package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validatePolicy(); err != nil {
		return err
	}
	if err := c.validateReport(); err != nil {
		return err
	}
	if err := c.validatePaths(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateWorker() error {
	if strings.TrimSpace(c.Worker.Command) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/quotarun/config.toml"
		}
		return fmt.Errorf("worker.command is required. Set QUOTARUN_WORKER env var or edit %s (create with 'quotarun config init')", defaultPath)
	}
	for key := range c.Worker.Env {
		if strings.Contains(key, "=") {
			return fmt.Errorf("worker.env key %q must not contain '='", key)
		}
	}
	return nil
}

func (c *Config) validatePolicy() error {
	if err := ensurePositiveMap(map[string]int{
		"policy.max_rounds":             c.Policy.MaxRounds,
		"policy.replenish_wait_seconds": c.Policy.ReplenishWaitSeconds,
		"policy.tail_lines":             c.Policy.TailLines,
	}); err != nil {
		return err
	}
	if c.Policy.ShortPauseSeconds < 0 {
		return errors.New("policy.short_pause_seconds must be >= 0")
	}
	if c.Policy.LongTermThresholdHours <= 0 {
		return errors.New("policy.long_term_threshold_hours must be positive")
	}
	return nil
}

func (c *Config) validateReport() error {
	if _, err := filepath.Match(c.Report.ArtifactPattern, ""); err != nil {
		return fmt.Errorf("report.artifact_pattern: %w", err)
	}
	if c.Report.ExcerptLines < 0 {
		return errors.New("report.excerpt_lines must be >= 0")
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.LockFile == c.Paths.ResultFile || c.Paths.LockFile == c.Paths.SummaryFile {
		return errors.New("paths.lock_file must differ from result and summary files")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
