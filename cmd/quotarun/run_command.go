package main

import (
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"quotarun/internal/lockfile"
	"quotarun/internal/logging"
	"quotarun/internal/orchestrator"
	"quotarun/internal/runlog"
)

// runOrchestrator performs one run and translates its outcome into the
// process exit status.
func runOrchestrator(cmd *cobra.Command, ctx *commandContext) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}

	stamp := time.Now().UTC().Format(runlog.StampLayout)
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("orchestrator-%s.log", stamp))
	logger, err := logging.NewForRun(cfg, logPath)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if ctx.configPath != "" {
		logger.Debug("configuration loaded", logging.String("config_path", ctx.configPath))
	}

	runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch, err := orchestrator.New(cfg, orchestrator.WithLogger(logger))
	if err != nil {
		return err
	}
	outcome, err := orch.Run(runCtx)
	switch {
	case errors.Is(err, lockfile.ErrAlreadyRunning):
		return nil
	case err != nil && outcome.ExitCode == 0:
		return err
	case err != nil || outcome.ExitCode != 0:
		return &exitError{code: outcome.ExitCode, err: err}
	}
	return nil
}
