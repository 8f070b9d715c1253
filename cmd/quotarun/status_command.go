package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"quotarun/internal/config"
	"quotarun/internal/lockfile"
	"quotarun/internal/preflight"
	"quotarun/internal/report"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show lock owner, last run result and preflight checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			p := newStatusPrinter(cmd.OutOrStdout())

			p.section("Run Lock")
			printLockStatus(p, cfg)
			p.blank()

			p.section("Last Run")
			printLastRun(p, cfg)
			p.blank()

			p.section("Preflight")
			for _, result := range preflight.RunAll(cfg) {
				p.status(result.Name, passedKind(result.Passed, statusError), result.Detail)
			}
			return nil
		},
	}
}

func printLockStatus(p *statusPrinter, cfg *config.Config) {
	owner, err := lockfile.New(cfg.Paths.LockFile).Inspect()
	if err != nil {
		p.status("Lock", statusError, err.Error())
		return
	}
	kind, message := lockStatus(owner)
	p.status("Lock", kind, message)
}

func lockStatus(owner lockfile.Owner) (statusKind, string) {
	switch {
	case !owner.Present:
		return statusOK, "Not held"
	case owner.Malformed:
		return statusWarn, "Malformed lock file (next run replaces it)"
	case owner.LivenessErr != nil:
		return statusWarn, fmt.Sprintf("pid %d liveness unknown: %v", owner.PID, owner.LivenessErr)
	case owner.Alive:
		return statusInfo, fmt.Sprintf("Held by pid %d since %s", owner.PID, owner.ModTime.Local().Format(time.DateTime))
	default:
		return statusWarn, fmt.Sprintf("Stale (pid %d not running; next run recovers it)", owner.PID)
	}
}

func printLastRun(p *statusPrinter, cfg *config.Config) {
	status, excerpt, err := report.ReadResult(cfg.Paths.ResultFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			p.status("Result", statusInfo, "No runs recorded")
			return
		}
		p.status("Result", statusError, err.Error())
		return
	}
	p.status("Result", passedKind(strings.HasPrefix(status, "exit=0 "), statusWarn), status)

	if summary, err := report.ReadSummary(cfg.Paths.SummaryFile); err == nil {
		p.status("Termination", passedKind(summary.Clean(), statusWarn), terminationLabel(string(summary.Termination)))
		p.status("Rounds", statusInfo, fmt.Sprintf("%d (%d units, %d artifacts)", summary.Rounds, summary.UnitsProcessed, summary.Artifacts))
		p.status("Elapsed", statusInfo, (time.Duration(summary.ElapsedSeconds) * time.Second).String())
	}
	for _, line := range excerpt {
		p.raw(line)
	}
}
