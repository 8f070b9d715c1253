package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"quotarun/internal/runlog"
)

const followPoll = 250 * time.Millisecond

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var lines int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Display the current run log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := runlog.CurrentPath(cfg.Paths.LogDir)
			out := cmd.OutOrStdout()

			opts := runlog.TailOptions{Offset: -1, Limit: lines}
			if lines <= 0 {
				opts = runlog.TailOptions{Offset: 0}
			}
			result, err := runlog.Read(cmd.Context(), path, opts)
			if err != nil {
				return fmt.Errorf("read run log: %w", err)
			}
			for _, line := range result.Lines {
				fmt.Fprintln(out, line)
			}
			if !follow {
				if len(result.Lines) == 0 {
					fmt.Fprintln(out, "No log entries available")
				}
				return nil
			}
			return runlog.Follow(cmd.Context(), path, result.Offset, followPoll, func(line string) {
				fmt.Fprintln(out, line)
			})
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output")
	cmd.Flags().IntVarP(&lines, "lines", "n", 20, "Number of lines to show (0 for all)")
	return cmd
}
