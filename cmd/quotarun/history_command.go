package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"quotarun/internal/history"
)

type historyRow struct {
	ID             string    `json:"id"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Termination    string    `json:"termination"`
	ExitCode       int       `json:"exit_code"`
	Rounds         int       `json:"rounds"`
	UnitsProcessed int       `json:"units_processed"`
	Successes      int       `json:"successes"`
	Failures       int       `json:"failures"`
	Artifacts      int       `json:"artifacts"`
	LogPath        string    `json:"log_path,omitempty"`
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := history.Open(cfg.Paths.HistoryDB)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close()

			runs, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			if asJSON {
				rows := make([]historyRow, 0, len(runs))
				for _, run := range runs {
					rows = append(rows, toHistoryRow(run))
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			fmt.Fprint(out, renderTable(
				[]string{"Started", "Run", "Termination", "Exit", "Rounds", "Units", "Artifacts", "Duration"},
				historyTableRows(runs),
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
				historyTotals(runs),
			))
			fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print runs as JSON")
	return cmd
}

func toHistoryRow(run history.Run) historyRow {
	return historyRow{
		ID:             run.ID,
		StartedAt:      run.StartedAt,
		FinishedAt:     run.FinishedAt,
		Termination:    run.Termination,
		ExitCode:       run.ExitCode,
		Rounds:         run.Rounds,
		UnitsProcessed: run.UnitsProcessed,
		Successes:      run.Successes,
		Failures:       run.Failures,
		Artifacts:      run.Artifacts,
		LogPath:        run.LogPath,
	}
}

func historyTableRows(runs []history.Run) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		id := run.ID
		if len(id) > 8 {
			id = id[:8]
		}
		duration := "-"
		if !run.FinishedAt.IsZero() && !run.StartedAt.IsZero() {
			duration = run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
		}
		rows = append(rows, []string{
			run.StartedAt.Local().Format(time.DateTime),
			id,
			terminationLabel(run.Termination),
			strconv.Itoa(run.ExitCode),
			strconv.Itoa(run.Rounds),
			strconv.Itoa(run.UnitsProcessed),
			strconv.Itoa(run.Artifacts),
			duration,
		})
	}
	return rows
}

func historyTotals(runs []history.Run) []string {
	var rounds, units, artifacts int
	for _, run := range runs {
		rounds += run.Rounds
		units += run.UnitsProcessed
		artifacts += run.Artifacts
	}
	return []string{"Total", "", "", "", strconv.Itoa(rounds), strconv.Itoa(units), strconv.Itoa(artifacts), ""}
}
