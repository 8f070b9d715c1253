package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one orchestrator invocation.
type Run struct {
	ID             string
	StartedAt      time.Time
	FinishedAt     time.Time
	Termination    string
	ExitCode       int
	Rounds         int
	UnitsProcessed int
	Successes      int
	Failures       int
	Artifacts      int
	LogPath        string
	RoundRecords   []Round
}

// Round is the persisted outcome of one worker invocation.
type Round struct {
	Ordinal          int
	StartedAt        time.Time
	FinishedAt       time.Time
	ExitCode         int
	UnitsProcessed   int
	Exhausted        bool
	Scope            string
	LongTermConsumed *float64
	Decision         string
}

// Store persists runs in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the history database at path and applies
// migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record stores run and its rounds in one transaction.
func (s *Store) Record(ctx context.Context, run Run) error {
	if strings.TrimSpace(run.ID) == "" {
		return errors.New("run id is empty")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (
            id, started_at, finished_at, termination, exit_code, rounds,
            units_processed, successes, failures, artifacts, log_path
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
		run.Termination,
		run.ExitCode,
		run.Rounds,
		run.UnitsProcessed,
		run.Successes,
		run.Failures,
		run.Artifacts,
		nullableString(run.LogPath),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, round := range run.RoundRecords {
		var longTerm any
		if round.LongTermConsumed != nil {
			longTerm = *round.LongTermConsumed
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rounds (
                run_id, ordinal, started_at, finished_at, exit_code, units_processed,
                exhausted, scope, long_term_consumed, decision
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID,
			round.Ordinal,
			formatTime(round.StartedAt),
			formatTime(round.FinishedAt),
			round.ExitCode,
			round.UnitsProcessed,
			boolToInt(round.Exhausted),
			round.Scope,
			longTerm,
			round.Decision,
		); err != nil {
			return fmt.Errorf("insert round %d: %w", round.Ordinal, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first, without round records.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, termination, exit_code, rounds,
                units_processed, successes, failures, artifacts, log_path
         FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run               Run
			started, finished string
			logPath           sql.NullString
		)
		if err := rows.Scan(&run.ID, &started, &finished, &run.Termination, &run.ExitCode, &run.Rounds,
			&run.UnitsProcessed, &run.Successes, &run.Failures, &run.Artifacts, &logPath); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.StartedAt = parseTime(started)
		run.FinishedAt = parseTime(finished)
		run.LogPath = logPath.String
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Rounds returns the round records of runID in order.
func (s *Store) Rounds(ctx context.Context, runID string) ([]Round, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ordinal, started_at, finished_at, exit_code, units_processed,
                exhausted, scope, long_term_consumed, decision
         FROM rounds WHERE run_id = ? ORDER BY ordinal`, runID)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()

	var rounds []Round
	for rows.Next() {
		var (
			round             Round
			started, finished string
			exhausted         int
			longTerm          sql.NullFloat64
		)
		if err := rows.Scan(&round.Ordinal, &started, &finished, &round.ExitCode, &round.UnitsProcessed,
			&exhausted, &round.Scope, &longTerm, &round.Decision); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		round.StartedAt = parseTime(started)
		round.FinishedAt = parseTime(finished)
		round.Exhausted = exhausted != 0
		if longTerm.Valid {
			value := longTerm.Float64
			round.LongTermConsumed = &value
		}
		rounds = append(rounds, round)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rounds: %w", err)
	}
	return rounds, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
