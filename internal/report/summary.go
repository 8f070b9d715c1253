package report

import (
	"time"
)

// Termination names why a run ended.
type Termination string

const (
	TerminationNoWork          Termination = "no_work"
	TerminationBudgetExhausted Termination = "budget_exhausted"
	TerminationRoundCeiling    Termination = "round_ceiling"
	TerminationLaunchFailure   Termination = "launch_failure"
	TerminationInterrupted     Termination = "interrupted"
)

// Summary is the record written once at the end of a run.
type Summary struct {
	RunID          string      `json:"run_id"`
	Termination    Termination `json:"termination"`
	ExitCode       int         `json:"exit_code"`
	Rounds         int         `json:"rounds"`
	UnitsProcessed int         `json:"units_processed"`
	LastDecision   string      `json:"last_decision,omitempty"`
	Successes      int         `json:"successes"`
	Failures       int         `json:"failures"`
	Artifacts      int         `json:"artifacts"`
	StartedAt      time.Time   `json:"started_at"`
	FinishedAt     time.Time   `json:"finished_at"`
	ElapsedSeconds int64       `json:"elapsed_seconds"`
	LogPath        string      `json:"log_path,omitempty"`
}

// Clean reports whether the run ended by a decision rather than a failure,
// interruption or the round ceiling.
func (s Summary) Clean() bool {
	return s.Termination == TerminationNoWork || s.Termination == TerminationBudgetExhausted
}
