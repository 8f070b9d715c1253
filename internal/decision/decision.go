// Package decision maps the quota signals of a finished round to what the
// orchestrator does next.
package decision

import (
	"time"

	"quotarun/internal/config"
	"quotarun/internal/signals"
)

// Decision is the verdict for one round.
type Decision string

const (
	ContinueShortPause   Decision = "CONTINUE_SHORT_PAUSE"
	ContinueNoPause      Decision = "CONTINUE_NO_PAUSE"
	WaitForReplenishment Decision = "WAIT_FOR_REPLENISHMENT"
	StopBudgetExhausted  Decision = "STOP_BUDGET_EXHAUSTED"
	StopNoWork           Decision = "STOP_NO_WORK"
)

// Terminal reports whether d ends the run.
func (d Decision) Terminal() bool {
	return d == StopBudgetExhausted || d == StopNoWork
}

func (d Decision) String() string {
	return string(d)
}

// Policy holds the fixed thresholds a run decides with.
type Policy struct {
	LongTermThresholdHours float64
	ReplenishWait          time.Duration
	ShortPause             time.Duration
}

// PolicyFromConfig extracts the decision policy from cfg.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		LongTermThresholdHours: cfg.Policy.LongTermThresholdHours,
		ReplenishWait:          cfg.ReplenishWait(),
		ShortPause:             cfg.ShortPause(),
	}
}

// Decide applies the rules in order; the first match wins.
//  1. exhaustion with long-term consumption above the threshold stops for the day
//  2. no units and no exhaustion means the backlog is empty
//  3. no units or any exhaustion waits for the short-term window to refill
//  4. otherwise keep going
func (p Policy) Decide(s signals.Signals) Decision {
	switch {
	case s.Scope(p.LongTermThresholdHours) == signals.ScopeLongTerm:
		return StopBudgetExhausted
	case s.UnitsProcessed == 0 && !s.AnyExhaustion:
		return StopNoWork
	case s.UnitsProcessed == 0 || s.AnyExhaustion:
		return WaitForReplenishment
	case p.ShortPause <= 0:
		return ContinueNoPause
	default:
		return ContinueShortPause
	}
}

// Pause returns how long to wait before the next round after d.
func (p Policy) Pause(d Decision) time.Duration {
	switch d {
	case WaitForReplenishment:
		return p.ReplenishWait
	case ContinueShortPause:
		return p.ShortPause
	default:
		return 0
	}
}

// Reason is a short human explanation of d for logs and summaries.
func Reason(d Decision) string {
	switch d {
	case ContinueShortPause:
		return "units processed without exhaustion"
	case ContinueNoPause:
		return "units processed without exhaustion; pause disabled"
	case WaitForReplenishment:
		return "short-term quota exhausted or nothing processed"
	case StopBudgetExhausted:
		return "daily budget exceeded threshold"
	case StopNoWork:
		return "no units processed and no exhaustion reported"
	default:
		return "unknown"
	}
}
