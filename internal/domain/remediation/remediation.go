// Package remediation defines attempt bookkeeping and outcome types for
// gated corrective actions.
package remediation

import "time"

// Attempt tracks the history for one (action, target) pair. Records are
// created on first attempt and live for the rest of the process.
type Attempt struct {
	Action        string    `json:"action"`
	Target        string    `json:"target"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
	CooldownUntil time.Time `json:"cooldown_until"`
	AttemptCount  int       `json:"attempt_count"`
	SuccessCount  int       `json:"success_count"`
}

// Key returns the attempt-table key for an (action, target) pair.
func Key(action, target string) string { return action + "|" + target }

// Status is the terminal classification of an attempt request.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusBlocked Status = "blocked"
)

// BlockReason names the guard that refused an attempt.
type BlockReason string

const (
	BlockCooldown    BlockReason = "cooldown_active"
	BlockConcurrency BlockReason = "max_concurrent_actions"
	BlockAttemptCap  BlockReason = "attempt_cap_reached"
	BlockUnknown     BlockReason = "unknown_action"
)

// Outcome reports what happened to an attempt request. Blocked is a
// deliberate no-op, not an error.
type Outcome struct {
	Status        Status      `json:"status"`
	Reason        BlockReason `json:"reason,omitempty"`
	Err           string      `json:"error,omitempty"`
	Duration      time.Duration
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
}

// Executed reports whether the executor actually ran.
func (o Outcome) Executed() bool { return o.Status != StatusBlocked }
