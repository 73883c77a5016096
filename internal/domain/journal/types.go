// Package journal contains the decision journal domain types. Every decision
// cycle produces exactly one record, silence included.
package journal

import (
	"time"

	"github.com/Sentinel-Gate/inkgate/internal/domain/action"
)

// Outcome is the result of one decision cycle.
type Outcome string

const (
	// OutcomeSilent means no candidate qualified.
	OutcomeSilent Outcome = "silent"
	// OutcomeRejected means the picked candidate failed validation.
	OutcomeRejected Outcome = "rejected"
	// OutcomeDispatched means the action was accepted by the platform.
	OutcomeDispatched Outcome = "dispatched"
	// OutcomeDispatchFailed means the platform refused or could not be reached.
	OutcomeDispatchFailed Outcome = "dispatch_failed"
	// OutcomeError means the cycle failed before a decision was made.
	OutcomeError Outcome = "error"
)

// Outcomes lists every outcome, for metric label pre-population.
func Outcomes() []Outcome {
	return []Outcome{OutcomeSilent, OutcomeRejected, OutcomeDispatched, OutcomeDispatchFailed, OutcomeError}
}

// Record is one journaled decision cycle.
type Record struct {
	// Timestamp is when the cycle started (UTC).
	Timestamp time.Time `json:"timestamp"`
	// CycleID is a UUID identifying the cycle.
	CycleID string `json:"cycle_id"`
	// Outcome is what the cycle ended with.
	Outcome Outcome `json:"outcome"`
	// Kind and TargetID describe the picked candidate, if any.
	Kind     action.Kind `json:"kind,omitempty"`
	TargetID string      `json:"target_id,omitempty"`
	// ReasonCode is the validation code for rejected cycles.
	ReasonCode string `json:"reason_code,omitempty"`
	// Message is the router reason, validation message or dispatch result.
	Message string `json:"message,omitempty"`
	// Scores of the picked candidate.
	Scores action.ScoreVector `json:"scores,omitempty"`
	// Candidates is how many candidates the router saw.
	Candidates int `json:"candidates"`
	// PolicyVersion identifies the policy snapshot the cycle used.
	PolicyVersion string `json:"policy_version,omitempty"`
	// PolicyUpdated lists documents that changed during this cycle's check.
	PolicyUpdated []string `json:"policy_updated,omitempty"`
	// Error is set for dispatch_failed and error outcomes.
	Error string `json:"error,omitempty"`
	// DurationMS is how long the cycle took.
	DurationMS int64 `json:"duration_ms"`
}

// Filter specifies query parameters for journal queries. Zero fields match
// everything.
type Filter struct {
	StartTime time.Time
	EndTime   time.Time
	Outcome   Outcome
	Kind      action.Kind
	// Limit is the maximum number of records to return (default 100, max 1000).
	Limit int
}

// NormalizedLimit returns the effective limit.
func (f Filter) NormalizedLimit() int {
	if f.Limit <= 0 {
		return 100
	}
	if f.Limit > 1000 {
		return 1000
	}
	return f.Limit
}

// Match reports whether r passes the filter.
func (f Filter) Match(r Record) bool {
	if !f.StartTime.IsZero() && r.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && r.Timestamp.After(f.EndTime) {
		return false
	}
	if f.Outcome != "" && r.Outcome != f.Outcome {
		return false
	}
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	return true
}
