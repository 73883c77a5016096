// Package routing selects at most one action per decision cycle from scored
// candidates. Silence is the default.
package routing

import (
	"fmt"
	"log/slog"

	"github.com/Sentinel-Gate/inkgate/internal/domain/action"
	"github.com/Sentinel-Gate/inkgate/internal/domain/policy"
)

// Thresholds are the per-dimension cutoffs the categories compare against.
type Thresholds struct {
	Continuity float64 `json:"continuity"`
	Novelty    float64 `json:"novelty"`
	Conflict   float64 `json:"conflict"`
	Risk       float64 `json:"risk"`
}

// DefaultThresholds returns the thresholds used when a policy sets none.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Continuity: 0.5,
		Novelty:    0.7,
		Conflict:   0.6,
		Risk:       0.5,
	}
}

// ThresholdsFrom overlays policy values onto the defaults.
func ThresholdsFrom(values map[string]float64) Thresholds {
	t := DefaultThresholds()
	if v, ok := values[action.DimContinuity]; ok {
		t.Continuity = v
	}
	if v, ok := values[action.DimNovelty]; ok {
		t.Novelty = v
	}
	if v, ok := values[action.DimConflict]; ok {
		t.Conflict = v
	}
	if v, ok := values[action.DimRisk]; ok {
		t.Risk = v
	}
	return t
}

// Outcome of evaluating one candidate.
type Outcome string

const (
	OutcomeSelected       Outcome = "selected"
	OutcomeQualified      Outcome = "qualified"
	OutcomeBelowThreshold Outcome = "below_threshold"
	OutcomeGuardRejected  Outcome = "guard_rejected"
	OutcomeUnknownKind    Outcome = "unknown_kind"
)

// TraceEntry records how one candidate was evaluated.
type TraceEntry struct {
	Kind     action.Kind `json:"kind"`
	TargetID string      `json:"target_id,omitempty"`
	Outcome  Outcome     `json:"outcome"`
	// GuardError is set when the kind's guard could not be evaluated and was
	// ignored.
	GuardError string `json:"guard_error,omitempty"`
}

// Decision is the router's output. Candidate is nil for silence.
type Decision struct {
	Candidate  *action.Candidate `json:"candidate,omitempty"`
	Reason     string            `json:"reason"`
	Thresholds Thresholds        `json:"thresholds"`
	Trace      []TraceEntry      `json:"trace,omitempty"`
}

// Silent reports whether the decision is to do nothing.
func (d Decision) Silent() bool {
	return d.Candidate == nil
}

// GuardEvaluator evaluates a policy guard expression against a candidate.
type GuardEvaluator interface {
	EvaluateGuard(expr string, c action.Candidate) (bool, error)
}

// Router applies the fixed-priority category rules. It keeps no state between
// calls.
type Router struct {
	guards GuardEvaluator
	logger *slog.Logger
}

// NewRouter creates a router. guards may be nil, in which case policy guards
// are not evaluated.
func NewRouter(guards GuardEvaluator, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{guards: guards, logger: logger}
}

// Route picks at most one candidate. Categories are tried in priority order
// (continue, create_thread, comment); within a category the first qualifying
// candidate in input order wins. With none qualifying the decision is silence.
func (r *Router) Route(snap policy.Snapshot, candidates []action.Candidate) Decision {
	rules := snap.Rules()
	th := ThresholdsFrom(rules.Thresholds)
	d := Decision{Thresholds: th}

	if len(candidates) == 0 {
		d.Reason = "no candidates"
		return d
	}

	d.Trace = make([]TraceEntry, len(candidates))
	qualified := make([]bool, len(candidates))
	for i, c := range candidates {
		entry := TraceEntry{Kind: c.Kind, TargetID: c.TargetID}
		ok, known := meetsThresholds(c, th)
		switch {
		case !known:
			entry.Outcome = OutcomeUnknownKind
		case !ok:
			entry.Outcome = OutcomeBelowThreshold
		default:
			entry.Outcome = OutcomeQualified
			if expr, has := rules.Guards[c.Kind]; has && r.guards != nil {
				pass, err := r.guards.EvaluateGuard(expr, c)
				if err != nil {
					r.logger.Warn("routing guard failed, ignoring",
						"kind", c.Kind, "target", c.TargetID, "error", err)
					entry.GuardError = err.Error()
				} else if !pass {
					entry.Outcome = OutcomeGuardRejected
				}
			}
			qualified[i] = entry.Outcome == OutcomeQualified
		}
		d.Trace[i] = entry
	}

	for _, kind := range action.Kinds() {
		for i, c := range candidates {
			if c.Kind != kind || !qualified[i] {
				continue
			}
			picked := c
			picked.Scores = c.Scores.Clone()
			d.Candidate = &picked
			d.Trace[i].Outcome = OutcomeSelected
			d.Reason = fmt.Sprintf("%s met thresholds (%s)", kind, c.Scores)
			return d
		}
	}

	d.Reason = fmt.Sprintf("none of %d candidates met thresholds", len(candidates))
	return d
}

// meetsThresholds applies the category rule for c's kind. known is false for
// kinds the router has no rule for.
func meetsThresholds(c action.Candidate, th Thresholds) (ok, known bool) {
	s := c.Scores
	switch c.Kind {
	case action.KindContinue:
		return s.Get(action.DimContinuity) >= th.Continuity, true
	case action.KindCreateThread:
		return s.Get(action.DimNovelty) >= th.Novelty && s.Get(action.DimConflict) >= th.Conflict, true
	case action.KindComment:
		return s.Get(action.DimRisk) < th.Risk &&
			(s.Flag(action.FlagHasConflict) || s.Flag(action.FlagNeedsClarification)), true
	default:
		return false, false
	}
}
