package routing

import (
	"errors"
	"testing"
	"time"

	"github.com/Sentinel-Gate/inkgate/internal/domain/action"
	"github.com/Sentinel-Gate/inkgate/internal/domain/policy"
)

func cand(kind action.Kind, target string, scores action.ScoreVector) action.Candidate {
	return action.Candidate{Kind: kind, TargetID: target, Scores: scores}
}

var (
	strongContinue = cand(action.KindContinue, "b-1", action.ScoreVector{action.DimContinuity: 0.8})
	weakContinue   = cand(action.KindContinue, "b-2", action.ScoreVector{action.DimContinuity: 0.4})
	strongThread   = cand(action.KindCreateThread, "s-1", action.ScoreVector{action.DimNovelty: 0.8, action.DimConflict: 0.7})
	weakThread     = cand(action.KindCreateThread, "s-2", action.ScoreVector{action.DimNovelty: 0.8, action.DimConflict: 0.3})
	safeComment    = cand(action.KindComment, "b-3", action.ScoreVector{action.DimRisk: 0.2, action.FlagNeedsClarification: 1})
	idleComment    = cand(action.KindComment, "b-4", action.ScoreVector{action.DimRisk: 0.2})
	riskyComment   = cand(action.KindComment, "b-5", action.ScoreVector{action.DimRisk: 0.6, action.FlagHasConflict: 1})
)

func TestRoute_Priority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		candidates []action.Candidate
		want       string // "" for silence
	}{
		{"continue beats thread and comment", []action.Candidate{safeComment, strongThread, strongContinue}, "continue@b-1"},
		{"thread beats comment", []action.Candidate{safeComment, strongThread, weakContinue}, "create_thread@s-1"},
		{"comment when nothing else qualifies", []action.Candidate{weakContinue, weakThread, safeComment}, "comment@b-3"},
		{"first qualifying in input order", []action.Candidate{weakContinue, strongContinue, cand(action.KindContinue, "b-9", action.ScoreVector{action.DimContinuity: 0.99})}, "continue@b-1"},
		{"comment needs a flag", []action.Candidate{idleComment}, ""},
		{"comment needs low risk", []action.Candidate{riskyComment}, ""},
		{"all below thresholds", []action.Candidate{weakContinue, weakThread, idleComment}, ""},
		{"unknown kind ignored", []action.Candidate{cand("vote", "x", action.ScoreVector{action.DimContinuity: 1})}, ""},
	}

	r := NewRouter(nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := r.Route(policy.NewSnapshot(nil), tt.candidates)
			got := ""
			if !d.Silent() {
				got = d.Candidate.String()
			}
			if got != tt.want {
				t.Errorf("Route() = %q (%s), want %q", got, d.Reason, tt.want)
			}
			if d.Reason == "" {
				t.Error("Decision.Reason is empty")
			}
			if len(d.Trace) != len(tt.candidates) {
				t.Errorf("len(Trace) = %d, want %d", len(d.Trace), len(tt.candidates))
			}
		})
	}
}

func TestRoute_EmptyIsSilence(t *testing.T) {
	t.Parallel()

	d := NewRouter(nil, nil).Route(policy.NewSnapshot(nil), nil)
	if !d.Silent() {
		t.Fatalf("Route(nil) picked %v", d.Candidate)
	}
	if d.Reason != "no candidates" {
		t.Errorf("Reason = %q", d.Reason)
	}
}

func TestRoute_ThresholdBoundaries(t *testing.T) {
	t.Parallel()

	r := NewRouter(nil, nil)
	snap := policy.NewSnapshot(nil)

	// Thresholds are inclusive for continue and thread, strict for risk.
	if d := r.Route(snap, []action.Candidate{cand(action.KindContinue, "", action.ScoreVector{action.DimContinuity: 0.5})}); d.Silent() {
		t.Error("continuity == threshold should qualify")
	}
	if d := r.Route(snap, []action.Candidate{cand(action.KindCreateThread, "", action.ScoreVector{action.DimNovelty: 0.7, action.DimConflict: 0.6})}); d.Silent() {
		t.Error("novelty and conflict == thresholds should qualify")
	}
	if d := r.Route(snap, []action.Candidate{cand(action.KindComment, "", action.ScoreVector{action.DimRisk: 0.5, action.FlagHasConflict: 1})}); !d.Silent() {
		t.Error("risk == threshold should not qualify")
	}
}

func TestRoute_PolicyThresholds(t *testing.T) {
	t.Parallel()

	doc, err := policy.NewDocument("routing-rules", []byte(`{"routing_thresholds": {"continuity": 0.9}}`), time.Now())
	if err != nil {
		t.Fatalf("NewDocument() error: %v", err)
	}
	snap := policy.NewSnapshot([]policy.Document{doc})

	d := NewRouter(nil, nil).Route(snap, []action.Candidate{strongContinue, strongThread})
	if d.Silent() || d.Candidate.Kind != action.KindCreateThread {
		t.Errorf("Route() = %v, want create_thread once continuity needs 0.9", d.Candidate)
	}
	if d.Thresholds.Continuity != 0.9 || d.Thresholds.Novelty != 0.7 {
		t.Errorf("Thresholds = %+v, want policy continuity and default novelty", d.Thresholds)
	}
}

func TestRoute_MissingDimensionReadsZero(t *testing.T) {
	t.Parallel()

	d := NewRouter(nil, nil).Route(policy.NewSnapshot(nil), []action.Candidate{
		cand(action.KindCreateThread, "s-1", action.ScoreVector{action.DimNovelty: 0.9}),
	})
	if !d.Silent() {
		t.Error("create_thread without a conflict score should not qualify")
	}
	if d.Trace[0].Outcome != OutcomeBelowThreshold {
		t.Errorf("Trace[0].Outcome = %q", d.Trace[0].Outcome)
	}
}

func TestRoute_SelectedIsACopy(t *testing.T) {
	t.Parallel()

	in := []action.Candidate{cand(action.KindContinue, "b-1", action.ScoreVector{action.DimContinuity: 0.8})}
	d := NewRouter(nil, nil).Route(policy.NewSnapshot(nil), in)
	d.Candidate.Scores[action.DimContinuity] = 0
	if in[0].Scores[action.DimContinuity] != 0.8 {
		t.Error("mutating the decision changed the input candidate")
	}
}

// guardFunc adapts a function to GuardEvaluator.
type guardFunc func(expr string, c action.Candidate) (bool, error)

func (f guardFunc) EvaluateGuard(expr string, c action.Candidate) (bool, error) { return f(expr, c) }

func guardedSnapshot(t *testing.T) policy.Snapshot {
	t.Helper()
	doc, err := policy.NewDocument("routing-rules", []byte(`{"routing_guards": {"continue": "target != 'b-1'"}}`), time.Now())
	if err != nil {
		t.Fatalf("NewDocument() error: %v", err)
	}
	return policy.NewSnapshot([]policy.Document{doc})
}

func TestRoute_GuardRejects(t *testing.T) {
	t.Parallel()

	guards := guardFunc(func(expr string, c action.Candidate) (bool, error) {
		if expr != "target != 'b-1'" {
			t.Errorf("guard expr = %q", expr)
		}
		return c.TargetID != "b-1", nil
	})
	other := cand(action.KindContinue, "b-7", action.ScoreVector{action.DimContinuity: 0.6})

	d := NewRouter(guards, nil).Route(guardedSnapshot(t), []action.Candidate{strongContinue, other})
	if d.Silent() || d.Candidate.TargetID != "b-7" {
		t.Fatalf("Route() = %v, want continue@b-7", d.Candidate)
	}
	if d.Trace[0].Outcome != OutcomeGuardRejected || d.Trace[1].Outcome != OutcomeSelected {
		t.Errorf("Trace = %+v", d.Trace)
	}
}

func TestRoute_GuardErrorFailsOpen(t *testing.T) {
	t.Parallel()

	guards := guardFunc(func(string, action.Candidate) (bool, error) {
		return false, errors.New("compile error")
	})

	d := NewRouter(guards, nil).Route(guardedSnapshot(t), []action.Candidate{strongContinue})
	if d.Silent() {
		t.Fatal("a broken guard should be ignored")
	}
	if d.Trace[0].GuardError == "" {
		t.Error("Trace should record the guard error")
	}
}

func TestThresholdsFrom(t *testing.T) {
	t.Parallel()

	got := ThresholdsFrom(map[string]float64{action.DimRisk: 0.3, "unrelated": 1})
	want := DefaultThresholds()
	want.Risk = 0.3
	if got != want {
		t.Errorf("ThresholdsFrom() = %+v, want %+v", got, want)
	}
}
