package cel

import (
	"strings"
	"testing"

	"github.com/cespare/xxhash/v2"

	"github.com/Sentinel-Gate/inkgate/internal/domain/action"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}
	return eval
}

var sample = action.Candidate{
	Kind:     action.KindComment,
	TargetID: "branch-42",
	Payload:  action.Payload{Title: "", Text: "E-3 contradicts S-1"},
	Scores: action.ScoreVector{
		action.DimRisk:                0.2,
		action.DimNovelty:             0.4,
		action.FlagNeedsClarification: 1,
	},
}

func TestEvaluateGuard(t *testing.T) {
	t.Parallel()

	eval := newTestEvaluator(t)

	tests := []struct {
		expr string
		want bool
	}{
		{`kind == "comment"`, true},
		{`target.startsWith("branch-")`, true},
		{`glob("branch-4*", target)`, true},
		{`scores["risk"] < 0.3`, true},
		{`score(scores, "continuity") == 0.0`, true},
		{`score(scores, "novelty") > 0.5`, false},
		{`flags["needs_clarification"] && !flags["has_conflict"]`, true},
		{`text.contains("E-") && text_length < 50`, true},
		{`title == ""`, true},
		{`"risk" in scores && !("cost" in scores)`, true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := eval.EvaluateGuard(tt.expr, sample)
			if err != nil {
				t.Fatalf("EvaluateGuard(%q) error: %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("EvaluateGuard(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluateGuard_Errors(t *testing.T) {
	t.Parallel()

	eval := newTestEvaluator(t)

	tests := []struct {
		name string
		expr string
	}{
		{"syntax", `this is not valid CEL !!!`},
		{"non-bool", `text_length + 1`},
		{"unknown variable", `tool_name == "x"`},
		{"empty", ``},
		{"missing map key", `scores["continuity"] > 0.1`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := eval.EvaluateGuard(tt.expr, sample); err == nil {
				t.Errorf("EvaluateGuard(%q) expected error", tt.expr)
			}
		})
	}
}

func TestEvaluateGuard_CachesPrograms(t *testing.T) {
	t.Parallel()

	eval := newTestEvaluator(t)
	for i := 0; i < 3; i++ {
		if _, err := eval.EvaluateGuard(`kind == "comment"`, sample); err != nil {
			t.Fatalf("EvaluateGuard() error: %v", err)
		}
		_, _ = eval.EvaluateGuard(`bad expr !!!`, sample)
	}
	eval.mu.Lock()
	n := len(eval.programs)
	eval.mu.Unlock()
	if n != 2 {
		t.Errorf("cached programs = %d, want 2", n)
	}
}

func TestEvaluateGuard_HashCollisionRecompiles(t *testing.T) {
	t.Parallel()

	eval := newTestEvaluator(t)
	const want = `kind == "comment"`
	const other = `kind == "continue"`

	// Plant the program for another expression under want's hash.
	prg, err := eval.Compile(other)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	eval.mu.Lock()
	eval.programs[xxhash.Sum64String(want)] = cachedProgram{expr: other, prg: prg}
	eval.mu.Unlock()

	ok, err := eval.EvaluateGuard(want, sample)
	if err != nil {
		t.Fatalf("EvaluateGuard() error: %v", err)
	}
	if !ok {
		t.Error("EvaluateGuard() ran the colliding program")
	}
	eval.mu.Lock()
	got := eval.programs[xxhash.Sum64String(want)].expr
	eval.mu.Unlock()
	if got != want {
		t.Errorf("cached expr = %q, want %q", got, want)
	}
}

func TestValidateExpression_Limits(t *testing.T) {
	t.Parallel()

	eval := newTestEvaluator(t)

	tests := []struct {
		name string
		expr string
		want string
	}{
		{"empty", "", "empty"},
		{"too long", `kind == "` + strings.Repeat("a", maxExpressionLength) + `"`, "too long"},
		{"too deep", strings.Repeat("(", maxNestingDepth+1) + "true" + strings.Repeat(")", maxNestingDepth+1), "nesting too deep"},
		{"invalid", `kind ==`, "invalid CEL expression"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eval.ValidateExpression(tt.expr)
			if err == nil {
				t.Fatalf("ValidateExpression(%q) expected error", tt.name)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want substring %q", err.Error(), tt.want)
			}
		})
	}

	if err := eval.ValidateExpression(`score(scores, "risk") < 0.5`); err != nil {
		t.Errorf("ValidateExpression(valid) error: %v", err)
	}
}

func TestBuildActivation(t *testing.T) {
	t.Parallel()

	act := BuildActivation(action.Candidate{Kind: action.KindContinue, Payload: action.Payload{Text: "雨の夜"}})
	if act["kind"] != "continue" {
		t.Errorf("kind = %v", act["kind"])
	}
	if act["text_length"] != int64(3) {
		t.Errorf("text_length = %v, want 3 characters", act["text_length"])
	}
	flags := act["flags"].(map[string]bool)
	if flags[action.FlagHasConflict] {
		t.Error("has_conflict should be false with no scores")
	}
}
