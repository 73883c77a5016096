package policy

import (
	"testing"
	"time"

	"github.com/Sentinel-Gate/inkgate/internal/domain/action"
)

func mustDoc(t *testing.T, name, raw string) Document {
	t.Helper()
	doc, err := NewDocument(name, []byte(raw), fetched)
	if err != nil {
		t.Fatalf("NewDocument(%s) error: %v", name, err)
	}
	return doc
}

const agentPolicy = `
rate_limits:
  segment:
    max: 5
    window: 1h
    per_resource: true
  comment:
    max: 10
    window_seconds: 3600
  vote:
    max: not-a-number
forbidden_patterns:
  - description: advertising
    keywords: ["buy now", "discount code"]
  - "http://"
role_boundaries:
  forbidden_words: ["as the author I decree"]
  no_final_truth: true
  final_truth_patterns: ["the true ending is"]
content_limits:
  segment_min: 150
  segment_max: 500
discussion_format:
  required_patterns: ["E-", "S-", "GAP-"]
  max_length: 500
`

func TestParseRules_AgentPolicy(t *testing.T) {
	t.Parallel()

	r := ParseRules([]Document{mustDoc(t, "agent-policy", agentPolicy)})

	if got := r.Quotas[action.KindContinue]; got.Max != 5 || got.Window != time.Hour || !got.PerResource {
		t.Errorf("continue quota = %+v", got)
	}
	if got := r.Quotas[action.KindComment]; got.Max != 10 || got.Window != time.Hour || got.PerResource {
		t.Errorf("comment quota = %+v", got)
	}
	if _, ok := r.Quotas["vote"]; ok {
		t.Error("malformed vote quota should be skipped")
	}

	if len(r.Forbidden) != 2 {
		t.Fatalf("Forbidden = %+v, want 2 patterns", r.Forbidden)
	}
	if r.Forbidden[1].Keywords[0] != "http://" {
		t.Errorf("bare string pattern = %+v", r.Forbidden[1])
	}

	if !r.Boundary.NoFinalTruth || len(r.Boundary.FinalTruthPatterns) != 1 || len(r.Boundary.ForbiddenWords) != 1 {
		t.Errorf("Boundary = %+v", r.Boundary)
	}

	if got := r.Lengths[action.KindContinue]; got.Min != 150 || got.Max != 500 {
		t.Errorf("continue lengths = %+v", got)
	}
	if got := r.Lengths[action.KindComment]; got.Max != 500 {
		t.Errorf("comment lengths = %+v, want max from discussion_format", got)
	}
	if got := r.References[action.KindComment]; len(got) != 3 {
		t.Errorf("comment references = %v", got)
	}
}

func TestParseRules_NestedContentLimits(t *testing.T) {
	t.Parallel()

	r := ParseRules([]Document{mustDoc(t, "p", `{ "content_limits": {"create_thread": {"min": 10, "max": 2000}, "comment": {"max": 300}}, "discussion_format": {"max_length": 500} }`)})

	if got := r.Lengths[action.KindCreateThread]; got.Min != 10 || got.Max != 2000 {
		t.Errorf("create_thread lengths = %+v", got)
	}
	// Explicit content_limits beat discussion_format.max_length.
	if got := r.Lengths[action.KindComment]; got.Max != 300 {
		t.Errorf("comment max = %d, want 300", got.Max)
	}
}

func TestParseRules_FirstDocumentWins(t *testing.T) {
	t.Parallel()

	first := mustDoc(t, "agent-policy", `{"routing_thresholds": {"continuity": 0.7}}`)
	second := mustDoc(t, "routing-rules", `{ "routing_thresholds": {"continuity": 0.2, "novelty": 0.9}, "routing_guards": {"comment": "scores.risk < 0.3"} }`)

	r := ParseRules([]Document{first, second})
	if got := r.Thresholds[action.DimContinuity]; got != 0.7 {
		t.Errorf("continuity = %v, want 0.7 from the first document", got)
	}
	if _, ok := r.Thresholds[action.DimNovelty]; ok {
		t.Error("sections are taken whole from one document, not merged")
	}
	if got := r.Guards[action.KindComment]; got != "scores.risk < 0.3" {
		t.Errorf("comment guard = %q", got)
	}
}

func TestParseRules_FlatThresholds(t *testing.T) {
	t.Parallel()

	r := ParseRules([]Document{mustDoc(t, "p", `{"continuity_threshold": 0.7, "novelty_threshold": "0.8"}`)})
	if r.Thresholds[action.DimContinuity] != 0.7 || r.Thresholds[action.DimNovelty] != 0.8 {
		t.Errorf("Thresholds = %v", r.Thresholds)
	}
}

func TestParseRules_MalformedSectionsAreAbsent(t *testing.T) {
	t.Parallel()

	r := ParseRules([]Document{mustDoc(t, "p", `{ "rate_limits": "lots", "forbidden_patterns": {"not": "a list"}, "role_boundaries": [1, 2], "content_limits": 7, "routing_thresholds": {"continuity": "high"} }`)})

	if len(r.Quotas) != 0 || len(r.Forbidden) != 0 || len(r.Lengths) != 0 || len(r.Thresholds) != 0 {
		t.Errorf("malformed sections produced rules: %+v", r)
	}
	if r.Boundary.NoFinalTruth || len(r.Boundary.ForbiddenWords) != 0 {
		t.Errorf("Boundary = %+v, want zero", r.Boundary)
	}
}

func TestParseRules_Empty(t *testing.T) {
	t.Parallel()

	r := ParseRules(nil)
	if len(r.Quotas)+len(r.Forbidden)+len(r.Lengths)+len(r.References)+len(r.Thresholds)+len(r.Guards) != 0 {
		t.Errorf("ParseRules(nil) = %+v, want no rules", r)
	}
}
