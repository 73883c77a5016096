package validation

import (
	"strings"
	"testing"
	"time"

	"github.com/Sentinel-Gate/inkgate/internal/domain/action"
	"github.com/Sentinel-Gate/inkgate/internal/domain/policy"
	"github.com/Sentinel-Gate/inkgate/internal/domain/quota"
)

// stubTracker reports a fixed count for every key and remembers the last
// key and rule it was asked about.
type stubTracker struct {
	count    int
	lastKey  quota.Key
	lastRule quota.Rule
	recorded int
}

func (s *stubTracker) CanPerform(kind action.Kind, scope string) bool {
	return s.count < s.DefaultRule(kind).Max
}

func (s *stubTracker) Record(action.Kind, string) { s.recorded++ }

func (s *stubTracker) RemainingWait(action.Kind, string) time.Duration { return 0 }

func (s *stubTracker) Status(key quota.Key, rule quota.Rule) quota.Status {
	s.lastKey, s.lastRule = key, rule
	if s.count < rule.Max {
		return quota.Status{Allowed: true, Count: s.count, Limit: rule.Max}
	}
	return quota.Status{Count: s.count, Limit: rule.Max, RetryAfter: 30 * time.Minute}
}

func (s *stubTracker) DefaultRule(action.Kind) quota.Rule {
	return quota.Rule{Max: 5, Window: time.Hour}
}

var _ quota.Tracker = (*stubTracker)(nil)

func snapshotOf(t *testing.T, raw string) policy.Snapshot {
	t.Helper()
	doc, err := policy.NewDocument("agent-policy", []byte(raw), time.Now())
	if err != nil {
		t.Fatalf("NewDocument() error: %v", err)
	}
	return policy.NewSnapshot([]policy.Document{doc})
}

const testPolicy = `
forbidden_patterns:
  - description: advertising
    keywords: ["buy now"]
role_boundaries:
  forbidden_words: ["omniscient"]
  no_final_truth: true
  final_truth_patterns: ["the one true ending"]
content_limits:
  segment_min: 10
  segment_max: 40
discussion_format:
  required_patterns: ["E-", "S-", "GAP-"]
`

func TestValidate_Checks(t *testing.T) {
	t.Parallel()

	snap := snapshotOf(t, testPolicy)

	tests := []struct {
		name      string
		candidate action.Candidate
		want      ReasonCode
	}{
		{
			name:      "accepted segment",
			candidate: action.Candidate{Kind: action.KindContinue, TargetID: "b-1", Payload: action.Payload{Text: "The rain kept falling."}},
			want:      ReasonNone,
		},
		{
			name:      "forbidden keyword is case-insensitive",
			candidate: action.Candidate{Kind: action.KindContinue, Payload: action.Payload{Text: "BUY NOW at the harbour"}},
			want:      ReasonForbiddenPattern,
		},
		{
			name:      "forbidden keyword in title",
			candidate: action.Candidate{Kind: action.KindCreateThread, Payload: action.Payload{Title: "Buy now!", Text: "x"}},
			want:      ReasonForbiddenPattern,
		},
		{
			name:      "forbidden word",
			candidate: action.Candidate{Kind: action.KindContinue, Payload: action.Payload{Text: "An omniscient voice spoke."}},
			want:      ReasonRoleBoundary,
		},
		{
			name:      "final truth",
			candidate: action.Candidate{Kind: action.KindComment, Payload: action.Payload{Text: "S-3: this is the one true ending"}},
			want:      ReasonRoleBoundary,
		},
		{
			name:      "too short",
			candidate: action.Candidate{Kind: action.KindContinue, Payload: action.Payload{Text: "Rain."}},
			want:      ReasonContentLength,
		},
		{
			name:      "too long",
			candidate: action.Candidate{Kind: action.KindContinue, Payload: action.Payload{Text: strings.Repeat("word ", 20)}},
			want:      ReasonContentLength,
		},
		{
			name:      "comment without reference",
			candidate: action.Candidate{Kind: action.KindComment, Payload: action.Payload{Text: "I think the pacing is off."}},
			want:      ReasonMissingReference,
		},
		{
			name:      "comment with reference",
			candidate: action.Candidate{Kind: action.KindComment, Payload: action.Payload{Text: "GAP-2: who opened the door?"}},
			want:      ReasonNone,
		},
		{
			name:      "kind without rules passes",
			candidate: action.Candidate{Kind: action.KindCreateThread, Payload: action.Payload{Title: "Fork", Text: "x"}},
			want:      ReasonNone,
		},
	}

	v := NewActionValidator(&stubTracker{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.Validate(snap, tt.candidate)
			if got.Code != tt.want {
				t.Errorf("Validate() code = %q (%s), want %q", got.Code, got.Message, tt.want)
			}
			if got.Accepted != (tt.want == ReasonNone) {
				t.Errorf("Validate() accepted = %v, want %v", got.Accepted, tt.want == ReasonNone)
			}
		})
	}
}

func TestValidate_LengthCountsCharacters(t *testing.T) {
	t.Parallel()

	snap := snapshotOf(t, `{"content_limits": {"segment_min": 10, "segment_max": 12}}`)
	v := NewActionValidator(nil)

	// 11 characters, 33 bytes.
	c := action.Candidate{Kind: action.KindContinue, Payload: action.Payload{Text: "雨が降り続いていた。夜"}}
	if got := v.Validate(snap, c); !got.Accepted {
		t.Errorf("Validate() = %+v, want accepted", got)
	}
}

func TestValidate_ForbiddenBeatsLength(t *testing.T) {
	t.Parallel()

	snap := snapshotOf(t, testPolicy)
	v := NewActionValidator(&stubTracker{})

	// Both too short and forbidden: the earlier check wins.
	c := action.Candidate{Kind: action.KindContinue, Payload: action.Payload{Text: "buy now"}}
	if got := v.Validate(snap, c); got.Code != ReasonForbiddenPattern {
		t.Errorf("Validate() code = %q, want %q", got.Code, ReasonForbiddenPattern)
	}
}

func TestValidate_QuotaFirst(t *testing.T) {
	t.Parallel()

	snap := snapshotOf(t, testPolicy)
	tracker := &stubTracker{count: 5}
	v := NewActionValidator(tracker)

	c := action.Candidate{Kind: action.KindContinue, TargetID: "b-1", Payload: action.Payload{Text: "buy now"}}
	got := v.Validate(snap, c)
	if got.Code != ReasonQuotaExceeded {
		t.Fatalf("Validate() code = %q, want %q", got.Code, ReasonQuotaExceeded)
	}
	if got.RetryAfter != 30*time.Minute {
		t.Errorf("RetryAfter = %v, want 30m", got.RetryAfter)
	}
	if tracker.recorded != 0 {
		t.Error("Validate() must not record quota usage")
	}
	// The default rule is kind-wide, so the scope is dropped.
	if tracker.lastKey != (quota.Key{Kind: action.KindContinue}) {
		t.Errorf("checked key = %v, want kind-wide", tracker.lastKey)
	}
}

func TestValidate_PolicyQuotaOverridesDefault(t *testing.T) {
	t.Parallel()

	snap := snapshotOf(t, `{"rate_limits": {"segment": {"max": 20, "window": "1h", "per_resource": true}}}`)
	tracker := &stubTracker{count: 5}
	v := NewActionValidator(tracker)

	c := action.Candidate{Kind: action.KindContinue, TargetID: "b-9", Payload: action.Payload{Text: "fine"}}
	if got := v.Validate(snap, c); !got.Accepted {
		t.Errorf("Validate() = %+v, want accepted under the policy's higher limit", got)
	}
	if tracker.lastRule.Max != 20 {
		t.Errorf("checked rule max = %d, want 20", tracker.lastRule.Max)
	}
	if tracker.lastKey != (quota.Key{Kind: action.KindContinue, Scope: "b-9"}) {
		t.Errorf("checked key = %v, want scoped to b-9", tracker.lastKey)
	}
}

func TestValidate_EmptySnapshotOnlyChecksQuota(t *testing.T) {
	t.Parallel()

	v := NewActionValidator(&stubTracker{})
	c := action.Candidate{Kind: action.KindComment, Payload: action.Payload{Text: "buy now, omniscient"}}
	if got := v.Validate(policy.NewSnapshot(nil), c); !got.Accepted {
		t.Errorf("Validate() = %+v, want accepted with no policy", got)
	}
}
