// Package action defines the candidate-action model: a proposed, not yet
// committed write against the content platform together with the score vector
// the router decides on.
package action

import (
	"sort"
	"strconv"
	"strings"
)

// Kind categorizes the write being proposed.
type Kind string

const (
	// KindContinue appends a segment to an existing branch.
	KindContinue Kind = "continue"
	// KindCreateThread opens a new branch (thread) on a story.
	KindCreateThread Kind = "create_thread"
	// KindComment posts a discussion comment on a branch.
	KindComment Kind = "comment"
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	return string(k)
}

// Kinds lists every kind the router knows, in routing priority order.
func Kinds() []Kind {
	return []Kind{KindContinue, KindCreateThread, KindComment}
}

// kindAliases maps names used by the platform and by published policy
// documents onto canonical kinds.
var kindAliases = map[string]Kind{
	"continue":       KindContinue,
	"segment":        KindContinue,
	"segment_create": KindContinue,
	"create_thread":  KindCreateThread,
	"create-thread":  KindCreateThread,
	"branch":         KindCreateThread,
	"branch_create":  KindCreateThread,
	"new_story":      KindCreateThread,
	"comment":        KindComment,
	"create-comment": KindComment,
	"create_comment": KindComment,
}

// ParseKind resolves a kind name or alias. The boolean is false for names
// that do not map onto a known kind; the returned Kind is then the raw name,
// so unknown kinds still get their own quota keys.
func ParseKind(name string) (Kind, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if k, ok := kindAliases[n]; ok {
		return k, true
	}
	return Kind(n), false
}

// Score dimension names.
const (
	DimNovelty             = "novelty"
	DimContinuity          = "continuity"
	DimConflict            = "conflict"
	DimCoverage            = "coverage"
	DimCost                = "cost"
	DimRisk                = "risk"
	FlagHasConflict        = "has_conflict"
	FlagNeedsClarification = "needs_clarification"
)

// ScoreVector maps named scoring dimensions to values in [0,1].
// A dimension that is absent reads as 0.
type ScoreVector map[string]float64

// Get returns the value of a dimension, or 0 when absent.
func (s ScoreVector) Get(dim string) float64 {
	if s == nil {
		return 0
	}
	return s[dim]
}

// Flag reports whether a boolean dimension is set (value >= 0.5).
func (s ScoreVector) Flag(dim string) bool {
	return s.Get(dim) >= 0.5
}

// Clone returns an independent copy.
func (s ScoreVector) Clone() ScoreVector {
	if s == nil {
		return nil
	}
	out := make(ScoreVector, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// String renders the vector with sorted keys, for log lines.
func (s ScoreVector) String() string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(formatScore(s[k]))
	}
	return b.String()
}

// Payload is the content a candidate would submit.
type Payload struct {
	// Title is used by thread-creating actions.
	Title string `json:"title,omitempty"`
	// Text is the body submitted to the platform.
	Text string `json:"text,omitempty"`
	// Metadata carries platform context for drafting (story title, recent
	// segments, ...). Never submitted as content.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Content returns every piece of user-visible text in the payload.
func (p Payload) Content() string {
	if p.Title == "" {
		return p.Text
	}
	if p.Text == "" {
		return p.Title
	}
	return p.Title + "\n" + p.Text
}

// Candidate is a proposed action for one decision cycle.
type Candidate struct {
	// Kind is the action category.
	Kind Kind `json:"kind"`
	// TargetID is the resource the action applies to (branch or story id).
	// Empty for kind-wide actions.
	TargetID string `json:"target_id,omitempty"`
	// Payload is the content to submit.
	Payload Payload `json:"payload"`
	// Scores is the candidate's score vector.
	Scores ScoreVector `json:"scores,omitempty"`
}

// String returns "kind@target", used in log lines.
func (c Candidate) String() string {
	if c.TargetID == "" {
		return string(c.Kind)
	}
	return string(c.Kind) + "@" + c.TargetID
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
