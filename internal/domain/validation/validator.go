// Package validation checks a candidate action against the current policy
// before it is dispatched.
package validation

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Sentinel-Gate/inkgate/internal/domain/action"
	"github.com/Sentinel-Gate/inkgate/internal/domain/policy"
	"github.com/Sentinel-Gate/inkgate/internal/domain/quota"
)

// ReasonCode identifies why a candidate was rejected.
type ReasonCode string

const (
	// ReasonNone is the code of an accepted result.
	ReasonNone ReasonCode = ""
	// ReasonQuotaExceeded means the kind's sliding window is full.
	ReasonQuotaExceeded ReasonCode = "QUOTA_EXCEEDED"
	// ReasonForbiddenPattern means the content hit a forbidden pattern.
	ReasonForbiddenPattern ReasonCode = "FORBIDDEN_PATTERN"
	// ReasonRoleBoundary means the content oversteps the agent's role.
	ReasonRoleBoundary ReasonCode = "ROLE_BOUNDARY_VIOLATION"
	// ReasonContentLength means the content is too short or too long.
	ReasonContentLength ReasonCode = "CONTENT_LENGTH_INVALID"
	// ReasonMissingReference means a required reference token is absent.
	ReasonMissingReference ReasonCode = "MISSING_REQUIRED_REFERENCE"
)

// ReasonCodes lists every rejection code, in check order.
func ReasonCodes() []ReasonCode {
	return []ReasonCode{
		ReasonQuotaExceeded,
		ReasonForbiddenPattern,
		ReasonRoleBoundary,
		ReasonContentLength,
		ReasonMissingReference,
	}
}

// Result is the outcome of one validation.
type Result struct {
	Accepted bool       `json:"accepted"`
	Code     ReasonCode `json:"code,omitempty"`
	Message  string     `json:"message,omitempty"`
	// RetryAfter is set for QUOTA_EXCEEDED.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Accept returns an accepted result.
func Accept() Result {
	return Result{Accepted: true}
}

// Reject returns a rejected result.
func Reject(code ReasonCode, format string, args ...any) Result {
	return Result{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ActionValidator runs the ordered checks. It has no side effects: quota state
// is read, never recorded.
type ActionValidator struct {
	quotas quota.Tracker
}

// NewActionValidator creates a validator reading quota state from tracker.
func NewActionValidator(tracker quota.Tracker) *ActionValidator {
	return &ActionValidator{quotas: tracker}
}

// Validate checks c against snap. Checks run in order (quota, forbidden
// content, role boundary, format and length) and the first failure wins.
func (v *ActionValidator) Validate(snap policy.Snapshot, c action.Candidate) Result {
	rules := snap.Rules()

	if r := v.checkQuota(rules, c); !r.Accepted {
		return r
	}

	content := c.Payload.Content()
	if r := checkForbidden(rules.Forbidden, content); !r.Accepted {
		return r
	}
	if r := checkBoundary(rules.Boundary, content); !r.Accepted {
		return r
	}
	return checkFormat(rules, c)
}

func (v *ActionValidator) checkQuota(rules policy.Rules, c action.Candidate) Result {
	if v.quotas == nil {
		return Accept()
	}
	rule, ok := rules.Quotas[c.Kind]
	if !ok {
		rule = v.quotas.DefaultRule(c.Kind)
	}
	st := v.quotas.Status(quota.KeyFor(c.Kind, c.TargetID, rule), rule)
	if st.Allowed {
		return Accept()
	}
	r := Reject(ReasonQuotaExceeded, "%s quota of %d per %s reached", c.Kind, st.Limit, rule.Window)
	r.RetryAfter = st.RetryAfter
	return r
}

func checkForbidden(patterns []policy.ForbiddenPattern, content string) Result {
	lc := strings.ToLower(content)
	for _, p := range patterns {
		for _, kw := range p.Keywords {
			if kw != "" && strings.Contains(lc, strings.ToLower(kw)) {
				desc := p.Description
				if desc == "" {
					desc = kw
				}
				return Reject(ReasonForbiddenPattern, "content matches forbidden pattern %q", desc)
			}
		}
	}
	return Accept()
}

func checkBoundary(b policy.RoleBoundary, content string) Result {
	lc := strings.ToLower(content)
	for _, w := range b.ForbiddenWords {
		if w != "" && strings.Contains(lc, strings.ToLower(w)) {
			return Reject(ReasonRoleBoundary, "content contains forbidden word %q", w)
		}
	}
	if !b.NoFinalTruth {
		return Accept()
	}
	for _, p := range b.FinalTruthPatterns {
		if p != "" && strings.Contains(lc, strings.ToLower(p)) {
			return Reject(ReasonRoleBoundary, "content asserts a final truth (%q)", p)
		}
	}
	return Accept()
}

func checkFormat(rules policy.Rules, c action.Candidate) Result {
	if b, ok := rules.Lengths[c.Kind]; ok {
		n := utf8.RuneCountInString(c.Payload.Text)
		if b.Min > 0 && n < b.Min {
			return Reject(ReasonContentLength, "content too short: %d < %d", n, b.Min)
		}
		if b.Max > 0 && n > b.Max {
			return Reject(ReasonContentLength, "content too long: %d > %d", n, b.Max)
		}
	}

	refs := rules.References[c.Kind]
	if len(refs) == 0 {
		return Accept()
	}
	content := c.Payload.Content()
	for _, ref := range refs {
		if strings.Contains(content, ref) {
			return Accept()
		}
	}
	return Reject(ReasonMissingReference, "content must cite one of %s", strings.Join(refs, ", "))
}
