package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/Sentinel-Gate/inkgate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/inkgate/internal/domain/action"
	"github.com/Sentinel-Gate/inkgate/internal/domain/journal"
	"github.com/Sentinel-Gate/inkgate/internal/domain/quota"
	"github.com/Sentinel-Gate/inkgate/internal/domain/routing"
	"github.com/Sentinel-Gate/inkgate/internal/domain/validation"
)

// ErrNoJournal is returned by Decisions when no queryable journal is set.
var ErrNoJournal = errors.New("decision journal is not queryable")

// StatusService answers read-only questions about the agent (policies,
// quotas, recent decisions) and runs dry-run validation and routing. It is
// shared by the HTTP status API, the MCP tools and the CLI.
type StatusService struct {
	policies  *PolicyService
	quotas    *memory.QuotaTracker
	router    *routing.Router
	validator *validation.ActionValidator
	journal   journal.QueryStore
	loop      *DecisionLoop
}

// StatusOption configures StatusService.
type StatusOption func(*StatusService)

// WithJournalQuery enables Decisions.
func WithJournalQuery(q journal.QueryStore) StatusOption {
	return func(s *StatusService) { s.journal = q }
}

// WithLoop exposes the loop's last cycle in PolicyStatus.
func WithLoop(l *DecisionLoop) StatusOption {
	return func(s *StatusService) { s.loop = l }
}

// NewStatusService creates a StatusService.
func NewStatusService(policies *PolicyService, quotas *memory.QuotaTracker, router *routing.Router, validator *validation.ActionValidator, opts ...StatusOption) *StatusService {
	s := &StatusService{
		policies:  policies,
		quotas:    quotas,
		router:    router,
		validator: validator,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PolicyDocumentStatus describes one loaded document.
type PolicyDocumentStatus struct {
	Name      string    `json:"name"`
	Hash      string    `json:"hash"`
	FetchedAt time.Time `json:"fetched_at"`
	Keys      []string  `json:"keys"`
}

// PolicyStatus is the state of the policy snapshot.
type PolicyStatus struct {
	Version   string                 `json:"version"`
	LastCheck *time.Time             `json:"last_check,omitempty"`
	CheckDue  bool                   `json:"check_due"`
	Documents []PolicyDocumentStatus `json:"documents"`
	// LastCycle is the most recent cycle's outcome, if the loop is running.
	LastCycle *journal.Record `json:"last_cycle,omitempty"`
}

// PolicyStatus reports the loaded documents and the daily-check gate.
func (s *StatusService) PolicyStatus() PolicyStatus {
	snap := s.policies.Snapshot()
	out := PolicyStatus{
		Version:   snap.Version(),
		CheckDue:  s.policies.ShouldCheckToday(),
		Documents: []PolicyDocumentStatus{},
	}
	if lc := s.policies.LastCheck(); !lc.IsZero() {
		out.LastCheck = &lc
	}
	for _, doc := range snap.Documents() {
		keys := make([]string, 0, len(doc.Content))
		for k := range doc.Content {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out.Documents = append(out.Documents, PolicyDocumentStatus{
			Name:      doc.Name,
			Hash:      doc.Hash,
			FetchedAt: doc.FetchedAt,
			Keys:      keys,
		})
	}
	if s.loop != nil {
		if r, ok := s.loop.LastReport(); ok {
			rec := r.Record()
			out.LastCycle = &rec
		}
	}
	return out
}

// QuotaEntry is one live quota window under its effective rule.
type QuotaEntry struct {
	Key         string      `json:"key"`
	Kind        action.Kind `json:"kind"`
	Scope       string      `json:"scope,omitempty"`
	Count       int         `json:"count"`
	Limit       int         `json:"limit"`
	Window      string      `json:"window"`
	PerResource bool        `json:"per_resource"`
	Allowed     bool        `json:"allowed"`
	RetryAfter  string      `json:"retry_after,omitempty"`
}

// QuotaStatus lists every tracked window the effective rules apply to,
// sorted by key. Policy rules override the tracker defaults.
func (s *StatusService) QuotaStatus() []QuotaEntry {
	rules := s.policies.Snapshot().Rules()
	out := []QuotaEntry{}
	for key := range s.quotas.Snapshot() {
		rule := s.ruleFor(rules.Quotas, key.Kind)
		if !rule.Valid() || rule.PerResource != (key.Scope != "") {
			continue
		}
		st := s.quotas.Status(key, rule)
		e := QuotaEntry{
			Key:         key.String(),
			Kind:        key.Kind,
			Scope:       key.Scope,
			Count:       st.Count,
			Limit:       st.Limit,
			Window:      rule.Window.String(),
			PerResource: rule.PerResource,
			Allowed:     st.Allowed,
		}
		if st.RetryAfter > 0 {
			e.RetryAfter = st.RetryAfter.Round(time.Second).String()
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (s *StatusService) ruleFor(overrides map[action.Kind]quota.Rule, kind action.Kind) quota.Rule {
	if r, ok := overrides[kind]; ok {
		return r
	}
	return s.quotas.DefaultRule(kind)
}

// Decisions queries the journal.
func (s *StatusService) Decisions(ctx context.Context, f journal.Filter) ([]journal.Record, error) {
	if s.journal == nil {
		return nil, ErrNoJournal
	}
	return s.journal.Query(ctx, f)
}

// ValidateAction runs the validator on c against the current snapshot after
// the same sanitization the loop applies. Nothing is recorded.
func (s *StatusService) ValidateAction(c action.Candidate) validation.Result {
	c.Payload = validation.SanitizePayload(c.Payload)
	return s.validator.Validate(s.policies.Snapshot(), c)
}

// RouteCandidates runs the router on candidates against the current snapshot.
func (s *StatusService) RouteCandidates(candidates []action.Candidate) routing.Decision {
	return s.router.Route(s.policies.Snapshot(), candidates)
}
