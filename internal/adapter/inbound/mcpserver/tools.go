package mcpserver

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sentinel-Gate/inkgate/internal/domain/action"
	"github.com/Sentinel-Gate/inkgate/internal/domain/routing"
	"github.com/Sentinel-Gate/inkgate/internal/service"
)

// CandidateInput describes one proposed action.
type CandidateInput struct {
	Kind     string             `json:"kind" jsonschema:"action kind: continue, create_thread or comment (aliases accepted)"`
	TargetID string             `json:"target_id,omitempty" jsonschema:"branch or story the action applies to"`
	Title    string             `json:"title,omitempty" jsonschema:"title for thread-creating actions"`
	Text     string             `json:"text,omitempty" jsonschema:"content that would be submitted"`
	Scores   map[string]float64 `json:"scores,omitempty" jsonschema:"score vector (continuity, novelty, conflict, risk, flags)"`
}

func (in CandidateInput) candidate() (action.Candidate, error) {
	kind, ok := action.ParseKind(in.Kind)
	if !ok {
		return action.Candidate{}, fmt.Errorf("unknown kind %q", in.Kind)
	}
	return action.Candidate{
		Kind:     kind,
		TargetID: in.TargetID,
		Payload:  action.Payload{Title: in.Title, Text: in.Text},
		Scores:   action.ScoreVector(in.Scores),
	}, nil
}

// ValidateActionResult is the validate_action output.
type ValidateActionResult struct {
	Accepted   bool   `json:"accepted" jsonschema:"whether the action passes every policy check"`
	ReasonCode string `json:"reason_code,omitempty" jsonschema:"rejection reason code"`
	Message    string `json:"message,omitempty" jsonschema:"human-readable rejection detail"`
	RetryAfter string `json:"retry_after,omitempty" jsonschema:"wait before the quota allows the action again"`
}

// RouteCandidatesInput is the route_candidates input.
type RouteCandidatesInput struct {
	Candidates []CandidateInput `json:"candidates" jsonschema:"candidate actions for one decision"`
}

// RouteCandidatesResult is the route_candidates output.
type RouteCandidatesResult struct {
	Silent     bool                 `json:"silent" jsonschema:"true when no action should be taken"`
	Selected   *CandidateInput      `json:"selected,omitempty" jsonschema:"the chosen action"`
	Reason     string               `json:"reason" jsonschema:"why the action was chosen or why silence"`
	Thresholds routing.Thresholds   `json:"thresholds" jsonschema:"effective score thresholds"`
	Trace      []routing.TraceEntry `json:"trace,omitempty" jsonschema:"per-candidate evaluation"`
}

// PolicyDocument is one loaded policy document.
type PolicyDocument struct {
	Name      string   `json:"name"`
	Hash      string   `json:"hash"`
	FetchedAt string   `json:"fetched_at" jsonschema:"RFC 3339"`
	Keys      []string `json:"keys" jsonschema:"top-level keys present in the document"`
}

// PolicyStatusResult is the policy_status output.
type PolicyStatusResult struct {
	Version     string           `json:"version" jsonschema:"combined hash of the loaded documents"`
	LastCheck   string           `json:"last_check,omitempty" jsonschema:"RFC 3339 time of the last update check"`
	CheckDue    bool             `json:"check_due" jsonschema:"whether the daily update check is still due"`
	Documents   []PolicyDocument `json:"documents"`
	LastOutcome string           `json:"last_outcome,omitempty" jsonschema:"outcome of the most recent decision cycle"`
}

// QuotaStatusResult is the quota_status output.
type QuotaStatusResult struct {
	Quotas []service.QuotaEntry `json:"quotas"`
}

type emptyInput struct{}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "validate_action",
		Description: "Check one proposed action against the published policies and quotas without performing it",
	}, s.validateAction)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "route_candidates",
		Description: "Pick at most one action from scored candidates; silence is the default",
	}, s.routeCandidates)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "policy_status",
		Description: "Show the loaded policy documents and whether the daily update check is due",
	}, s.policyStatus)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "quota_status",
		Description: "List live quota windows with counts, limits and retry times",
	}, s.quotaStatus)
}

func (s *Server) validateAction(_ context.Context, _ *mcp.CallToolRequest, in CandidateInput) (*mcp.CallToolResult, ValidateActionResult, error) {
	c, err := in.candidate()
	if err != nil {
		return nil, ValidateActionResult{}, err
	}
	r := s.status.ValidateAction(c)
	out := ValidateActionResult{
		Accepted:   r.Accepted,
		ReasonCode: string(r.Code),
		Message:    r.Message,
	}
	if r.RetryAfter > 0 {
		out.RetryAfter = r.RetryAfter.Round(time.Second).String()
	}
	s.logger.Debug("validate_action", "kind", c.Kind, "target", c.TargetID, "accepted", r.Accepted, "reason_code", r.Code)
	return nil, out, nil
}

func (s *Server) routeCandidates(_ context.Context, _ *mcp.CallToolRequest, in RouteCandidatesInput) (*mcp.CallToolResult, RouteCandidatesResult, error) {
	candidates := make([]action.Candidate, 0, len(in.Candidates))
	for i, ci := range in.Candidates {
		c, err := ci.candidate()
		if err != nil {
			return nil, RouteCandidatesResult{}, fmt.Errorf("candidate %d: %w", i, err)
		}
		candidates = append(candidates, c)
	}
	d := s.status.RouteCandidates(candidates)
	out := RouteCandidatesResult{
		Silent:     d.Silent(),
		Reason:     d.Reason,
		Thresholds: d.Thresholds,
		Trace:      d.Trace,
	}
	if c := d.Candidate; c != nil {
		out.Selected = &CandidateInput{
			Kind:     string(c.Kind),
			TargetID: c.TargetID,
			Title:    c.Payload.Title,
			Text:     c.Payload.Text,
			Scores:   c.Scores,
		}
	}
	return nil, out, nil
}

func (s *Server) policyStatus(context.Context, *mcp.CallToolRequest, emptyInput) (*mcp.CallToolResult, PolicyStatusResult, error) {
	ps := s.status.PolicyStatus()
	out := PolicyStatusResult{
		Version:   ps.Version,
		CheckDue:  ps.CheckDue,
		Documents: make([]PolicyDocument, 0, len(ps.Documents)),
	}
	if ps.LastCheck != nil {
		out.LastCheck = ps.LastCheck.UTC().Format(time.RFC3339)
	}
	if ps.LastCycle != nil {
		out.LastOutcome = string(ps.LastCycle.Outcome)
	}
	for _, d := range ps.Documents {
		out.Documents = append(out.Documents, PolicyDocument{
			Name:      d.Name,
			Hash:      d.Hash,
			FetchedAt: d.FetchedAt.UTC().Format(time.RFC3339),
			Keys:      d.Keys,
		})
	}
	return nil, out, nil
}

func (s *Server) quotaStatus(context.Context, *mcp.CallToolRequest, emptyInput) (*mcp.CallToolResult, QuotaStatusResult, error) {
	return nil, QuotaStatusResult{Quotas: s.status.QuotaStatus()}, nil
}
