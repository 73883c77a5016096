package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Sentinel-Gate/inkgate/internal/domain/action"
	"github.com/Sentinel-Gate/inkgate/internal/domain/validation"
	"github.com/Sentinel-Gate/inkgate/internal/service"
)

// Metadata keys set on candidates.
const (
	MetaStoryID     = "story_id"
	MetaStoryTitle  = "story_title"
	MetaBranchTitle = "branch_title"
)

const (
	defaultMaxStories  = 20
	defaultMaxBranches = 6
)

// DefaultProfiles returns the score vector assigned to each candidate kind
// when no profile is configured.
func DefaultProfiles() map[action.Kind]action.ScoreVector {
	base := action.ScoreVector{
		action.DimContinuity: 0.5,
		action.DimNovelty:    0.5,
		action.DimConflict:   0.5,
		action.DimCoverage:   0.3,
		action.DimRisk:       0.3,
	}
	return map[action.Kind]action.ScoreVector{
		action.KindContinue:     base.Clone(),
		action.KindCreateThread: base.Clone(),
		action.KindComment:      base.Clone(),
	}
}

// Agent adapts Client to service.Platform.
type Agent struct {
	client      *Client
	profiles    map[action.Kind]action.ScoreVector
	maxStories  int
	maxBranches int
	logger      *slog.Logger
}

// AgentOption configures Agent.
type AgentOption func(*Agent)

// WithProfiles overrides the score profile of the given kinds.
func WithProfiles(p map[action.Kind]action.ScoreVector) AgentOption {
	return func(a *Agent) {
		for k, v := range p {
			a.profiles[k] = v.Clone()
		}
	}
}

// WithLimits sets how many stories and branches per story are scanned.
func WithLimits(stories, branches int) AgentOption {
	return func(a *Agent) {
		if stories > 0 {
			a.maxStories = stories
		}
		if branches > 0 {
			a.maxBranches = branches
		}
	}
}

// NewAgent creates an Agent.
func NewAgent(client *Client, logger *slog.Logger, opts ...AgentOption) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Agent{
		client:      client,
		profiles:    DefaultProfiles(),
		maxStories:  defaultMaxStories,
		maxBranches: defaultMaxBranches,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ListCandidateActions returns one continue candidate per active branch, one
// create_thread candidate per story and one comment candidate on each story's
// most active branch. Payloads are empty; the drafter fills the picked one.
// A story whose branches cannot be listed is skipped.
func (a *Agent) ListCandidateActions(ctx context.Context) ([]action.Candidate, error) {
	stories, err := a.client.ListStories(ctx, a.maxStories)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}

	var out []action.Candidate
	for _, st := range stories {
		if validation.ValidateTargetID(st.ID) != nil {
			a.logger.Warn("skipping story with invalid id", "story_id", st.ID)
			continue
		}
		branches, err := a.client.ListBranches(ctx, st.ID, a.maxBranches)
		if err != nil {
			a.logger.Warn("failed to list branches", "story_id", st.ID, "error", err)
			continue
		}

		var mostActive *Branch
		for i := range branches {
			br := branches[i]
			if !br.Active() || validation.ValidateTargetID(br.ID) != nil {
				continue
			}
			if mostActive == nil {
				mostActive = &branches[i]
			}
			out = append(out, a.candidate(action.KindContinue, br.ID, action.Payload{
				Metadata: map[string]string{MetaStoryID: st.ID, MetaStoryTitle: st.Title, MetaBranchTitle: br.Title},
			}))
		}

		out = append(out, a.candidate(action.KindCreateThread, st.ID, action.Payload{
			Metadata: map[string]string{MetaStoryID: st.ID, MetaStoryTitle: st.Title},
		}))

		if mostActive != nil {
			out = append(out, a.candidate(action.KindComment, mostActive.ID, action.Payload{
				Metadata: map[string]string{MetaStoryID: st.ID, MetaStoryTitle: st.Title, MetaBranchTitle: mostActive.Title},
			}))
		}
	}
	return out, nil
}

func (a *Agent) candidate(kind action.Kind, target string, p action.Payload) action.Candidate {
	return action.Candidate{
		Kind:     kind,
		TargetID: target,
		Payload:  p,
		Scores:   a.profiles[kind].Clone(),
	}
}

// Dispatch submits c. 4xx responses other than 429 are wrapped in
// service.ErrDispatchRejected.
func (a *Agent) Dispatch(ctx context.Context, c action.Candidate) (service.DispatchResult, error) {
	if err := validation.ValidateTargetID(c.TargetID); err != nil {
		return service.DispatchResult{}, err
	}

	var (
		id   string
		err  error
		info string
	)
	switch c.Kind {
	case action.KindContinue:
		id, err = a.client.SubmitSegment(ctx, c.TargetID, c.Payload.Text)
		info = "segment submitted"
	case action.KindCreateThread:
		id, err = a.client.CreateBranch(ctx, c.TargetID, c.Payload.Title, c.Payload.Metadata["description"], c.Payload.Text)
		info = "branch created"
	case action.KindComment:
		id, err = a.client.PostComment(ctx, c.TargetID, c.Payload.Text)
		info = "comment posted"
	default:
		return service.DispatchResult{}, fmt.Errorf("%w: unsupported kind %q", service.ErrDispatchRejected, c.Kind)
	}
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return service.DispatchResult{}, fmt.Errorf("%w: %w", service.ErrDispatchRejected, err)
		}
		return service.DispatchResult{}, err
	}

	a.logger.Info("action dispatched", "kind", c.Kind, "target", c.TargetID, "resource_id", id)
	return service.DispatchResult{ResourceID: id, Info: info}, nil
}

// Compile-time interface verification.
var _ service.Platform = (*Agent)(nil)
