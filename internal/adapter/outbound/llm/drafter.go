// Package llm drafts payload text for picked candidates through an
// OpenAI-compatible chat completion endpoint.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/Sentinel-Gate/inkgate/internal/domain/action"
	"github.com/Sentinel-Gate/inkgate/internal/domain/policy"
	"github.com/Sentinel-Gate/inkgate/internal/service"
)

const (
	defaultModel       = "gpt-4o-mini"
	defaultTemperature = 0.8
	defaultMaxTokens   = 1200
	titlePrefix        = "TITLE:"
)

// ErrEmptyDraft is returned when the model produced no usable text.
var ErrEmptyDraft = errors.New("model returned an empty draft")

// systemPrompt frames every request.
const systemPrompt = "You are a co-author on a collaborative fiction platform. " +
	"You write in the voice of the story, never as an assistant, and you never claim " +
	"knowledge of how the story must end."

// Config configures the Drafter.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
}

// Drafter implements service.Drafter.
type Drafter struct {
	client *openai.Client
	cfg    Config
	logger *slog.Logger
}

// NewDrafter creates a Drafter. An empty BaseURL uses the OpenAI API.
func NewDrafter(cfg Config, logger *slog.Logger) *Drafter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &Drafter{client: openai.NewClientWithConfig(oc), cfg: cfg, logger: logger}
}

// Draft asks the model for c's payload. Title and metadata already on the
// candidate are kept.
func (d *Drafter) Draft(ctx context.Context, snap policy.Snapshot, c action.Candidate) (action.Payload, error) {
	prompt := BuildPrompt(snap.Rules(), c)

	req := openai.ChatCompletionRequest{
		Model: d.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: d.cfg.Temperature,
		MaxTokens:   d.cfg.MaxTokens,
	}

	resp, err := d.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return action.Payload{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return action.Payload{}, ErrEmptyDraft
	}
	d.logger.Debug("draft received", "kind", c.Kind, "target", c.TargetID,
		"finish_reason", resp.Choices[0].FinishReason, "tokens", resp.Usage.TotalTokens)

	out := c.Payload
	title, text := splitTitle(resp.Choices[0].Message.Content)
	if c.Kind == action.KindCreateThread && out.Title == "" {
		out.Title = title
	}
	out.Text = text
	if out.Text == "" {
		return action.Payload{}, ErrEmptyDraft
	}
	return out, nil
}

// BuildPrompt renders the user prompt for c, including the policy limits the
// draft has to respect.
func BuildPrompt(rules policy.Rules, c action.Candidate) string {
	meta := c.Payload.Metadata
	var b strings.Builder

	switch c.Kind {
	case action.KindContinue:
		fmt.Fprintf(&b, "Continue the branch %q of the story %q with the next segment.\n",
			meta["branch_title"], meta["story_title"])
	case action.KindCreateThread:
		fmt.Fprintf(&b, "Open a new branch of the story %q that takes it somewhere unexpected.\n", meta["story_title"])
		fmt.Fprintf(&b, "Start your answer with a line %q followed by the branch title, then the opening segment.\n", titlePrefix)
	case action.KindComment:
		fmt.Fprintf(&b, "Write a short discussion comment on the branch %q of the story %q.\n",
			meta["branch_title"], meta["story_title"])
		b.WriteString("Point out one contradiction or open question.\n")
	default:
		fmt.Fprintf(&b, "Write content for a %s action.\n", c.Kind)
	}

	if lb, ok := rules.Lengths[c.Kind]; ok {
		switch {
		case lb.Min > 0 && lb.Max > 0:
			fmt.Fprintf(&b, "Length: between %d and %d characters.\n", lb.Min, lb.Max)
		case lb.Max > 0:
			fmt.Fprintf(&b, "Length: at most %d characters.\n", lb.Max)
		case lb.Min > 0:
			fmt.Fprintf(&b, "Length: at least %d characters.\n", lb.Min)
		}
	}
	if refs := rules.References[c.Kind]; len(refs) > 0 {
		fmt.Fprintf(&b, "Cite at least one reference token of the form: %s.\n", strings.Join(refs, ", "))
	} else if c.Kind == action.KindComment {
		b.WriteString("Cite the evidence, stance or gap you refer to as E-<n>, S-<n> or GAP-<n>.\n")
	}

	var avoid []string
	for _, p := range rules.Forbidden {
		avoid = append(avoid, p.Keywords...)
	}
	avoid = append(avoid, rules.Boundary.ForbiddenWords...)
	if len(avoid) > 0 {
		fmt.Fprintf(&b, "Never use these words or phrases: %s.\n", strings.Join(avoid, "; "))
	}
	b.WriteString("Answer with the content only.")
	return b.String()
}

// splitTitle separates a leading "TITLE: ..." line from the body.
func splitTitle(s string) (title, body string) {
	s = strings.TrimSpace(s)
	first, rest, found := strings.Cut(s, "\n")
	if !strings.HasPrefix(strings.ToUpper(first), titlePrefix) {
		return "", s
	}
	title = strings.TrimSpace(first[len(titlePrefix):])
	if !found {
		return title, ""
	}
	return title, strings.TrimSpace(rest)
}

// Compile-time interface verification.
var _ service.Drafter = (*Drafter)(nil)
