// Package platform is the HTTP client for the collaborative-fiction platform:
// it lists stories and branches, turns them into scored candidates and
// dispatches picked actions.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/Sentinel-Gate/inkgate/internal/ctxkey"
)

const (
	defaultTimeout    = 60 * time.Second
	defaultRetries    = 2
	defaultBackoff    = time.Second
	maxRetryAfter     = 2 * time.Minute
	maxResponseSize   = 4 << 20
	maxErrorBodyBytes = 512
)

// APIError is a non-2xx platform response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	// RetryAfter is the server's Retry-After hint, if any.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("platform API %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("platform API %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client talks to the platform REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	retries uint64
	backoff time.Duration
	logger  *slog.Logger
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.http.Timeout = d
		}
	}
}

// WithRetry sets the retry count and base Fibonacci backoff.
func WithRetry(retries uint64, backoff time.Duration) Option {
	return func(cl *Client) {
		cl.retries = retries
		if backoff > 0 {
			cl.backoff = backoff
		}
	}
}

// NewClient creates a client for baseURL (e.g. https://host/api/v1).
func NewClient(baseURL, apiKey string, logger *slog.Logger, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid platform URL %q", baseURL)
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultTimeout},
		retries: defaultRetries,
		backoff: defaultBackoff,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Story is a platform story.
type Story struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
}

// Branch is a story branch.
type Branch struct {
	ID              string `json:"id"`
	StoryID         string `json:"story_id,omitempty"`
	Title           string `json:"title"`
	Status          string `json:"status,omitempty"`
	SegmentsCount   int    `json:"segments_count,omitempty"`
	ActiveBotsCount int    `json:"active_bots_count,omitempty"`
}

// Active reports whether the branch accepts new segments.
func (b Branch) Active() bool {
	return b.Status == "" || b.Status == "active"
}

// ListStories returns up to limit stories.
func (c *Client) ListStories(ctx context.Context, limit int) ([]Story, error) {
	var out struct {
		Data struct {
			Stories []Story `json:"stories"`
		} `json:"data"`
	}
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if err := c.do(ctx, http.MethodGet, "/stories?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Data.Stories, nil
}

// ListBranches returns up to limit branches of a story, most active first.
func (c *Client) ListBranches(ctx context.Context, storyID string, limit int) ([]Branch, error) {
	var out struct {
		Data struct {
			Branches []Branch `json:"branches"`
		} `json:"data"`
	}
	q := url.Values{"limit": {strconv.Itoa(limit)}, "sort": {"activity"}}
	path := "/stories/" + url.PathEscape(storyID) + "/branches?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Data.Branches, nil
}

// created is the common shape of create responses. The platform returns the
// new object either under "data" or under a kind-specific key.
type created struct {
	Data    *struct{ ID string } `json:"data"`
	Segment *struct{ ID string } `json:"segment"`
	Comment *struct{ ID string } `json:"comment"`
}

func (r created) id() string {
	switch {
	case r.Segment != nil && r.Segment.ID != "":
		return r.Segment.ID
	case r.Comment != nil && r.Comment.ID != "":
		return r.Comment.ID
	case r.Data != nil:
		return r.Data.ID
	}
	return ""
}

// SubmitSegment appends a segment to a branch.
func (c *Client) SubmitSegment(ctx context.Context, branchID, content string) (string, error) {
	var out created
	body := map[string]string{"content": content}
	if err := c.do(ctx, http.MethodPost, "/branches/"+url.PathEscape(branchID)+"/segments", body, &out); err != nil {
		return "", err
	}
	return out.id(), nil
}

// CreateBranch opens a new branch on a story.
func (c *Client) CreateBranch(ctx context.Context, storyID, title, description, initialSegment string) (string, error) {
	var out created
	body := map[string]string{"title": title, "description": description}
	if initialSegment != "" {
		body["initial_segment"] = initialSegment
	}
	if err := c.do(ctx, http.MethodPost, "/stories/"+url.PathEscape(storyID)+"/branches", body, &out); err != nil {
		return "", err
	}
	return out.id(), nil
}

// PostComment adds a discussion comment to a branch.
func (c *Client) PostComment(ctx context.Context, branchID, content string) (string, error) {
	var out created
	body := map[string]string{"content": content}
	if err := c.do(ctx, http.MethodPost, "/branches/"+url.PathEscape(branchID)+"/comments", body, &out); err != nil {
		return "", err
	}
	return out.id(), nil
}

// do sends one request with retries. GETs retry on transport errors, 429 and
// 5xx; POSTs retry only on 429, which the platform returns before doing any
// work, so content is never submitted twice.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	logger := ctxkey.Logger(ctx, c.logger)
	b := retry.WithMaxRetries(c.retries, retry.NewFibonacci(c.backoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := c.once(ctx, logger, method, path, payload, out)
		if err == nil {
			return nil
		}

		var apiErr *APIError
		isAPI := errors.As(err, &apiErr)
		switch {
		case isAPI && apiErr.StatusCode == http.StatusTooManyRequests:
			if wait := apiErr.RetryAfter; wait > 0 {
				logger.Warn("platform rate limited", "path", path, "retry_after", wait)
				if err := sleepCtx(ctx, min(wait, maxRetryAfter)); err != nil {
					return err
				}
			}
			return retry.RetryableError(err)
		case method != http.MethodGet:
			return err
		case isAPI && !apiErr.Temporary():
			return err
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return err
		}
		logger.Debug("platform request failed, retrying", "method", method, "path", path, "error", err)
		return retry.RetryableError(err)
	})
}

func (c *Client) once(ctx context.Context, logger *slog.Logger, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	logger.Debug("platform request", "method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode >= 400 {
		return parseAPIError(resp, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

func parseAPIError(resp *http.Response, data []byte) *APIError {
	e := &APIError{StatusCode: resp.StatusCode}
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &env) == nil && (env.Error.Code != "" || env.Error.Message != "") {
		e.Code = env.Error.Code
		e.Message = env.Error.Message
	} else {
		msg := strings.TrimSpace(string(data))
		if len(msg) > maxErrorBodyBytes {
			msg = msg[:maxErrorBodyBytes]
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		e.Message = msg
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			e.RetryAfter = time.Duration(secs) * time.Second
		} else if t, err := http.ParseTime(ra); err == nil {
			e.RetryAfter = time.Until(t)
		}
	}
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
