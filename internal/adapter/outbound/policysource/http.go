// Package policysource provides policy.Source implementations: the platform's
// well-known HTTP endpoint and a local directory.
package policysource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/Sentinel-Gate/inkgate/internal/domain/policy"
)

const (
	// wellKnownPrefix is where the platform publishes agent documents.
	wellKnownPrefix = "/.well-known/"
	// maxDocumentSize caps a fetched document.
	maxDocumentSize = 1 << 20
	defaultRetries  = 2
	defaultBackoff  = 500 * time.Millisecond
)

// ErrUnknownDocument is returned for names with no configured file.
var ErrUnknownDocument = errors.New("unknown policy document")

// StatusError is a non-2xx response from the policy endpoint.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
}

// HTTPSource fetches documents from <base>/.well-known/<file>.
type HTTPSource struct {
	baseURL string
	files   map[string]string
	client  *http.Client
	retries uint64
	backoff time.Duration
	logger  *slog.Logger
}

// HTTPOption configures HTTPSource.
type HTTPOption func(*HTTPSource)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSource) {
		if c != nil {
			s.client = c
		}
	}
}

// WithRetry sets how many times a transient failure is retried and the base
// Fibonacci backoff.
func WithRetry(retries uint64, backoff time.Duration) HTTPOption {
	return func(s *HTTPSource) {
		s.retries = retries
		if backoff > 0 {
			s.backoff = backoff
		}
	}
}

// NewHTTPSource creates a source. files maps document name to file name under
// /.well-known/; a name missing from files is fetched as "<name>.json".
func NewHTTPSource(baseURL string, files map[string]string, logger *slog.Logger, opts ...HTTPOption) (*HTTPSource, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid policy source URL %q", baseURL)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		files:   make(map[string]string, len(files)),
		client:  &http.Client{Timeout: 30 * time.Second},
		retries: defaultRetries,
		backoff: defaultBackoff,
		logger:  logger,
	}
	for name, file := range files {
		s.files[name] = file
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// URL returns the address a document is fetched from.
func (s *HTTPSource) URL(name string) (string, error) {
	file, ok := s.files[name]
	if !ok {
		file = name + ".json"
	}
	if file == "" || strings.Contains(file, "..") || strings.ContainsAny(file, "?#") {
		return "", fmt.Errorf("%w: %q", ErrUnknownDocument, name)
	}
	return s.baseURL + wellKnownPrefix + strings.TrimLeft(file, "/"), nil
}

// Fetch implements policy.Source. Transport errors and 5xx/429 responses are
// retried with Fibonacci backoff; other statuses fail immediately.
func (s *HTTPSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	target, err := s.URL(name)
	if err != nil {
		return nil, err
	}

	var body []byte
	b := retry.WithMaxRetries(s.retries, retry.NewFibonacci(s.backoff))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		data, err := s.get(ctx, target)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && se.StatusCode != http.StatusTooManyRequests && se.StatusCode < 500 {
				return err
			}
			s.logger.Debug("policy fetch failed, retrying", "policy", name, "error", err)
			return retry.RetryableError(err)
		}
		body = data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch policy %q: %w", name, err)
	}
	return body, nil
}

func (s *HTTPSource) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json, application/yaml;q=0.9, */*;q=0.5")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: target, StatusCode: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxDocumentSize {
		return nil, fmt.Errorf("document larger than %d bytes", maxDocumentSize)
	}
	return data, nil
}

// Compile-time interface verification.
var _ policy.Source = (*HTTPSource)(nil)
