package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/kalambet/folio/internal/profile"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultAttempts = 3
	initialBackoff  = 200 * time.Millisecond
	maxRecordSize   = 2 << 20 // 2MB
)

// Client talks to the profile REST backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	attempts   uint
	backoff    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry sets the number of attempts for retryable failures and the
// initial backoff between them. attempts below 1 are treated as 1.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *Client) {
		if attempts < 1 {
			attempts = 1
		}
		c.attempts = uint(attempts)
		c.backoff = backoff
	}
}

// NewClient creates a Client for the backend rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		attempts:   defaultAttempts,
		backoff:    initialBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) GetCurrentProfile(ctx context.Context) (profile.Record, error) {
	const op = "get current profile"
	if _, ok := SessionFrom(ctx); !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}
	data, err := c.fetch(ctx, op, http.MethodGet, "/api/profile/me", nil)
	if err != nil {
		return nil, err
	}
	return decodeRecord(op, data)
}

func (c *Client) GetProfileByUsername(ctx context.Context, username string) (profile.Record, error) {
	const op = "get profile by username"
	if strings.TrimSpace(username) == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	data, err := c.fetch(ctx, op, http.MethodGet, "/api/profile/username/"+url.PathEscape(username), nil)
	if err != nil {
		return nil, err
	}
	return decodeRecord(op, data)
}

func (c *Client) UpdateSelectedTemplate(ctx context.Context, id string) error {
	const op = "update selected template"
	if _, ok := SessionFrom(ctx); !ok {
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}
	body, err := json.Marshal(map[string]string{"selectedTemplate": id})
	if err != nil {
		return fmt.Errorf("%s: marshalling body: %w", op, err)
	}
	_, err = c.fetch(ctx, op, http.MethodPut, "/api/profile/template", body)
	return err
}

// fetch performs a request, retrying transport failures and 5xx responses
// with exponential backoff. Auth and not-found errors are returned at once.
func (c *Client) fetch(ctx context.Context, op, method, path string, body []byte) ([]byte, error) {
	return retry.DoWithData(
		func() ([]byte, error) {
			return c.do(ctx, op, method, path, body)
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.backoff),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, ErrNetwork)
		}),
	)
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: creating request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token, ok := SessionFrom(ctx); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRecordSize))
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &NetworkError{Op: op, Status: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%s: unexpected status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

func decodeRecord(op string, data []byte) (profile.Record, error) {
	rec, err := profile.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrMalformedRecord, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return rec, nil
}
