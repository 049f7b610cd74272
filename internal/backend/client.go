package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

var (
	// ErrMalformed is returned when a response body is not the JSON the
	// endpoint promises, or fails validation.
	ErrMalformed = errors.New("backend: malformed response")
	// ErrUnauthorized is matched by HTTP errors carrying 401 or 403.
	ErrUnauthorized = errors.New("backend: unauthorized")
	// ErrNoToken is returned by authenticated calls when no token is stored.
	ErrNoToken = errors.New("backend: no auth token")
)

// HTTPError is a non-2xx response.
type HTTPError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("backend: %s %s: status %d", e.Method, e.Path, e.Status)
}

// Is matches ErrUnauthorized for 401 and 403 responses.
func (e *HTTPError) Is(target error) bool {
	return target == ErrUnauthorized && (e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status
	}
	return 0
}

// TokenSource yields the stored bearer token. It is consulted on every call.
type TokenSource interface {
	Token() (string, error)
}

// Options configures a Client.
type Options struct {
	BaseURL             string
	Timeout             time.Duration
	SessionCheckTimeout time.Duration
	RetryMaxElapsed     time.Duration
}

// Client talks to the chat backend's REST surface.
type Client struct {
	http   *resty.Client
	tokens TokenSource
	logger *zap.Logger

	sessionCheckTimeout time.Duration
	retryMaxElapsed     time.Duration
}

// New creates a client. tokens may be nil for unauthenticated use only.
func New(opts Options, tokens TokenSource, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.SessionCheckTimeout <= 0 {
		opts.SessionCheckTimeout = 5 * time.Second
	}
	if opts.RetryMaxElapsed <= 0 {
		opts.RetryMaxElapsed = 10 * time.Second
	}

	h := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)

	return &Client{
		http:                h,
		tokens:              tokens,
		logger:              logger,
		sessionCheckTimeout: opts.SessionCheckTimeout,
		retryMaxElapsed:     opts.RetryMaxElapsed,
	}
}

func (c *Client) token() (string, error) {
	if c.tokens == nil {
		return "", ErrNoToken
	}
	tok, err := c.tokens.Token()
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	if tok == "" {
		return "", ErrNoToken
	}
	return tok, nil
}

type call struct {
	method string
	path   string
	body   any
	auth   bool
	retry  bool
}

// send performs c and returns the raw body of a 2xx response. GETs marked
// retry are retried with exponential backoff on transport errors and 5xx.
func (c *Client) send(ctx context.Context, cl call) ([]byte, error) {
	var token string
	if cl.auth {
		tok, err := c.token()
		if err != nil {
			return nil, err
		}
		token = tok
	}

	var body []byte
	op := func() error {
		req := c.http.R().SetContext(ctx)
		if token != "" {
			req.SetAuthToken(token)
		}
		if cl.body != nil {
			req.SetHeader("Content-Type", "application/json").SetBody(cl.body)
		}
		resp, err := req.Execute(cl.method, cl.path)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return fmt.Errorf("%s %s: %w", cl.method, cl.path, err)
		}
		if resp.IsError() {
			he := &HTTPError{Method: cl.method, Path: cl.path, Status: resp.StatusCode(), Body: truncate(resp.String(), 512)}
			if resp.StatusCode() >= http.StatusInternalServerError {
				return he
			}
			return backoff.Permanent(he)
		}
		body = resp.Body()
		return nil
	}

	if !cl.retry {
		err := op()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return nil, perm.Err
		}
		return body, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = c.retryMaxElapsed
	notify := func(err error, wait time.Duration) {
		c.logger.Debug("retrying backend call", zap.String("path", cl.path), zap.Duration("wait", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return body, nil
}

// validator is implemented by every response type.
type validator interface {
	Validate() error
}

func decode(data []byte, out validator) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := out.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
