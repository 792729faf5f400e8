// Package apiclient performs upstream HTTP calls with a bounded retry policy.
package apiclient

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

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/ad-tracker/analytics-sync-go/internal/apperr"
	"github.com/ad-tracker/analytics-sync-go/internal/config"
	"github.com/ad-tracker/analytics-sync-go/internal/metrics"
	"github.com/ad-tracker/analytics-sync-go/pkg/logger"
)

// maxBodySize caps how much of an upstream body is read.
const maxBodySize = 16 << 20

// HTTPClient defines the interface for making HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Policy controls retries. Only Retryable statuses and network errors are
// retried, and never more than MaxAttempts times in total.
type Policy struct {
	MaxAttempts int
	// Backoff returns the wait after the given failed attempt (1-based).
	Backoff        func(attempt int) time.Duration
	Retryable      func(status int) bool
	AttemptTimeout time.Duration
}

// LinearBackoff waits attempt*base after each failure: base, 2*base, 3*base...
func LinearBackoff(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * base
	}
}

// NoBackoff retries immediately.
func NoBackoff(int) time.Duration { return 0 }

// RetryServerErrors retries 5xx responses.
func RetryServerErrors(status int) bool {
	return status >= http.StatusInternalServerError
}

// DefaultPolicy is three attempts with 1s linear backoff, retrying 5xx.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		Backoff:        LinearBackoff(time.Second),
		Retryable:      RetryServerErrors,
		AttemptTimeout: 30 * time.Second,
	}
}

// PolicyFromConfig builds a Policy from the http config section.
func PolicyFromConfig(cfg config.HTTPConfig) Policy {
	p := DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelay > 0 {
		p.Backoff = LinearBackoff(cfg.BaseDelay)
	}
	if cfg.Timeout > 0 {
		p.AttemptTimeout = cfg.Timeout
	}
	return p
}

// Request describes one upstream call. Form, when set, is sent as an
// urlencoded body. Token, when set, is sent as a bearer credential.
type Request struct {
	Method string
	URL    string
	Query  url.Values
	Form   url.Values
	Header http.Header
	Token  string
}

// Response is the final upstream response.
type Response struct {
	StatusCode int
	Body       []byte
	Attempts   int
}

// Client executes Requests under a Policy.
type Client struct {
	http   HTTPClient
	policy Policy
	clock  quartz.Clock
	name   string
	logger *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithClock replaces the clock used for backoff waits.
func WithClock(clock quartz.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// WithLogger replaces the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Client. name labels metrics and logs.
func NewClient(name string, httpClient HTTPClient, policy Policy, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Backoff == nil {
		policy.Backoff = NoBackoff
	}
	if policy.Retryable == nil {
		policy.Retryable = RetryServerErrors
	}

	c := &Client{
		http:   httpClient,
		policy: policy,
		clock:  quartz.NewReal(),
		name:   name,
		logger: logger.Log.Named(name),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AttemptsFor returns how many upstream calls produced resp. A nil resp
// means every attempt failed before a response arrived.
func (c *Client) AttemptsFor(resp *Response) int {
	if resp == nil || resp.Attempts < 1 {
		return c.policy.MaxAttempts
	}
	return resp.Attempts
}

// Call sends req, retrying per the policy. The returned Response is the last
// one received and is non-nil whenever any attempt got an HTTP response, even
// when err is an *apperr.APIError.
func (c *Client) Call(ctx context.Context, req *Request) (*Response, error) {
	var (
		last     *Response
		attempts int
	)

	operation := func() error {
		attempts++
		resp, err := c.attempt(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				metrics.APIAttempts.WithLabelValues(c.name, "error").Inc()
				return backoff.Permanent(ctx.Err())
			}
			var perm *backoff.PermanentError
			if errors.As(err, &perm) {
				metrics.APIAttempts.WithLabelValues(c.name, "error").Inc()
				return err
			}
			metrics.APIAttempts.WithLabelValues(c.name, "retry").Inc()
			return err
		}

		resp.Attempts = attempts
		last = resp

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			metrics.APIAttempts.WithLabelValues(c.name, "ok").Inc()
			return nil
		}

		apiErr := &apperr.APIError{Status: resp.StatusCode, Body: string(resp.Body)}
		if c.policy.Retryable(resp.StatusCode) {
			metrics.APIAttempts.WithLabelValues(c.name, "retry").Inc()
			return apiErr
		}
		metrics.APIAttempts.WithLabelValues(c.name, "permanent").Inc()
		return backoff.Permanent(apiErr)
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("Upstream call failed, retrying",
			zap.String("url", req.URL),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{step: c.policy.Backoff}, uint64(c.policy.MaxAttempts-1)), //nolint:gosec // MaxAttempts >= 1
		ctx,
	)

	err := backoff.RetryNotifyWithTimer(operation, b, notify, &clockTimer{clock: c.clock})
	if last != nil {
		last.Attempts = attempts
	}
	return last, err
}

// CallJSON sends req and decodes a successful JSON body into out.
func (c *Client) CallJSON(ctx context.Context, req *Request, out any) (*Response, error) {
	resp, err := c.Call(ctx, req)
	if err != nil {
		return resp, err
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return resp, fmt.Errorf("decode response from %s: %w", req.URL, err)
		}
	}
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, req *Request) (*Response, error) {
	if c.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.policy.AttemptTimeout)
		defer cancel()
	}

	httpReq, err := buildRequest(ctx, req)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", httpReq.Method, req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

func buildRequest(ctx context.Context, req *Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if len(req.Query) > 0 {
		q := u.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if req.Form != nil {
		body = strings.NewReader(req.Form.Encode())
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.Form != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}
	httpReq.Header.Set("Accept", "application/json")

	return httpReq, nil
}

// linearBackOff adapts Policy.Backoff to backoff.BackOff.
type linearBackOff struct {
	step    func(int) time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.step(b.attempt)
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}

// clockTimer adapts a quartz.Clock to backoff.Timer.
type clockTimer struct {
	clock quartz.Clock
	timer *quartz.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	t.timer = t.clock.NewTimer(d, "apiclient", "backoff")
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.C
}

// DecodeError extracts a readable message from a JSON error body, falling
// back to the raw body.
func DecodeError(body []byte) string {
	var payload struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(payload.Error, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
		var s string
		if err := json.Unmarshal(payload.Error, &s); err == nil && s != "" {
			return s
		}
	}
	return string(bytes.TrimSpace(body))
}
