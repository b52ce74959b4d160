package xero

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"xero-sync-service/internal/auth"
	"xero-sync-service/internal/config"
	"xero-sync-service/internal/logger"
	"xero-sync-service/internal/metrics"
)

const (
	defaultRetryAfter = 60 * time.Second
	defaultRetryCap   = 60 * time.Second
	defaultMaxRetries = 3
	defaultTimeout    = 30 * time.Second
)

// TokenSource hands out a fresh token and tenant for each call.
type TokenSource interface {
	EnsureFresh(ctx context.Context) (auth.TokenState, error)
}

// Client is the only place that talks HTTP to the accounting API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	maxRetries int
	retryCap   time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithSleep replaces the wait between throttled attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(cl *Client) { cl.sleep = fn }
}

func NewClient(cfg config.XeroConfig, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.APIBaseURL, "/"),
		tokens:     tokens,
		maxRetries: cfg.MaxRetries,
		retryCap:   cfg.RetryCap,
		sleep:      sleepContext,
	}
	if c.maxRetries < 0 {
		c.maxRetries = defaultMaxRetries
	}
	if c.retryCap <= 0 {
		c.retryCap = defaultRetryCap
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: timeout}
	}
	return c
}

// Do performs one logical API call. Throttled responses are retried up to the
// configured bound; every attempt asks the token source for a fresh token.
// body is sent as JSON when non-nil and the response is decoded into out when
// out is non-nil.
func (c *Client) Do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		token, err := c.tokens.EnsureFresh(ctx)
		if err != nil {
			return err
		}

		status, header, respBody, err := c.send(ctx, method, path, payload, token)
		if err != nil {
			return &TransportError{Method: method, Path: path, Err: err}
		}

		if status != http.StatusTooManyRequests {
			return decodeResponse(status, respBody, out)
		}

		metrics.XeroRateLimitedTotal.Inc()
		wait := retryAfter(header.Get("Retry-After"), c.retryCap)
		if attempt >= c.maxRetries {
			return &RateLimitError{Attempts: attempt + 1, RetryAfter: wait}
		}

		logger.Log.Warn("Xero rate limit hit, backing off",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("retry_after", wait),
			zap.Int("attempt", attempt+1),
			zap.String("problem", header.Get("X-Rate-Limit-Problem")))

		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, token auth.TokenState) (int, http.Header, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Xero-tenant-id", token.TenantID)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.XeroRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.XeroRequestsTotal.WithLabelValues(method, "error").Inc()
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	metrics.XeroRequestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, resp.Header, respBody, nil
}

// errorEnvelope covers the error shapes Xero returns.
type errorEnvelope struct {
	ErrorNumber int    `json:"ErrorNumber"`
	Type        string `json:"Type"`
	Message     string `json:"Message"`
	ErrorText   string `json:"error"`
	Detail      string `json:"Detail"`
	Elements    []struct {
		ValidationErrors []struct {
			Message string `json:"Message"`
		} `json:"ValidationErrors"`
	} `json:"Elements"`
}

func decodeResponse(status int, body []byte, out interface{}) error {
	if apiErr := parseAPIError(status, body); apiErr != nil {
		return apiErr
	}
	if status < 200 || status > 299 {
		return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseAPIError returns nil when body carries no error indicator.
func parseAPIError(status int, body []byte) *APIError {
	var env errorEnvelope
	if len(body) == 0 || json.Unmarshal(body, &env) != nil {
		return nil
	}

	var validation []string
	for _, el := range env.Elements {
		for _, v := range el.ValidationErrors {
			validation = append(validation, v.Message)
		}
	}

	switch {
	case env.ErrorNumber != 0:
		return &APIError{StatusCode: status, ErrorNumber: env.ErrorNumber, Type: env.Type, Message: env.Message, Validation: validation}
	case env.ErrorText != "":
		return &APIError{StatusCode: status, Message: env.ErrorText}
	case len(validation) > 0:
		return &APIError{StatusCode: status, Validation: validation}
	case status >= 400 && env.Detail != "":
		return &APIError{StatusCode: status, Message: env.Detail}
	}
	return nil
}

// retryAfter reads the hint in seconds, defaulting to 60s, never above limit.
func retryAfter(value string, limit time.Duration) time.Duration {
	wait := defaultRetryAfter
	if secs, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && secs >= 0 {
		wait = time.Duration(secs) * time.Second
	}
	if wait > limit {
		wait = limit
	}
	return wait
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
