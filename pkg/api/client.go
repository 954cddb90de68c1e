package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowforge-io/flowforge/pkg/engine"
	"github.com/flowforge-io/flowforge/pkg/secret"
)

// DefaultBaseURL is the production endpoint of the site platform API.
const DefaultBaseURL = "https://api.siteplatform.io"

// Default retry configuration.
const (
	DefaultMaxAttempts    = 4
	DefaultBaseDelay      = 1 * time.Second
	DefaultMaxDelay       = 30 * time.Second
	DefaultAttemptTimeout = 30 * time.Second
)

// MetricsRecorder receives request/retry observations. The telemetry
// package provides the production implementation.
type MetricsRecorder interface {
	ObserveAPIRequest(method string, status int, duration time.Duration)
	ObserveAPIRetry(class string)
}

// Config configures a Client.
type Config struct {
	// BaseURL is the API origin. Defaults to DefaultBaseURL.
	BaseURL string

	// Token is the bearer token injected into every request.
	Token secret.String

	// MaxAttempts bounds the total tries per invoke, first attempt included.
	MaxAttempts int

	// BaseDelay is the first backoff delay for transient failures.
	BaseDelay time.Duration

	// MaxDelay caps a single backoff sleep.
	MaxDelay time.Duration

	// AttemptTimeout bounds one HTTP attempt. A timed-out attempt is
	// classified transient and retried within the attempt bound.
	AttemptTimeout time.Duration

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client

	// Logger receives request-level events. Token values never appear.
	Logger zerolog.Logger

	// Metrics is optional.
	Metrics MetricsRecorder
}

// Client is a typed wrapper around the remote HTTP API: authentication
// injection, bounded retry with exponential backoff and jitter, and
// rate-limit compliance including server-communicated Retry-After delays.
type Client struct {
	baseURL        string
	token          secret.String
	maxAttempts    int
	baseDelay      time.Duration
	maxDelay       time.Duration
	attemptTimeout time.Duration
	httpClient     *http.Client
	logger         zerolog.Logger
	metrics        MetricsRecorder
}

// NewClient creates a remote API client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Token.IsZero() {
		return nil, engine.NewValidationError("API token is required", nil)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		token:          cfg.Token,
		maxAttempts:    cfg.MaxAttempts,
		baseDelay:      cfg.BaseDelay,
		maxDelay:       cfg.MaxDelay,
		attemptTimeout: cfg.AttemptTimeout,
		httpClient:     cfg.HTTPClient,
		logger:         cfg.Logger.With().Str("component", "api-client").Logger(),
		metrics:        cfg.Metrics,
	}, nil
}

// Invoke sends one logical request, retrying transient and rate-limited
// failures with exponential backoff up to the configured attempt bound.
// Responses with a JSON object body are decoded; 204s yield a nil payload.
func (c *Client) Invoke(ctx context.Context, method, path string, payload map[string]any) (map[string]any, error) {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, engine.NewValidationError("failed to encode request payload", err)
		}
		body = encoded
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.calculateBackoff(attempt-1, lastErr)
			c.logger.Debug().
				Str("method", method).
				Str("path", path).
				Int("attempt", attempt+1).
				Dur("backoff", delay).
				Msg("retrying remote request")
			if c.metrics != nil {
				if class, ok := errClass(lastErr); ok {
					c.metrics.ObserveAPIRetry(string(class))
				}
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, engine.NewTransientError("request cancelled during backoff", ctx.Err())
			}
		}

		result, err := c.attempt(ctx, method, path, body)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !engine.IsRetryable(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, engine.NewTransientError("request cancelled", ctx.Err())
		}
	}

	return nil, engine.NewTransientError(
		fmt.Sprintf("remote request failed after %d attempts", c.maxAttempts), lastErr,
	).WithCode(engine.ErrCodeRetriesExhausted)
}

func (c *Client) attempt(ctx context.Context, method, path string, body []byte) (map[string]any, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, engine.NewValidationError("failed to build remote request", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token.Reveal())
	req.Header.Set("Accept", "application/json")
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network failures and per-attempt timeouts are both transient.
		c.logger.Warn().Str("method", method).Str("path", path).Err(err).Msg("remote request failed")
		return nil, engine.NewTransientError("remote request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, engine.NewTransientError("failed to read remote response", err)
	}

	duration := time.Since(start)
	if c.metrics != nil {
		c.metrics.ObserveAPIRequest(method, resp.StatusCode, duration)
	}
	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", duration).
		Msg("remote request completed")

	if resp.StatusCode >= 400 {
		return nil, classifyStatus(resp.StatusCode, resp.Header, raw)
	}

	if len(raw) == 0 || resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, engine.NewTransientError("remote response is not a JSON object", err)
	}
	return decoded, nil
}

// classifyStatus maps an HTTP failure status onto the provider error
// taxonomy. Response bodies are included in the message only for remote
// validation failures, where they name the rejected fields.
func classifyStatus(status int, header http.Header, body []byte) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return engine.NewUnauthorizedError("remote API rejected the credentials", nil)
	case http.StatusNotFound:
		return engine.NewNotFoundError("remote object not found", nil)
	case http.StatusConflict:
		return engine.NewConflictError("remote state conflict", nil)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return engine.NewRemoteValidationError(
			fmt.Sprintf("remote API rejected the payload: %s", summarizeBody(body)), nil)
	case http.StatusTooManyRequests:
		rl := &rateLimitedError{
			ProviderError: engine.NewRateLimitedError("remote API rate limit exceeded", nil),
		}
		if delay, ok := parseRetryAfter(header.Get("Retry-After")); ok {
			rl.retryAfter = delay
			rl.Message = fmt.Sprintf("remote API rate limit exceeded, retry after %s", delay)
		}
		return rl
	default:
		return engine.NewTransientError(fmt.Sprintf("remote API returned status %d", status), nil)
	}
}

// calculateBackoff computes the sleep before the next attempt: exponential
// growth from a per-class base delay, capped, with ±25% jitter. A server
// Retry-After takes precedence for rate-limited failures.
func (c *Client) calculateBackoff(attempt int, err error) time.Duration {
	if delay, ok := retryAfterOf(err); ok {
		if delay > c.maxDelay {
			return c.maxDelay
		}
		return delay
	}

	baseDelay := c.baseDelay
	if engine.IsRateLimited(err) {
		baseDelay = c.baseDelay * 2
	}

	delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt)))
	if delay > c.maxDelay {
		delay = c.maxDelay
	}

	// Jitter (±25%)
	jitter := time.Duration(rand.Int63n(int64(delay)/2+1)) - time.Duration(int64(delay)/4)
	return delay + jitter
}

// rateLimitedError carries the server-communicated delay through the
// retry loop without exposing it in the public error type.
type rateLimitedError struct {
	*engine.ProviderError
	retryAfter time.Duration
}

// Unwrap exposes the classified error so errors.As sees the class.
func (e *rateLimitedError) Unwrap() error {
	return e.ProviderError
}

func retryAfterOf(err error) (time.Duration, bool) {
	if rl, ok := err.(*rateLimitedError); ok && rl.retryAfter > 0 {
		return rl.retryAfter, true
	}
	return 0, false
}

func errClass(err error) (engine.ErrorClass, bool) {
	switch {
	case engine.IsRateLimited(err):
		return engine.ErrorClassRateLimited, true
	case engine.IsTransient(err):
		return engine.ErrorClassTransient, true
	default:
		return "", false
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second, true
	}
	return 0, false
}

func summarizeBody(body []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	if s == "" {
		return "(empty response body)"
	}
	return s
}
