package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowforge-io/flowforge/pkg/engine"
	"github.com/flowforge-io/flowforge/pkg/mapper"
	"github.com/flowforge-io/flowforge/pkg/secret"
)

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:   serverURL,
		Token:     secret.New("tok_abcdef0123456789abcdef0123456789"),
		BaseDelay: time.Millisecond,
		MaxDelay:  5 * time.Millisecond,
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestInvokeInjectsBearerToken(t *testing.T) {
	t.Parallel()

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"id":"651a000000000000000000aa"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	resp, err := c.Invoke(context.Background(), http.MethodGet, "/v2/sites/651a000000000000000000aa", nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if gotAuth != "Bearer tok_abcdef0123456789abcdef0123456789" {
		t.Fatalf("authorization header = %q", gotAuth)
	}
	if resp["id"] != "651a000000000000000000aa" {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestInvokeRetriesRateLimitedThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"id":"ok"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	resp, err := c.Invoke(context.Background(), http.MethodPost, "/v2/sites", map[string]any{"display_name": "x"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
	if resp["id"] != "ok" {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestInvokeExhaustsRetryBudget(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Invoke(context.Background(), http.MethodGet, "/v2/sites/x", nil)
	if !engine.IsTransient(err) {
		t.Fatalf("exhausted retries must surface transient, got %v", err)
	}
	if !strings.Contains(err.Error(), engine.ErrCodeRetriesExhausted) {
		var pe *engine.ProviderError
		if !errorsAs(err, &pe) || pe.Code != engine.ErrCodeRetriesExhausted {
			t.Fatalf("expected retries-exhausted code, got %v", err)
		}
	}
	if calls.Load() != DefaultMaxAttempts {
		t.Fatalf("expected %d attempts, got %d", DefaultMaxAttempts, calls.Load())
	}
}

func TestInvokeDoesNotRetryRemoteRejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"unauthorized", http.StatusUnauthorized, engine.IsUnauthorized},
		{"conflict", http.StatusConflict, engine.IsConflict},
		{"remote validation", http.StatusBadRequest, engine.IsRemoteValidation},
		{"not found", http.StatusNotFound, engine.IsNotFound},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL)
			_, err := c.Invoke(context.Background(), http.MethodGet, "/v2/sites/x", nil)
			if !tc.check(err) {
				t.Fatalf("unexpected classification: %v", err)
			}
			if calls.Load() != 1 {
				t.Fatalf("status %d must not be retried, got %d attempts", tc.status, calls.Load())
			}
		})
	}
}

func TestInvokeRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"id":"recovered"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	resp, err := c.Invoke(context.Background(), http.MethodGet, "/v2/sites/x", nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if resp["id"] != "recovered" {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestInvokeErrorsNeverContainToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Invoke(context.Background(), http.MethodGet, "/v2/sites/x", nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if strings.Contains(err.Error(), "tok_abcdef") {
		t.Fatalf("error leaked token: %v", err)
	}
}

func TestInvokeNeverLeaksSecretAttributeValues(t *testing.T) {
	t.Parallel()

	const workspace = "ws-6510f9c1a2b3c4d5e6f70811"
	req, err := mapper.BuildCreate(engine.KindSite, engine.Attrs{
		"workspace_id": secret.New(workspace),
		"display_name": "Marketing Site",
	})
	if err != nil {
		t.Fatalf("BuildCreate: %v", err)
	}

	// Port 1 refuses the dial, so the transport error wraps the full
	// request URL and the retry path hits the warn and debug log lines.
	var logs bytes.Buffer
	c, err := NewClient(Config{
		BaseURL:     "http://127.0.0.1:1",
		Token:       secret.New("tok_abcdef0123456789abcdef0123456789"),
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Logger:      zerolog.New(&logs),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = c.Invoke(context.Background(), req.Method, req.Path, req.Payload)
	if err == nil {
		t.Fatalf("expected a transport failure")
	}
	for source, text := range map[string]string{
		"error":      err.Error(),
		"log output": logs.String(),
	} {
		if strings.Contains(text, workspace) {
			t.Fatalf("%s leaked the workspace reference: %s", source, text)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	if d, ok := parseRetryAfter("7"); !ok || d != 7*time.Second {
		t.Fatalf("parseRetryAfter(7) = %v, %v", d, ok)
	}
	if _, ok := parseRetryAfter(""); ok {
		t.Fatalf("empty header must not parse")
	}
	if _, ok := parseRetryAfter("soon"); ok {
		t.Fatalf("non-numeric header must not parse")
	}
}

// errorsAs is a local alias to keep the import list tidy.
func errorsAs(err error, target any) bool {
	type causer interface{ Unwrap() error }
	for err != nil {
		if pe, ok := err.(*engine.ProviderError); ok {
			*(target.(**engine.ProviderError)) = pe
			return true
		}
		c, ok := err.(causer)
		if !ok {
			return false
		}
		err = c.Unwrap()
	}
	return false
}
