package telemetry

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/flowforge-io/flowforge/pkg/api"
	"github.com/flowforge-io/flowforge/pkg/engine"
	"github.com/flowforge-io/flowforge/pkg/provider"
)

var (
	_ api.MetricsRecorder        = (*Metrics)(nil)
	_ provider.OperationObserver = (*Metrics)(nil)
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()

	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "flowforge", Path: "/metrics"})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func TestObserveAPIRequest(t *testing.T) {
	t.Parallel()

	m := newTestMetrics(t)
	m.ObserveAPIRequest("POST", 201, 20*time.Millisecond)
	m.ObserveAPIRequest("POST", 201, 30*time.Millisecond)
	m.ObserveAPIRetry("rate_limited")

	if got := testutil.ToFloat64(m.apiRequests.WithLabelValues("POST", "201")); got != 2 {
		t.Fatalf("api_requests_total = %v", got)
	}
	if got := testutil.ToFloat64(m.apiRetries.WithLabelValues("rate_limited")); got != 1 {
		t.Fatalf("api_retries_total = %v", got)
	}
}

func TestObserveOperationCountsErrors(t *testing.T) {
	t.Parallel()

	m := newTestMetrics(t)
	m.ObserveOperation(engine.KindSite, engine.OpCreate, nil, 10*time.Millisecond)

	failure := engine.NewTransientError("remote request failed", nil)
	failure.Code = engine.ErrCodeRetriesExhausted
	m.ObserveOperation(engine.KindSite, engine.OpCreate, failure, 50*time.Millisecond)

	if got := testutil.ToFloat64(m.operations.WithLabelValues("site", "create", "success")); got != 1 {
		t.Fatalf("success count = %v", got)
	}
	if got := testutil.ToFloat64(m.operations.WithLabelValues("site", "create", "error")); got != 1 {
		t.Fatalf("error count = %v", got)
	}
	if got := testutil.ToFloat64(m.errorsByClass.WithLabelValues("transient")); got != 1 {
		t.Fatalf("errors_by_class_total = %v", got)
	}
	if got := testutil.ToFloat64(m.errorsByCode.WithLabelValues(engine.ErrCodeRetriesExhausted)); got != 1 {
		t.Fatalf("errors_by_code_total = %v", got)
	}
}

func TestObserveOperationUnclassifiedError(t *testing.T) {
	t.Parallel()

	m := newTestMetrics(t)
	m.ObserveOperation(engine.KindAsset, engine.OpDelete, errors.New("plain failure"), time.Millisecond)

	if got := testutil.ToFloat64(m.operations.WithLabelValues("asset", "delete", "error")); got != 1 {
		t.Fatalf("error count = %v", got)
	}
}

func TestDisabledMetricsAreNoOps(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	// Must not panic.
	m.ObserveAPIRequest("GET", 200, time.Millisecond)
	m.ObserveAPIRetry("transient")
	m.ObserveOperation(engine.KindSite, engine.OpRead, nil, time.Millisecond)
	m.SetPendingHandoffs(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Fatalf("disabled handler status = %d", rec.Code)
	}
}

func TestMetricsHandlerExposesCounters(t *testing.T) {
	t.Parallel()

	m := newTestMetrics(t)
	m.ObserveAPIRequest("GET", 200, time.Millisecond)
	m.SetPendingHandoffs(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "flowforge_api_requests_total") {
		t.Fatalf("missing api counter in exposition:\n%s", body)
	}
	if !strings.Contains(body, "flowforge_pending_upload_handoffs 2") {
		t.Fatalf("missing handoff gauge in exposition:\n%s", body)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}

	bad := DefaultConfig()
	bad.Logging.Level = "verbose"
	if err := bad.Validate(); err == nil {
		t.Fatal("expected an error for an invalid log level")
	}

	bad = DefaultConfig()
	bad.Tracing.Enabled = true
	bad.Tracing.Exporter = "jaeger"
	if err := bad.Validate(); err == nil {
		t.Fatal("expected an error for an unsupported exporter")
	}

	bad = DefaultConfig()
	bad.Tracing.SamplingRate = 1.5
	if err := bad.Validate(); err == nil {
		t.Fatal("expected an error for an out-of-range sampling rate")
	}
}

func TestNewBundlesComponents(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Logging.Format = "json"
	tel, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tel.Tracer == nil || tel.Metrics == nil {
		t.Fatalf("telemetry = %+v", tel)
	}
}
