package telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/flowforge-io/flowforge/pkg/engine"
)

// Metrics is the Prometheus collector set for flowforge. It implements the
// api client's MetricsRecorder and the dispatcher's OperationObserver; all
// methods are no-ops when metrics are disabled.
type Metrics struct {
	config MetricsConfig

	// Remote API call metrics.
	apiRequests *prometheus.CounterVec
	apiDuration *prometheus.HistogramVec
	apiRetries  *prometheus.CounterVec

	// Lifecycle operation metrics.
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	// Error metrics.
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// Upload handoff metrics.
	pendingHandoffs prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates the metrics collector. A disabled config yields a
// collector whose methods do nothing.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		apiRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of remote API requests by method and status",
			},
			[]string{"method", "status"},
		),
		apiDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "Duration of remote API requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		apiRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_retries_total",
				Help:      "Total number of retried remote API requests by error class",
			},
			[]string{"class"},
		),

		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of lifecycle operations by kind, operation, and status",
			},
			[]string{"kind", "operation", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of lifecycle operations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind", "operation"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of classified errors by class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of classified errors by code",
			},
			[]string{"code"},
		),

		pendingHandoffs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_upload_handoffs",
				Help:      "Current number of asset upload handoffs awaiting completion",
			},
		),
	}

	registry.MustRegister(
		m.apiRequests,
		m.apiDuration,
		m.apiRetries,
		m.operations,
		m.operationDuration,
		m.errorsByClass,
		m.errorsByCode,
		m.pendingHandoffs,
	)

	return m, nil
}

// ObserveAPIRequest records one remote API request.
func (m *Metrics) ObserveAPIRequest(method string, status int, duration time.Duration) {
	if m.apiRequests == nil {
		return
	}
	m.apiRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.apiDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// ObserveAPIRetry records one retried remote API request.
func (m *Metrics) ObserveAPIRetry(class string) {
	if m.apiRetries == nil {
		return
	}
	m.apiRetries.WithLabelValues(class).Inc()
}

// ObserveOperation records one lifecycle operation outcome.
func (m *Metrics) ObserveOperation(kind engine.Kind, op engine.Operation, err error, duration time.Duration) {
	if m.operations == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
		var pe *engine.ProviderError
		if errors.As(err, &pe) {
			m.errorsByClass.WithLabelValues(string(pe.Class)).Inc()
			if pe.Code != "" {
				m.errorsByCode.WithLabelValues(pe.Code).Inc()
			}
		}
	}
	m.operations.WithLabelValues(string(kind), string(op), status).Inc()
	m.operationDuration.WithLabelValues(string(kind), string(op)).Observe(duration.Seconds())
}

// SetPendingHandoffs sets the current number of pending upload handoffs.
func (m *Metrics) SetPendingHandoffs(count float64) {
	if m.pendingHandoffs == nil {
		return
	}
	m.pendingHandoffs.Set(count)
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve starts an HTTP server exposing the metrics endpoint. It returns
// immediately; the server runs until the process exits.
func (m *Metrics) Serve(logger zerolog.Logger) error {
	if !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	return nil
}
