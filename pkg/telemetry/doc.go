// Package telemetry provides structured logging, Prometheus metrics, and
// OpenTelemetry tracing for flowforge processes.
//
// Metrics implements both the api client's MetricsRecorder and the
// dispatcher's OperationObserver, so a single collector covers remote
// request latency, retry counts, and per-operation lifecycle outcomes.
// Spans and log lines carry resource identity (kind, name) only; attribute
// values, which may embed secrets, are never attached.
package telemetry
