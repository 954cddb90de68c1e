// Package api wraps the remote site-platform HTTP API.
//
// The client injects bearer authentication, classifies failure statuses
// onto the provider error taxonomy and retries transient and rate-limited
// failures with capped exponential backoff and jitter. A Retry-After
// header on a 429 response overrides the computed backoff. Unauthorized,
// conflict and remote-validation failures are never retried.
//
// The token is held as a secret.String; no log line or error message
// produced here ever contains its raw value.
package api
