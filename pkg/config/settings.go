package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/flowforge-io/flowforge/pkg/secret"
)

// Settings is the runtime configuration of the engine, loaded from a YAML
// file with environment overrides for the secret-bearing fields.
type Settings struct {
	// API configures the remote platform client.
	API APISettings `yaml:"api" validate:"required"`

	// StatePath is the SQLite state database path.
	StatePath string `yaml:"state_path" validate:"required"`

	// PolicyPaths lists directories of Rego policies guarding destructive
	// operations. Empty disables the guard.
	PolicyPaths []string `yaml:"policy_paths"`

	// Telemetry configures logging, metrics and tracing.
	Telemetry TelemetrySettings `yaml:"telemetry"`
}

// APISettings configures the remote API client.
type APISettings struct {
	// BaseURL overrides the production API origin.
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`

	// Token is the bearer token. Left empty in the file, it is taken from
	// FLOWFORGE_API_TOKEN; the value is never echoed back.
	Token secret.String `yaml:"-"`

	// MaxAttempts bounds retries per request.
	MaxAttempts int `yaml:"max_attempts" validate:"omitempty,min=1,max=10"`

	// BaseDelay is the first retry backoff.
	BaseDelay Duration `yaml:"base_delay"`

	// MaxDelay caps a single backoff sleep.
	MaxDelay Duration `yaml:"max_delay"`
}

// Duration parses YAML duration strings like "500ms" or "2s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// TelemetrySettings configures the observability stack.
type TelemetrySettings struct {
	// LogLevel is the zerolog level name.
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error"`

	// LogFormat selects console or json output.
	LogFormat string `yaml:"log_format" validate:"omitempty,oneof=console json"`

	// MetricsAddr is the Prometheus listen address; empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty disables
	// tracing.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// envAPIToken is the environment variable carrying the API token.
const envAPIToken = "FLOWFORGE_API_TOKEN"

// LoadSettings reads settings from the given YAML file, applies defaults
// and environment overrides, and validates the result. An empty path
// yields default settings, which still require the token from the
// environment.
func LoadSettings(path string) (*Settings, error) {
	settings := &Settings{
		StatePath: "flowforge.db",
		Telemetry: TelemetrySettings{
			LogLevel:  "info",
			LogFormat: "console",
		},
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read settings file: %w", err)
		}
		if err := yaml.Unmarshal(raw, settings); err != nil {
			return nil, fmt.Errorf("failed to parse settings file: %w", err)
		}
	}

	if token := os.Getenv(envAPIToken); token != "" {
		settings.API.Token = secret.New(token)
	}

	if err := validator.New().Struct(settings); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return settings, nil
}
