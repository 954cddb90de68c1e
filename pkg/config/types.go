package config

import (
	"time"
)

// ResourceConfig is one declared resource instance from a manifest.
type ResourceConfig struct {
	// Name is the caller-chosen logical name, unique per kind.
	Name string `json:"name" validate:"required"`

	// Kind is the resource kind tag.
	Kind string `json:"kind" validate:"required"`

	// Inputs are the desired input attribute values.
	Inputs map[string]any `json:"inputs" validate:"required"`

	// Annotations are free-form metadata consumed by policies, not by the
	// reconciliation engine itself.
	Annotations map[string]string `json:"annotations,omitempty"`

	// Compute is an optional Starlark script evaluated against the inputs;
	// its globals are merged back into the inputs before validation.
	Compute string `json:"compute,omitempty"`
}

// Manifest is the fully parsed declarative description of the desired
// remote state.
type Manifest struct {
	// Resources are the declared instances in manifest order.
	Resources []ResourceConfig `json:"resources"`

	// SourceFiles are the manifest files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when the manifest was parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists parse and validation problems with their locations.
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError is a manifest problem with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the manifest path of the problem (e.g. "resources.main_site").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

// StarlarkResult is the outcome of one compute script evaluation.
type StarlarkResult struct {
	// Output maps exported global names to their values.
	Output map[string]any `json:"output,omitempty"`

	// ExecutionTime is how long the script took.
	ExecutionTime time.Duration `json:"execution_time"`
}
