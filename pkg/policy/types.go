package policy

import (
	"time"
)

// Policy is one named Rego policy guarding the resource lifecycle.
type Policy struct {
	// Name identifies the policy, derived from its file name for loaded
	// policies.
	Name string `json:"name"`

	// Description is taken from the leading comment block of the file.
	Description string `json:"description,omitempty"`

	// Rego is the policy source.
	Rego string `json:"rego"`

	// Enabled policies participate in evaluation.
	Enabled bool `json:"enabled"`

	// LoadedAt is when the policy was last (re)loaded.
	LoadedAt time.Time `json:"loaded_at"`
}

// GuardInput is the document policies evaluate against.
type GuardInput struct {
	// Operation is the lifecycle operation about to run.
	Operation string `json:"operation"`

	// Record describes the tracked object the operation targets.
	Record GuardRecord `json:"record"`
}

// GuardRecord is the policy view of a resource record. Input attribute
// values are deliberately absent; policies decide on identity and
// annotations, never on attribute content that may embed secrets.
type GuardRecord struct {
	Kind        string            `json:"kind"`
	Name        string            `json:"name"`
	ExternalID  string            `json:"external_id"`
	Annotations map[string]string `json:"annotations"`
}

// Violation is one policy denial.
type Violation struct {
	// Policy names the denying policy.
	Policy string `json:"policy"`

	// Message explains the denial.
	Message string `json:"message"`
}
