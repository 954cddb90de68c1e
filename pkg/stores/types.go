package stores

import (
	"time"
)

// PassStatus represents the status of a reconciliation pass.
type PassStatus string

const (
	PassStatusPending   PassStatus = "pending"
	PassStatusRunning   PassStatus = "running"
	PassStatusCompleted PassStatus = "completed"
	PassStatusFailed    PassStatus = "failed"
	PassStatusCancelled PassStatus = "cancelled"
)

// Pass represents one reconciliation pass over a manifest.
type Pass struct {
	ID          string     `json:"id"`
	Manifest    string     `json:"manifest"`
	Status      PassStatus `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Event is one lifecycle step taken during a pass: which object was
// touched, which operation ran, and how it ended.
type Event struct {
	ID        int64     `json:"id"`
	PassID    string    `json:"pass_id"`
	Kind      string    `json:"kind"`
	Name      string    `json:"name"`
	Operation string    `json:"operation"`
	Action    string    `json:"action,omitempty"`
	Error     *string   `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// StoredHandoff is a persisted upload handoff awaiting its transfer.
type StoredHandoff struct {
	ExternalID  string     `json:"external_id"`
	UploadURL   string     `json:"upload_url"`
	Parameters  string     `json:"parameters"` // JSON blob
	IssuedAt    time.Time  `json:"issued_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
