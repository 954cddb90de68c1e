package engine

import (
	"time"
)

// Kind identifies a managed resource kind on the remote site platform.
type Kind string

const (
	// KindSite is a marketing site owned by a workspace.
	KindSite Kind = "site"

	// KindPage is a page of a site. Pages are read-only: the platform
	// creates them through the designer, the provider only observes them.
	KindPage Kind = "page"

	// KindCollection is a CMS collection. The platform offers no update
	// endpoint for collection properties, so every change is a replace.
	KindCollection Kind = "collection"

	// KindCollectionItem is an item inside a CMS collection.
	KindCollectionItem Kind = "collection_item"

	// KindRobotsTxt is the robots.txt configuration of a site.
	KindRobotsTxt Kind = "robots_txt"

	// KindRedirect is a URL redirect rule of a site.
	KindRedirect Kind = "redirect"

	// KindWebhook is an event webhook registered on a site.
	KindWebhook Kind = "webhook"

	// KindAsset is an uploaded file asset. Registration is creation-only;
	// the actual byte upload is handed off to an external actor.
	KindAsset Kind = "asset"
)

// Kinds lists every kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindSite, KindPage, KindCollection, KindCollectionItem,
		KindRobotsTxt, KindRedirect, KindWebhook, KindAsset,
	}
}

// Attrs is an attribute-name to value mapping. Values are plain JSON-shaped
// Go values (string, int, bool, map[string]any, []any) or secret.String for
// secret-tagged attributes.
type Attrs = map[string]any

// DiffAction is the reconciliation decision for one resource instance.
type DiffAction string

const (
	// DiffNoOp means previous and desired input state are identical.
	DiffNoOp DiffAction = "noop"

	// DiffUpdate means the changed attributes can be patched in place.
	DiffUpdate DiffAction = "update"

	// DiffReplace means at least one changed attribute is immutable and the
	// remote object must be deleted and recreated.
	DiffReplace DiffAction = "replace"
)

// DiffPlan is the typed result of comparing previous and desired input state.
// It is computed per reconciliation pass, consumed once, and never persisted.
type DiffPlan struct {
	// Action is the decided state transition.
	Action DiffAction `json:"action"`

	// Changed lists the names of attributes whose values differ, sorted.
	// For Replace the full changed set is reported even though execution
	// performs delete-then-create regardless.
	Changed []string `json:"changed,omitempty"`
}

// Record is the full recorded state of one managed resource instance:
// the desired inputs last applied plus the computed outputs the remote
// system reported. A Record is owned by the caller's state store between
// reconciliation passes.
type Record struct {
	// Kind is the resource kind.
	Kind Kind `json:"kind"`

	// Name is the caller-chosen logical name of the instance.
	Name string `json:"name"`

	// ExternalID is the opaque identifier assigned by the remote system.
	// Empty until the first successful Create, cleared on successful Delete.
	ExternalID string `json:"external_id,omitempty"`

	// Inputs are the desired input attribute values last applied.
	Inputs Attrs `json:"inputs"`

	// Outputs are the computed attribute values the remote system reported.
	Outputs Attrs `json:"outputs,omitempty"`

	// Annotations are caller-chosen metadata consumed by policies,
	// never sent to the remote system.
	Annotations map[string]string `json:"annotations,omitempty"`

	// UpdatedAt is when this record was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// Present reports whether the record tracks a live remote object.
func (r *Record) Present() bool {
	return r != nil && r.ExternalID != ""
}

// UploadHandoff is the artifact an Asset Create produces for the external
// actor that performs the actual file upload. It is produced once, never
// mutated, and the engine does not wait for the upload to happen.
type UploadHandoff struct {
	// ExternalID is the asset's remote identifier.
	ExternalID string `json:"external_id"`

	// UploadURL is the presigned URL the file bytes must be sent to.
	UploadURL string `json:"upload_url"`

	// UploadParameters are the form fields that must accompany the upload.
	UploadParameters map[string]string `json:"upload_parameters"`

	// IssuedAt is when the handoff was produced.
	IssuedAt time.Time `json:"issued_at"`
}

// Operation names the CRUD entry points for logging and error context.
type Operation string

const (
	OpCreate Operation = "create"
	OpRead   Operation = "read"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
	OpDiff   Operation = "diff"
)
