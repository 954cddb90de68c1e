// Package mapper translates between the engine's attribute model and the
// remote API's wire format: endpoint paths per kind and operation, request
// payloads, composite external identifiers for parent-scoped kinds, and
// the projection of a remote response onto the declared output attributes.
package mapper

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/flowforge-io/flowforge/pkg/engine"
	"github.com/flowforge-io/flowforge/pkg/schema"
	"github.com/flowforge-io/flowforge/pkg/secret"
)

// Request is one fully-formed remote call: the HTTP method, the path below
// the API origin, and the JSON payload (nil for body-less methods).
type Request struct {
	Method  string
	Path    string
	Payload map[string]any
}

// BuildCreate constructs the create request for a desired input set. Plain
// parent references are consumed by the path; secret-valued references and
// the remaining inputs form the payload, with secrets revealed only inside
// the request body so no URL, log line or wrapped transport error can carry
// them.
func BuildCreate(kind engine.Kind, inputs engine.Attrs) (Request, error) {
	spec, err := writableSpec(kind, engine.OpCreate)
	if err != nil {
		return Request{}, err
	}

	switch kind {
	case engine.KindSite:
		if ws, ok := inputs["workspace_id"].(secret.String); !ok || ws.IsZero() {
			return Request{}, missingRef("workspace_id")
		}
		return Request{
			Method:  http.MethodPost,
			Path:    "/v2/sites",
			Payload: payload(spec, inputs, nil),
		}, nil
	case engine.KindCollection:
		site, err := stringRef(inputs, "site_id")
		if err != nil {
			return Request{}, err
		}
		return Request{
			Method:  http.MethodPost,
			Path:    "/v2/sites/" + site + "/collections",
			Payload: payload(spec, inputs, nil, "site_id"),
		}, nil
	case engine.KindCollectionItem:
		coll, err := stringRef(inputs, "collection_id")
		if err != nil {
			return Request{}, err
		}
		return Request{
			Method:  http.MethodPost,
			Path:    "/v2/collections/" + coll + "/items",
			Payload: payload(spec, inputs, nil, "collection_id"),
		}, nil
	case engine.KindRobotsTxt:
		site, err := stringRef(inputs, "site_id")
		if err != nil {
			return Request{}, err
		}
		// The robots file is a singleton per site; PUT creates or overwrites.
		return Request{
			Method:  http.MethodPut,
			Path:    "/v2/sites/" + site + "/robots_txt",
			Payload: payload(spec, inputs, nil, "site_id"),
		}, nil
	case engine.KindRedirect:
		site, err := stringRef(inputs, "site_id")
		if err != nil {
			return Request{}, err
		}
		return Request{
			Method:  http.MethodPost,
			Path:    "/v2/sites/" + site + "/redirects",
			Payload: payload(spec, inputs, nil, "site_id"),
		}, nil
	case engine.KindWebhook:
		site, err := stringRef(inputs, "site_id")
		if err != nil {
			return Request{}, err
		}
		return Request{
			Method:  http.MethodPost,
			Path:    "/v2/sites/" + site + "/webhooks",
			Payload: payload(spec, inputs, nil, "site_id"),
		}, nil
	case engine.KindAsset:
		site, err := stringRef(inputs, "site_id")
		if err != nil {
			return Request{}, err
		}
		return Request{
			Method:  http.MethodPost,
			Path:    "/v2/sites/" + site + "/assets",
			Payload: payload(spec, inputs, nil, "site_id"),
		}, nil
	}
	return Request{}, unknownKind(kind)
}

// BuildRead constructs the read request for a tracked external identifier.
func BuildRead(kind engine.Kind, externalID string) (Request, error) {
	path, err := objectPath(kind, externalID)
	if err != nil {
		return Request{}, err
	}
	return Request{Method: http.MethodGet, Path: path}, nil
}

// BuildUpdate constructs the in-place update request carrying only the
// changed attributes. Parent references never appear in an update body.
func BuildUpdate(kind engine.Kind, externalID string, inputs engine.Attrs, changed []string) (Request, error) {
	spec, err := writableSpec(kind, engine.OpUpdate)
	if err != nil {
		return Request{}, err
	}
	if !spec.SupportsUpdate {
		return Request{}, engine.NewUnsupportedError(
			fmt.Sprintf("kind %s has no update path; changes require a replace", kind), nil,
		).WithCode(engine.ErrCodeNoUpdatePath).WithOperation(string(engine.OpUpdate))
	}

	path, err := objectPath(kind, externalID)
	if err != nil {
		return Request{}, err
	}

	method := http.MethodPatch
	if kind == engine.KindRobotsTxt {
		// Singleton upsert endpoint; partial PATCH is not offered.
		method = http.MethodPut
		changed = nil
	}
	return Request{
		Method:  method,
		Path:    path,
		Payload: payload(spec, inputs, changed, parentAttr(kind)),
	}, nil
}

// BuildDelete constructs the delete request for a tracked external
// identifier.
func BuildDelete(kind engine.Kind, externalID string) (Request, error) {
	if _, err := writableSpec(kind, engine.OpDelete); err != nil {
		return Request{}, err
	}
	path, err := objectPath(kind, externalID)
	if err != nil {
		return Request{}, err
	}
	return Request{Method: http.MethodDelete, Path: path}, nil
}

// objectPath is the canonical per-object endpoint used by read, update and
// delete. Parent-scoped kinds carry the parent inside the composite
// external id.
func objectPath(kind engine.Kind, externalID string) (string, error) {
	if externalID == "" {
		return "", engine.NewValidationError(
			fmt.Sprintf("kind %s requires a tracked external id", kind), nil,
		).WithCode(engine.ErrCodeMissingField)
	}

	switch kind {
	case engine.KindSite:
		return "/v2/sites/" + externalID, nil
	case engine.KindPage:
		return "/v2/pages/" + externalID, nil
	case engine.KindCollection:
		return "/v2/collections/" + externalID, nil
	case engine.KindCollectionItem:
		coll, item, err := SplitExternalID(kind, externalID)
		if err != nil {
			return "", err
		}
		return "/v2/collections/" + coll + "/items/" + item, nil
	case engine.KindRobotsTxt:
		// The external id of a robots file is the owning site id.
		return "/v2/sites/" + externalID + "/robots_txt", nil
	case engine.KindRedirect:
		site, redirect, err := SplitExternalID(kind, externalID)
		if err != nil {
			return "", err
		}
		return "/v2/sites/" + site + "/redirects/" + redirect, nil
	case engine.KindWebhook:
		return "/v2/webhooks/" + externalID, nil
	case engine.KindAsset:
		return "/v2/assets/" + externalID, nil
	}
	return "", unknownKind(kind)
}

// ExternalID derives the tracked identifier for a freshly created object:
// the remote-assigned id, composed with the parent id for kinds whose
// object endpoints are parent-scoped.
func ExternalID(kind engine.Kind, inputs engine.Attrs, response map[string]any) (string, error) {
	switch kind {
	case engine.KindRobotsTxt:
		return stringRef(inputs, "site_id")
	case engine.KindCollectionItem:
		coll, err := stringRef(inputs, "collection_id")
		if err != nil {
			return "", err
		}
		id, ok := responseID(response)
		if !ok {
			return "", missingResponseID(kind)
		}
		return coll + "/" + id, nil
	case engine.KindRedirect:
		site, err := stringRef(inputs, "site_id")
		if err != nil {
			return "", err
		}
		id, ok := responseID(response)
		if !ok {
			return "", missingResponseID(kind)
		}
		return site + "/" + id, nil
	default:
		id, ok := responseID(response)
		if !ok {
			return "", missingResponseID(kind)
		}
		return id, nil
	}
}

// SplitExternalID decomposes a composite external id into its parent and
// object halves.
func SplitExternalID(kind engine.Kind, externalID string) (parent, id string, err error) {
	parts := strings.SplitN(externalID, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", engine.NewValidationError(
			fmt.Sprintf("kind %s expects a composite external id in parent/object form, got %q", kind, externalID), nil,
		).WithCode(engine.ErrCodeMalformedField)
	}
	return parts[0], parts[1], nil
}

// Outputs projects a remote response onto the kind's declared output
// attributes. Every declared output is populated: from the response when
// present, echoed from the inputs when the remote omits an accepted value,
// and zero-valued otherwise, so downstream consumers never see a partial
// output set. Secret inputs are never echoed.
func Outputs(kind engine.Kind, inputs engine.Attrs, response map[string]any) (engine.Attrs, error) {
	spec, err := schema.SpecFor(kind)
	if err != nil {
		return nil, err
	}

	out := make(engine.Attrs, len(spec.Attrs))
	for _, a := range spec.OutputAttrs() {
		if a.Name == "id" {
			if id, ok := responseID(response); ok {
				out["id"] = id
				continue
			}
			out["id"] = ""
			continue
		}
		if v, ok := response[a.Name]; ok && v != nil {
			out[a.Name] = v
			continue
		}
		if v, ok := inputs[a.Name]; ok && a.Type != schema.TypeSecret {
			out[a.Name] = v
			continue
		}
		out[a.Name] = zeroValue(a.Type)
	}
	return out, nil
}

// Handoff extracts the asynchronous upload contract from an asset create
// response. The caller completes the transfer out of band.
func Handoff(externalID string, response map[string]any) (engine.UploadHandoff, bool) {
	url, _ := response["upload_url"].(string)
	if url == "" {
		return engine.UploadHandoff{}, false
	}
	params := map[string]string{}
	if details, ok := response["upload_details"].(map[string]any); ok {
		for k, v := range details {
			if s, ok := v.(string); ok {
				params[k] = s
			}
		}
	}
	return engine.UploadHandoff{
		ExternalID:       externalID,
		UploadURL:        url,
		UploadParameters: params,
	}, true
}

// payload builds the request body from input attributes. A non-nil changed
// set restricts the body to those attributes; excluded names (the
// path-consumed parent reference) never appear. Secret values are revealed
// here and nowhere else.
func payload(spec schema.KindSpec, inputs engine.Attrs, changed []string, exclude ...string) map[string]any {
	var only map[string]bool
	if changed != nil {
		only = make(map[string]bool, len(changed))
		for _, name := range changed {
			only[name] = true
		}
	}
	skip := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		skip[name] = true
	}

	body := make(map[string]any)
	for _, a := range spec.InputAttrs() {
		if skip[a.Name] {
			continue
		}
		if only != nil && !only[a.Name] {
			continue
		}
		value, ok := inputs[a.Name]
		if !ok {
			if only != nil && only[a.Name] {
				// Changed but absent from the desired set: an explicit null
				// tells the remote to clear the attribute.
				body[a.Name] = nil
			}
			continue
		}
		if s, isSecret := value.(secret.String); isSecret {
			if s.IsZero() {
				continue
			}
			body[a.Name] = s.Reveal()
			continue
		}
		body[a.Name] = value
	}
	return body
}

func parentAttr(kind engine.Kind) string {
	switch kind {
	case engine.KindSite:
		return "workspace_id"
	case engine.KindCollectionItem:
		return "collection_id"
	default:
		return "site_id"
	}
}

// responseID accepts the id aliases the remote uses across kinds.
func responseID(response map[string]any) (string, bool) {
	for _, key := range []string{"id", "item_id", "asset_id"} {
		if s, ok := response[key].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

func writableSpec(kind engine.Kind, op engine.Operation) (schema.KindSpec, error) {
	spec, err := schema.SpecFor(kind)
	if err != nil {
		return schema.KindSpec{}, err
	}
	if !spec.SupportsWrite {
		return schema.KindSpec{}, engine.NewUnsupportedError(
			fmt.Sprintf("kind %s is read-only", kind), nil,
		).WithCode(engine.ErrCodeReadOnlyKind).WithOperation(string(op))
	}
	return spec, nil
}

func stringRef(inputs engine.Attrs, name string) (string, error) {
	s, ok := inputs[name].(string)
	if !ok || s == "" {
		return "", missingRef(name)
	}
	return s, nil
}

func missingRef(name string) error {
	return engine.NewValidationError(
		fmt.Sprintf("parent reference %s must be resolved before the remote call", name), nil,
	).WithCode(engine.ErrCodeMissingField)
}

func missingResponseID(kind engine.Kind) error {
	return engine.NewTransientError(
		fmt.Sprintf("remote create response for kind %s carries no object id", kind), nil)
}

func unknownKind(kind engine.Kind) error {
	return engine.NewValidationError(
		fmt.Sprintf("unknown resource kind %q", kind), nil,
	).WithCode(engine.ErrCodeUnknownKind)
}

func zeroValue(t schema.AttrType) any {
	switch t {
	case schema.TypeMapping:
		return map[string]any{}
	case schema.TypeInt:
		return int64(0)
	case schema.TypeBool:
		return false
	default:
		return ""
	}
}
