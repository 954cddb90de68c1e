package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/flowforge-io/flowforge/pkg/engine"
	"github.com/flowforge-io/flowforge/pkg/secret"
)

// AttrType is the semantic type of an attribute value.
type AttrType string

const (
	TypeString  AttrType = "string"
	TypeSecret  AttrType = "secret-string"
	TypeInt     AttrType = "integer"
	TypeBool    AttrType = "boolean"
	TypeMapping AttrType = "mapping"
)

// Format names an additional well-formedness check on a string attribute.
type Format string

const (
	// FormatNone applies no extra check.
	FormatNone Format = ""

	// FormatSlug requires lowercase alphanumerics and interior hyphens.
	FormatSlug Format = "slug"

	// FormatMD5 requires a 32-character hexadecimal digest.
	FormatMD5 Format = "md5"

	// FormatHTTPSURL requires an https:// URL.
	FormatHTTPSURL Format = "https-url"
)

var (
	slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	md5Pattern  = regexp.MustCompile(`^[a-fA-F0-9]{32}$`)
)

// AttrSpec describes a single attribute of a resource kind.
// Every attribute of a kind has exactly one AttrSpec.
type AttrSpec struct {
	// Name is the attribute name, which is also its wire name.
	Name string

	// Type is the semantic value type.
	Type AttrType

	// Input marks the attribute as caller-supplied.
	Input bool

	// Output marks the attribute as remote-computed (echoed inputs included).
	Output bool

	// Required input attributes must be present and non-empty.
	Required bool

	// Immutable input attributes force a replace when changed.
	Immutable bool

	// Ref marks the attribute as a resolved foreign key to another record's
	// external id. The engine never resolves refs itself; it only checks
	// presence before a create.
	Ref bool

	// ServerDefaulted attributes are generated remotely when omitted. Once
	// generated they are treated as outputs only and are not diffed unless
	// the caller supplies an explicit desired value.
	ServerDefaulted bool

	// Format is an optional well-formedness check for string values.
	Format Format

	// Enum restricts string or integer values to a fixed set when non-empty.
	Enum []string
}

// KindSpec is the schema of one resource kind.
type KindSpec struct {
	// Kind is the resource kind this schema describes.
	Kind engine.Kind

	// SupportsWrite is false for read-only kinds: Create, Update and Delete
	// are rejected with an unsupported-operation error.
	SupportsWrite bool

	// SupportsUpdate is false for kinds without a remote update endpoint:
	// every non-empty change becomes a replace.
	SupportsUpdate bool

	// Attrs is the ordered attribute schema.
	Attrs []AttrSpec
}

// registry is the static per-kind schema table. Per-kind behavioral
// differences live here as data, not as per-kind code paths.
var registry = map[engine.Kind]KindSpec{
	engine.KindSite: {
		Kind:           engine.KindSite,
		SupportsWrite:  true,
		SupportsUpdate: true,
		Attrs: []AttrSpec{
			{Name: "workspace_id", Type: TypeSecret, Input: true, Required: true, Immutable: true, Ref: true},
			{Name: "display_name", Type: TypeString, Input: true, Output: true, Required: true},
			{Name: "short_name", Type: TypeString, Input: true, Output: true, ServerDefaulted: true, Format: FormatSlug},
			{Name: "time_zone", Type: TypeString, Input: true, Output: true},
			{Name: "custom_domain", Type: TypeString, Input: true, Output: true},
			{Name: "id", Type: TypeString, Output: true},
			{Name: "created_on", Type: TypeString, Output: true},
			{Name: "last_updated", Type: TypeString, Output: true},
			{Name: "last_published", Type: TypeString, Output: true},
			{Name: "preview_url", Type: TypeString, Output: true},
		},
	},
	engine.KindPage: {
		Kind:           engine.KindPage,
		SupportsWrite:  false,
		SupportsUpdate: false,
		Attrs: []AttrSpec{
			{Name: "id", Type: TypeString, Output: true},
			{Name: "site_id", Type: TypeString, Output: true},
			{Name: "title", Type: TypeString, Output: true},
			{Name: "slug", Type: TypeString, Output: true},
			{Name: "created_on", Type: TypeString, Output: true},
			{Name: "last_updated", Type: TypeString, Output: true},
		},
	},
	engine.KindCollection: {
		Kind:          engine.KindCollection,
		SupportsWrite: true,
		// The platform offers no endpoint to change collection properties.
		SupportsUpdate: false,
		Attrs: []AttrSpec{
			{Name: "site_id", Type: TypeString, Input: true, Required: true, Immutable: true, Ref: true},
			{Name: "display_name", Type: TypeString, Input: true, Output: true, Required: true, Immutable: true},
			{Name: "singular_name", Type: TypeString, Input: true, Output: true, Required: true, Immutable: true},
			{Name: "slug", Type: TypeString, Input: true, Output: true, Immutable: true, ServerDefaulted: true, Format: FormatSlug},
			{Name: "id", Type: TypeString, Output: true},
			{Name: "created_on", Type: TypeString, Output: true},
			{Name: "last_updated", Type: TypeString, Output: true},
		},
	},
	engine.KindCollectionItem: {
		Kind:           engine.KindCollectionItem,
		SupportsWrite:  true,
		SupportsUpdate: true,
		Attrs: []AttrSpec{
			{Name: "collection_id", Type: TypeString, Input: true, Required: true, Immutable: true, Ref: true},
			{Name: "cms_locale_id", Type: TypeString, Input: true, Immutable: true},
			{Name: "field_data", Type: TypeMapping, Input: true, Output: true, Required: true},
			{Name: "is_draft", Type: TypeBool, Input: true, Output: true},
			{Name: "is_archived", Type: TypeBool, Input: true, Output: true},
			{Name: "id", Type: TypeString, Output: true},
			{Name: "created_on", Type: TypeString, Output: true},
			{Name: "last_updated", Type: TypeString, Output: true},
			{Name: "last_published", Type: TypeString, Output: true},
		},
	},
	engine.KindRobotsTxt: {
		Kind:           engine.KindRobotsTxt,
		SupportsWrite:  true,
		SupportsUpdate: true,
		Attrs: []AttrSpec{
			{Name: "site_id", Type: TypeString, Input: true, Required: true, Ref: true},
			{Name: "rules", Type: TypeMapping, Input: true, Output: true, Required: true},
			{Name: "sitemap_url", Type: TypeString, Input: true, Output: true},
			{Name: "id", Type: TypeString, Output: true},
			{Name: "last_modified", Type: TypeString, Output: true},
		},
	},
	engine.KindRedirect: {
		Kind:           engine.KindRedirect,
		SupportsWrite:  true,
		SupportsUpdate: true,
		Attrs: []AttrSpec{
			{Name: "site_id", Type: TypeString, Input: true, Required: true, Ref: true},
			{Name: "source_path", Type: TypeString, Input: true, Output: true, Required: true},
			{Name: "destination_path", Type: TypeString, Input: true, Output: true, Required: true},
			{Name: "status_code", Type: TypeInt, Input: true, Output: true, Required: true, Enum: []string{"301", "302"}},
			{Name: "id", Type: TypeString, Output: true},
			{Name: "last_updated", Type: TypeString, Output: true},
		},
	},
	engine.KindWebhook: {
		Kind:           engine.KindWebhook,
		SupportsWrite:  true,
		SupportsUpdate: true,
		Attrs: []AttrSpec{
			{Name: "site_id", Type: TypeString, Input: true, Required: true, Ref: true},
			{Name: "trigger_type", Type: TypeString, Input: true, Output: true, Required: true, Enum: []string{
				"form_submission", "site_publish", "page_created", "page_deleted",
				"collection_item_created", "collection_item_changed", "collection_item_deleted",
			}},
			{Name: "url", Type: TypeString, Input: true, Output: true, Required: true, Format: FormatHTTPSURL},
			{Name: "filter", Type: TypeMapping, Input: true, Output: true},
			{Name: "id", Type: TypeString, Output: true},
			{Name: "created_on", Type: TypeString, Output: true},
			{Name: "last_triggered", Type: TypeString, Output: true},
		},
	},
	engine.KindAsset: {
		Kind:          engine.KindAsset,
		SupportsWrite: true,
		// Creation-only: the platform has no update path for assets.
		SupportsUpdate: false,
		Attrs: []AttrSpec{
			{Name: "site_id", Type: TypeString, Input: true, Required: true, Immutable: true, Ref: true},
			{Name: "file_name", Type: TypeString, Input: true, Output: true, Required: true, Immutable: true},
			{Name: "file_hash", Type: TypeString, Input: true, Required: true, Immutable: true, Format: FormatMD5},
			{Name: "parent_folder", Type: TypeString, Input: true, Immutable: true},
			{Name: "id", Type: TypeString, Output: true},
			{Name: "upload_url", Type: TypeString, Output: true},
			{Name: "upload_details", Type: TypeMapping, Output: true},
			{Name: "hosted_url", Type: TypeString, Output: true},
			{Name: "asset_url", Type: TypeString, Output: true},
			{Name: "created_on", Type: TypeString, Output: true},
			{Name: "last_updated", Type: TypeString, Output: true},
		},
	},
}

// SpecFor returns the schema of the given kind.
func SpecFor(kind engine.Kind) (KindSpec, error) {
	spec, ok := registry[kind]
	if !ok {
		return KindSpec{}, engine.NewValidationError(
			fmt.Sprintf("unknown resource kind %q", kind), nil,
		).WithCode(engine.ErrCodeUnknownKind)
	}
	return spec, nil
}

// InputAttrs returns the kind's input attributes in schema order.
func (s KindSpec) InputAttrs() []AttrSpec {
	attrs := make([]AttrSpec, 0, len(s.Attrs))
	for _, a := range s.Attrs {
		if a.Input {
			attrs = append(attrs, a)
		}
	}
	return attrs
}

// OutputAttrs returns the kind's output attributes in schema order.
func (s KindSpec) OutputAttrs() []AttrSpec {
	attrs := make([]AttrSpec, 0, len(s.Attrs))
	for _, a := range s.Attrs {
		if a.Output {
			attrs = append(attrs, a)
		}
	}
	return attrs
}

// Attr looks up one attribute by name.
func (s KindSpec) Attr(name string) (AttrSpec, bool) {
	for _, a := range s.Attrs {
		if a.Name == name {
			return a, true
		}
	}
	return AttrSpec{}, false
}

// IsImmutable reports whether changing the named attribute forces a replace.
func IsImmutable(kind engine.Kind, name string) bool {
	spec, ok := registry[kind]
	if !ok {
		return false
	}
	a, ok := spec.Attr(name)
	return ok && a.Immutable
}

// Validate checks a desired input set against the kind's schema. Every
// problem is collected so the caller sees all missing or malformed fields
// in a single validation error.
func Validate(kind engine.Kind, inputs engine.Attrs) error {
	spec, err := SpecFor(kind)
	if err != nil {
		return err
	}

	var problems []string

	for _, a := range spec.InputAttrs() {
		value, present := inputs[a.Name]
		if !present || isEmpty(a, value) {
			if a.Required {
				problems = append(problems, fmt.Sprintf("%s is required", a.Name))
			}
			continue
		}
		if msg := checkValue(a, value); msg != "" {
			problems = append(problems, msg)
		}
	}

	known := make(map[string]bool, len(spec.Attrs))
	for _, a := range spec.InputAttrs() {
		known[a.Name] = true
	}
	var unknown []string
	for name := range inputs {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		problems = append(problems, fmt.Sprintf("%s is not an input attribute of kind %s", name, kind))
	}

	if len(problems) > 0 {
		return engine.NewValidationError(
			fmt.Sprintf("invalid %s input: %s", kind, strings.Join(problems, "; ")), nil,
		).WithCode(engine.ErrCodeMissingField)
	}
	return nil
}

func isEmpty(a AttrSpec, value any) bool {
	switch a.Type {
	case TypeSecret:
		s, ok := value.(secret.String)
		return ok && s.IsZero()
	case TypeString:
		s, ok := value.(string)
		return ok && s == ""
	case TypeMapping:
		m, ok := value.(map[string]any)
		return ok && len(m) == 0
	default:
		return false
	}
}

func checkValue(a AttrSpec, value any) string {
	switch a.Type {
	case TypeString:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("%s must be a string, got %T", a.Name, value)
		}
		return checkStringFormat(a, s)
	case TypeSecret:
		if _, ok := value.(secret.String); !ok {
			return fmt.Sprintf("%s must be a secret string, got %T", a.Name, value)
		}
	case TypeInt:
		n, ok := asInt(value)
		if !ok {
			return fmt.Sprintf("%s must be an integer, got %T", a.Name, value)
		}
		if len(a.Enum) > 0 && !enumContains(a.Enum, fmt.Sprintf("%d", n)) {
			return fmt.Sprintf("%s must be one of %s, got %d", a.Name, strings.Join(a.Enum, ", "), n)
		}
	case TypeBool:
		if _, ok := value.(bool); !ok {
			return fmt.Sprintf("%s must be a boolean, got %T", a.Name, value)
		}
	case TypeMapping:
		if _, ok := value.(map[string]any); !ok {
			return fmt.Sprintf("%s must be a mapping, got %T", a.Name, value)
		}
	}
	return ""
}

func checkStringFormat(a AttrSpec, s string) string {
	if len(a.Enum) > 0 && !enumContains(a.Enum, s) {
		return fmt.Sprintf("%s must be one of %s, got %q", a.Name, strings.Join(a.Enum, ", "), s)
	}
	switch a.Format {
	case FormatSlug:
		if !slugPattern.MatchString(s) {
			return fmt.Sprintf("%s must be lowercase alphanumeric with hyphens, got %q", a.Name, s)
		}
	case FormatMD5:
		if !md5Pattern.MatchString(s) {
			return fmt.Sprintf("%s must be a 32-character hexadecimal MD5 digest", a.Name)
		}
	case FormatHTTPSURL:
		if !strings.HasPrefix(s, "https://") {
			return fmt.Sprintf("%s must be an https:// URL, got %q", a.Name, s)
		}
	}
	return ""
}

func enumContains(enum []string, v string) bool {
	for _, e := range enum {
		if e == v {
			return true
		}
	}
	return false
}

func asInt(value any) (int64, bool) {
	switch n := value.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}
