package mapper

import (
	"net/http"
	"reflect"
	"strings"
	"testing"

	"github.com/flowforge-io/flowforge/pkg/engine"
	"github.com/flowforge-io/flowforge/pkg/secret"
)

func TestBuildCreateSite(t *testing.T) {
	t.Parallel()

	req, err := BuildCreate(engine.KindSite, engine.Attrs{
		"workspace_id": secret.New("6510f9c1a2b3c4d5e6f70811"),
		"display_name": "Marketing Site",
		"time_zone":    "Europe/Berlin",
	})
	if err != nil {
		t.Fatalf("BuildCreate: %v", err)
	}
	if req.Method != http.MethodPost || req.Path != "/v2/sites" {
		t.Fatalf("unexpected request: %s %s", req.Method, req.Path)
	}
	if req.Payload["workspace_id"] != "6510f9c1a2b3c4d5e6f70811" {
		t.Fatalf("workspace reference must be revealed in the body: %v", req.Payload)
	}
	if req.Payload["display_name"] != "Marketing Site" {
		t.Fatalf("payload = %v", req.Payload)
	}
}

func TestBuildCreateKeepsSecretRefOutOfPath(t *testing.T) {
	t.Parallel()

	req, err := BuildCreate(engine.KindSite, engine.Attrs{
		"workspace_id": secret.New("6510f9c1a2b3c4d5e6f70811"),
		"display_name": "x",
	})
	if err != nil {
		t.Fatalf("BuildCreate: %v", err)
	}
	if strings.Contains(req.Path, "6510f9c1a2b3c4d5e6f70811") {
		t.Fatalf("secret reference leaked into the path: %s", req.Path)
	}
	if req.Payload["workspace_id"] != "6510f9c1a2b3c4d5e6f70811" {
		t.Fatalf("secret reference missing from the body: %v", req.Payload)
	}
}

func TestBuildCreateParentScopedPaths(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind   engine.Kind
		inputs engine.Attrs
		method string
		path   string
	}{
		{
			engine.KindCollection,
			engine.Attrs{"site_id": "s1", "display_name": "Posts", "singular_name": "Post"},
			http.MethodPost, "/v2/sites/s1/collections",
		},
		{
			engine.KindCollectionItem,
			engine.Attrs{"collection_id": "c1", "field_data": map[string]any{"name": "n"}},
			http.MethodPost, "/v2/collections/c1/items",
		},
		{
			engine.KindRobotsTxt,
			engine.Attrs{"site_id": "s1", "rules": map[string]any{"user_agent": "*"}},
			http.MethodPut, "/v2/sites/s1/robots_txt",
		},
		{
			engine.KindRedirect,
			engine.Attrs{"site_id": "s1", "source_path": "/a", "destination_path": "/b", "status_code": 301},
			http.MethodPost, "/v2/sites/s1/redirects",
		},
		{
			engine.KindWebhook,
			engine.Attrs{"site_id": "s1", "trigger_type": "site_publish", "url": "https://example.com/hook"},
			http.MethodPost, "/v2/sites/s1/webhooks",
		},
		{
			engine.KindAsset,
			engine.Attrs{"site_id": "s1", "file_name": "hero.png", "file_hash": "d41d8cd98f00b204e9800998ecf8427e"},
			http.MethodPost, "/v2/sites/s1/assets",
		},
	}

	for _, tc := range cases {
		req, err := BuildCreate(tc.kind, tc.inputs)
		if err != nil {
			t.Fatalf("BuildCreate(%s): %v", tc.kind, err)
		}
		if req.Method != tc.method || req.Path != tc.path {
			t.Fatalf("%s: got %s %s, want %s %s", tc.kind, req.Method, req.Path, tc.method, tc.path)
		}
		if _, present := req.Payload["site_id"]; present {
			t.Fatalf("%s: parent reference leaked into body", tc.kind)
		}
	}
}

func TestBuildCreateMissingParentRef(t *testing.T) {
	t.Parallel()

	_, err := BuildCreate(engine.KindRedirect, engine.Attrs{"source_path": "/a"})
	if !engine.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = BuildCreate(engine.KindSite, engine.Attrs{"display_name": "x"})
	if !engine.IsValidation(err) {
		t.Fatalf("expected validation error for a missing workspace reference, got %v", err)
	}
}

func TestBuildCreateReadOnlyKind(t *testing.T) {
	t.Parallel()

	_, err := BuildCreate(engine.KindPage, engine.Attrs{})
	if !engine.IsUnsupported(err) {
		t.Fatalf("expected unsupported-operation error, got %v", err)
	}
}

func TestBuildReadPaths(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind       engine.Kind
		externalID string
		path       string
	}{
		{engine.KindSite, "s1", "/v2/sites/s1"},
		{engine.KindPage, "p1", "/v2/pages/p1"},
		{engine.KindCollection, "c1", "/v2/collections/c1"},
		{engine.KindCollectionItem, "c1/i1", "/v2/collections/c1/items/i1"},
		{engine.KindRobotsTxt, "s1", "/v2/sites/s1/robots_txt"},
		{engine.KindRedirect, "s1/r1", "/v2/sites/s1/redirects/r1"},
		{engine.KindWebhook, "w1", "/v2/webhooks/w1"},
		{engine.KindAsset, "a1", "/v2/assets/a1"},
	}

	for _, tc := range cases {
		req, err := BuildRead(tc.kind, tc.externalID)
		if err != nil {
			t.Fatalf("BuildRead(%s): %v", tc.kind, err)
		}
		if req.Method != http.MethodGet || req.Path != tc.path {
			t.Fatalf("%s: got %s %s, want GET %s", tc.kind, req.Method, req.Path, tc.path)
		}
	}
}

func TestBuildReadRejectsMalformedCompositeID(t *testing.T) {
	t.Parallel()

	_, err := BuildRead(engine.KindCollectionItem, "bare-id")
	if !engine.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = BuildRead(engine.KindRedirect, "/r1")
	if !engine.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBuildUpdateSendsOnlyChangedAttrs(t *testing.T) {
	t.Parallel()

	inputs := engine.Attrs{
		"collection_id": "c1",
		"field_data":    map[string]any{"name": "Post v2"},
		"is_draft":      false,
		"is_archived":   true,
	}
	req, err := BuildUpdate(engine.KindCollectionItem, "c1/i1", inputs, []string{"field_data"})
	if err != nil {
		t.Fatalf("BuildUpdate: %v", err)
	}
	if req.Method != http.MethodPatch || req.Path != "/v2/collections/c1/items/i1" {
		t.Fatalf("unexpected request: %s %s", req.Method, req.Path)
	}
	want := map[string]any{"field_data": map[string]any{"name": "Post v2"}}
	if !reflect.DeepEqual(req.Payload, want) {
		t.Fatalf("payload = %v, want %v", req.Payload, want)
	}
}

func TestBuildUpdateClearsDroppedAttributes(t *testing.T) {
	t.Parallel()

	inputs := engine.Attrs{
		"collection_id": "c1",
		"field_data":    map[string]any{"name": "n"},
	}
	req, err := BuildUpdate(engine.KindCollectionItem, "c1/i1", inputs, []string{"is_draft"})
	if err != nil {
		t.Fatalf("BuildUpdate: %v", err)
	}
	v, present := req.Payload["is_draft"]
	if !present || v != nil {
		t.Fatalf("a changed attribute absent from the inputs must be sent as null: %v", req.Payload)
	}
}

func TestBuildUpdateRobotsSendsFullBody(t *testing.T) {
	t.Parallel()

	inputs := engine.Attrs{
		"site_id":     "s1",
		"rules":       map[string]any{"user_agent": "*"},
		"sitemap_url": "https://example.com/sitemap.xml",
	}
	req, err := BuildUpdate(engine.KindRobotsTxt, "s1", inputs, []string{"sitemap_url"})
	if err != nil {
		t.Fatalf("BuildUpdate: %v", err)
	}
	if req.Method != http.MethodPut {
		t.Fatalf("robots update must PUT the full document, got %s", req.Method)
	}
	if _, present := req.Payload["rules"]; !present {
		t.Fatalf("robots upsert must carry all attributes: %v", req.Payload)
	}
}

func TestBuildUpdateCreateOnlyKindRejected(t *testing.T) {
	t.Parallel()

	_, err := BuildUpdate(engine.KindAsset, "a1", engine.Attrs{}, []string{"file_hash"})
	if !engine.IsUnsupported(err) {
		t.Fatalf("expected unsupported-operation error, got %v", err)
	}
	_, err = BuildUpdate(engine.KindCollection, "c1", engine.Attrs{}, []string{"slug"})
	if !engine.IsUnsupported(err) {
		t.Fatalf("expected unsupported-operation error, got %v", err)
	}
}

func TestBuildDelete(t *testing.T) {
	t.Parallel()

	req, err := BuildDelete(engine.KindWebhook, "w1")
	if err != nil {
		t.Fatalf("BuildDelete: %v", err)
	}
	if req.Method != http.MethodDelete || req.Path != "/v2/webhooks/w1" {
		t.Fatalf("unexpected request: %s %s", req.Method, req.Path)
	}
	if req.Payload != nil {
		t.Fatalf("delete must not carry a body")
	}
}

func TestExternalIDComposition(t *testing.T) {
	t.Parallel()

	id, err := ExternalID(engine.KindCollectionItem,
		engine.Attrs{"collection_id": "c1"}, map[string]any{"id": "i1"})
	if err != nil || id != "c1/i1" {
		t.Fatalf("item external id = %q, %v", id, err)
	}

	id, err = ExternalID(engine.KindRedirect,
		engine.Attrs{"site_id": "s1"}, map[string]any{"id": "r1"})
	if err != nil || id != "s1/r1" {
		t.Fatalf("redirect external id = %q, %v", id, err)
	}

	id, err = ExternalID(engine.KindRobotsTxt,
		engine.Attrs{"site_id": "s1"}, map[string]any{})
	if err != nil || id != "s1" {
		t.Fatalf("robots external id = %q, %v", id, err)
	}

	id, err = ExternalID(engine.KindAsset,
		engine.Attrs{"site_id": "s1"}, map[string]any{"asset_id": "a1"})
	if err != nil || id != "a1" {
		t.Fatalf("asset external id via alias = %q, %v", id, err)
	}

	_, err = ExternalID(engine.KindSite, engine.Attrs{}, map[string]any{})
	if !engine.IsTransient(err) {
		t.Fatalf("id-less response must be transient, got %v", err)
	}
}

func TestOutputsPopulatesEveryDeclaredOutput(t *testing.T) {
	t.Parallel()

	out, err := Outputs(engine.KindSite, engine.Attrs{
		"workspace_id": secret.New("6510f9c1a2b3c4d5e6f70811"),
		"display_name": "Marketing Site",
		"time_zone":    "Europe/Berlin",
	}, map[string]any{
		"id":           "s1",
		"display_name": "Marketing Site",
		"short_name":   "marketing-site",
		"created_on":   "2026-08-29T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("Outputs: %v", err)
	}

	for _, name := range []string{
		"id", "display_name", "short_name", "time_zone", "custom_domain",
		"created_on", "last_updated", "last_published", "preview_url",
	} {
		if _, present := out[name]; !present {
			t.Fatalf("output %s missing: %v", name, out)
		}
	}
	if out["id"] != "s1" || out["short_name"] != "marketing-site" {
		t.Fatalf("response values must win: %v", out)
	}
	if out["time_zone"] != "Europe/Berlin" {
		t.Fatalf("omitted echoable inputs must be echoed: %v", out)
	}
	if out["preview_url"] != "" {
		t.Fatalf("absent remote-only outputs must default: %v", out)
	}
	if _, present := out["workspace_id"]; present {
		t.Fatalf("secret input leaked into outputs: %v", out)
	}
}

func TestOutputsNeverEchoesSecrets(t *testing.T) {
	t.Parallel()

	out, err := Outputs(engine.KindSite, engine.Attrs{
		"workspace_id": secret.New("very-secret"),
		"display_name": "x",
	}, map[string]any{"id": "s1"})
	if err != nil {
		t.Fatalf("Outputs: %v", err)
	}
	for name, v := range out {
		if s, ok := v.(string); ok && strings.Contains(s, "very-secret") {
			t.Fatalf("output %s carries secret material", name)
		}
	}
}

func TestHandoff(t *testing.T) {
	t.Parallel()

	h, ok := Handoff("a1", map[string]any{
		"upload_url": "https://uploads.example.com/a1",
		"upload_details": map[string]any{
			"acl": "private",
			"key": "assets/a1",
		},
	})
	if !ok {
		t.Fatalf("expected a handoff")
	}
	if h.ExternalID != "a1" || h.UploadURL != "https://uploads.example.com/a1" {
		t.Fatalf("handoff = %+v", h)
	}
	if h.UploadParameters["acl"] != "private" || h.UploadParameters["key"] != "assets/a1" {
		t.Fatalf("upload parameters = %v", h.UploadParameters)
	}

	if _, ok := Handoff("a1", map[string]any{"id": "a1"}); ok {
		t.Fatalf("response without upload_url must not yield a handoff")
	}
}
