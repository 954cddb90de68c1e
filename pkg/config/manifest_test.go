package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/flowforge-io/flowforge/pkg/engine"
	"github.com/flowforge-io/flowforge/pkg/secret"
)

const sampleManifest = `
resources: {
	main_site: {
		kind: "site"
		inputs: {
			workspace_id: "6510f9c1a2b3c4d5e6f70811"
			display_name: "Marketing Site"
			time_zone:    "Europe/Berlin"
		}
		annotations: "flowforge.io/protected": "true"
	}
	old_page_redirect: {
		kind: "redirect"
		inputs: {
			site_id:          "651a000000000000000000aa"
			source_path:      "/old"
			destination_path: "/new"
			status_code:      301
		}
	}
}
`

func TestParseInline(t *testing.T) {
	t.Parallel()

	p := NewManifestParser()
	manifest, err := p.ParseInline(context.Background(), sampleManifest)
	if err != nil {
		t.Fatalf("ParseInline: %v", err)
	}
	if len(manifest.Errors) != 0 {
		t.Fatalf("errors = %+v", manifest.Errors)
	}
	if len(manifest.Resources) != 2 {
		t.Fatalf("resources = %+v", manifest.Resources)
	}

	byName := map[string]ResourceConfig{}
	for _, rc := range manifest.Resources {
		byName[rc.Name] = rc
	}
	site := byName["main_site"]
	if site.Kind != "site" || site.Inputs["display_name"] != "Marketing Site" {
		t.Fatalf("site = %+v", site)
	}
	if site.Annotations["flowforge.io/protected"] != "true" {
		t.Fatalf("annotations = %v", site.Annotations)
	}
}

func TestParseInlineRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	p := NewManifestParser()
	manifest, err := p.ParseInline(context.Background(), `
resources: bad: {
	kind: "database"
	inputs: {}
}
`)
	if err != nil {
		t.Fatalf("ParseInline: %v", err)
	}
	if len(manifest.Errors) == 0 {
		t.Fatal("an unknown kind must be rejected by the manifest schema")
	}
}

func TestParseInlineCollectsSyntaxErrors(t *testing.T) {
	t.Parallel()

	p := NewManifestParser()
	manifest, err := p.ParseInline(context.Background(), `resources: { broken`)
	if err != nil {
		t.Fatalf("ParseInline: %v", err)
	}
	if len(manifest.Errors) == 0 {
		t.Fatal("syntax errors must be collected on the manifest")
	}
}

func TestParseFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "site.cue")
	if err := os.WriteFile(path, []byte(sampleManifest), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	p := NewManifestParser()
	manifest, err := p.Parse(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(manifest.Errors) != 0 || len(manifest.Resources) != 2 {
		t.Fatalf("manifest = %+v", manifest)
	}
	if len(manifest.SourceFiles) != 1 || manifest.SourceFiles[0] != path {
		t.Fatalf("source files = %v", manifest.SourceFiles)
	}
}

func TestComputeScriptMergesIntoInputs(t *testing.T) {
	t.Parallel()

	p := NewManifestParser()
	manifest, err := p.ParseInline(context.Background(), `
resources: launch_post: {
	kind: "collection_item"
	inputs: {
		collection_id: "652b000000000000000000bb"
		field_data: name: "Launch Day"
	}
	compute: """
		field_data = dict(inputs["field_data"])
		field_data["slug"] = slugify(field_data["name"])
		"""
}
`)
	if err != nil {
		t.Fatalf("ParseInline: %v", err)
	}
	if len(manifest.Errors) != 0 {
		t.Fatalf("errors = %+v", manifest.Errors)
	}

	rc := manifest.Resources[0]
	fieldData, ok := rc.Inputs["field_data"].(map[string]any)
	if !ok {
		t.Fatalf("field_data = %T", rc.Inputs["field_data"])
	}
	if fieldData["slug"] != "launch-day" || fieldData["name"] != "Launch Day" {
		t.Fatalf("field_data = %v", fieldData)
	}
}

func TestDesiredWrapsSecrets(t *testing.T) {
	t.Parallel()

	kind, inputs, err := Desired(ResourceConfig{
		Name: "main_site",
		Kind: "site",
		Inputs: map[string]any{
			"workspace_id": "6510f9c1a2b3c4d5e6f70811",
			"display_name": "Marketing Site",
		},
	})
	if err != nil {
		t.Fatalf("Desired: %v", err)
	}
	if kind != engine.KindSite {
		t.Fatalf("kind = %s", kind)
	}

	s, ok := inputs["workspace_id"].(secret.String)
	if !ok {
		t.Fatalf("workspace_id not wrapped: %T", inputs["workspace_id"])
	}
	if s.Reveal() != "6510f9c1a2b3c4d5e6f70811" {
		t.Fatal("wrapped secret lost its value")
	}
	if inputs["display_name"] != "Marketing Site" {
		t.Fatalf("inputs = %v", inputs)
	}
}

func TestDesiredUnknownKind(t *testing.T) {
	t.Parallel()

	_, _, err := Desired(ResourceConfig{Name: "x", Kind: "database", Inputs: map[string]any{}})
	if !engine.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
