package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"

	"github.com/flowforge-io/flowforge/pkg/engine"
	"github.com/flowforge-io/flowforge/pkg/schema"
	"github.com/flowforge-io/flowforge/pkg/secret"
)

// manifestSchema constrains the shape of every manifest before any
// resource is extracted. The per-kind attribute rules live in the schema
// package; this only pins the manifest structure.
const manifestSchema = `
resources: [string]: {
	kind: "site" | "page" | "collection" | "collection_item" |
		"robots_txt" | "redirect" | "webhook" | "asset"
	inputs: {...}
	annotations?: [string]: string
	compute?: string
}
`

// ManifestParser parses CUE manifests into the declarative resource set.
type ManifestParser struct {
	ctx       *cue.Context
	evaluator *StarlarkEvaluator
	validator *validator.Validate
}

// NewManifestParser creates a manifest parser.
func NewManifestParser() *ManifestParser {
	return &ManifestParser{
		ctx:       cuecontext.New(),
		evaluator: NewStarlarkEvaluator(30 * time.Second),
		validator: validator.New(),
	}
}

// Parse loads and unifies the given CUE files or directories into one
// manifest. Parse problems are collected on the manifest rather than
// aborting at the first error.
func (p *ManifestParser) Parse(ctx context.Context, sources []string) (*Manifest, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no manifest sources provided")
	}

	manifest := &Manifest{ParsedAt: time.Now()}
	value := p.ctx.CompileString(manifestSchema)

	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		if info.IsDir() {
			val, files, errs := p.loadDirectory(source)
			manifest.Errors = append(manifest.Errors, errs...)
			if val.Exists() {
				value = value.Unify(val)
			}
			manifest.SourceFiles = append(manifest.SourceFiles, files...)
			continue
		}

		val, errs := p.loadFile(source)
		manifest.Errors = append(manifest.Errors, errs...)
		if val.Exists() {
			value = value.Unify(val)
		}
		manifest.SourceFiles = append(manifest.SourceFiles, source)
	}

	if len(manifest.Errors) > 0 {
		return manifest, nil
	}
	if err := value.Validate(cue.Concrete(true)); err != nil {
		manifest.Errors = append(manifest.Errors, p.convertCUEErrors(err)...)
		return manifest, nil
	}

	p.extractResources(ctx, value, manifest)
	return manifest, nil
}

// ParseInline parses inline CUE content, mainly for tests and the
// validate command's stdin mode.
func (p *ManifestParser) ParseInline(ctx context.Context, content string) (*Manifest, error) {
	manifest := &Manifest{SourceFiles: []string{"inline"}, ParsedAt: time.Now()}

	val := p.ctx.CompileString(content, cue.Filename("inline.cue"))
	if err := val.Err(); err != nil {
		manifest.Errors = p.convertCUEErrors(err)
		return manifest, nil
	}

	value := p.ctx.CompileString(manifestSchema).Unify(val)
	if err := value.Validate(cue.Concrete(true)); err != nil {
		manifest.Errors = p.convertCUEErrors(err)
		return manifest, nil
	}

	p.extractResources(ctx, value, manifest)
	return manifest, nil
}

func (p *ManifestParser) loadDirectory(dir string) (cue.Value, []string, []ValidationError) {
	instances := load.Instances([]string{dir}, nil)
	if len(instances) == 0 {
		return cue.Value{}, nil, []ValidationError{{File: dir, Message: "no CUE files found"}}
	}

	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, nil, p.convertCUEErrors(inst.Err)
	}

	val := p.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, p.convertCUEErrors(err)
	}

	var files []string
	for _, file := range inst.Files {
		if file.Filename != "" {
			files = append(files, file.Filename)
		}
	}
	return val, files, nil
}

func (p *ManifestParser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{File: path, Message: fmt.Sprintf("failed to read file: %v", err)}}
	}

	val := p.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, p.convertCUEErrors(err)
	}
	return val, nil
}

func (p *ManifestParser) extractResources(ctx context.Context, value cue.Value, manifest *Manifest) {
	resourcesVal := value.LookupPath(cue.ParsePath("resources"))
	if !resourcesVal.Exists() {
		return
	}

	iter, err := resourcesVal.Fields(cue.All())
	if err != nil {
		manifest.Errors = append(manifest.Errors, ValidationError{
			Path:    "resources",
			Message: fmt.Sprintf("failed to iterate resources: %v", err),
		})
		return
	}

	for iter.Next() {
		name := iter.Selector().Unquoted()
		resource, err := p.extractResource(ctx, name, iter.Value())
		if err != nil {
			manifest.Errors = append(manifest.Errors, ValidationError{
				Path:    fmt.Sprintf("resources.%s", name),
				Message: err.Error(),
			})
			continue
		}
		manifest.Resources = append(manifest.Resources, resource)
	}
}

func (p *ManifestParser) extractResource(ctx context.Context, name string, val cue.Value) (ResourceConfig, error) {
	var resource ResourceConfig
	if err := val.Decode(&resource); err != nil {
		return resource, fmt.Errorf("failed to decode resource: %w", err)
	}
	resource.Name = name

	if resource.Compute != "" {
		computed, err := p.evaluator.Evaluate(ctx, resource.Compute, map[string]any{"inputs": resource.Inputs})
		if err != nil {
			return resource, fmt.Errorf("compute script failed: %w", err)
		}
		for attr, value := range computed.Output {
			resource.Inputs[attr] = value
		}
	}

	if err := p.validator.Struct(resource); err != nil {
		return resource, fmt.Errorf("validation failed: %w", err)
	}
	return resource, nil
}

func (p *ManifestParser) convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range errors.Errors(err) {
		var file string
		var line, column int
		if pos := errors.Positions(e); len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}
		out = append(out, ValidationError{
			File:    file,
			Line:    line,
			Column:  column,
			Message: errors.Details(e, nil),
		})
	}
	return out
}

// Desired converts a parsed resource into the engine's attribute model:
// the kind tag is checked against the registry and secret-tagged
// attributes are wrapped so their values cannot leak through formatting
// or serialization from this point on.
func Desired(rc ResourceConfig) (engine.Kind, engine.Attrs, error) {
	kind := engine.Kind(rc.Kind)
	spec, err := schema.SpecFor(kind)
	if err != nil {
		return "", nil, err
	}

	inputs := make(engine.Attrs, len(rc.Inputs))
	for name, value := range rc.Inputs {
		attr, known := spec.Attr(name)
		if known && attr.Type == schema.TypeSecret {
			s, ok := value.(string)
			if !ok {
				return "", nil, engine.NewValidationError(
					fmt.Sprintf("secret attribute %s of %s must be a string", name, rc.Name), nil,
				).WithCode(engine.ErrCodeMalformedField)
			}
			inputs[name] = secret.New(s)
			continue
		}
		inputs[name] = normalizeValue(value)
	}
	return kind, inputs, nil
}

// normalizeValue flattens CUE decode artifacts onto the plain JSON-shaped
// values the engine works with.
func normalizeValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = normalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return value
	}
}
