package config

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.starlark.net/starlark"
)

// StarlarkEvaluator executes manifest compute scripts in a sandboxed
// thread: no filesystem, no network, no print, bounded execution time.
type StarlarkEvaluator struct {
	timeout time.Duration
}

// NewStarlarkEvaluator creates a new Starlark evaluator.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &StarlarkEvaluator{timeout: timeout}
}

// Evaluate executes a script with the given values predeclared and
// returns the exported globals. Names starting with an underscore stay
// internal to the script.
func (se *StarlarkEvaluator) Evaluate(ctx context.Context, script string, input map[string]any) (*StarlarkResult, error) {
	start := time.Now()

	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	resultCh := make(chan *StarlarkResult, 1)
	errCh := make(chan error, 1)

	go func() {
		result, err := se.evaluateSync(script, input)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- result
	}()

	select {
	case <-evalCtx.Done():
		return nil, fmt.Errorf("compute script timeout after %v", se.timeout)
	case err := <-errCh:
		return nil, err
	case result := <-resultCh:
		result.ExecutionTime = time.Since(start)
		return result, nil
	}
}

func (se *StarlarkEvaluator) evaluateSync(script string, input map[string]any) (*StarlarkResult, error) {
	thread := &starlark.Thread{
		Name: "flowforge",
		Print: func(_ *starlark.Thread, _ string) {
			// Scripts have no output channel.
		},
	}

	predeclared := starlark.StringDict{
		"slugify": starlark.NewBuiltin("slugify", builtinSlugify),
	}
	for key, val := range input {
		starlarkVal, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		predeclared[key] = starlarkVal
	}

	globals, err := starlark.ExecFile(thread, "compute.star", script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("compute script failed: %w", err)
	}

	output := make(map[string]any)
	for name, val := range globals {
		if strings.HasPrefix(name, "_") {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert output %s: %w", name, err)
		}
		output[name] = goVal
	}
	return &StarlarkResult{Output: output}, nil
}

var slugifyNonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// builtinSlugify turns a display string into the lowercase hyphenated
// form the platform expects for slugs and short names.
func builtinSlugify(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var s string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "s", &s); err != nil {
		return nil, err
	}
	slug := slugifyNonAlnum.ReplaceAllString(strings.ToLower(s), "-")
	return starlark.String(strings.Trim(slug, "-")), nil
}

func toStarlarkValue(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			converted, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = converted
		}
		return starlark.NewList(list), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			converted, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), converted); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]any)
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
