// Package diff decides, per resource instance, whether a state transition
// is a no-op, an in-place update or a destructive replace.
package diff

import (
	"reflect"
	"sort"

	"github.com/flowforge-io/flowforge/pkg/engine"
	"github.com/flowforge-io/flowforge/pkg/schema"
	"github.com/flowforge-io/flowforge/pkg/secret"
)

// Plan compares the previously recorded input state with the newly desired
// input state and yields the typed reconciliation decision.
//
// Every input attribute of the kind participates: an attribute dropped
// from the desired set while still recorded counts as a change, so removing
// it from the manifest clears it remotely instead of silently no-opping.
// Server-defaulted attributes are the exception; they only re-enter the
// comparison when the caller supplies an explicit desired value. If any
// changed attribute is immutable for the kind, the whole resource is
// replaced; partial updates are never combined with a pending replace.
func Plan(kind engine.Kind, previous, desired engine.Attrs) (engine.DiffPlan, error) {
	spec, err := schema.SpecFor(kind)
	if err != nil {
		return engine.DiffPlan{}, err
	}
	if !spec.SupportsWrite {
		return engine.DiffPlan{}, engine.NewUnsupportedError(
			"kind "+string(kind)+" is read-only and cannot be diffed", nil,
		).WithCode(engine.ErrCodeReadOnlyKind).WithOperation(string(engine.OpDiff))
	}

	changed := make([]string, 0, len(spec.Attrs))
	replace := false

	for _, a := range spec.InputAttrs() {
		desiredValue, desiredOk := desired[a.Name]
		previousValue, previousOk := previous[a.Name]
		if !desiredOk && !previousOk {
			continue
		}
		if a.ServerDefaulted && isBlank(desiredValue) {
			// The remote generated this value; only an explicit desired
			// value re-enters the comparison.
			continue
		}
		if desiredOk {
			if equalValues(previousValue, desiredValue) {
				continue
			}
		} else if isBlank(previousValue) {
			continue
		}

		changed = append(changed, a.Name)
		if a.Immutable || !spec.SupportsUpdate {
			replace = true
		}
	}

	if len(changed) == 0 {
		return engine.DiffPlan{Action: engine.DiffNoOp}, nil
	}

	sort.Strings(changed)
	action := engine.DiffUpdate
	if replace {
		action = engine.DiffReplace
	}
	return engine.DiffPlan{Action: action, Changed: changed}, nil
}

// equalValues compares attribute values structurally. Mappings and lists
// are compared by full structural equality, never by reference; secrets are
// compared by value without ever formatting the raw content.
//
// A previous value equal to the redaction placeholder is what a persisted
// secret looks like after a store round-trip; it matches any desired
// secret, so a restored record is not replaced on every pass. The cost is
// that a secret-only change cannot be detected across process restarts.
func equalValues(previous, desired any) bool {
	if ds, ok := desired.(secret.String); ok {
		switch p := previous.(type) {
		case secret.String:
			return p.Equal(ds)
		case string:
			return p == secret.Redacted
		}
		return false
	}
	if _, ok := previous.(secret.String); ok {
		return false
	}

	if pn, ok := asInt(previous); ok {
		if dn, ok := asInt(desired); ok {
			return pn == dn
		}
		return false
	}

	return reflect.DeepEqual(previous, desired)
}

func isBlank(value any) bool {
	if value == nil {
		return true
	}
	s, ok := value.(string)
	return ok && s == ""
}

// asInt normalizes the integer representations that survive a JSON or
// store round-trip, so 301 recorded as float64 still equals 301.
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
