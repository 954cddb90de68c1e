package policy

import (
	"time"
)

// builtinGuard blocks the deletion of objects carrying the protection
// annotation. A replace is delete-then-create, so it is blocked too.
const builtinGuard = `package flowforge.guard

import rego.v1

deny contains msg if {
	input.operation == "delete"
	input.record.annotations["flowforge.io/protected"] == "true"
	msg := sprintf("%s %q carries flowforge.io/protected and cannot be deleted or replaced", [input.record.kind, input.record.name])
}
`

// BuiltinPolicies returns the policies compiled into the binary. They are
// always active; file-loaded policies add to them.
func BuiltinPolicies() []Policy {
	return []Policy{
		{
			Name:        "protected-objects",
			Description: "Blocks deletion and replacement of objects annotated flowforge.io/protected.",
			Rego:        builtinGuard,
			Enabled:     true,
			LoadedAt:    time.Now(),
		},
	}
}
