// Package config loads everything the engine is told from the outside:
// runtime settings from YAML with environment overrides for secrets, and
// declarative manifests from CUE.
//
// Manifests declare resources under a single top-level map:
//
//	resources: main_site: {
//		kind: "site"
//		inputs: {
//			workspace_id: "..."
//			display_name: "Marketing Site"
//		}
//	}
//
// A resource may carry a Starlark compute script; its exported globals
// are merged into the inputs before validation, which keeps derived
// values (slugs, assembled field data) out of handwritten manifests.
// Desired converts a parsed resource into the engine's attribute model
// and wraps secret-tagged attributes so their values cannot leak through
// logging or serialization afterwards.
package config
