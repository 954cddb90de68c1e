// Package schema is the static registry of per-kind attribute schemas.
//
// Each resource kind owns a fixed, ordered set of attribute specs: which
// attributes are inputs, which are computed outputs, which are immutable
// (forcing a destructive replace on change) and which carry secret values.
// Read-only and create-only kinds are expressed as schema metadata
// (SupportsWrite, SupportsUpdate) consumed by the diff engine and the CRUD
// dispatcher, not as special-cased code paths.
//
// The registry is a pure lookup table with no side effects. Adding a kind
// means adding one table row plus the mapper functions for its wire shape.
package schema
