// Package policy guards destructive lifecycle operations with Rego policies
// evaluated through OPA.
//
// The Engine is wired into the dispatcher as its Guard: before a delete (and
// therefore before the delete half of a replace) every enabled policy is
// evaluated against the operation and the targeted record. Any denial aborts
// the operation with a POLICY_DENIED error and nothing is sent to the remote
// system.
//
// Policies see only the record's identity and annotations, never its input
// attributes, so secret material cannot leak into policy evaluation or
// violation messages. A builtin policy blocks deletion of records annotated
// flowforge.io/protected; additional .rego files can be loaded from
// configured paths and are hot-reloaded on change.
package policy
