// Package provider executes the resource lifecycle against the remote
// site platform.
//
// The Dispatcher is the single entry point: it validates desired inputs
// against the kind schema, plans the state transition with the diff
// package, dispatches the remote calls through the mapper and api
// packages and keeps upload handoffs for asynchronous asset transfers.
//
// Lifecycle semantics:
//
//  1. Create registers the object and records its external id. Asset
//     creates also yield an UploadHandoff; the byte transfer is someone
//     else's job and is never awaited.
//  2. Read refreshes outputs. A remote 404 is drift: the record comes
//     back absent, not as an error.
//  3. Update patches only the changed attributes.
//  4. Delete is idempotent; deleting an absent object succeeds.
//  5. Replace is delete-then-create. If the create half fails, the
//     persisted record is absent, which matches the remote truth.
//
// An optional Guard is consulted before every delete, including the
// delete half of a replace.
package provider
