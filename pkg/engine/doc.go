// Package engine provides the core types shared by the flowforge
// reconciliation provider.
//
// # Overview
//
// flowforge manages remote site-platform objects (sites, pages, CMS
// collections and items, robots.txt, redirects, webhooks, uploaded assets)
// declaratively. For a single resource instance the engine decides what
// happens between two reconciliation passes:
//
//  1. Validate - check desired inputs against the kind's schema (pkg/schema)
//  2. Diff     - compare previous and desired inputs (pkg/diff)
//  3. Execute  - run the minimal Create/Update/Delete calls (pkg/provider)
//  4. Map      - translate between records and wire payloads (pkg/mapper)
//
// Ordering between resources is the caller's concern; the engine holds no
// shared mutable state across instances, so different instances may be
// reconciled concurrently. Operations against the same instance must be
// serialized by the caller.
//
// # Core Domain Types
//
//   - Kind: enumerated resource kind with a fixed attribute schema
//   - Record: recorded inputs + computed outputs + external id
//   - DiffPlan: NoOp, Update (changed subset) or Replace decision
//   - UploadHandoff: artifact completing an asset upload outside the engine
//
// # Error Classification
//
// Errors are classified for retry logic (ProviderError.Class):
//
//   - validation, unsupported: local, fail fast
//   - unauthorized, remote_validation, conflict: remote-rejected, surfaced immediately
//   - transient, rate_limited: retried with bounded exponential backoff
//   - not_found: translated to an absence signal on Read and Delete
package engine
