// Package stores persists reconciliation state in SQLite: the tracked
// resource records, the history of reconciliation passes and their
// lifecycle events, and the upload handoffs still awaiting their
// transfer. Secret attribute values are redacted before they reach the
// database.
package stores
