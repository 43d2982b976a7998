// Package evidence implements the evidence ledger: one row per captured
// photo, keyed by alarm session and sequence, stored in SQLite.
package evidence
