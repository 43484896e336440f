// Package stores persists evaluation history in SQLite.
//
// Each chain evaluation is a Run holding the final configuration and its
// fingerprint. Per-entry summaries and schema or policy findings hang off
// the run and are removed with it. The schema is managed by embedded
// golang-migrate migrations.
package stores
