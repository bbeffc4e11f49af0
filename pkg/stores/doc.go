// Package stores provides the run ledger: a SQLite database recording each
// pipeline run, every export task it submitted with the last known state of
// the remote operation, and an append-only event log. Schema changes are
// applied with embedded golang-migrate migrations.
package stores
