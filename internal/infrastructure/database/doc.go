// Package database opens and migrates the SQLite store behind the
// optional punch-event recorder.
//
// The store is deliberately small: one table of recorded terminal
// events plus the migration ledger. It exists for diagnostics and
// recent-history queries; the terminal itself stays the system of
// record, and deleting the file costs nothing the gateway owns.
//
// Schema changes ship as embedded VERSION_description.up.sql /
// .down.sql pairs (see the migrations package) and are applied by
// DB.Migrate at startup, each in its own transaction. All access goes
// through parameterised statements and the file is opened with
// owner-only permissions.
package database
