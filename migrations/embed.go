// Package migrations embeds the SQLite schema migrations into the binary.
package migrations

import "embed"

// FS holds the *.sql migration files at its root; pass it to
// database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
