// Package migrations embeds the SQL migrations for the slot storage backends.
package migrations

import "embed"

// FS holds one directory of goose migrations per SQL dialect.
//
//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
