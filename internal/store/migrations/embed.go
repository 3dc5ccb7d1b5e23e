// Package migrations embeds the goose SQL migrations for the snapshot and
// lock tables.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
