package storage

import "embed"

// Migrations is the embedded goose migration set for the two tables this
// service owns. Applied at startup via pg.Migrate.
//
//go:embed migrations/*.sql
var Migrations embed.FS
