// Package migrations embeds the client replica schema.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
