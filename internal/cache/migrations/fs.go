// Package migrations embeds the SQL migrations for the persistent cache.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
