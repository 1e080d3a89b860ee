// Package migrations embeds the SQL schema so binaries don't depend on the working directory.
package migrations

import "embed"

//go:embed *.up.sql
var FS embed.FS
