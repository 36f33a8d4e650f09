// Package migrations embeds the verification schema for goose.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
