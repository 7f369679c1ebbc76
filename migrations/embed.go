package migrations

import "embed"

// FS holds the golang-migrate files, applied by `registration-service migrate up`.
//
//go:embed *.sql
var FS embed.FS
