// Package migrations holds the portal schema. The files are embedded so the
// server binary can migrate without a checkout of the repository.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
