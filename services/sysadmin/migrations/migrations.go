// Package migrations содержит SQL миграции схемы отчётов, встроенные в бинарник
package migrations

import "embed"

// FS миграции goose
//
//go:embed *.sql
var FS embed.FS
