// Package migrations содержит SQL-миграции архива задач для goose.
package migrations

import "embed"

// FS встроенные миграции; каталог диалекта передаётся мигратору
//
//go:embed postgres/*.sql
var FS embed.FS

// PostgresDir каталог миграций PostgreSQL внутри FS
const PostgresDir = "postgres"
