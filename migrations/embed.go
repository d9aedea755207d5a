// Package migrations embeds the SQL schema and registers it with the
// database package when imported.
package migrations

import (
	"embed"

	"github.com/nerrad567/inputemu-core/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.RegisterMigrations(files, ".")
}
