// Package migrations embeds the SQL schema so the binary can migrate the
// node database without the files on disk. Import it for its side effect.
package migrations

import (
	"embed"

	"github.com/nerrad567/nodelink-core/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.RegisterMigrations(files, ".")
}
