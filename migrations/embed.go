// Package migrations embeds the journal schema files into the binary so
// deployments need no SQL files on disk.
package migrations

import (
	"embed"

	"github.com/wooshrobot/armlink/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
