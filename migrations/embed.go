// Package migrations embeds the SQL migration files into the binary and
// registers them with the database package at init time.
package migrations

import (
	"embed"

	"github.com/avolant/fleetgate/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
