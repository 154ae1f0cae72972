package migrations

import (
	"database/sql"
	_ "embed"

	"github.com/goran-ethernal/MarketIndexor/internal/db"
	"github.com/goran-ethernal/MarketIndexor/internal/logger"
)

//go:embed 001_marketplace.sql
var mig0001 string

//go:embed 002_event_position.sql
var mig0002 string

// All returns the marketplace schema migrations in order.
func All() []db.Migration {
	return []db.Migration{
		{
			ID:  "001_marketplace.sql",
			SQL: mig0001,
		},
		{
			ID:  "002_event_position.sql",
			SQL: mig0002,
		},
	}
}

// RunMigrations brings the marketplace schema up to date.
func RunMigrations(log *logger.Logger, database *sql.DB) error {
	return db.RunMigrationsDB(log, database, All())
}
