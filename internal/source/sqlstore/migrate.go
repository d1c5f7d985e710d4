package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	goose "github.com/pressly/goose/v3"
)

// Embedded schema migrations, one directory per dialect:
// - migrations/postgresql/*.sql
// - migrations/sqlite/*.sql
//
//go:embed migrations/**/*.sql
var migrationsFS embed.FS

func runMigrations(ctx context.Context, db *sql.DB, dialect Dialect) error {
	goose.SetBaseFS(migrationsFS)

	var (
		gooseDialect string
		dir          string
	)
	switch dialect {
	case PostgreSQL:
		gooseDialect = "postgres"
		dir = "migrations/postgresql"
	case SQLite:
		// Goose names the dialect sqlite3 regardless of the driver package.
		gooseDialect = "sqlite3"
		dir = "migrations/sqlite"
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedDialect, dialect)
	}

	if err := goose.SetDialect(gooseDialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
