package auth

import (
	"context"
	"embed"
	"io/fs"

	"github.com/goliatone/go-errors"
	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

// GetMigrationsFS returns the migration files for this package
func GetMigrationsFS() embed.FS {
	return migrationsFS
}

// MigrationsFor returns the migration directory for a bun dialect
func MigrationsFor(name dialect.Name) (fs.FS, string, error) {
	switch name {
	case dialect.SQLite:
		sub, err := fs.Sub(migrationsFS, "data/sql/migrations/sqlite")
		return sub, "sqlite3", err
	case dialect.PG:
		sub, err := fs.Sub(migrationsFS, "data/sql/migrations/postgres")
		return sub, "postgres", err
	default:
		return nil, "", errors.New("unsupported database dialect", errors.CategoryInternal).
			WithMetadata(map[string]any{"dialect": name.String()})
	}
}

// Migrate applies the embedded migrations for the dialect of db
func Migrate(ctx context.Context, db *bun.DB) error {
	migrations, gooseDialect, err := MigrationsFor(db.Dialect().Name())
	if err != nil {
		return err
	}

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect(gooseDialect); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to set migration dialect")
	}

	if err := goose.UpContext(ctx, db.DB, "."); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to apply migrations")
	}

	return nil
}
