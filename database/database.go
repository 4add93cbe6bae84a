// Package database opens the bun handle for the configured driver.
package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/goliatone/go-errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var ErrUnsupportedDriver = errors.New("unsupported database driver", errors.CategoryBadInput).
	WithTextCode("UNSUPPORTED_DRIVER")

// Open returns a bun DB for driver and dsn after a ping
func Open(ctx context.Context, driver, dsn string) (*bun.DB, error) {
	var (
		sqldb *sql.DB
		db    *bun.DB
		err   error
	)

	switch driver {
	case DriverSQLite:
		if sqldb, err = sql.Open(sqliteshim.ShimName, dsn); err != nil {
			return nil, openError(err, driver)
		}
		// sqlite serializes writers, a single connection avoids SQLITE_BUSY
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, openError(err, driver)
		}
	case DriverPostgres:
		if sqldb, err = sql.Open("pgx", dsn); err != nil {
			return nil, openError(err, driver)
		}
		sqldb.SetMaxOpenConns(20)
		sqldb.SetConnMaxIdleTime(5 * time.Minute)
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		return nil, ErrUnsupportedDriver.Clone().WithMetadata(map[string]any{"driver": driver})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, openError(err, driver)
	}

	return db, nil
}

func openError(err error, driver string) error {
	return errors.Wrap(err, errors.CategoryOperation, "failed to open database").
		WithMetadata(map[string]any{"driver": driver})
}
